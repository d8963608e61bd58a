// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import "errors"

var (
	// ErrCodeGenerationExhausted is returned when every generated
	// test code collided with an existing session within the retry
	// budget. Fatal to that creation attempt; the caller retries
	// later.
	ErrCodeGenerationExhausted = errors.New("test code generation exhausted")

	// ErrSessionNotFound is returned for lookups and transitions
	// against an unknown session or test code.
	ErrSessionNotFound = errors.New("test session not found")

	// ErrInvalidStateTransition is returned when a session is started
	// twice. Recoverable: the caller should re-fetch state.
	ErrInvalidStateTransition = errors.New("invalid session state transition")

	// ErrAlreadyFinalized is returned when a check is dispatched for
	// a result that already reached a terminal status.
	ErrAlreadyFinalized = errors.New("result already finalized")
)
