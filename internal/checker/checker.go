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

// Package checker defines the provider checker contract and the
// per-provider implementations that locate a test email in a fixed
// inbox and report which folder it landed in.
package checker

import (
	"context"
	"fmt"

	"github.com/postlab/deliverability/internal/models"
)

// Outcome is a checker's terminal verdict for one provider inbox.
// Folder is meaningful only when Status is received.
type Outcome struct {
	Status models.ResultStatus
	Folder models.Folder
}

// Checker locates the test email in one provider's inbox. Each
// implementation is independently failable; one provider's latency or
// failure never blocks another's. Implementations must be safe to
// call once per result and must not retry beyond the provider's API
// limits.
type Checker interface {
	// Check searches the given inbox for a message carrying the test
	// code and reports whether it arrived and where it was filed.
	Check(ctx context.Context, inboxEmail, testCode string) (*Outcome, error)

	// Provider returns the provider this checker serves.
	Provider() models.Provider
}

// CheckerError wraps a per-provider failure. The engine recovers it
// into a terminal error result rather than propagating it.
type CheckerError struct {
	Provider models.Provider
	Err      error
}

func (e *CheckerError) Error() string {
	return fmt.Sprintf("%s check failed: %v", e.Provider, e.Err)
}

func (e *CheckerError) Unwrap() error { return e.Err }
