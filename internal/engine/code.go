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

import "crypto/rand"

const (
	testCodePrefix   = "TEST-"
	testCodeLength   = 6
	testCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// generateTestCode creates a fresh TEST-XXXXXX code from crypto/rand.
// Uniqueness is enforced by the store; collisions trigger
// regeneration in CreateSession.
func generateTestCode() string {
	b := make([]byte, testCodeLength)
	rand.Read(b)
	code := make([]byte, 0, len(testCodePrefix)+testCodeLength)
	code = append(code, testCodePrefix...)
	for _, v := range b {
		code = append(code, testCodeAlphabet[int(v)%len(testCodeAlphabet)])
	}
	return string(code)
}
