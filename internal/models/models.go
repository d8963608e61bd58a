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

// Package models defines the data structures shared across the
// deliverability test service.
package models

import (
	"errors"
	"time"
)

// Provider identifies a mail service with a fixed test inbox.
type Provider string

const (
	ProviderGmail      Provider = "gmail"
	ProviderOutlook    Provider = "outlook"
	ProviderYahoo      Provider = "yahoo"
	ProviderProtonMail Provider = "protonmail"
	ProviderICloud     Provider = "icloud"
)

// Providers returns the configured provider set, in stable order.
// Every test session owns exactly one result per entry.
func Providers() []Provider {
	return []Provider{
		ProviderGmail,
		ProviderOutlook,
		ProviderYahoo,
		ProviderProtonMail,
		ProviderICloud,
	}
}

// SessionStatus is the lifecycle state of a test session.
// Transitions are forward-only: pending → checking → completed.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionChecking  SessionStatus = "checking"
	SessionCompleted SessionStatus = "completed"
)

// ResultStatus is the lifecycle state of a per-provider result.
// Transitions are forward-only: pending → checking → {received,
// not_received, error}.
type ResultStatus string

const (
	ResultPending     ResultStatus = "pending"
	ResultChecking    ResultStatus = "checking"
	ResultReceived    ResultStatus = "received"
	ResultNotReceived ResultStatus = "not_received"
	ResultError       ResultStatus = "error"
)

// Terminal reports whether the status will not change again within
// the same session.
func (s ResultStatus) Terminal() bool {
	switch s {
	case ResultReceived, ResultNotReceived, ResultError:
		return true
	}
	return false
}

// Folder is where a provider placed the test email.
// Meaningful only when the result status is "received".
type Folder string

const (
	FolderInbox      Folder = "inbox"
	FolderSpam       Folder = "spam"
	FolderPromotions Folder = "promotions"
	FolderUnknown    Folder = "unknown"
)

// TestSession is one run of the deliverability test, identified by a
// human-facing code the user tags the outbound email with.
type TestSession struct {
	ID                  string        `json:"id"`
	TestCode            string        `json:"test_code"`
	Status              SessionStatus `json:"status"`
	DeliverabilityScore int           `json:"deliverability_score"`
	CreatedAt           time.Time     `json:"created_at"`
}

// TestResult records one provider's outcome for a session.
type TestResult struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"test_session_id"`
	Provider     Provider     `json:"provider"`
	InboxEmail   string       `json:"inbox_email"`
	Status       ResultStatus `json:"status"`
	Folder       Folder       `json:"folder_location,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CheckedAt    *time.Time   `json:"checked_at,omitempty"`
}

// ErrDuplicateTestCode is returned by the store when a session insert
// collides with an existing test code. The engine regenerates and
// retries.
var ErrDuplicateTestCode = errors.New("test code already exists")
