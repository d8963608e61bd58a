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

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/postlab/deliverability/internal/models"
)

// ageSession rewinds a session's creation time so the sweep sees it
// as stuck.
func ageSession(fs *fakeStore, sessionID string, age time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.sessions[sessionID].CreatedAt = time.Now().UTC().Add(-age)
}

// TestSweep_AbandonsStrandedChecks verifies a result left in checking
// past the abandon window is finalized as an error and the session
// completes.
func TestSweep_AbandonsStrandedChecks(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(fs, allInboxCheckers())
	ctx := context.Background()

	session, _ := e.CreateSession(ctx)
	fs.BeginChecking(ctx, session.ID)
	ageSession(fs, session.ID, time.Hour)

	// Four providers finished; one worker crashed mid-check.
	results, _ := fs.ListResults(ctx, session.ID)
	longAgo := time.Now().UTC().Add(-30 * time.Minute)
	for _, r := range results[:len(results)-1] {
		fs.FinalizeResult(ctx, r.ID, models.ResultReceived, models.FolderInbox, "", longAgo)
	}
	fs.ClaimResult(ctx, results[len(results)-1].ID, longAgo)

	report, err := e.Sweep(ctx, 10*time.Minute, 5*time.Minute)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	e.Stop()

	if report.Sessions != 1 {
		t.Errorf("swept sessions = %d, want 1", report.Sessions)
	}
	if report.Abandoned != 1 {
		t.Errorf("abandoned = %d, want 1", report.Abandoned)
	}

	final, _ := fs.GetSession(ctx, session.ID)
	if final.Status != models.SessionCompleted {
		t.Errorf("status = %q, want completed after sweep", final.Status)
	}

	after, _ := fs.ListResults(ctx, session.ID)
	last := after[len(after)-1]
	if last.Status != models.ResultError {
		t.Errorf("stranded result status = %q, want error", last.Status)
	}
	if !strings.Contains(last.ErrorMessage, "abandoned") {
		t.Errorf("error message = %q, want abandonment recorded", last.ErrorMessage)
	}
}

// TestSweep_RedispatchesPendingResults verifies a pending result on a
// stuck session gets a fresh check.
func TestSweep_RedispatchesPendingResults(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(fs, allInboxCheckers())
	ctx := context.Background()

	session, _ := e.CreateSession(ctx)
	fs.BeginChecking(ctx, session.ID)
	ageSession(fs, session.ID, time.Hour)

	// All results still pending: checks were never dispatched.
	report, err := e.Sweep(ctx, 10*time.Minute, 5*time.Minute)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	e.Stop()

	if report.Redispatched != len(models.Providers()) {
		t.Errorf("redispatched = %d, want %d", report.Redispatched, len(models.Providers()))
	}

	// Re-dispatched checks ran to completion; reconcile on the next
	// sweep (or the final dispatch) completed the session.
	final, _ := fs.GetSession(ctx, session.ID)
	if final.Status != models.SessionCompleted {
		t.Errorf("status = %q, want completed after re-dispatch", final.Status)
	}
	if final.DeliverabilityScore != 100 {
		t.Errorf("score = %d, want 100", final.DeliverabilityScore)
	}
}

// TestSweep_LeavesRecentChecksAlone verifies a result still inside
// the abandon window is not touched.
func TestSweep_LeavesRecentChecksAlone(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(fs, allInboxCheckers())
	ctx := context.Background()

	session, _ := e.CreateSession(ctx)
	fs.BeginChecking(ctx, session.ID)
	ageSession(fs, session.ID, time.Hour)

	results, _ := fs.ListResults(ctx, session.ID)
	recent := time.Now().UTC().Add(-time.Minute)
	for _, r := range results {
		fs.ClaimResult(ctx, r.ID, recent)
	}

	report, err := e.Sweep(ctx, 10*time.Minute, 5*time.Minute)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	e.Stop()

	if report.Abandoned != 0 {
		t.Errorf("abandoned = %d, want 0 for in-window checks", report.Abandoned)
	}

	final, _ := fs.GetSession(ctx, session.ID)
	if final.Status != models.SessionChecking {
		t.Errorf("status = %q, want still checking", final.Status)
	}
}

// TestSweep_NoStuckSessions verifies a clean sweep over healthy state.
func TestSweep_NoStuckSessions(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(fs, allInboxCheckers())
	ctx := context.Background()

	if _, err := e.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	report, err := e.Sweep(ctx, 10*time.Minute, 5*time.Minute)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Sessions != 0 || report.Abandoned != 0 || report.Redispatched != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}
