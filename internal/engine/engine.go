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

// Package engine orchestrates one deliverability test run: it creates
// a session with its provider placeholders, dispatches per-provider
// checks, records each outcome exactly once, and computes the final
// score when every provider has reported.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postlab/deliverability/internal/checker"
	"github.com/postlab/deliverability/internal/models"
)

// Store is the result store contract the engine depends on.
// Implemented by store.Store.
type Store interface {
	CreateSession(ctx context.Context, session *models.TestSession, results []models.TestResult) error
	GetSession(ctx context.Context, id string) (*models.TestSession, error)
	GetSessionByCode(ctx context.Context, code string) (*models.TestSession, error)
	ListResults(ctx context.Context, sessionID string) ([]models.TestResult, error)
	ListRecentSessions(ctx context.Context, limit int) ([]models.TestSession, error)
	BeginChecking(ctx context.Context, sessionID string) (bool, error)
	ClaimResult(ctx context.Context, resultID string, at time.Time) (bool, error)
	FinalizeResult(ctx context.Context, resultID string, status models.ResultStatus, folder models.Folder, errMsg string, at time.Time) (bool, error)
	CompleteSession(ctx context.Context, sessionID string, score int) error
	ListStuckSessions(ctx context.Context, olderThan time.Duration) ([]models.TestSession, error)
}

// Notifier pushes row mutations to interested observers. Publishing
// is best-effort and never fails the mutation itself.
type Notifier interface {
	SessionChanged(ctx context.Context, session *models.TestSession)
	ResultChanged(ctx context.Context, result *models.TestResult)
}

// Claimer guards against two workers dispatching the same result
// concurrently. The store's status guard remains authoritative; the
// claimer only trims redundant provider calls.
type Claimer interface {
	Claim(ctx context.Context, resultID string) (bool, error)
}

const (
	defaultCheckTimeout    = 90 * time.Second
	defaultMaxCodeAttempts = 5
)

// Engine is the test session engine. It is the exclusive writer of
// session and result rows.
type Engine struct {
	store        Store
	checkers     map[models.Provider]checker.Checker
	inboxes      map[models.Provider]string
	notifier     Notifier
	claims       Claimer
	checkTimeout time.Duration
	codeAttempts int

	wg sync.WaitGroup
}

// Config holds the engine's explicit dependencies.
type Config struct {
	Store    Store
	Checkers map[models.Provider]checker.Checker
	Inboxes  map[models.Provider]string
	Notifier Notifier
	Claims   Claimer

	// CheckTimeout bounds each provider check. A checker that never
	// returns is converted into a terminal error outcome.
	CheckTimeout time.Duration

	// MaxCodeAttempts bounds test-code regeneration on collision.
	MaxCodeAttempts int
}

// New creates a test session engine.
func New(cfg Config) *Engine {
	e := &Engine{
		store:        cfg.Store,
		checkers:     cfg.Checkers,
		inboxes:      cfg.Inboxes,
		notifier:     cfg.Notifier,
		claims:       cfg.Claims,
		checkTimeout: cfg.CheckTimeout,
		codeAttempts: cfg.MaxCodeAttempts,
	}
	if e.checkTimeout <= 0 {
		e.checkTimeout = defaultCheckTimeout
	}
	if e.codeAttempts <= 0 {
		e.codeAttempts = defaultMaxCodeAttempts
	}
	if e.notifier == nil {
		e.notifier = noopNotifier{}
	}
	return e
}

// Stop waits for all in-flight provider checks to finish.
func (e *Engine) Stop() {
	e.wg.Wait()
}

// CreateSession generates a fresh unique test code and atomically
// persists the session with one pending result per configured
// provider. On code collision it regenerates, up to the retry budget.
func (e *Engine) CreateSession(ctx context.Context) (*models.TestSession, error) {
	for attempt := 0; attempt < e.codeAttempts; attempt++ {
		session := &models.TestSession{
			ID:        uuid.New().String(),
			TestCode:  generateTestCode(),
			Status:    models.SessionPending,
			CreatedAt: time.Now().UTC(),
		}

		results := make([]models.TestResult, 0, len(models.Providers()))
		for _, p := range models.Providers() {
			results = append(results, models.TestResult{
				ID:         uuid.New().String(),
				SessionID:  session.ID,
				Provider:   p,
				InboxEmail: e.inboxes[p],
				Status:     models.ResultPending,
			})
		}

		err := e.store.CreateSession(ctx, session, results)
		if errors.Is(err, models.ErrDuplicateTestCode) {
			slog.Info("test code collision, regenerating",
				"code", session.TestCode,
				"attempt", attempt+1,
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}

		slog.Info("test session created",
			"session_id", session.ID,
			"test_code", session.TestCode,
			"providers", len(results),
		)
		e.notifier.SessionChanged(ctx, session)
		return session, nil
	}

	return nil, ErrCodeGenerationExhausted
}

// StartTest transitions a pending session to checking and dispatches
// one check per pending provider result. Starting a session that is
// already checking or completed fails with ErrInvalidStateTransition
// so callers can detect double submission.
func (e *Engine) StartTest(ctx context.Context, sessionID string) error {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return ErrSessionNotFound
	}

	ok, err := e.store.BeginChecking(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}
	if !ok {
		// First writer wins; everyone else observes the moved state.
		return fmt.Errorf("%w: session %s is %s", ErrInvalidStateTransition, sessionID, session.Status)
	}

	session.Status = models.SessionChecking
	e.notifier.SessionChanged(ctx, session)

	results, err := e.store.ListResults(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}

	slog.Info("test started",
		"session_id", sessionID,
		"test_code", session.TestCode,
	)

	for _, r := range results {
		if r.Status != models.ResultPending {
			continue
		}
		e.wg.Add(1)
		go func(result models.TestResult) {
			defer e.wg.Done()
			// Checks outlive the start request.
			if err := e.Dispatch(context.Background(), session, result); err != nil && !errors.Is(err, ErrAlreadyFinalized) {
				slog.Error("provider dispatch failed",
					"session_id", session.ID,
					"provider", result.Provider,
					"error", err,
				)
			}
		}(r)
	}

	return nil
}

// checkReply carries a checker's verdict across the timeout select.
type checkReply struct {
	outcome *checker.Outcome
	err     error
}

// Dispatch marks the result checking, invokes its provider checker
// under the per-provider timeout, and records the terminal outcome.
// A checker failure or timeout is itself a terminal, recorded error
// outcome, never a silent drop. Dispatch against a result that is
// already terminal fails with ErrAlreadyFinalized and leaves the
// stored outcome untouched.
func (e *Engine) Dispatch(ctx context.Context, session *models.TestSession, result models.TestResult) error {
	if result.Status.Terminal() {
		return ErrAlreadyFinalized
	}

	if e.claims != nil {
		ok, err := e.claims.Claim(ctx, result.ID)
		if err != nil {
			// Claim storage being down must not stall checks; the
			// store guard still prevents double finalization.
			slog.Warn("dispatch claim failed, proceeding",
				"result_id", result.ID,
				"error", err,
			)
		} else if !ok {
			slog.Debug("result claimed by another worker", "result_id", result.ID)
			return nil
		}
	}

	now := time.Now().UTC()
	ok, err := e.store.ClaimResult(ctx, result.ID, now)
	if err != nil {
		return fmt.Errorf("mark result checking: %w", err)
	}
	if !ok {
		return ErrAlreadyFinalized
	}

	result.Status = models.ResultChecking
	result.CheckedAt = &now
	e.notifier.ResultChanged(ctx, &result)

	outcome, checkErr := e.runCheck(ctx, session, result)

	checkedAt := time.Now().UTC()
	var status models.ResultStatus
	var folder models.Folder
	var errMsg string

	switch {
	case checkErr != nil:
		status = models.ResultError
		errMsg = checkErr.Error()
		slog.Warn("provider check errored",
			"session_id", session.ID,
			"provider", result.Provider,
			"error", checkErr,
		)
	case outcome.Status == models.ResultReceived:
		status = models.ResultReceived
		folder = outcome.Folder
		if folder == "" {
			folder = models.FolderUnknown
		}
	case outcome.Status == models.ResultNotReceived:
		status = models.ResultNotReceived
	default:
		status = models.ResultError
		errMsg = fmt.Sprintf("checker returned non-terminal status %q", outcome.Status)
	}

	finalized, err := e.store.FinalizeResult(ctx, result.ID, status, folder, errMsg, checkedAt)
	if err != nil {
		return fmt.Errorf("finalize result: %w", err)
	}
	if !finalized {
		// Another worker got there first; the stored outcome stands.
		return ErrAlreadyFinalized
	}

	result.Status = status
	result.Folder = folder
	result.ErrorMessage = errMsg
	result.CheckedAt = &checkedAt
	e.notifier.ResultChanged(ctx, &result)

	slog.Info("provider result recorded",
		"session_id", session.ID,
		"provider", result.Provider,
		"status", status,
		"folder", folder,
	)

	return e.Reconcile(ctx, session.ID)
}

// runCheck invokes the provider checker in its own goroutine and
// selects against the timeout so a hung checker can never block
// reconciliation of the other providers.
func (e *Engine) runCheck(ctx context.Context, session *models.TestSession, result models.TestResult) (*checker.Outcome, error) {
	chk, ok := e.checkers[result.Provider]
	if !ok {
		return nil, fmt.Errorf("no checker configured for provider %s", result.Provider)
	}

	cctx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	replies := make(chan checkReply, 1)
	go func() {
		outcome, err := chk.Check(cctx, result.InboxEmail, session.TestCode)
		replies <- checkReply{outcome: outcome, err: err}
	}()

	select {
	case <-cctx.Done():
		return nil, fmt.Errorf("provider check timed out after %s: %w", e.checkTimeout, cctx.Err())
	case reply := <-replies:
		if reply.err != nil {
			return nil, reply.err
		}
		if reply.outcome == nil {
			return nil, fmt.Errorf("checker returned no outcome")
		}
		return reply.outcome, nil
	}
}

// Reconcile checks whether every result for the session has reached a
// terminal status and, if so, computes the deliverability score and
// completes the session. It is the sole place the score is computed
// and the sole place completed is entered, and it is idempotent:
// concurrent and repeated invocations derive the same decision from
// current row state.
func (e *Engine) Reconcile(ctx context.Context, sessionID string) error {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return ErrSessionNotFound
	}

	results, err := e.store.ListResults(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}

	for _, r := range results {
		if !r.Status.Terminal() {
			return nil
		}
	}

	score := Score(results)
	if err := e.store.CompleteSession(ctx, sessionID, score); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	session.Status = models.SessionCompleted
	session.DeliverabilityScore = score
	e.notifier.SessionChanged(ctx, session)

	slog.Info("test session completed",
		"session_id", sessionID,
		"test_code", session.TestCode,
		"score", score,
	)
	return nil
}

// Report returns a session and its results by test code.
func (e *Engine) Report(ctx context.Context, testCode string) (*models.TestSession, []models.TestResult, error) {
	session, err := e.store.GetSessionByCode(ctx, testCode)
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, nil, ErrSessionNotFound
	}

	results, err := e.store.ListResults(ctx, session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list results: %w", err)
	}
	return session, results, nil
}

// Recent returns the most recently created sessions.
func (e *Engine) Recent(ctx context.Context, limit int) ([]models.TestSession, error) {
	return e.store.ListRecentSessions(ctx, limit)
}

type noopNotifier struct{}

func (noopNotifier) SessionChanged(context.Context, *models.TestSession) {}
func (noopNotifier) ResultChanged(context.Context, *models.TestResult)  {}
