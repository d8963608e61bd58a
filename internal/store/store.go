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

// Package store provides the Postgres-backed result store for test
// sessions and their per-provider results. It is the single source of
// truth; the engine is its only writer.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postlab/deliverability/internal/models"
)

// uniqueViolation is the Postgres error code for unique constraint
// violations, used to detect test-code collisions.
const uniqueViolation = "23505"

// Store provides CRUD operations for sessions and results in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a result store backed by the given Postgres pool.
// It ensures the session and result tables exist on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure result store schema: %w", err)
	}
	slog.Info("result store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS test_sessions (
			id                    TEXT PRIMARY KEY,
			test_code             TEXT NOT NULL UNIQUE,
			status                TEXT NOT NULL DEFAULT 'pending',
			deliverability_score  INT NOT NULL DEFAULT 0,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS test_results (
			id               TEXT PRIMARY KEY,
			test_session_id  TEXT NOT NULL REFERENCES test_sessions(id) ON DELETE CASCADE,
			provider         TEXT NOT NULL,
			inbox_email      TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending',
			folder_location  TEXT NOT NULL DEFAULT '',
			error_message    TEXT NOT NULL DEFAULT '',
			checked_at       TIMESTAMPTZ,
			UNIQUE(test_session_id, provider)
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_created ON test_sessions(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON test_sessions(status);
		CREATE INDEX IF NOT EXISTS idx_results_session ON test_results(test_session_id);
	`)
	return err
}

// CreateSession persists a session and its provider result rows in a
// single transaction. Either the session appears with its full
// provider set or not at all. A test-code collision surfaces as
// models.ErrDuplicateTestCode.
func (s *Store) CreateSession(ctx context.Context, session *models.TestSession, results []models.TestResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin session insert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO test_sessions (id, test_code, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, session.ID, session.TestCode, session.Status, session.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateTestCode
		}
		return fmt.Errorf("insert session: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(`
			INSERT INTO test_results (id, test_session_id, provider, inbox_email, status)
			VALUES ($1, $2, $3, $4, $5)
		`, r.ID, r.SessionID, r.Provider, r.InboxEmail, r.Status)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert provider results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session insert: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns nil without error when
// the session does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*models.TestSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, test_code, status, deliverability_score, created_at
		FROM test_sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

// GetSessionByCode retrieves a session by its test code.
func (s *Store) GetSessionByCode(ctx context.Context, code string) (*models.TestSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, test_code, status, deliverability_score, created_at
		FROM test_sessions
		WHERE test_code = $1
	`, code)
	return scanSession(row)
}

// ListResults returns all provider results for a session, in provider
// order.
func (s *Store) ListResults(ctx context.Context, sessionID string) ([]models.TestResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, test_session_id, provider, inbox_email, status,
		       folder_location, error_message, checked_at
		FROM test_results
		WHERE test_session_id = $1
		ORDER BY provider
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectResults(rows)
}

// ListRecentSessions returns the most recently created sessions.
func (s *Store) ListRecentSessions(ctx context.Context, limit int) ([]models.TestSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, test_code, status, deliverability_score, created_at
		FROM test_sessions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.TestSession
	for rows.Next() {
		var sess models.TestSession
		if err := rows.Scan(&sess.ID, &sess.TestCode, &sess.Status,
			&sess.DeliverabilityScore, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// BeginChecking transitions a session from pending to checking.
// Returns false when the session was not in pending state: the
// first writer wins and later callers observe the updated status.
func (s *Store) BeginChecking(ctx context.Context, sessionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE test_sessions
		SET status = $1
		WHERE id = $2 AND status = $3
	`, models.SessionChecking, sessionID, models.SessionPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimResult marks a result as checking and stamps checked_at.
// Claiming an already-checking result is allowed (sweep retries a
// stranded check); claiming a terminal result is not, and returns
// false.
func (s *Store) ClaimResult(ctx context.Context, resultID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE test_results
		SET status = $1, checked_at = $2
		WHERE id = $3 AND status IN ($4, $1)
	`, models.ResultChecking, at, resultID, models.ResultPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FinalizeResult records a terminal outcome for a result. Once a
// result is terminal it is never mutated again; a finalize against a
// terminal row affects zero rows and returns false.
func (s *Store) FinalizeResult(ctx context.Context, resultID string, status models.ResultStatus, folder models.Folder, errMsg string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE test_results
		SET status = $1, folder_location = $2, error_message = $3, checked_at = $4
		WHERE id = $5 AND status IN ($6, $7)
	`, status, folder, errMsg, at, resultID, models.ResultPending, models.ResultChecking)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteSession records the deliverability score and moves the
// session to completed. Re-completing an already-completed session
// with the same recomputed score is a safe no-op.
func (s *Store) CompleteSession(ctx context.Context, sessionID string, score int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE test_sessions
		SET status = $1, deliverability_score = $2
		WHERE id = $3 AND status IN ($4, $1)
	`, models.SessionCompleted, score, sessionID, models.SessionChecking)
	return err
}

// ListStuckSessions returns sessions that have been in checking state
// longer than the given age. Used by the periodic sweep.
func (s *Store) ListStuckSessions(ctx context.Context, olderThan time.Duration) ([]models.TestSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, test_code, status, deliverability_score, created_at
		FROM test_sessions
		WHERE status = $1 AND created_at < NOW() - $2::interval
		ORDER BY created_at
	`, models.SessionChecking, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.TestSession
	for rows.Next() {
		var sess models.TestSession
		if err := rows.Scan(&sess.ID, &sess.TestCode, &sess.Status,
			&sess.DeliverabilityScore, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// scanSession scans a single row into a TestSession.
func scanSession(row pgx.Row) (*models.TestSession, error) {
	var sess models.TestSession
	err := row.Scan(&sess.ID, &sess.TestCode, &sess.Status,
		&sess.DeliverabilityScore, &sess.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// collectResults scans multiple rows into a slice of TestResults.
func collectResults(rows pgx.Rows) ([]models.TestResult, error) {
	var results []models.TestResult
	for rows.Next() {
		var r models.TestResult
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.Provider, &r.InboxEmail, &r.Status,
			&r.Folder, &r.ErrorMessage, &r.CheckedAt,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
