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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postlab/deliverability/internal/models"
)

// SweepReport summarises one sweep pass.
type SweepReport struct {
	Sessions     int
	Abandoned    int
	Redispatched int
}

// Sweep walks sessions stuck in checking state and repairs them:
// results stranded in checking longer than abandonAfter are finalized
// as errors (a crashed worker must not leave a session incomplete
// forever), stranded pending results are re-dispatched, and each
// session is reconciled. Safe to run concurrently with live traffic:
// every repair goes through the same guarded store operations.
func (e *Engine) Sweep(ctx context.Context, stuckAfter, abandonAfter time.Duration) (*SweepReport, error) {
	sessions, err := e.store.ListStuckSessions(ctx, stuckAfter)
	if err != nil {
		return nil, fmt.Errorf("list stuck sessions: %w", err)
	}

	report := &SweepReport{Sessions: len(sessions)}
	now := time.Now().UTC()

	for i := range sessions {
		session := sessions[i]
		results, err := e.store.ListResults(ctx, session.ID)
		if err != nil {
			slog.Error("sweep: list results failed",
				"session_id", session.ID,
				"error", err,
			)
			continue
		}

		for _, r := range results {
			switch r.Status {
			case models.ResultChecking:
				if r.CheckedAt == nil || now.Sub(*r.CheckedAt) < abandonAfter {
					continue
				}
				finalized, err := e.store.FinalizeResult(ctx, r.ID, models.ResultError,
					"", "provider check abandoned", now)
				if err != nil {
					slog.Error("sweep: finalize abandoned result failed",
						"result_id", r.ID,
						"error", err,
					)
					continue
				}
				if finalized {
					report.Abandoned++
					r.Status = models.ResultError
					r.ErrorMessage = "provider check abandoned"
					r.CheckedAt = &now
					e.notifier.ResultChanged(ctx, &r)
				}

			case models.ResultPending:
				report.Redispatched++
				e.wg.Add(1)
				go func(sess models.TestSession, result models.TestResult) {
					defer e.wg.Done()
					if err := e.Dispatch(ctx, &sess, result); err != nil && !errors.Is(err, ErrAlreadyFinalized) {
						slog.Error("sweep: re-dispatch failed",
							"session_id", sess.ID,
							"provider", result.Provider,
							"error", err,
						)
					}
				}(session, r)
			}
		}

		if err := e.Reconcile(ctx, session.ID); err != nil {
			slog.Error("sweep: reconcile failed",
				"session_id", session.ID,
				"error", err,
			)
		}
	}

	return report, nil
}
