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

// Package notify pushes session and result mutations to observers
// over Redis pub/sub, so a dashboard can update without polling.
// Consumers subscribe to the per-session channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/postlab/deliverability/internal/models"
)

// Event types published on the per-session channel.
const (
	EventSessionUpdated = "session.updated"
	EventResultUpdated  = "result.updated"
)

// Event is the JSON payload pushed to subscribers on any row
// mutation scoped to a session.
type Event struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id"`
	Session   *models.TestSession `json:"session,omitempty"`
	Result    *models.TestResult  `json:"result,omitempty"`
	At        time.Time           `json:"at"`
}

// Publisher broadcasts change events over Redis pub/sub.
type Publisher struct {
	rdb    *redis.Client
	prefix string
}

// NewPublisher creates a change notifier using the given channel
// prefix.
func NewPublisher(rdb *redis.Client, prefix string) *Publisher {
	return &Publisher{rdb: rdb, prefix: prefix}
}

// Channel returns the pub/sub channel name for a session.
func (p *Publisher) Channel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", p.prefix, sessionID)
}

// SessionChanged publishes a session status/score update.
// Publishing is best-effort: a subscriber miss must never fail the
// underlying store mutation.
func (p *Publisher) SessionChanged(ctx context.Context, session *models.TestSession) {
	p.publish(ctx, session.ID, Event{
		Type:      EventSessionUpdated,
		SessionID: session.ID,
		Session:   session,
		At:        time.Now().UTC(),
	})
}

// ResultChanged publishes a per-provider result update.
func (p *Publisher) ResultChanged(ctx context.Context, result *models.TestResult) {
	p.publish(ctx, result.SessionID, Event{
		Type:      EventResultUpdated,
		SessionID: result.SessionID,
		Result:    result,
		At:        time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, sessionID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal change event", "error", err)
		return
	}

	if err := p.rdb.Publish(ctx, p.Channel(sessionID), payload).Err(); err != nil {
		slog.Warn("publish change event failed",
			"session_id", sessionID,
			"type", event.Type,
			"error", err,
		)
	}
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
