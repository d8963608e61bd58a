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

// Package claim provides a dispatch claim using a Redis SET with TTL.
// It keeps two service replicas from running the same provider check
// concurrently; the result store's status guard stays authoritative.
package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a dispatch claim is held. It comfortably
	// outlasts the per-provider check timeout so a crashed holder's
	// claim expires on its own.
	DefaultTTL = 5 * time.Minute

	// keyPrefix namespaces claim keys in Redis.
	keyPrefix = "deliverability:claim:"
)

// Filter tracks which results are currently being checked.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dispatch claim filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// Claim returns true if the caller acquired the dispatch claim for
// the result. The claim is taken atomically (SETNX) and expires after
// the TTL.
func (f *Filter) Claim(ctx context.Context, resultID string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, resultID)

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim SETNX: %w", err)
	}

	return set, nil
}
