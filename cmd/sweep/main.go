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

// Deliverability Sweep Command
//
// Standalone CLI tool that repairs test sessions stuck in checking
// state: abandoned provider checks are finalized as errors, stranded
// pending checks are re-dispatched, and each session is reconciled.
// Intended to run from cron as a safety net beside the service.
//
// Usage:
//
//	go run ./cmd/sweep/ [--stuck-after 10m] [--abandon-after 5m]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/postlab/deliverability/internal/checker"
	"github.com/postlab/deliverability/internal/claim"
	"github.com/postlab/deliverability/internal/config"
	"github.com/postlab/deliverability/internal/engine"
	"github.com/postlab/deliverability/internal/models"
	"github.com/postlab/deliverability/internal/notify"
	"github.com/postlab/deliverability/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	stuckFlag := flag.Duration("stuck-after", 0, "Sweep sessions checking longer than this (default from config)")
	abandonFlag := flag.Duration("abandon-after", 0, "Finalize checks stranded longer than this as errors (default from config)")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	stuckAfter := cfg.SweepStuckAfter
	if *stuckFlag > 0 {
		stuckAfter = *stuckFlag
	}
	abandonAfter := cfg.SweepAbandonAfter
	if *abandonFlag > 0 {
		abandonAfter = *abandonFlag
	}

	if abandonAfter > stuckAfter {
		fmt.Fprintf(os.Stderr, "Error: --abandon-after must not exceed --stuck-after\n")
		os.Exit(1)
	}

	slog.Info("starting sweep",
		"stuck_after", stuckAfter,
		"abandon_after", abandonAfter,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	resultStore, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise result store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	notifier := notify.NewPublisher(rdb, cfg.ChannelPrefix)
	if err := notifier.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// --- Engine ---
	inboxes := make(map[models.Provider]string, len(cfg.Providers))
	for p, pc := range cfg.Providers {
		inboxes[p] = pc.Inbox
	}

	eng := engine.New(engine.Config{
		Store:           resultStore,
		Checkers:        checker.Registry(ctx, cfg.Providers),
		Inboxes:         inboxes,
		Notifier:        notifier,
		Claims:          claim.NewFilter(rdb),
		CheckTimeout:    cfg.CheckTimeout,
		MaxCodeAttempts: cfg.MaxCodeAttempts,
	})

	// --- Run Sweep ---
	report, err := eng.Sweep(ctx, stuckAfter, abandonAfter)
	if err != nil {
		slog.Error("sweep failed", "error", err)
		os.Exit(1)
	}

	// Wait for re-dispatched checks to record their outcomes
	eng.Stop()

	slog.Info("sweep complete",
		"sessions", report.Sessions,
		"abandoned", report.Abandoned,
		"redispatched", report.Redispatched,
	)
}
