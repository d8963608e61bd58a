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

// Deliverability Test Service
//
// Entry point for the deliverability service. It:
//  1. Loads provider inbox configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds one provider checker per configured mail service
//  4. Wires the test session engine to the result store and notifier
//  5. Serves the session/start/report API plus a health endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/postlab/deliverability/internal/api"
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

	slog.Info("starting deliverability test service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"providers", len(cfg.Providers),
		"check_timeout", cfg.CheckTimeout,
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

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	notifier := notify.NewPublisher(rdb, cfg.ChannelPrefix)
	if err := notifier.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dispatch Claim Filter ---
	claims := claim.NewFilter(rdb)

	// --- Result Store (Postgres) ---
	resultStore, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise result store", "error", err)
		os.Exit(1)
	}

	// --- Provider Checkers ---
	checkers := checker.Registry(ctx, cfg.Providers)
	slog.Info("provider checkers built",
		"configured", len(checkers),
		"providers", len(models.Providers()),
	)

	inboxes := make(map[models.Provider]string, len(cfg.Providers))
	for p, pc := range cfg.Providers {
		inboxes[p] = pc.Inbox
	}

	// --- Test Session Engine ---
	eng := engine.New(engine.Config{
		Store:           resultStore,
		Checkers:        checkers,
		Inboxes:         inboxes,
		Notifier:        notifier,
		Claims:          claims,
		CheckTimeout:    cfg.CheckTimeout,
		MaxCodeAttempts: cfg.MaxCodeAttempts,
	})

	// --- API Server ---
	handler := api.NewHandler(eng, notifier.Channel)
	mux := handler.Mux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := notifier.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		// Let in-flight provider checks record their outcomes
		eng.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("deliverability service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("deliverability test service stopped")
}
