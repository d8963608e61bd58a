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

// Package api serves the session, start, and report endpoints. The
// presentation layer is a separate consumer; this is the only write
// surface into the engine.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/postlab/deliverability/internal/engine"
	"github.com/postlab/deliverability/internal/models"
)

const defaultRecentLimit = 5

// Handler exposes the engine over HTTP JSON.
type Handler struct {
	engine *engine.Engine

	// channelFor names the pub/sub channel subscribers should watch
	// for a session. Nil when no notifier is wired.
	channelFor func(sessionID string) string
}

// NewHandler creates an API handler. channelFor may be nil.
func NewHandler(eng *engine.Engine, channelFor func(sessionID string) string) *Handler {
	return &Handler{engine: eng, channelFor: channelFor}
}

// Mux returns the route table for the API.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions", h.recentSessions)
	mux.HandleFunc("POST /api/sessions/{id}/start", h.startTest)
	mux.HandleFunc("GET /api/sessions/{id}/channel", h.sessionChannel)
	mux.HandleFunc("GET /api/reports/{code}", h.report)
	return mux
}

// createSession handles POST /api/sessions.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.CreateSession(r.Context())
	if err != nil {
		if errors.Is(err, engine.ErrCodeGenerationExhausted) {
			writeError(w, http.StatusServiceUnavailable, "could not allocate a unique test code, retry later")
			return
		}
		slog.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// startTest handles POST /api/sessions/{id}/start.
func (h *Handler) startTest(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	err := h.engine.StartTest(r.Context(), sessionID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, engine.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "test session not found")
	case errors.Is(err, engine.ErrInvalidStateTransition):
		// Double submission: the caller should re-fetch state.
		writeError(w, http.StatusConflict, "test already started")
	default:
		slog.Error("start test failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "start test failed")
	}
}

// report handles GET /api/reports/{code}.
func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	session, results, err := h.engine.Report(r.Context(), code)
	if err != nil {
		if errors.Is(err, engine.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		slog.Error("fetch report failed", "test_code", code, "error", err)
		writeError(w, http.StatusInternalServerError, "fetch report failed")
		return
	}

	if results == nil {
		results = []models.TestResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
		"results": results,
	})
}

// recentSessions handles GET /api/sessions?limit=N.
func (h *Handler) recentSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	sessions, err := h.engine.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("list recent sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}

	if sessions == nil {
		sessions = []models.TestSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// sessionChannel handles GET /api/sessions/{id}/channel. It tells
// subscribers which pub/sub channel carries this session's change
// events.
func (h *Handler) sessionChannel(w http.ResponseWriter, r *http.Request) {
	if h.channelFor == nil {
		writeError(w, http.StatusNotFound, "change notifications not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"channel": h.channelFor(r.PathValue("id")),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
