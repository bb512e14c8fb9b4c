package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vimrgb-core/internal/history"
	"github.com/nerrad567/vimrgb-core/internal/layout"
)

const (
	healthCheckTimeout = 2 * time.Second
	reloadTimeout      = 10 * time.Second

	// maxModeLength bounds mode names accepted over HTTP.
	maxModeLength = 64
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Keyboard   string            `json:"keyboard"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth reports "ok" only when the keyboard is reachable and every
// registered component passes its check; otherwise 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Keyboard: "connected",
	}

	if !s.session.Status().Connected {
		resp.Status = "degraded"
		resp.Keyboard = "disconnected"
	}

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := c.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Status = "degraded"
				resp.Components[name] = err.Error()
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleListModes(w http.ResponseWriter, _ *http.Request) {
	modes := s.session.Modes()
	if modes == nil {
		modes = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current": s.session.Status().Mode,
		"modes":   modes,
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.session.Devices()
	leds := 0
	for _, d := range devices {
		leds += len(d.LEDs)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
		"leds":    leds,
	})
}

func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	mode, err := url.PathUnescape(chi.URLParam(r, "mode"))
	if err != nil || strings.TrimSpace(mode) == "" || len(mode) > maxModeLength {
		writeBadRequest(w, "invalid mode")
		return
	}

	l, err := s.session.Layout(mode)
	if errors.Is(err, layout.ErrNotLoaded) {
		writeUnavailable(w, "no theme loaded")
		return
	}
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// SetModeRequest is the body of POST /mode.
type SetModeRequest struct {
	Mode string `json:"mode"`
}

// handleSetMode queues a mode change. The write happens asynchronously;
// results arrive on the layout.applied stream.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req SetModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "mode is required")
		return
	}
	if len(mode) > maxModeLength {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "mode is too long")
		return
	}

	s.session.OnModeChanged(mode)
	writeJSON(w, http.StatusAccepted, map[string]string{"mode": mode, "status": "queued"})
}

// handleReload reloads the theme and hardware. A theme that fails to load
// leaves the previous one active and returns 422.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), reloadTimeout)
	defer cancel()

	if err := s.session.Reload(ctx); err != nil {
		s.logger.Warn("reload via API failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history is disabled")
		return
	}

	q := r.URL.Query()
	f := history.Filter{
		Mode:    q.Get("mode"),
		Outcome: q.Get("outcome"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	entries, err := s.history.Recent(r.Context(), f)
	if err != nil {
		s.logger.Error("querying history failed", "error", err)
		writeInternalError(w, "failed to query history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// splitList splits a comma-separated query value, dropping blanks and
// duplicates.
func splitList(v string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	sort.Strings(out)
	return out
}
