// Package server exposes the HTTP API handlers.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/onnwee/codewatch/chat"
)

// StatusFunc returns the current engine snapshot.
type StatusFunc func() chat.Status

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	status    StatusFunc
	startedAt time.Time
}

// NewHandlers creates a new Handlers instance. A nil status reports the
// engine as not yet started.
func NewHandlers(status StatusFunc) *Handlers {
	if status == nil {
		status = func() chat.Status { return chat.Status{State: chat.StateInit.String()} }
	}
	return &Handlers{status: status, startedAt: time.Now()}
}

// HandleHealthz responds to liveness probes. The process is alive as long as it can answer.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests; ready only while the engine is polling normally.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	st := h.status()
	checks := []struct {
		name string
		fn   func() error
	}{
		{"engine_state", func() error {
			if st.State != chat.StatePolling.String() {
				return fmt.Errorf("engine is %s", st.State)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns the engine counters as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := struct {
		chat.Status
		UptimeSeconds int64 `json:"uptime_seconds"`
	}{
		Status:        h.status(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
