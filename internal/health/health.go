// Package health serves the orchestrator-facing probes.
//
//   - /healthz — liveness; a process that answers is alive.
//   - /readyz  — readiness; 200 only while every registered [Checker]
//     passes, so load balancers stop admitting work to a saturated or
//     degraded gateway.
//
// The richer /health endpoint with session counts lives in the management
// API; these two exist for infrastructure that only understands status codes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mentorverse/liplink/internal/session"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Capacity reports ready while the registry can still admit a session.
// A full gateway stays alive but should not receive new traffic.
func Capacity(reg *session.Registry) Checker {
	return Checker{
		Name: "sessions",
		Check: func(context.Context) error {
			if reg.Len() >= reg.Cap() {
				return fmt.Errorf("at capacity (%d/%d)", reg.Len(), reg.Cap())
			}
			return nil
		},
	}
}

// Binary reports ready while the named executable resolves. The media path
// cannot run without ffmpeg on PATH.
func Binary(name string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			_, err := exec.LookPath(name)
			return err
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints.
type Handler struct {
	checkers []Checker
}

// New creates a handler that runs the given checkers on each /readyz request,
// in order.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 while every checker passes and 503 otherwise, with the
// per-check outcome in the body.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register mounts both probes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
