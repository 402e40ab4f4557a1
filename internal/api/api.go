// Package api serves the management REST surface: session admission and
// teardown for the platform backend, plus the WebRTC client configuration the
// browser needs before it opens the media path.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mentorverse/liplink/internal/rtc"
	"github.com/mentorverse/liplink/internal/session"
)

// Options configures the API handler.
type Options struct {
	// WebSocketURL is the external base URL clients use to reach the message
	// channel, e.g. "ws://gpu1.example.com:9001".
	WebSocketURL string

	// UnifiedMode reflects whether the gateway is mounted under the API
	// server's /ws prefix, which doubles the path segment in engine URLs.
	UnifiedMode bool

	// Transport is rendered into /v1/webrtc/config for browsers.
	Transport rtc.TransportConfig
}

// Handler serves the management endpoints.
type Handler struct {
	registry *session.Registry
	opts     Options
}

// New creates the API handler around the session registry.
func New(registry *session.Registry, opts Options) *Handler {
	return &Handler{registry: registry, opts: opts}
}

// Register mounts all management endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/v1/sessions", h.createSession)
	r.Get("/v1/sessions", h.listSessions)
	r.Get("/v1/sessions/{sessionID}", h.getSession)
	r.Delete("/v1/sessions/{sessionID}", h.deleteSession)
	r.Get("/v1/webrtc/config", h.webrtcConfig)
	// Compatibility alias used by the bundled web client.
	r.Get("/config", h.webrtcConfig)
}

// Routes returns a standalone router with the endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"service":         "liplink",
		"active_sessions": h.registry.Len(),
		"max_sessions":    h.registry.Cap(),
	})
}

type createSessionRequest struct {
	TutorID   int    `json:"tutor_id"`
	StudentID int    `json:"student_id"`
	KBID      string `json:"kb_id"`
}

type createSessionResponse struct {
	SessionID   string `json:"session_id"`
	EngineURL   string `json:"engine_url"`
	EngineToken string `json:"engine_token"`
	Status      string `json:"status"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TutorID <= 0 {
		writeError(w, http.StatusBadRequest, "tutor_id is required")
		return
	}

	sess, err := h.registry.Create(req.StudentID, req.TutorID, req.KBID)
	if err != nil {
		if errors.Is(err, session.ErrCapacity) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		slog.Error("session create failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:   sess.ID,
		EngineURL:   h.engineURL(sess.ID),
		EngineToken: sess.Token,
		Status:      "active",
	})
}

// engineURL builds the websocket URL a client connects to. In unified mode
// the gateway is mounted under /ws on the same listener, so the /ws path
// segment appears twice.
func (h *Handler) engineURL(sessionID string) string {
	if h.opts.UnifiedMode {
		return fmt.Sprintf("%s/ws/ws/%s", h.opts.WebSocketURL, sessionID)
	}
	return fmt.Sprintf("%s/ws/%s", h.opts.WebSocketURL, sessionID)
}

type sessionStatusResponse struct {
	SessionID  string `json:"session_id"`
	StudentID  int    `json:"student_id"`
	TutorID    int    `json:"tutor_id"`
	KBID       string `json:"kb_id,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	LastActive string `json:"last_active"`
}

func sessionStatus(s *session.Session) sessionStatusResponse {
	return sessionStatusResponse{
		SessionID:  s.ID,
		StudentID:  s.StudentID,
		TutorID:    s.TutorID,
		KBID:       s.KBID,
		Status:     "active",
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
		LastActive: s.LastActive.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sessionStatus(sess))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.registry.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.registry.List()
	out := make([]sessionStatusResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionStatus(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    len(out),
		"sessions": out,
	})
}

// iceServer is the browser-shaped RTCIceServer entry.
type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// webrtcConfig hands the browser everything it needs to build an
// RTCPeerConnection that reaches this server: ICE servers, the relay policy
// when a TURN server fronts the media, and the advertised address range.
func (h *Handler) webrtcConfig(w http.ResponseWriter, _ *http.Request) {
	t := h.opts.Transport

	var servers []iceServer
	if t.STUNURL != "" {
		servers = append(servers, iceServer{URLs: []string{t.STUNURL}})
	}
	policy := "all"
	if t.TURNURL != "" {
		servers = append(servers, iceServer{
			URLs:       []string{t.TURNURL},
			Username:   t.TURNUser,
			Credential: t.TURNPass,
		})
		policy = "relay"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"iceServers":         servers,
		"iceTransportPolicy": policy,
		"publicIp":           t.PublicIP,
		"portRange": map[string]any{
			"min": t.PortMin,
			"max": t.PortMax,
		},
		"sdpSemantics": "unified-plan",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
