package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mentorverse/liplink/internal/rtc"
	"github.com/mentorverse/liplink/internal/session"
)

func newTestHandler(t *testing.T, maxSessions int, opts Options) (*Handler, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(maxSessions, time.Minute)
	if opts.WebSocketURL == "" {
		opts.WebSocketURL = "ws://gpu1.example.com:9001"
	}
	return New(reg, opts), reg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 4, Options{})
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]any{"student_id": 1, "tutor_id": 7})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}

	var resp createSessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == "" || resp.EngineToken == "" {
		t.Errorf("incomplete response: %+v", resp)
	}
	if len(resp.EngineToken) < 43 {
		t.Errorf("engine_token length = %d, want at least 43", len(resp.EngineToken))
	}
	if resp.Status != "active" {
		t.Errorf("status = %q, want active", resp.Status)
	}
	want := "ws://gpu1.example.com:9001/ws/" + resp.SessionID
	if resp.EngineURL != want {
		t.Errorf("engine_url = %q, want %q", resp.EngineURL, want)
	}
}

func TestCreateSession_KBHandleRoundTrips(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 4, Options{})
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions",
		map[string]any{"student_id": 5, "tutor_id": 7, "kb_id": "kb-chem"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp createSessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	get := doJSON(t, router, http.MethodGet, "/v1/sessions/"+resp.SessionID, nil)
	var status sessionStatusResponse
	if err := json.NewDecoder(get.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.KBID != "kb-chem" || status.StudentID != 5 {
		t.Errorf("status = %+v", status)
	}
}

func TestCreateSession_UnifiedModeURL(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 4, Options{UnifiedMode: true})
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]any{"student_id": 1, "tutor_id": 7})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var resp createSessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.EngineURL, "/ws/ws/") {
		t.Errorf("engine_url = %q, want doubled /ws path in unified mode", resp.EngineURL)
	}
}

func TestCreateSession_CapacityExhausted(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 1, Options{})
	router := h.Routes()

	if rec := doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]any{"student_id": 1, "tutor_id": 7}); rec.Code != http.StatusCreated {
		t.Fatalf("first create = %d", rec.Code)
	}
	rec := doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]any{"student_id": 2, "tutor_id": 7})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestCreateSession_BadRequest(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 4, Options{})
	router := h.Routes()

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}

	if rec := doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]any{"student_id": 1}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing tutor_id status = %d, want 400", rec.Code)
	}
}

func TestGetAndDeleteSession(t *testing.T) {
	t.Parallel()
	h, reg := newTestHandler(t, 4, Options{})
	router := h.Routes()

	sess, err := reg.Create(3, 9, "kb-phys")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var status sessionStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.TutorID != 9 || status.StudentID != 3 || status.Status != "active" {
		t.Errorf("status = %+v", status)
	}
	if status.KBID != "kb-phys" {
		t.Errorf("kb_id = %q, want kb-phys", status.KBID)
	}

	if rec := doJSON(t, router, http.MethodDelete, "/v1/sessions/"+sess.ID, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodDelete, "/v1/sessions/"+sess.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodGet, "/v1/sessions/"+sess.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	h, reg := newTestHandler(t, 4, Options{})
	router := h.Routes()

	for i := 0; i < 3; i++ {
		if _, err := reg.Create(i, 7, ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Total    int                     `json:"total"`
		Sessions []sessionStatusResponse `json:"sessions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Sessions) != 3 {
		t.Errorf("total = %d, sessions = %d, want 3 each", resp.Total, len(resp.Sessions))
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h, reg := newTestHandler(t, 4, Options{})
	router := h.Routes()

	if _, err := reg.Create(1, 7, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status field = %v", resp["status"])
	}
	if resp["active_sessions"].(float64) != 1 || resp["max_sessions"].(float64) != 4 {
		t.Errorf("counts = %v/%v", resp["active_sessions"], resp["max_sessions"])
	}
}

func TestWebRTCConfig(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 4, Options{
		Transport: rtc.TransportConfig{
			PublicIP: "203.0.113.5",
			PortMin:  10110,
			PortMax:  10115,
			STUNURL:  "stun:stun.l.google.com:19302",
			TURNURL:  "turn:203.0.113.5:10110",
			TURNUser: "tutor",
			TURNPass: "secret",
		},
	})
	router := h.Routes()

	for _, path := range []string{"/v1/webrtc/config", "/config"} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		var resp map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp["iceTransportPolicy"] != "relay" {
			t.Errorf("policy = %v, want relay with a TURN server", resp["iceTransportPolicy"])
		}
		if resp["publicIp"] != "203.0.113.5" {
			t.Errorf("publicIp = %v", resp["publicIp"])
		}
		servers := resp["iceServers"].([]any)
		if len(servers) != 2 {
			t.Fatalf("iceServers = %d entries, want 2", len(servers))
		}
		turn := servers[1].(map[string]any)
		if turn["username"] != "tutor" || turn["credential"] != "secret" {
			t.Errorf("turn entry = %v", turn)
		}
	}
}

func TestWebRTCConfig_NoTURNMeansAllPolicy(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 4, Options{
		Transport: rtc.TransportConfig{STUNURL: "stun:stun.l.google.com:19302"},
	})
	rec := doJSON(t, h.Routes(), http.MethodGet, "/v1/webrtc/config", nil)

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["iceTransportPolicy"] != "all" {
		t.Errorf("policy = %v, want all without a TURN server", resp["iceTransportPolicy"])
	}
}
