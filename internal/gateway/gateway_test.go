package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/mentorverse/liplink/internal/engine"
	"github.com/mentorverse/liplink/internal/session"
	llmmock "github.com/mentorverse/liplink/pkg/provider/llm/mock"
	"github.com/mentorverse/liplink/pkg/types"
)

// newWSServer serves the gateway over a real websocket endpoint.
func newWSServer(t *testing.T, eng *engine.Engine) (*httptest.Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(8, time.Minute)
	h := NewHandler(reg, &fixedEngines{eng: eng}, Options{})
	r := chi.NewRouter()
	r.Get("/ws/{connectionID}", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readServerMessage(t *testing.T, ws *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg types.ServerMessage
	if err := wsjson.Read(ctx, ws, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestServeHTTP_MalformedJSONKeepsConnectionOpen(t *testing.T) {
	t.Parallel()
	eng := &engine.Engine{TutorID: 7, LLM: &llmmock.Provider{CompleteText: "ok"}}
	srv, reg := newWSServer(t, eng)
	sess, err := reg.Create(1, 7, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ws := dialWS(t, srv, "/ws/"+sess.ID+"?token="+sess.Token)
	if welcome := readServerMessage(t, ws); welcome.Type != types.MsgConnected {
		t.Fatalf("welcome type = %q", welcome.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}
	if errMsg := readServerMessage(t, ws); errMsg.Type != types.MsgError {
		t.Fatalf("reply to malformed frame = %+v, want error envelope", errMsg)
	}

	// The connection must still serve real traffic afterwards.
	if err := wsjson.Write(ctx, ws, types.ClientMessage{Type: types.MsgText, Content: "hi"}); err != nil {
		t.Fatalf("write after malformed frame: %v", err)
	}
	reply := readServerMessage(t, ws)
	if reply.Type != types.MsgText || reply.Content != "ok" {
		t.Errorf("reply = %+v, want the text answer", reply)
	}
}

func TestServeHTTP_TokenlessUserScopedServesByTutorID(t *testing.T) {
	t.Parallel()
	eng := &engine.Engine{TutorID: 9, LLM: &llmmock.Provider{CompleteText: "ok"}}
	srv, _ := newWSServer(t, eng)

	ws := dialWS(t, srv, "/ws/user_42")
	welcome := readServerMessage(t, ws)
	if welcome.Type != types.MsgConnected || welcome.Mode != "user-based" {
		t.Fatalf("welcome = %+v, want user-based connected envelope", welcome)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, types.ClientMessage{Type: types.MsgText, Content: "hi", TutorID: 9}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := readServerMessage(t, ws)
	if reply.Type != types.MsgText || reply.Content != "ok" {
		t.Errorf("reply = %+v, want the text answer", reply)
	}
}

func TestServeHTTP_SessionScopedRejectsBadToken(t *testing.T) {
	t.Parallel()
	srv, reg := newWSServer(t, &engine.Engine{TutorID: 7})
	sess, err := reg.Create(1, 7, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + sess.ID + "?token=wrong"
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	var msg types.ServerMessage
	err = wsjson.Read(ctx, ws, &msg)
	if err == nil {
		t.Fatalf("read succeeded with %+v, want policy-violation close", msg)
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", got)
	}
}
