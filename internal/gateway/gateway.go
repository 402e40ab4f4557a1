// Package gateway serves the realtime conversation channel: it authenticates
// websocket connections against the session registry, routes the client
// message envelope to the tutor engines, and manages the per-connection
// WebRTC media path.
//
// Two connection scopes exist, distinguished by the connection ID in the URL:
// a plain session ID binds the whole connection to that session, while a
// "user_{id}" prefix opens a user-scoped connection that can multiplex
// several sessions by passing engine_session_id per message.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/mentorverse/liplink/internal/engine"
	"github.com/mentorverse/liplink/internal/observe"
	"github.com/mentorverse/liplink/internal/rtc"
	"github.com/mentorverse/liplink/internal/session"
	"github.com/mentorverse/liplink/pkg/provider/llm"
	"github.com/mentorverse/liplink/pkg/types"
)

// EngineSource hands out loaded tutor engines. engine.Cache is the production
// implementation.
type EngineSource interface {
	Get(ctx context.Context, tutorID int) (*engine.Engine, error)
}

// Sender abstracts the outbound half of a connection so the router can be
// tested without a websocket.
type Sender interface {
	Send(ctx context.Context, msg types.ServerMessage) error
}

// Options configures a gateway Handler.
type Options struct {
	Transport   rtc.TransportConfig
	NewEncoder  EncoderFactory
	NewOpus     OpusFactory
	Language    string
	InlineAudio bool
	FPS         int
	BatchSize   int
	Metrics     *observe.Metrics
}

// Handler serves the websocket endpoint.
type Handler struct {
	registry *session.Registry
	engines  EngineSource

	transport   rtc.TransportConfig
	newEncoder  EncoderFactory
	newOpus     OpusFactory
	language    string
	inlineAudio bool
	fps         int
	batchSize   int
	metrics     *observe.Metrics

	// idleClips caches the encoded idle cycle per tutor ID.
	idleClips sync.Map
}

// NewHandler builds the gateway handler.
func NewHandler(registry *session.Registry, engines EngineSource, opts Options) *Handler {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if opts.FPS <= 0 {
		opts.FPS = 25
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 4
	}
	return &Handler{
		registry:    registry,
		engines:     engines,
		transport:   opts.Transport,
		newEncoder:  opts.NewEncoder,
		newOpus:     opts.NewOpus,
		language:    opts.Language,
		inlineAudio: opts.InlineAudio,
		fps:         opts.FPS,
		batchSize:   opts.BatchSize,
		metrics:     opts.Metrics,
	}
}

// conn is the state of one live websocket connection.
type conn struct {
	h    *Handler
	send Sender

	connectionID string
	userScoped   bool

	// sess is the authenticated session. In user-scoped mode it is the
	// token's session, used as the default conversation context; it is nil
	// on tokenless (sessionless) user-scoped connections.
	sess *session.Session

	mu       sync.Mutex
	contexts map[string]*convo
	media    *mediaSession
}

// convo is one conversation context: its session, the tutor serving it, and
// the turn history. sess is nil in sessionless mode, where the client names
// the tutor directly per message.
type convo struct {
	sess    *session.Session
	tutorID int
	history []llm.Message
}

func (cv *convo) tutor() int {
	if cv.sess != nil {
		return cv.sess.TutorID
	}
	return cv.tutorID
}

func (cv *convo) student() int {
	if cv.sess != nil {
		return cv.sess.StudentID
	}
	return 0
}

func (cv *convo) kb() string {
	if cv.sess != nil {
		return cv.sess.KBID
	}
	return ""
}

// wsSender writes server messages onto the websocket.
type wsSender struct {
	c *websocket.Conn
}

func (s *wsSender) Send(ctx context.Context, msg types.ServerMessage) error {
	return wsjson.Write(ctx, s.c, msg)
}

// maxMessageBytes bounds one inbound frame. Base64 utterance audio is the
// largest legitimate payload.
const maxMessageBytes = 16 << 20

// ServeHTTP upgrades GET /ws/{connectionID}. Session-scoped connections must
// present a valid token or the socket is closed with a policy violation
// before any message flows; user-scoped connections may omit the token and
// run sessionless.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")
	token := r.URL.Query().Get("token")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	ws.SetReadLimit(maxMessageBytes)

	sess, err := h.authenticate(connectionID, token)
	if err != nil {
		slog.Warn("websocket auth rejected", "connection_id", connectionID, "err", err)
		_ = ws.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}

	h.metrics.ActiveConnections.Add(r.Context(), 1)
	defer h.metrics.ActiveConnections.Add(context.Background(), -1)

	c := &conn{
		h:            h,
		send:         &wsSender{c: ws},
		connectionID: connectionID,
		userScoped:   strings.HasPrefix(connectionID, "user_"),
		sess:         sess,
		contexts:     make(map[string]*convo),
	}
	defer c.closeMedia()

	mode := "session-based"
	welcome := "Connected to liplink gateway"
	if c.userScoped {
		mode = "user-based"
	} else {
		welcome = fmt.Sprintf("Connected to tutor %d", sess.TutorID)
	}
	logAttrs := []any{"connection_id", connectionID, "mode", mode}
	if sess != nil {
		logAttrs = append(logAttrs, "session_id", sess.ID, "tutor_id", sess.TutorID)
	}
	slog.Info("websocket connected", logAttrs...)

	ctx := r.Context()
	if err := c.send.Send(ctx, types.ServerMessage{
		Type:      types.MsgConnected,
		Mode:      mode,
		Content:   welcome,
		Timestamp: timestamp(),
	}); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "welcome failed")
		return
	}

	c.readLoop(ctx, ws)
}

// authenticate resolves the connection ID and token into a session. A plain
// connection ID names the session the token must belong to. A user-scoped
// connection ID carries no session: its token, when present, picks the
// default one; without a token the connection runs sessionless and each
// message names its own session or tutor.
func (h *Handler) authenticate(connectionID, token string) (*session.Session, error) {
	if strings.HasPrefix(connectionID, "user_") {
		if token == "" {
			return nil, nil
		}
		return h.registry.AuthenticateToken(token)
	}
	return h.registry.Authenticate(connectionID, token)
}

// readLoop pumps client messages until the peer goes away. Frames are decoded
// by hand rather than through wsjson, which closes the connection on
// unmarshal failure; a malformed message must only cost an error reply.
func (c *conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && ctx.Err() == nil {
				slog.Warn("websocket read failed", "connection_id", c.connectionID, "err", err)
			} else {
				slog.Info("websocket disconnected", "connection_id", c.connectionID, "status", status)
			}
			return
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(ctx, "Invalid message format")
			continue
		}
		c.handleMessage(ctx, msg)
	}
}

// sendError emits the error envelope.
func (c *conn) sendError(ctx context.Context, content string) {
	if err := c.send.Send(ctx, types.ServerMessage{
		Type:      types.MsgError,
		Content:   content,
		Timestamp: timestamp(),
	}); err != nil {
		slog.Debug("error envelope send failed", "err", err)
	}
}

func (c *conn) closeMedia() {
	c.mu.Lock()
	m := c.media
	c.media = nil
	c.mu.Unlock()
	if m != nil {
		m.close()
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
