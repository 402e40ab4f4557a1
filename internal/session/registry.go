// Package session implements the session registry: admission-capped minting
// of session IDs and bearer tokens, token verification for the message
// channel, and idle-session eviction.
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCapacity is returned by Create when the registry already holds the
	// maximum number of live sessions.
	ErrCapacity = errors.New("session: capacity exhausted")

	// ErrNotFound is returned when no session exists for the given ID.
	ErrNotFound = errors.New("session: not found")
)

// Session is a single admitted tutoring session. The token is the bearer
// credential a client must present when opening the message channel.
type Session struct {
	ID        string
	Token     string
	StudentID int
	TutorID   int

	// KBID is the opaque knowledge-base handle passed through to retrieval.
	// Empty when the session has no dedicated knowledge base.
	KBID string

	CreatedAt time.Time

	// LastActive is bumped by Touch on every client message. The sweep
	// evicts sessions idle longer than the registry timeout.
	LastActive time.Time
}

// idle reports whether the session has been inactive longer than d.
func (s *Session) idle(now time.Time, d time.Duration) bool {
	return now.Sub(s.LastActive) > d
}

// Registry holds all live sessions, capped at maxSessions concurrently
// non-expired entries. All exported methods are safe for concurrent use.
type Registry struct {
	maxSessions int
	timeout     time.Duration

	mu       sync.Mutex
	sessions map[string]*Session // keyed by session ID
	byToken  map[string]string   // token -> session ID
}

// NewRegistry creates a session registry with the given admission cap and
// idle timeout.
func NewRegistry(maxSessions int, timeout time.Duration) *Registry {
	return &Registry{
		maxSessions: maxSessions,
		timeout:     timeout,
		sessions:    make(map[string]*Session),
		byToken:     make(map[string]string),
	}
}

// Create mints a new session for the given student and tutor. kbID may be
// empty. Expired sessions are swept first so a full registry of idle sessions
// never blocks admission. Returns [ErrCapacity] when the cap is reached after
// sweeping.
func (r *Registry) Create(studentID, tutorID int, kbID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(time.Now())

	if len(r.sessions) >= r.maxSessions {
		return nil, fmt.Errorf("%w (max %d)", ErrCapacity, r.maxSessions)
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("session: mint token: %w", err)
	}

	now := time.Now()
	s := &Session{
		ID:         uuid.NewString(),
		Token:      token,
		StudentID:  studentID,
		TutorID:    tutorID,
		KBID:       kbID,
		CreatedAt:  now,
		LastActive: now,
	}
	r.sessions[s.ID] = s
	r.byToken[s.Token] = s.ID

	slog.Info("session created",
		"session_id", s.ID,
		"student_id", studentID,
		"tutor_id", tutorID,
		"kb_id", kbID,
		"live", len(r.sessions),
	)

	snapshot := *s
	return &snapshot, nil
}

// Get returns a copy of the session with the given ID, or [ErrNotFound].
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := *s
	return &snapshot, nil
}

// Authenticate verifies the bearer token for a session using a constant-time
// comparison and returns the session on success. Both an unknown session ID
// and a wrong token yield [ErrNotFound]; callers must not distinguish them.
func (r *Registry) Authenticate(sessionID, token string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		// Compare against a dummy value so lookup misses cost the same as
		// token mismatches.
		subtle.ConstantTimeCompare([]byte(token), []byte(dummyToken))
		return nil, ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
		return nil, ErrNotFound
	}

	s.LastActive = time.Now()
	snapshot := *s
	return &snapshot, nil
}

// AuthenticateToken resolves a bearer token to its session when the caller
// has no session ID in hand (user-scoped connections). The token is compared
// in constant time against the stored credential after the index lookup.
func (r *Registry) AuthenticateToken(token string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		subtle.ConstantTimeCompare([]byte(token), []byte(dummyToken))
		return nil, ErrNotFound
	}
	s := r.sessions[id]
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
		return nil, ErrNotFound
	}

	s.LastActive = time.Now()
	snapshot := *s
	return &snapshot, nil
}

// Touch bumps the activity timestamp for a session. Unknown IDs are ignored;
// the session may have been swept while a message was in flight.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		s.LastActive = time.Now()
	}
}

// Delete removes a session. Returns [ErrNotFound] if no such session exists.
func (r *Registry) Delete(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	delete(r.sessions, sessionID)
	delete(r.byToken, s.Token)

	slog.Info("session deleted", "session_id", sessionID, "live", len(r.sessions))
	return nil
}

// List returns copies of all live sessions after sweeping expired ones.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(time.Now())

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot := *s
		out = append(out, &snapshot)
	}
	return out
}

// Cap returns the admission cap.
func (r *Registry) Cap() int {
	return r.maxSessions
}

// Len returns the number of live sessions without sweeping.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts idle sessions and returns how many were removed. The API
// server calls this periodically in addition to the sweep-on-create.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(time.Now())
}

func (r *Registry) sweepLocked(now time.Time) int {
	var evicted int
	for id, s := range r.sessions {
		if s.idle(now, r.timeout) {
			delete(r.sessions, id)
			delete(r.byToken, s.Token)
			evicted++
			slog.Info("session expired",
				"session_id", id,
				"idle", now.Sub(s.LastActive).Round(time.Second),
			)
		}
	}
	return evicted
}

// dummyToken keeps Authenticate's timing independent of session existence.
var dummyToken = func() string {
	t, err := newToken()
	if err != nil {
		return "0000000000000000000000000000000000000000000"
	}
	return t
}()

// newToken mints a 32-byte random bearer token, base64url-encoded without
// padding (43 characters).
func newToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
