package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mentorverse/liplink/internal/session"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry(5, time.Hour)

	s, err := r.Create(42, 7, "kb-bio")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID == "" {
		t.Error("session ID should not be empty")
	}
	if len(s.Token) < 43 {
		t.Errorf("token too short: %d chars, want at least 43", len(s.Token))
	}
	if s.StudentID != 42 || s.TutorID != 7 {
		t.Errorf("session identity: got student=%d tutor=%d", s.StudentID, s.TutorID)
	}
	if s.KBID != "kb-bio" {
		t.Errorf("kb handle = %q, want kb-bio", s.KBID)
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Token != s.Token {
		t.Error("Get returned a different token")
	}
}

func TestRegistry_TokensAreUnique(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry(10, time.Hour)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		s, err := r.Create(i, 1, "")
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if seen[s.Token] {
			t.Fatalf("duplicate token minted at session %d", i)
		}
		seen[s.Token] = true
	}
}

func TestRegistry_CapacityExhausted(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry(2, time.Hour)

	if _, err := r.Create(1, 1, ""); err != nil {
		t.Fatalf("Create 1: %v", err)
	}
	if _, err := r.Create(2, 1, ""); err != nil {
		t.Fatalf("Create 2: %v", err)
	}

	_, err := r.Create(3, 1, "")
	if !errors.Is(err, session.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestRegistry_SweepFreesCapacity(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry(1, 20*time.Millisecond)

	first, err := r.Create(1, 1, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Let the only session go idle past the timeout, then create again.
	time.Sleep(50 * time.Millisecond)

	second, err := r.Create(2, 1, "")
	if err != nil {
		t.Fatalf("Create after expiry should succeed, got %v", err)
	}

	if _, err := r.Get(first.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expired session should be gone, got %v", err)
	}
	if _, err := r.Get(second.ID); err != nil {
		t.Errorf("new session should exist, got %v", err)
	}
}

func TestRegistry_TouchKeepsSessionAlive(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry(5, 60*time.Millisecond)

	s, err := r.Create(1, 1, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Touch repeatedly across more than one timeout window.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		r.Touch(s.ID)
	}
	if r.Sweep() != 0 {
		t.Error("touched session should not be swept")
	}
	if _, err := r.Get(s.ID); err != nil {
		t.Errorf("touched session should still exist, got %v", err)
	}
}

func TestRegistry_Authenticate(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry(5, time.Hour)

	s, err := r.Create(42, 7, "kb-bio")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.Authenticate(s.ID, s.Token)
	if err != nil {
		t.Fatalf("Authenticate with correct token: %v", err)
	}
	if got.StudentID != 42 {
		t.Errorf("authenticated session user: got %d, want 42", got.StudentID)
	}

	if _, err := r.Authenticate(s.ID, "wrong-token"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("wrong token should yield ErrNotFound, got %v", err)
	}
	if _, err := r.Authenticate("no-such-session", s.Token); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("unknown session should yield ErrNotFound, got %v", err)
	}
}

func TestRegistry_AuthenticateToken(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry(5, time.Hour)

	s, err := r.Create(42, 7, "kb-bio")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.AuthenticateToken(s.Token)
	if err != nil {
		t.Fatalf("AuthenticateToken: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("resolved session: got %s, want %s", got.ID, s.ID)
	}

	if _, err := r.AuthenticateToken("no-such-token"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("unknown token should yield ErrNotFound, got %v", err)
	}
}

func TestRegistry_Delete(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry(5, time.Hour)

	s, err := r.Create(1, 1, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Delete(s.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("second Delete should yield ErrNotFound, got %v", err)
	}

	// The deleted session's token must no longer authenticate.
	if _, err := r.Authenticate(s.ID, s.Token); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("deleted session should not authenticate, got %v", err)
	}
}

func TestRegistry_List(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry(5, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := r.Create(i, 1, ""); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	sessions := r.List()
	if len(sessions) != 3 {
		t.Fatalf("List: got %d sessions, want 3", len(sessions))
	}
	if r.Len() != 3 {
		t.Errorf("Len: got %d, want 3", r.Len())
	}
}

func TestRegistry_ConcurrentCreateRespectsCap(t *testing.T) {
	t.Parallel()
	const cap = 10
	r := session.NewRegistry(cap, time.Hour)

	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		go func(i int) {
			_, err := r.Create(i, 1, "")
			errs <- err
		}(i)
	}

	var ok, capped int
	for i := 0; i < 50; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, session.ErrCapacity):
			capped++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != cap {
		t.Errorf("successful creates: got %d, want %d", ok, cap)
	}
	if capped != 50-cap {
		t.Errorf("capacity errors: got %d, want %d", capped, 50-cap)
	}
}
