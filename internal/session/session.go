// ABOUTME: Per-user session state: lifecycle state, latest QR payload, and the owned backend client.
// ABOUTME: All field access goes through the session mutex; state changes only via transition.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/wa-broker/internal/backend"
)

// State is the lifecycle state of a session.
type State int

const (
	StateInitializing State = iota
	StateAwaitingScan
	StateAuthenticating
	StateReady
	StateDisconnected
)

// String returns the state name used in logs and API responses.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingScan:
		return "awaiting_scan"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is one incarnation of a user's messaging session.
// A recreated session for the same user is a new Session with a new Generation.
type Session struct {
	UserID     string
	Generation string
	CreatedAt  time.Time

	mu           sync.RWMutex
	state        State
	lastQR       string
	idleDeadline time.Time
	readyAt      time.Time
	client       backend.Client

	done      chan struct{}
	closeOnce sync.Once
}

// Snapshot is a consistent copy of a session's mutable fields.
type Snapshot struct {
	UserID       string
	Generation   string
	State        State
	QR           string
	CreatedAt    time.Time
	IdleDeadline time.Time
	ReadyAt      time.Time
}

func newSession(userID string, idleTimeout time.Duration) *Session {
	now := time.Now()
	return &Session{
		UserID:       userID,
		Generation:   uuid.New().String(),
		CreatedAt:    now,
		state:        StateInitializing,
		idleDeadline: now.Add(idleTimeout),
		done:         make(chan struct{}),
	}
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		UserID:       s.UserID,
		Generation:   s.Generation,
		State:        s.state,
		QR:           s.lastQR,
		CreatedAt:    s.CreatedAt,
		IdleDeadline: s.idleDeadline,
		ReadyAt:      s.readyAt,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// readyClient returns the backend client if, and only if, the session is Ready.
func (s *Session) readyClient() backend.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady {
		return nil
	}
	return s.client
}

// attach hands the freshly opened client to the session. It fails when the
// session was torn down while the client was being opened; the caller then
// owns the client and must close it.
func (s *Session) attach(c backend.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return false
	}
	s.client = c
	return true
}

// transition applies a trigger to the session under its lock and returns what
// the reducer decided. Effects are left to the caller.
func (s *Session) transition(trig Trigger) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Reduce(s.state, trig)
	if t.Ignored {
		return t
	}

	s.state = t.To
	if t.ClearQR {
		s.lastQR = ""
	}
	if t.QR != "" {
		s.lastQR = t.QR
	}
	if t.To == StateReady {
		s.readyAt = time.Now()
		s.idleDeadline = time.Time{}
	}
	return t
}

// teardown closes the backend client exactly once and releases the controller.
func (s *Session) teardown(logger *slog.Logger) {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.RLock()
		c := s.client
		s.mu.RUnlock()

		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			logger.Warn("closing backend client failed",
				"user_id", s.UserID,
				"generation", s.Generation,
				"error", err,
			)
		}
	})
}
