// ABOUTME: Process-wide registry of user sessions; the only path that creates backend clients.
// ABOUTME: Serializes creation, replacement, and removal per user under one mutex.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/wa-broker/internal/backend"
	"github.com/2389/wa-broker/internal/store"
)

// Registry errors
var (
	ErrReadyTimeout    = errors.New("timed out waiting for session to become ready")
	ErrSessionVanished = errors.New("session was removed while waiting for it")
	ErrSessionNotFound = errors.New("session not found")
	ErrRegistryClosed  = errors.New("session registry closed")

	errRecreateCanceled = errors.New("scheduled recreate canceled")
)

// Default timings.
const (
	DefaultIdleTimeout      = 2 * time.Minute
	DefaultPollInterval     = time.Second
	DefaultReadyTimeout     = 15 * time.Second
	DefaultStartGrace       = 2 * time.Second
	DefaultRecreateInterval = 30 * time.Second
	DefaultRecreateBurst    = 3
	DefaultRecreateMaxDelay = 5 * time.Minute
)

// RegistryConfig holds the collaborators and timings of a Registry.
type RegistryConfig struct {
	Backend   backend.Backend
	AuthStore *store.AuthStore
	Logger    *slog.Logger

	// IdleTimeout bounds how long a session may stay unauthenticated.
	IdleTimeout time.Duration
	// PollInterval is the readiness gate's re-check period.
	PollInterval time.Duration

	// RecreateInterval and RecreateBurst form the per-user token bucket that
	// paces disconnect-driven recreation. A zero interval disables pacing.
	RecreateInterval time.Duration
	RecreateBurst    int
	// RecreateMaxDelay drops a recreation whose bucket delay would exceed it.
	RecreateMaxDelay time.Duration
}

// Registry owns every live session, keyed by user ID.
type Registry struct {
	backend backend.Backend
	auth    *store.AuthStore
	logger  *slog.Logger

	idleTimeout      time.Duration
	pollInterval     time.Duration
	recreateInterval time.Duration
	recreateBurst    int
	recreateMaxDelay time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	limiters map[string]*rate.Limiter
	timers   map[string]*time.Timer
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a Registry. Zero timings fall back to the defaults.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if cfg.AuthStore == nil {
		return nil, errors.New("auth store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		backend:          cfg.Backend,
		auth:             cfg.AuthStore,
		logger:           logger,
		idleTimeout:      orDefault(cfg.IdleTimeout, DefaultIdleTimeout),
		pollInterval:     orDefault(cfg.PollInterval, DefaultPollInterval),
		recreateInterval: cfg.RecreateInterval,
		recreateBurst:    cfg.RecreateBurst,
		recreateMaxDelay: orDefault(cfg.RecreateMaxDelay, DefaultRecreateMaxDelay),
		sessions:         make(map[string]*Session),
		limiters:         make(map[string]*rate.Limiter),
		timers:           make(map[string]*time.Timer),
		ctx:              ctx,
		cancel:           cancel,
	}
	if r.recreateBurst <= 0 {
		r.recreateBurst = DefaultRecreateBurst
	}
	return r, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Get returns the live session for a user.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Ensure returns the user's session, creating it and its backend client when
// absent. created reports whether this call did the creation.
func (r *Registry) Ensure(userID string) (s *Session, created bool, err error) {
	return r.create(userID, nil, nil)
}

// HasAuth reports whether the user has persisted authentication artifacts.
func (r *Registry) HasAuth(userID string) bool {
	return r.auth.Has(userID)
}

// create inserts a new session for userID unless a live one exists. When
// replace is non-nil, that exact session is swapped out atomically. When
// scheduled is non-nil, creation only proceeds while that timer is still the
// user's pending recreate.
func (r *Registry) create(userID string, replace *Session, scheduled *time.Timer) (*Session, bool, error) {
	dir, err := r.auth.Dir(userID)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, ErrRegistryClosed
	}
	if scheduled != nil && r.timers[userID] != scheduled {
		r.mu.Unlock()
		return nil, false, errRecreateCanceled
	}
	if cur, ok := r.sessions[userID]; ok && cur != replace {
		if scheduled != nil {
			delete(r.timers, userID)
		}
		r.mu.Unlock()
		return cur, false, nil
	}
	s := newSession(userID, r.idleTimeout)
	r.sessions[userID] = s
	if t, ok := r.timers[userID]; ok {
		t.Stop()
		delete(r.timers, userID)
	}
	r.mu.Unlock()

	client, err := r.backend.Open(r.ctx, userID, dir)
	if err != nil {
		s.transition(Trigger{Kind: TriggerShutdown})
		s.teardown(r.logger)
		r.removeIfCurrent(s)
		return nil, false, fmt.Errorf("opening backend client for %s: %w", userID, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = client.Close()
		return nil, false, ErrRegistryClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	if !s.attach(client) {
		r.wg.Done()
		_ = client.Close()
		return nil, false, ErrSessionVanished
	}

	go r.control(s, client.Events())

	r.logger.Info("=== SESSION CREATED ===",
		"user_id", userID,
		"generation", s.Generation,
		"idle_deadline", s.Snapshot().IdleDeadline.Format(time.RFC3339),
		"total_sessions", r.Len(),
	)
	return s, true, nil
}

// removeIfCurrent drops the registry entry only if it still points at s.
func (r *Registry) removeIfCurrent(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.UserID]; ok && cur == s {
		delete(r.sessions, s.UserID)
		r.logger.Info("=== SESSION REMOVED ===",
			"user_id", s.UserID,
			"generation", s.Generation,
			"total_sessions", len(r.sessions),
		)
	}
}

// limiterLocked returns the recreate limiter for a user. Must be called with mu held.
func (r *Registry) limiterLocked(userID string) *rate.Limiter {
	if l, ok := r.limiters[userID]; ok {
		return l
	}
	limit := rate.Inf
	if r.recreateInterval > 0 {
		limit = rate.Every(r.recreateInterval)
	}
	l := rate.NewLimiter(limit, r.recreateBurst)
	r.limiters[userID] = l
	return l
}

// recreate replaces a disconnected session with a fresh one, paced by the
// user's token bucket. A recreation that would wait longer than the max delay
// is dropped; the user can still start a new session explicitly.
func (r *Registry) recreate(old *Session) {
	userID := old.UserID

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.removeIfCurrent(old)
		return
	}
	res := r.limiterLocked(userID).Reserve()
	r.mu.Unlock()

	if !res.OK() {
		r.removeIfCurrent(old)
		r.logger.Warn("=== SESSION RECREATE SUPPRESSED ===", "user_id", userID, "reason", "limiter rejected reservation")
		return
	}

	delay := res.Delay()
	if delay > r.recreateMaxDelay {
		res.Cancel()
		r.removeIfCurrent(old)
		r.logger.Warn("=== SESSION RECREATE SUPPRESSED ===",
			"user_id", userID,
			"reason", "disconnecting too often",
			"would_wait", delay.String(),
		)
		return
	}

	if delay > 0 {
		r.removeIfCurrent(old)
		r.scheduleCreate(userID, delay)
		return
	}

	s, created, err := r.create(userID, old, nil)
	if err != nil {
		r.removeIfCurrent(old)
		r.logger.Error("recreating session failed", "user_id", userID, "error", err)
		return
	}
	if created {
		r.logger.Info("=== SESSION RECREATED ===",
			"user_id", userID,
			"old_generation", old.Generation,
			"generation", s.Generation,
		)
	}
}

// scheduleCreate creates a session for userID after delay unless one appears first.
func (r *Registry) scheduleCreate(userID string, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if prev, ok := r.timers[userID]; ok {
		prev.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		self := timer
		r.mu.Unlock()

		_, _, err := r.create(userID, nil, self)
		switch {
		case err == nil:
		case errors.Is(err, errRecreateCanceled), errors.Is(err, ErrRegistryClosed):
		default:
			r.mu.Lock()
			if r.timers[userID] == self {
				delete(r.timers, userID)
			}
			r.mu.Unlock()
			r.logger.Error("delayed session recreate failed", "user_id", userID, "error", err)
		}
	})
	r.timers[userID] = timer

	r.logger.Warn("session recreate delayed", "user_id", userID, "delay", delay.String())
}

// Logout tears the user's session down and purges its artifacts without
// recreating it. A pending delayed recreate is canceled. Users with artifacts
// or a pending recreate but no live session are purged too.
func (r *Registry) Logout(userID string) error {
	if err := store.ValidateUserID(userID); err != nil {
		return err
	}

	r.mu.Lock()
	s, ok := r.sessions[userID]
	t, pending := r.timers[userID]
	if pending {
		t.Stop()
		delete(r.timers, userID)
	}
	r.mu.Unlock()

	if pending {
		r.logger.Info("pending session recreate canceled", "user_id", userID)
	}
	if !ok {
		if !pending && !r.auth.Has(userID) {
			return ErrSessionNotFound
		}
		return r.auth.Purge(userID)
	}

	r.dispatch(s, Trigger{Kind: TriggerLogout})
	return nil
}

// List returns snapshots of every live session ordered by user ID.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CountReady returns the number of sessions in the Ready state.
func (r *Registry) CountReady() int {
	n := 0
	for _, snap := range r.List() {
		if snap.State == StateReady {
			n++
		}
	}
	return n
}

// Close tears down every session, keeping their artifacts so they resume on
// the next start, and waits for all controllers to exit. Safe to call twice.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	for userID, t := range r.timers {
		t.Stop()
		delete(r.timers, userID)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.dispatch(s, Trigger{Kind: TriggerShutdown})
	}

	r.cancel()
	r.wg.Wait()
	r.logger.Info("session registry closed", "sessions_closed", len(sessions))
}
