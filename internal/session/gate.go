// ABOUTME: Readiness gate used by the send endpoints before touching a backend client.
// ABOUTME: Polls the registry until the user's session is Ready, vanishes, or time runs out.

package session

import (
	"context"
	"time"

	"github.com/2389/wa-broker/internal/backend"
)

// AwaitReady blocks until the user's session is Ready and returns its client.
// The registry is re-resolved on every poll, so a session replaced by a
// recreation is followed to its new incarnation. It fails with
// ErrSessionVanished when no session exists, ErrReadyTimeout after maxWait,
// or the context's error if ctx ends first.
func (r *Registry) AwaitReady(ctx context.Context, userID string, maxWait time.Duration) (backend.Client, error) {
	if maxWait <= 0 {
		maxWait = DefaultReadyTimeout
	}

	if c, err := r.readyClient(userID); err != nil || c != nil {
		return c, err
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			r.logger.Warn("session not ready in time",
				"user_id", userID,
				"max_wait", maxWait.String(),
			)
			return nil, ErrReadyTimeout
		case <-ticker.C:
			c, err := r.readyClient(userID)
			if err != nil || c != nil {
				return c, err
			}
		}
	}
}

func (r *Registry) readyClient(userID string) (backend.Client, error) {
	s, ok := r.Get(userID)
	if !ok {
		return nil, ErrSessionVanished
	}
	return s.readyClient(), nil
}
