// Package session owns per-user messaging sessions and their lifecycle.
//
// # Overview
//
// Every user of the broker has at most one live Session. The Registry is the
// only code that creates backend clients, so two concurrent requests for the
// same user always share a single client:
//
//	reg, err := session.NewRegistry(session.RegistryConfig{
//	    Backend:   backend,
//	    AuthStore: authStore,
//	    Logger:    logger,
//	})
//	s, created, err := reg.Ensure("alice")
//
// # Lifecycle
//
// A session moves through these states:
//
//	initializing -> awaiting_scan -> authenticating -> ready
//	      \               \                \             \
//	       `---------------`----------------`-------------`--> disconnected
//
// Reduce is the pure transition function. It takes the current State and a
// Trigger (a backend event, idle expiry, logout, or shutdown) and returns a
// Transition naming the next state and the effects to apply. A disconnected
// session is finished and ignores every further trigger, which is what makes
// teardown happen exactly once when a logout races a backend disconnect.
//
// Effects are applied in a fixed order:
//
//   - EffectCancelIdle: stop the idle timer (on ready)
//   - EffectTeardown: close the backend client once
//   - EffectPurgeAuth: delete the user's persisted credentials
//   - EffectRemove / EffectRecreate: drop or replace the registry entry
//
// A backend disconnect purges credentials before a fresh session is created,
// so the new session always asks for a new QR scan.
//
// # Controller
//
// Each session has one controller goroutine that consumes its client's
// events in emission order and owns the idle timer. The idle window starts
// at creation; a session that has not reached ready when it expires is torn
// down without purging credentials.
//
// # Recreate pacing
//
// Disconnect-driven recreation passes a per-user token bucket
// (golang.org/x/time/rate). With tokens available the old entry is swapped
// for the new one atomically. When the bucket is empty the recreation is
// scheduled after the reservation delay, and dropped entirely if that delay
// exceeds RecreateMaxDelay. A backend that disconnects every new session
// therefore cannot spin the broker.
//
// # Readiness gate
//
// AwaitReady polls the registry until the session is ready:
//
//	client, err := reg.AwaitReady(ctx, "alice", 15*time.Second)
//
// It returns ErrSessionVanished if the entry disappears, ErrReadyTimeout
// after the maximum wait, or the context error if the request ends first.
package session
