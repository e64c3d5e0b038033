// ABOUTME: Session lifecycle state machine: a pure reducer plus the controller that applies its effects.
// ABOUTME: One controller goroutine per session consumes backend events in emission order.

package session

import (
	"time"

	"github.com/2389/wa-broker/internal/backend"
)

// TriggerKind identifies what drove a transition.
type TriggerKind int

const (
	TriggerQRGenerated TriggerKind = iota
	TriggerAuthenticated
	TriggerReady
	TriggerAuthFailure
	TriggerDisconnected
	TriggerIdleExpired
	TriggerLogout
	TriggerShutdown
)

// String returns the trigger name used in logs.
func (k TriggerKind) String() string {
	switch k {
	case TriggerQRGenerated:
		return "qr_generated"
	case TriggerAuthenticated:
		return "authenticated"
	case TriggerReady:
		return "ready"
	case TriggerAuthFailure:
		return "auth_failure"
	case TriggerDisconnected:
		return "disconnected"
	case TriggerIdleExpired:
		return "idle_expired"
	case TriggerLogout:
		return "logout"
	case TriggerShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Trigger is an input to the reducer.
type Trigger struct {
	Kind   TriggerKind
	QR     string
	Reason string
}

// TriggerFromEvent converts a backend event into a reducer trigger.
func TriggerFromEvent(ev backend.Event) Trigger {
	t := Trigger{QR: ev.QR, Reason: ev.Reason}
	switch ev.Type {
	case backend.EventQRGenerated:
		t.Kind = TriggerQRGenerated
	case backend.EventAuthenticated:
		t.Kind = TriggerAuthenticated
	case backend.EventReady:
		t.Kind = TriggerReady
	case backend.EventAuthFailure:
		t.Kind = TriggerAuthFailure
	case backend.EventDisconnected:
		t.Kind = TriggerDisconnected
	}
	return t
}

// Effect is a side effect requested by a transition.
type Effect uint8

const (
	EffectCancelIdle Effect = 1 << iota
	EffectTeardown
	EffectPurgeAuth
	EffectRemove
	EffectRecreate
	EffectMarkPaired
)

// Has reports whether all bits of f are set.
func (e Effect) Has(f Effect) bool {
	return e&f == f
}

// Transition is the reducer's decision for one trigger.
type Transition struct {
	Trigger TriggerKind
	From    State
	To      State
	QR      string // non-empty: store as the latest QR
	ClearQR bool
	Effects Effect
	Ignored bool
}

// Reduce computes the next state and side effects for a trigger. It has no
// side effects of its own. A Disconnected session is a finished incarnation
// and ignores every trigger.
func Reduce(cur State, trig Trigger) Transition {
	t := Transition{Trigger: trig.Kind, From: cur, To: cur}
	if cur == StateDisconnected {
		t.Ignored = true
		return t
	}

	switch trig.Kind {
	case TriggerQRGenerated:
		// A late QR for an already-ready session is stale.
		if cur == StateReady || trig.QR == "" {
			t.Ignored = true
			return t
		}
		t.To = StateAwaitingScan
		t.QR = trig.QR

	case TriggerAuthenticated:
		if cur == StateReady {
			t.Ignored = true
			return t
		}
		t.To = StateAuthenticating
		t.ClearQR = true

	case TriggerReady:
		t.To = StateReady
		t.ClearQR = true
		t.Effects = EffectCancelIdle
		if cur != StateReady {
			t.Effects |= EffectMarkPaired
		}

	case TriggerAuthFailure:
		t.To = StateAwaitingScan

	case TriggerDisconnected:
		t.To = StateDisconnected
		t.ClearQR = true
		t.Effects = EffectTeardown | EffectPurgeAuth | EffectRemove | EffectRecreate

	case TriggerIdleExpired:
		if cur == StateReady {
			t.Ignored = true
			return t
		}
		t.To = StateDisconnected
		t.ClearQR = true
		t.Effects = EffectTeardown | EffectRemove

	case TriggerLogout:
		t.To = StateDisconnected
		t.ClearQR = true
		t.Effects = EffectTeardown | EffectPurgeAuth | EffectRemove

	case TriggerShutdown:
		t.To = StateDisconnected
		t.ClearQR = true
		t.Effects = EffectTeardown | EffectRemove

	default:
		t.Ignored = true
	}
	return t
}

// control is the per-session controller loop. It exits when the session is
// torn down or the client's event stream ends.
func (r *Registry) control(s *Session, events <-chan backend.Event) {
	defer r.wg.Done()

	idle := time.NewTimer(time.Until(s.Snapshot().IdleDeadline))
	defer idle.Stop()
	idleC := idle.C

	for {
		var trig Trigger
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				// A client that ends its stream on its own is dead; drop the
				// entry but keep the credentials.
				r.dispatch(s, Trigger{Kind: TriggerShutdown, Reason: "event stream closed"})
				return
			}
			trig = TriggerFromEvent(ev)
		case <-idleC:
			idleC = nil
			trig = Trigger{Kind: TriggerIdleExpired}
		}

		t := r.dispatch(s, trig)
		if t.Effects.Has(EffectCancelIdle) {
			idle.Stop()
			idleC = nil
		}
		if t.Effects.Has(EffectTeardown) {
			return
		}
	}
}

// dispatch runs one trigger through the session and applies the resulting effects.
func (r *Registry) dispatch(s *Session, trig Trigger) Transition {
	t := s.transition(trig)
	if t.Ignored {
		r.logger.Debug("trigger ignored",
			"user_id", s.UserID,
			"generation", s.Generation,
			"trigger", trig.Kind.String(),
			"state", t.From.String(),
		)
		return t
	}

	attrs := []any{
		"user_id", s.UserID,
		"generation", s.Generation,
		"trigger", trig.Kind.String(),
		"from", t.From.String(),
		"to", t.To.String(),
	}
	if trig.Reason != "" {
		attrs = append(attrs, "reason", trig.Reason)
	}
	r.logger.Info("session transition", attrs...)

	r.applyEffects(s, t)
	return t
}

// applyEffects applies a transition's effects. Artifacts are purged before the
// registry entry is replaced.
func (r *Registry) applyEffects(s *Session, t Transition) {
	if t.Effects.Has(EffectMarkPaired) {
		if err := r.auth.MarkPaired(s.UserID); err != nil {
			r.logger.Error("marking session paired failed",
				"user_id", s.UserID,
				"error", err,
			)
		}
	}

	if t.Effects.Has(EffectTeardown) {
		s.teardown(r.logger)
	}

	if t.Effects.Has(EffectPurgeAuth) {
		if err := r.auth.Purge(s.UserID); err != nil {
			r.logger.Error("purging auth artifacts failed",
				"user_id", s.UserID,
				"error", err,
			)
		}
	}

	switch {
	case t.Effects.Has(EffectRecreate):
		r.recreate(s)
	case t.Effects.Has(EffectRemove):
		r.removeIfCurrent(s)
	}
}
