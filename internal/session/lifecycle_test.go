// ABOUTME: Tests for the session lifecycle reducer
// ABOUTME: Table-driven coverage of every state and trigger pair that matters

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/wa-broker/internal/backend"
)

func TestReduce(t *testing.T) {
	tests := []struct {
		name        string
		from        State
		trig        Trigger
		wantTo      State
		wantIgnored bool
		wantQR      string
		wantClearQR bool
		wantEffects Effect
	}{
		{
			name:   "qr while initializing",
			from:   StateInitializing,
			trig:   Trigger{Kind: TriggerQRGenerated, QR: "qr-1"},
			wantTo: StateAwaitingScan,
			wantQR: "qr-1",
		},
		{
			name:   "qr rotation while awaiting scan",
			from:   StateAwaitingScan,
			trig:   Trigger{Kind: TriggerQRGenerated, QR: "qr-2"},
			wantTo: StateAwaitingScan,
			wantQR: "qr-2",
		},
		{
			name:        "empty qr ignored",
			from:        StateInitializing,
			trig:        Trigger{Kind: TriggerQRGenerated},
			wantTo:      StateInitializing,
			wantIgnored: true,
		},
		{
			name:        "late qr after ready ignored",
			from:        StateReady,
			trig:        Trigger{Kind: TriggerQRGenerated, QR: "stale"},
			wantTo:      StateReady,
			wantIgnored: true,
		},
		{
			name:        "authenticated clears qr",
			from:        StateAwaitingScan,
			trig:        Trigger{Kind: TriggerAuthenticated},
			wantTo:      StateAuthenticating,
			wantClearQR: true,
		},
		{
			name:        "ready from authenticating",
			from:        StateAuthenticating,
			trig:        Trigger{Kind: TriggerReady},
			wantTo:      StateReady,
			wantClearQR: true,
			wantEffects: EffectCancelIdle | EffectMarkPaired,
		},
		{
			name:        "ready straight from initializing with stored credentials",
			from:        StateInitializing,
			trig:        Trigger{Kind: TriggerReady},
			wantTo:      StateReady,
			wantClearQR: true,
			wantEffects: EffectCancelIdle | EffectMarkPaired,
		},
		{
			name:        "repeated ready does not mark again",
			from:        StateReady,
			trig:        Trigger{Kind: TriggerReady},
			wantTo:      StateReady,
			wantClearQR: true,
			wantEffects: EffectCancelIdle,
		},
		{
			name:   "auth failure keeps session awaiting scan",
			from:   StateAuthenticating,
			trig:   Trigger{Kind: TriggerAuthFailure, Reason: "pair error"},
			wantTo: StateAwaitingScan,
		},
		{
			name:        "disconnect purges and recreates",
			from:        StateReady,
			trig:        Trigger{Kind: TriggerDisconnected, Reason: "logged out"},
			wantTo:      StateDisconnected,
			wantClearQR: true,
			wantEffects: EffectTeardown | EffectPurgeAuth | EffectRemove | EffectRecreate,
		},
		{
			name:        "idle expiry removes without purge",
			from:        StateAwaitingScan,
			trig:        Trigger{Kind: TriggerIdleExpired},
			wantTo:      StateDisconnected,
			wantClearQR: true,
			wantEffects: EffectTeardown | EffectRemove,
		},
		{
			name:        "idle expiry ignored once ready",
			from:        StateReady,
			trig:        Trigger{Kind: TriggerIdleExpired},
			wantTo:      StateReady,
			wantIgnored: true,
		},
		{
			name:        "logout purges without recreate",
			from:        StateReady,
			trig:        Trigger{Kind: TriggerLogout},
			wantTo:      StateDisconnected,
			wantClearQR: true,
			wantEffects: EffectTeardown | EffectPurgeAuth | EffectRemove,
		},
		{
			name:        "shutdown keeps credentials",
			from:        StateReady,
			trig:        Trigger{Kind: TriggerShutdown},
			wantTo:      StateDisconnected,
			wantClearQR: true,
			wantEffects: EffectTeardown | EffectRemove,
		},
		{
			name:        "disconnected is terminal",
			from:        StateDisconnected,
			trig:        Trigger{Kind: TriggerReady},
			wantTo:      StateDisconnected,
			wantIgnored: true,
		},
		{
			name:        "second disconnect ignored",
			from:        StateDisconnected,
			trig:        Trigger{Kind: TriggerDisconnected},
			wantTo:      StateDisconnected,
			wantIgnored: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(tt.from, tt.trig)
			assert.Equal(t, tt.from, got.From)
			assert.Equal(t, tt.wantTo, got.To)
			assert.Equal(t, tt.wantIgnored, got.Ignored)
			assert.Equal(t, tt.wantQR, got.QR)
			assert.Equal(t, tt.wantClearQR, got.ClearQR)
			assert.Equal(t, tt.wantEffects, got.Effects)
		})
	}
}

func TestTriggerFromEvent(t *testing.T) {
	trig := TriggerFromEvent(backend.Event{Type: backend.EventQRGenerated, QR: "code"})
	assert.Equal(t, TriggerQRGenerated, trig.Kind)
	assert.Equal(t, "code", trig.QR)

	trig = TriggerFromEvent(backend.Event{Type: backend.EventDisconnected, Reason: "logged out"})
	assert.Equal(t, TriggerDisconnected, trig.Kind)
	assert.Equal(t, "logged out", trig.Reason)
}

func TestEffectHas(t *testing.T) {
	e := EffectTeardown | EffectPurgeAuth
	assert.True(t, e.Has(EffectTeardown))
	assert.True(t, e.Has(EffectTeardown|EffectPurgeAuth))
	assert.False(t, e.Has(EffectRecreate))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_scan", StateAwaitingScan.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "unknown", State(99).String())
}
