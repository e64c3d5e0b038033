// ABOUTME: Tests for whatsmeow event and QR item translation
// ABOUTME: Table-driven mapping of backend notifications onto lifecycle events

package whatsapp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/2389/wa-broker/internal/backend"
)

func TestTranslateEvent(t *testing.T) {
	tests := []struct {
		name     string
		evt      any
		wantType backend.EventType
		wantOK   bool
	}{
		{"pair success", &events.PairSuccess{}, backend.EventAuthenticated, true},
		{"connected", &events.Connected{}, backend.EventReady, true},
		{"logged out", &events.LoggedOut{}, backend.EventDisconnected, true},
		{"stream replaced", &events.StreamReplaced{}, backend.EventDisconnected, true},
		{"pair error", &events.PairError{Error: errors.New("bad")}, backend.EventAuthFailure, true},
		{"connect failure", &events.ConnectFailure{Message: "nope"}, backend.EventAuthFailure, true},
		{"client outdated", &events.ClientOutdated{}, backend.EventAuthFailure, true},
		{"transient disconnect", &events.Disconnected{}, 0, false},
		{"unrelated", &events.Message{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := translateEvent(tt.evt)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantType, ev.Type)
			}
		})
	}
}

func TestTranslateEvent_Reasons(t *testing.T) {
	ev, _ := translateEvent(&events.PairError{Error: errors.New("key mismatch")})
	assert.Contains(t, ev.Reason, "key mismatch")

	ev, _ = translateEvent(&events.StreamReplaced{})
	assert.NotEmpty(t, ev.Reason)
}

func TestTranslateQR(t *testing.T) {
	ev, ok := translateQR(whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@abc"})
	assert.True(t, ok)
	assert.Equal(t, backend.EventQRGenerated, ev.Type)
	assert.Equal(t, "2@abc", ev.QR)

	_, ok = translateQR(whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode})
	assert.False(t, ok, "empty code is dropped")

	_, ok = translateQR(whatsmeow.QRChannelSuccess)
	assert.False(t, ok)

	ev, ok = translateQR(whatsmeow.QRChannelTimeout)
	assert.True(t, ok)
	assert.Equal(t, backend.EventAuthFailure, ev.Type)

	ev, ok = translateQR(whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventError, Error: errors.New("socket gone")})
	assert.True(t, ok)
	assert.Equal(t, backend.EventAuthFailure, ev.Type)
	assert.Contains(t, ev.Reason, "socket gone")
}
