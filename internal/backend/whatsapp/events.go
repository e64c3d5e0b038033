// ABOUTME: Maps whatsmeow events and QR channel items onto backend lifecycle events
// ABOUTME: Transient socket drops are left to whatsmeow's own reconnect logic

package whatsapp

import (
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/2389/wa-broker/internal/backend"
)

func translateEvent(evt any) (backend.Event, bool) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		return backend.Event{Type: backend.EventAuthenticated}, true
	case *events.Connected:
		return backend.Event{Type: backend.EventReady}, true
	case *events.LoggedOut:
		return backend.Event{Type: backend.EventDisconnected, Reason: fmt.Sprintf("logged out: %v", e.Reason)}, true
	case *events.StreamReplaced:
		return backend.Event{Type: backend.EventDisconnected, Reason: "stream replaced by another connection"}, true
	case *events.PairError:
		return backend.Event{Type: backend.EventAuthFailure, Reason: fmt.Sprintf("pairing failed: %v", e.Error)}, true
	case *events.TemporaryBan:
		return backend.Event{Type: backend.EventAuthFailure, Reason: fmt.Sprintf("temporary ban: %v", e)}, true
	case *events.ConnectFailure:
		return backend.Event{Type: backend.EventAuthFailure, Reason: fmt.Sprintf("connect failure: %v %s", e.Reason, e.Message)}, true
	case *events.ClientOutdated:
		return backend.Event{Type: backend.EventAuthFailure, Reason: "client outdated"}, true
	default:
		return backend.Event{}, false
	}
}

func translateQR(item whatsmeow.QRChannelItem) (backend.Event, bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		if item.Code == "" {
			return backend.Event{}, false
		}
		return backend.Event{Type: backend.EventQRGenerated, QR: item.Code}, true
	case whatsmeow.QRChannelSuccess.Event:
		// PairSuccess reports this through the event handler
		return backend.Event{}, false
	case whatsmeow.QRChannelTimeout.Event:
		return backend.Event{Type: backend.EventAuthFailure, Reason: "qr code expired without a scan"}, true
	default:
		reason := item.Event
		if item.Error != nil {
			reason = fmt.Sprintf("%s: %v", item.Event, item.Error)
		}
		return backend.Event{Type: backend.EventAuthFailure, Reason: reason}, true
	}
}
