// ABOUTME: Contract for the messaging backend that owns a per-user automation client.
// ABOUTME: Clients emit tagged lifecycle events and accept text, document, and image sends.

package backend

import (
	"context"
	"errors"
)

// ErrClientClosed is returned by send operations on a client that has been closed.
var ErrClientClosed = errors.New("backend client closed")

// EventType tags a lifecycle event emitted by a backend client.
type EventType int

const (
	// EventQRGenerated carries a fresh scannable pairing payload.
	EventQRGenerated EventType = iota
	// EventAuthenticated fires once the phone accepted the QR and keys are syncing.
	EventAuthenticated
	// EventReady fires when the client is connected and logged in.
	EventReady
	// EventAuthFailure fires when pairing or login failed.
	EventAuthFailure
	// EventDisconnected fires when the account was logged out or the session replaced.
	EventDisconnected
)

// String returns the event name used in logs.
func (t EventType) String() string {
	switch t {
	case EventQRGenerated:
		return "qr_generated"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventAuthFailure:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification from a backend client.
type Event struct {
	Type   EventType
	QR     string // EventQRGenerated only
	Reason string // EventAuthFailure and EventDisconnected
}

// Document is a file attachment sent as a document message.
type Document struct {
	Data     []byte
	FileName string
	MimeType string
	Caption  string
}

// Image is an image attachment.
type Image struct {
	Data     []byte
	FileName string
	MimeType string
	Caption  string
}

// Client is an authenticated-or-authenticating messaging handle for one user.
// The Events channel is closed after Close returns.
type Client interface {
	Events() <-chan Event
	SendText(ctx context.Context, to, text string) error
	SendDocument(ctx context.Context, to string, doc Document) error
	SendImage(ctx context.Context, to string, img Image) error
	Close() error
}

// Backend constructs clients. Open must not block on the out-of-band login:
// pairing progress is reported through the client's Events channel.
type Backend interface {
	Open(ctx context.Context, userID, authDir string) (Client, error)
}
