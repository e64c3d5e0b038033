// ABOUTME: In-memory Backend implementation for testing
// ABOUTME: Records every send in order and lets tests emit lifecycle events by hand

package backend

import (
	"context"
	"sync"
)

// CallKind identifies a recorded send operation.
type CallKind string

const (
	CallText     CallKind = "text"
	CallDocument CallKind = "document"
	CallImage    CallKind = "image"
)

// Call is one send recorded by a MockClient.
type Call struct {
	Kind     CallKind
	To       string
	Text     string
	FileName string
	MimeType string
	Caption  string
	Data     []byte
}

// MockBackend hands out MockClients and keeps every client it opened.
type MockBackend struct {
	mu      sync.Mutex
	clients []*MockClient

	// OpenErr, when set, is returned by Open instead of a client.
	OpenErr error
	// OnOpen runs after a client is created, outside the backend lock.
	OnOpen func(c *MockClient)
}

// NewMockBackend creates an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Open creates a new MockClient for the user.
func (b *MockBackend) Open(ctx context.Context, userID, authDir string) (Client, error) {
	b.mu.Lock()
	if b.OpenErr != nil {
		err := b.OpenErr
		b.mu.Unlock()
		return nil, err
	}
	c := &MockClient{
		UserID:  userID,
		AuthDir: authDir,
		events:  make(chan Event, 32),
	}
	b.clients = append(b.clients, c)
	hook := b.OnOpen
	b.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return c, nil
}

// Clients returns every client opened so far, oldest first.
func (b *MockBackend) Clients() []*MockClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*MockClient, len(b.clients))
	copy(out, b.clients)
	return out
}

// ClientsFor returns the clients opened for a user, oldest first.
func (b *MockBackend) ClientsFor(userID string) []*MockClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*MockClient
	for _, c := range b.clients {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// Latest returns the most recently opened client for a user, or nil.
func (b *MockBackend) Latest(userID string) *MockClient {
	clients := b.ClientsFor(userID)
	if len(clients) == 0 {
		return nil
	}
	return clients[len(clients)-1]
}

// MockClient is a Client whose events are driven by the test.
type MockClient struct {
	UserID  string
	AuthDir string

	mu         sync.Mutex
	events     chan Event
	calls      []Call
	closeCount int
	closed     bool

	// SendErr, when set, is returned by every send.
	SendErr error
	// DocumentErr, when set, is returned by SendDocument only.
	DocumentErr error
}

// Events implements Client.
func (c *MockClient) Events() <-chan Event {
	return c.events
}

// Emit delivers an event as if the backend produced it. Emitting on a closed
// client is a no-op.
func (c *MockClient) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// SendText implements Client.
func (c *MockClient) SendText(ctx context.Context, to, text string) error {
	return c.record(Call{Kind: CallText, To: to, Text: text}, nil)
}

// SendDocument implements Client.
func (c *MockClient) SendDocument(ctx context.Context, to string, doc Document) error {
	return c.record(Call{
		Kind:     CallDocument,
		To:       to,
		FileName: doc.FileName,
		MimeType: doc.MimeType,
		Caption:  doc.Caption,
		Data:     doc.Data,
	}, c.DocumentErr)
}

// SendImage implements Client.
func (c *MockClient) SendImage(ctx context.Context, to string, img Image) error {
	return c.record(Call{
		Kind:     CallImage,
		To:       to,
		FileName: img.FileName,
		MimeType: img.MimeType,
		Caption:  img.Caption,
		Data:     img.Data,
	}, nil)
}

func (c *MockClient) record(call Call, kindErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	if kindErr != nil {
		return kindErr
	}
	c.calls = append(c.calls, call)
	return nil
}

// Calls returns the recorded sends in order.
func (c *MockClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Close implements Client. The events channel is closed on the first call.
func (c *MockClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// CloseCount reports how many times Close was called.
func (c *MockClient) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}
