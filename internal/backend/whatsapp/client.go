// ABOUTME: Per-user whatsmeow client adapter: event fan-in and message sends
// ABOUTME: Uploads media before sending and closes the device store on Close

package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/2389/wa-broker/internal/backend"
)

type client struct {
	wc     *whatsmeow.Client
	db     *sql.DB
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events  chan backend.Event
	done    chan struct{}
	senders sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newClient(wc *whatsmeow.Client, db *sql.DB, logger *slog.Logger) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		wc:     wc,
		db:     db,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan backend.Event, 16),
		done:   make(chan struct{}),
	}
}

// Events implements backend.Client.
func (c *client) Events() <-chan backend.Event {
	return c.events
}

// emit delivers ev in order, giving up once the client is closed.
func (c *client) emit(ev backend.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.senders.Add(1)
	c.mu.Unlock()
	defer c.senders.Done()

	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *client) handleEvent(evt any) {
	ev, ok := translateEvent(evt)
	if !ok {
		return
	}
	c.logger.Debug("backend event", "event", ev.Type.String(), "reason", ev.Reason)
	c.emit(ev)
}

func (c *client) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		ev, ok := translateQR(item)
		if !ok {
			continue
		}
		c.emit(ev)
	}
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func parseDestination(to string) (types.JID, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid destination %q: %w", to, err)
	}
	if jid.User == "" {
		return types.JID{}, fmt.Errorf("invalid destination %q: missing user", to)
	}
	return jid, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

// SendText implements backend.Client.
func (c *client) SendText(ctx context.Context, to, text string) error {
	return c.send(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
}

// SendDocument implements backend.Client.
func (c *client) SendDocument(ctx context.Context, to string, doc backend.Document) error {
	up, err := c.upload(ctx, doc.Data, whatsmeow.MediaDocument)
	if err != nil {
		return err
	}
	return c.send(ctx, to, &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(doc.MimeType),
			FileName:      optional(doc.FileName),
			Title:         optional(doc.FileName),
			Caption:       optional(doc.Caption),
		},
	})
}

// SendImage implements backend.Client.
func (c *client) SendImage(ctx context.Context, to string, img backend.Image) error {
	up, err := c.upload(ctx, img.Data, whatsmeow.MediaImage)
	if err != nil {
		return err
	}
	return c.send(ctx, to, &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(img.MimeType),
			Caption:       optional(img.Caption),
		},
	})
}

func (c *client) upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	if c.isClosed() {
		return whatsmeow.UploadResponse{}, backend.ErrClientClosed
	}
	up, err := c.wc.Upload(ctx, data, kind)
	if err != nil {
		return whatsmeow.UploadResponse{}, fmt.Errorf("uploading media: %w", err)
	}
	return up, nil
}

func (c *client) send(ctx context.Context, to string, msg *waE2E.Message) error {
	if c.isClosed() {
		return backend.ErrClientClosed
	}
	jid, err := parseDestination(to)
	if err != nil {
		return err
	}
	resp, err := c.wc.SendMessage(ctx, jid, msg)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	c.logger.Debug("message sent", "to", jid.String(), "message_id", resp.ID)
	return nil
}

// Close implements backend.Client. It disconnects, closes the device store,
// and then closes the event channel.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.cancel()
	c.wc.Disconnect()
	c.senders.Wait()
	close(c.events)

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("closing device store: %w", err)
	}
	return nil
}
