// ABOUTME: whatsmeow-backed implementation of the messaging backend
// ABOUTME: Opens one SQLite device store per user and wires a whatsmeow client to it

package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/2389/wa-broker/internal/backend"
)

// Supported database/sql driver names
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, needs cgo
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
)

// DBFileName matches the artifact name the auth store probes for.
const DBFileName = "session.db"

// Config selects the device store driver and the name shown on the phone.
type Config struct {
	Driver string
	OSName string
}

// Backend opens whatsmeow clients.
type Backend struct {
	driver string
	logger *slog.Logger
}

// New creates a Backend. OSName is process-wide in whatsmeow, so the last
// Backend created wins.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "":
		cfg.Driver = DriverSQLite3
	case DriverSQLite3, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	if cfg.OSName != "" {
		store.DeviceProps.Os = proto.String(cfg.OSName)
	}
	return &Backend{
		driver: cfg.Driver,
		logger: logger.With("component", "whatsapp"),
	}, nil
}

// dsn builds a connection string with foreign keys on, which the device store requires.
func dsn(driver, path string) string {
	if driver == DriverSQLite {
		return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
}

// openDevice opens (creating if needed) the user's device store.
func (b *Backend) openDevice(ctx context.Context, userID, authDir string) (*sql.DB, *store.Device, error) {
	if err := os.MkdirAll(authDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating auth dir: %w", err)
	}

	db, err := sql.Open(b.driver, dsn(b.driver, filepath.Join(authDir, DBFileName)))
	if err != nil {
		return nil, nil, fmt.Errorf("opening device store: %w", err)
	}
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, b.driver, newLogger(b.logger.With("user_id", userID), "Database"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("upgrading device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("loading device: %w", err)
	}
	return db, device, nil
}

// Open implements backend.Backend. It connects in the background; pairing
// progress arrives on the client's event channel.
func (b *Backend) Open(ctx context.Context, userID, authDir string) (backend.Client, error) {
	db, device, err := b.openDevice(ctx, userID, authDir)
	if err != nil {
		return nil, err
	}

	logger := b.logger.With("user_id", userID)
	wc := whatsmeow.NewClient(device, newLogger(logger, "Client"))
	c := newClient(wc, db, logger)
	wc.AddEventHandler(c.handleEvent)

	if device.ID == nil {
		qrCh, err := wc.GetQRChannel(c.ctx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			_ = c.Close()
			return nil, fmt.Errorf("requesting qr channel: %w", err)
		}
		if qrCh != nil {
			go c.pumpQR(qrCh)
		}
		logger.Info("device not paired, waiting for qr scan")
	} else {
		logger.Info("resuming paired device", "jid", device.ID.String())
	}

	if err := wc.Connect(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return c, nil
}
