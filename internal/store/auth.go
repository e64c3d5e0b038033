// ABOUTME: On-disk layout of per-user backend authentication artifacts
// ABOUTME: Resolves, probes, and purges the directory each session owns

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

// ErrInvalidUserID indicates a user ID that cannot be mapped to a directory.
var ErrInvalidUserID = errors.New("invalid user id")

const (
	// DBFileName is the name of the backend's SQLite device store inside a user's directory.
	DBFileName = "session.db"
	// PairedFileName marks a directory whose device completed pairing. The
	// device store alone is not enough: it is created before any QR is scanned.
	PairedFileName = ".paired"
)

// validUserID restricts user IDs to names that are safe as a single path element.
var validUserID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+-]{0,127}$`)

// AuthStore maps user IDs to their authentication directories under a root.
type AuthStore struct {
	root   string
	logger *slog.Logger
}

// NewAuthStore creates the root directory if needed and returns an AuthStore.
func NewAuthStore(root string, logger *slog.Logger) (*AuthStore, error) {
	if root == "" {
		return nil, errors.New("auth root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("creating auth root: %w", err)
	}
	return &AuthStore{
		root:   root,
		logger: logger.With("component", "auth-store"),
	}, nil
}

// ValidateUserID reports whether a user ID is usable as a directory name.
func ValidateUserID(userID string) error {
	if !validUserID.MatchString(userID) || userID == "." || userID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}

// Dir returns the authentication directory for a user.
func (s *AuthStore) Dir(userID string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, userID), nil
}

// Has reports whether a user has persisted authentication artifacts from a
// completed pairing.
func (s *AuthStore) Has(userID string) bool {
	dir, err := s.Dir(userID)
	if err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, DBFileName))
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, PairedFileName))
	return err == nil
}

// MarkPaired records that the user's device store holds a paired device.
func (s *AuthStore) MarkPaired(userID string) error {
	dir, err := s.Dir(userID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating auth dir for %s: %w", userID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, PairedFileName), nil, 0600); err != nil {
		return fmt.Errorf("marking %s paired: %w", userID, err)
	}
	return nil
}

// Purge deletes every authentication artifact of a user. A missing directory is not an error.
func (s *AuthStore) Purge(userID string) error {
	dir, err := s.Dir(userID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purging auth dir for %s: %w", userID, err)
	}
	s.logger.Info("auth artifacts purged", "user_id", userID, "dir", dir)
	return nil
}

// List returns the user IDs that currently have authentication artifacts.
func (s *AuthStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading auth root: %w", err)
	}
	var users []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if s.Has(e.Name()) {
			users = append(users, e.Name())
		}
	}
	return users, nil
}
