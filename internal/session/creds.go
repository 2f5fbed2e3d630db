package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// CredentialsFile is the blob's file name inside the auth dir.
const CredentialsFile = "session.json"

var ErrAlreadySeeded = errors.New("session: credentials already seeded")

// CredentialStore persists the opaque credentials blob under the auth dir.
type CredentialStore struct {
	dir  string
	path string

	mu     sync.Mutex
	seeded bool
}

// OpenCredentialStore creates the auth dir if absent.
func OpenCredentialStore(dir string) (*CredentialStore, error) {
	if dir == "" {
		return nil, errors.New("session: auth dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create auth dir: %w", err)
	}
	return &CredentialStore{dir: dir, path: filepath.Join(dir, CredentialsFile)}, nil
}

func (s *CredentialStore) Path() string { return s.path }

// Load returns the stored blob, or nil when nothing is stored yet.
func (s *CredentialStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read credentials: %w", err)
	}
	return b, nil
}

// Exists reports whether a blob is stored.
func (s *CredentialStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save durably replaces the blob: the data is fsynced before the rename
// and the directory is fsynced after it.
func (s *CredentialStore) Save(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(blob)
}

func (s *CredentialStore) saveLocked(blob []byte) error {
	tmp, err := os.CreateTemp(s.dir, CredentialsFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("session: write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("session: sync credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("session: replace credentials: %w", err)
	}
	if d, err := os.Open(s.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Seed writes an externally supplied blob. It succeeds at most once per store
// so a reconnect never re-applies the seed over rotated credentials.
func (s *CredentialStore) Seed(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return ErrAlreadySeeded
	}
	if len(blob) == 0 {
		return errors.New("session: empty seed")
	}
	if err := s.saveLocked(blob); err != nil {
		return err
	}
	s.seeded = true
	return nil
}

// Clear removes the stored blob (after a logout).
func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
