package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SecretStore keeps credentials outside the settings files.
type SecretStore interface {
	// Get returns the stored value, or "" when the id is unknown.
	Get(ctx context.Context, id string) (string, error)
	Store(ctx context.Context, id, value string) error
	Delete(ctx context.Context, id string) error
}

// FileSecretStore keeps secrets in a single JSON object readable only by the
// current user.
type FileSecretStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileSecretStore builds a store backed by path. The parent directory is
// created on demand.
func NewFileSecretStore(path string) (*FileSecretStore, error) {
	if path == "" {
		return nil, errors.New("secret store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &FileSecretStore{path: path}, nil
}

// Get returns the secret stored under id.
func (s *FileSecretStore) Get(ctx context.Context, id string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	secrets, err := s.read()
	if err != nil {
		return "", err
	}
	return secrets[id], nil
}

// Store saves value under id, replacing any previous value.
func (s *FileSecretStore) Store(ctx context.Context, id, value string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if id == "" {
		return errors.New("secret id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.read()
	if err != nil {
		return err
	}
	secrets[id] = value
	return s.write(secrets)
}

// Delete removes id. Unknown ids are ignored.
func (s *FileSecretStore) Delete(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := secrets[id]; !ok {
		return nil
	}
	delete(secrets, id)
	return s.write(secrets)
}

func (s *FileSecretStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	secrets := map[string]string{}
	if len(data) == 0 {
		return secrets, nil
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return secrets, nil
}

func (s *FileSecretStore) write(secrets map[string]string) error {
	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
