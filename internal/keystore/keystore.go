package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/multiqa/multiqa-gateway/internal/providers"
)

const DefaultKeysFilename = "keys.json"

// ErrMissingCredential is returned when no key can be resolved from any
// source. The HTTP boundary maps it to a 401; the gateway never sends an
// unauthenticated upstream request.
var ErrMissingCredential = errors.New("no API key available for provider")

// Store is the layered credential store: an in-process map keyed by provider,
// backed by a durable JSON file. The file is read once at startup and
// replaced wholesale on every mutation, so concurrent writers cannot leave a
// half-written document behind.
type Store struct {
	path string

	mu   sync.RWMutex
	keys map[string]string
}

func New(baseDir string) *Store {
	return &Store{
		path: filepath.Join(baseDir, DefaultKeysFilename),
		keys: make(map[string]string),
	}
}

// Load reads the durable file into the in-process map. A missing or
// unparseable file is treated as empty, never as a fatal error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read key file: %w", err)
	}

	var keys map[string]string
	if err := json.Unmarshal(data, &keys); err != nil {
		// Corrupt key file: start empty rather than refusing to serve.
		return nil
	}

	s.keys = keys

	return nil
}

// Get returns the stored key for a provider, or "" when none is stored.
func (s *Store) Get(provider string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.keys[strings.ToLower(provider)]
}

// Set stores a key for a provider and writes the file through.
func (s *Store) Set(provider, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[strings.ToLower(provider)] = strings.TrimSpace(key)

	return s.persist()
}

// Delete removes a provider's stored key and writes the file through.
// Deleting an absent key is not an error.
func (s *Store) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, strings.ToLower(provider))

	return s.persist()
}

// ResolveKey picks the credential for one request. Resolution order: request
// header override, stored key, provider default. The result is never cached
// beyond the request.
func (s *Store) ResolveKey(cfg providers.Config, headerKey string) (string, error) {
	if headerKey != "" {
		return headerKey, nil
	}

	if key := s.Get(cfg.Name); key != "" {
		return key, nil
	}

	if cfg.DefaultKey != "" {
		return cfg.DefaultKey, nil
	}

	return "", fmt.Errorf("%w: %s", ErrMissingCredential, cfg.Name)
}

// GetPath returns the durable file location.
func (s *Store) GetPath() string {
	return s.path
}

// persist replaces the durable file atomically via a temp file in the same
// directory. Caller must hold s.mu.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	data, err := json.MarshalIndent(s.keys, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keys: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".keys-*.json")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("write temp key file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close temp key file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("replace key file: %w", err)
	}

	return nil
}
