package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

const (
	sessionDirName   = ".volunteer-hub/sessions"
	sessionFilePerms = 0600 // Read/write for owner only
	sessionDirPerms  = 0700 // Read/write/execute for owner only
)

// Saved is a session persisted between CLI runs. Token is nil for backends
// without an auth server.
type Saved struct {
	Identity Identity      `json:"identity"`
	Token    *oauth2.Token `json:"token,omitempty"`
}

// FileStore keeps one saved session per environment on disk
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DefaultFileStore stores sessions under the user's home directory
func DefaultFileStore() (*FileStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewFileStore(filepath.Join(homeDir, sessionDirName)), nil
}

func (f *FileStore) path(env string) string {
	return filepath.Join(f.dir, fmt.Sprintf("session-%s.json", env))
}

// Load returns the saved session for env, or nil if there is none
func (f *FileStore) Load(env string) (*Saved, error) {
	data, err := os.ReadFile(f.path(env))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var saved Saved
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if saved.Identity.ID == "" {
		return nil, fmt.Errorf("session file has no identity")
	}
	return &saved, nil
}

func (f *FileStore) Save(env string, saved Saved) error {
	if err := os.MkdirAll(f.dir, sessionDirPerms); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.Marshal(saved)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.WriteFile(f.path(env), data, sessionFilePerms); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Delete removes the saved session; a missing file is not an error
func (f *FileStore) Delete(env string) error {
	if err := os.Remove(f.path(env)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// Persisting wraps src so every new access token it hands out is saved for env.
// onError receives save failures; the token is still returned.
func (f *FileStore) Persisting(env string, identity Identity, src oauth2.TokenSource, onError func(error)) oauth2.TokenSource {
	return &persistingSource{store: f, env: env, identity: identity, src: src, onError: onError}
}

type persistingSource struct {
	store    *FileStore
	env      string
	identity Identity
	src      oauth2.TokenSource
	onError  func(error)

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	if err := s.store.Save(s.env, Saved{Identity: s.identity, Token: tok}); err != nil {
		if s.onError != nil {
			s.onError(err)
		}
		return tok, nil
	}
	s.last = tok.AccessToken
	return tok, nil
}
