package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultDirName is the directory under the user's home holding cached
// credentials.
const DefaultDirName = ".pythontoolscreds"

// Credentials are the cached result of an authentication flow.
type Credentials struct {
	Received   int64  `json:"received"`             // Unix seconds the credentials were obtained
	Expiry     int64  `json:"expiry,omitempty"`     // Unix seconds; zero never expires
	AuthHeader string `json:"auth_header"`          // Value for the Authorization header
	Username   string `json:"username,omitempty"`   // Basic auth only
	TokenType  string `json:"token_type,omitempty"` // Token flows only
}

// Expired reports whether the credentials carry an expiry at or before now.
func (c *Credentials) Expired(now time.Time) bool {
	return c.Expiry != 0 && c.Expiry <= now.Unix()
}

// Key returns the cache key for a handler name and environment.
func Key(name, env string) string {
	return name + "-" + env
}

// Store persists credentials by key.
// Example:
//
//	store := auth.NewFileStore(dir)
//	creds, err := store.Load(ctx, auth.Key("billing", "prod"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if creds == nil {
//	    // nothing cached yet
//	}
type Store interface {
	// Load returns nil and no error when nothing is cached for key.
	Load(ctx context.Context, key string) (*Credentials, error)
	Save(ctx context.Context, key string, c *Credentials) error
	// Delete succeeds when nothing is cached for key.
	Delete(ctx context.Context, key string) error
}

// FileStore keeps one JSON file per key under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created on
// the first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: filepath.Clean(dir)}
}

// DefaultFileStore returns a FileStore at ~/.pythontoolscreds.
func DefaultFileStore() (*FileStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return NewFileStore(filepath.Join(home, DefaultDirName)), nil
}

// Dir returns the directory holding the credential files.
func (f *FileStore) Dir() string {
	return f.dir
}

// Path returns the file holding credentials for key.
func (f *FileStore) Path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid credential key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}

func (f *FileStore) Load(ctx context.Context, key string) (*Credentials, error) {
	path, err := f.Path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached credentials: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode cached credentials %s: %w", path, err)
	}
	return &c, nil
}

func (f *FileStore) Save(ctx context.Context, key string, c *Credentials) error {
	path, err := f.Path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	// Write then rename so a reader never sees a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	path, err := f.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete cached credentials: %w", err)
	}
	return nil
}

// MemoryStore keeps credentials in memory. It's primarily intended for
// testing and for handlers that must not touch disk.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credentials)}
}

func (m *MemoryStore) Load(ctx context.Context, key string) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[key]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStore) Save(ctx context.Context, key string, c *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[key] = *c
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, key)
	return nil
}
