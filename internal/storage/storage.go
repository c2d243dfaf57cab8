package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/NiklasVd/tell/pkg/debug"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/vmihailenco/msgpack/v5"
)

const identityFile = "identity"

type Manager struct {
	basePath     string
	identityPath string
	mutex        sync.RWMutex
}

// NewManager opens the storage directory at basePath, creating it if needed.
// An empty basePath selects ~/.tell/storage.
func NewManager(basePath string) (*Manager, error) {
	if basePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		basePath = filepath.Join(homeDir, ".tell", "storage")
	}

	m := &Manager{
		basePath:     basePath,
		identityPath: filepath.Join(basePath, identityFile),
	}
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", basePath, err)
	}
	return m, nil
}

// LoadIdentity reads the stored identity. A missing file yields an error
// matching os.ErrNotExist.
func (m *Manager) LoadIdentity() (identity.Identity, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	data, err := os.ReadFile(m.identityPath) // #nosec G304 - reading from controlled directory
	if err != nil {
		return identity.Identity{}, err
	}

	var stored identity.Identity
	if err := msgpack.Unmarshal(data, &stored); err != nil {
		return identity.Identity{}, fmt.Errorf("corrupted identity file: %w", err)
	}
	id, err := identity.FromParts(stored.Name, stored.Token)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("corrupted identity file: %w", err)
	}
	return id, nil
}

// SaveIdentity writes id through a temporary file so a crash never leaves a
// truncated identity behind.
func (m *Manager) SaveIdentity(id identity.Identity) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, err := msgpack.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	outPath := m.identityPath + ".out"
	if err := os.WriteFile(outPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := os.Rename(outPath, m.identityPath); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("failed to move identity file: %w", err)
	}

	debug.Log(debug.DEBUG_VERBOSE, "Saved identity to storage", "identity", id)
	return nil
}

// IdentityFor returns the stored identity if it carries name, otherwise a
// fresh one which replaces it on disk. reused reports which case applied.
func (m *Manager) IdentityFor(name string) (id identity.Identity, reused bool, err error) {
	stored, err := m.LoadIdentity()
	switch {
	case err == nil && stored.Name == name:
		debug.Log(debug.DEBUG_VERBOSE, "Reusing stored identity", "identity", stored)
		return stored, true, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		debug.Log(debug.DEBUG_ERROR, "Ignoring unreadable identity", "path", m.identityPath, "error", err)
	}

	id, err = identity.New(name)
	if err != nil {
		return identity.Identity{}, false, err
	}
	if err := m.SaveIdentity(id); err != nil {
		return identity.Identity{}, false, err
	}
	return id, false, nil
}

func (m *Manager) GetBasePath() string {
	return m.basePath
}

func (m *Manager) GetIdentityPath() string {
	return m.identityPath
}
