package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/convoflow/core"
)

// FileStore persists one JSON snapshot per session under a base directory.
// Writes go to a temporary file in the same directory followed by a rename,
// so a concurrent Load never observes a partially written snapshot. Suitable
// for single-process deployments that need contexts to survive restarts.
type FileStore struct {
	dir          string
	historyLimit int
	mu           sync.Mutex
}

// FileStoreOptions configure a FileStore.
type FileStoreOptions struct {
	// HistoryLimit is applied when restoring snapshots from disk.
	HistoryLimit int
}

// NewFileStore creates the base directory if needed and returns a store.
func NewFileStore(dir string, optFns ...func(o *FileStoreOptions)) (*FileStore, error) {
	opts := FileStoreOptions{HistoryLimit: core.DefaultHistoryLimit}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create context store dir: %w", err)
	}

	return &FileStore{dir: dir, historyLimit: opts.HistoryLimit}, nil
}

// Load reads and decodes the snapshot for the session.
func (s *FileStore) Load(sessionID string) (*core.ConversationContext, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrContextNotFound)
		}
		return nil, fmt.Errorf("read context %s: %w", sessionID, err)
	}

	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", sessionID, err)
	}

	return core.RestoreFromSnapshot(snap, s.historyLimit), nil
}

// Save encodes the context snapshot and writes it atomically.
func (s *FileStore) Save(sessionID string, ctx *core.ConversationContext) error {
	if ctx == nil {
		return fmt.Errorf("session %s: context must not be nil", sessionID)
	}

	data, err := json.MarshalIndent(ctx.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode context %s: %w", sessionID, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeFileAtomic(s.path(sessionID), data)
}

// Delete removes the snapshot file. Deleting an unknown session is a no-op.
func (s *FileStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete context %s: %w", sessionID, err)
	}
	return nil
}

// path maps an opaque session id onto a safe filename.
func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, url.PathEscape(sessionID)+".json")
}

// writeFileAtomic stages the payload in a temp file then renames it over the
// target so readers only ever see complete snapshots.
func (s *FileStore) writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".ctx-*")
	if err != nil {
		return fmt.Errorf("stage context write: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write context: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close context file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod context file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit context write: %w", err)
	}
	return nil
}
