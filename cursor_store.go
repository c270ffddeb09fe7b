package planstream

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// CursorStore persists the last sequence seen per channel so a new process
// can resume where the previous one stopped.
type CursorStore interface {
	Load(channelID string) (seq int64, ok bool)
	Save(channelID string, seq int64) error
}

// ============================================================================
// MemoryCursorStore
// ============================================================================

// MemoryCursorStore is a goroutine-safe in-memory CursorStore.
type MemoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[string]int64
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]int64)}
}

func (s *MemoryCursorStore) Load(channelID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.cursors[channelID]
	return seq, ok
}

func (s *MemoryCursorStore) Save(channelID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[channelID] = seq
	return nil
}

// ============================================================================
// FileCursorStore
// ============================================================================

// cursorFile is the on-disk TOML layout.
type cursorFile struct {
	Cursors map[string]int64 `toml:"cursors"`
}

// FileCursorStore keeps cursors in a TOML file, rewritten on every Save.
type FileCursorStore struct {
	mem  *MemoryCursorStore
	path string
	mu   sync.Mutex
}

// OpenFileCursorStore loads path if it exists. A missing file yields an
// empty store.
func OpenFileCursorStore(path string) (*FileCursorStore, error) {
	s := &FileCursorStore{mem: NewMemoryCursorStore(), path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("cannot read cursor file: %w", err)
	}
	var f cursorFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cannot parse cursor file: %w", err)
	}
	for id, seq := range f.Cursors {
		s.mem.cursors[id] = seq
	}
	return s, nil
}

func (s *FileCursorStore) Load(channelID string) (int64, bool) {
	return s.mem.Load(channelID)
}

func (s *FileCursorStore) Save(channelID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Save(channelID, seq); err != nil {
		return err
	}

	s.mem.mu.RLock()
	f := cursorFile{Cursors: make(map[string]int64, len(s.mem.cursors))}
	for id, v := range s.mem.cursors {
		f.Cursors[id] = v
	}
	s.mem.mu.RUnlock()

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("cannot marshal cursors: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("cannot create cursor directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("cannot write cursor file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("cannot replace cursor file: %w", err)
	}
	return nil
}
