package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrCorruptState marks a state file that exists but cannot be decoded.
// Callers fall back to defaults for the current tick and re-establish a
// clean file on the next save.
var ErrCorruptState = errors.New("state: persisted trigger state is corrupt")

// FileStore persists TriggerState as a JSON document on disk. Saves are
// atomic: the new document is written to a temporary file, synced, then
// renamed over the old one, so a concurrent reader never observes a partial
// write. Unknown fields in the document are ignored on load for forward
// compatibility.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore constructs a store backed by the given path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state file path must not be empty")
	}
	return &FileStore{path: path}, nil
}

// Load reads the persisted state. A missing file yields the documented
// defaults; an unreadable or malformed file yields the defaults wrapped with
// ErrCorruptState so callers can log loudly and continue.
func (s *FileStore) Load() (TriggerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultState(), nil
		}
		return DefaultState(), fmt.Errorf("%w: read %s: %v", ErrCorruptState, s.path, err)
	}

	st := DefaultState()
	if err := json.Unmarshal(raw, &st); err != nil {
		return DefaultState(), fmt.Errorf("%w: parse %s: %v", ErrCorruptState, s.path, err)
	}
	return st, nil
}

// Save atomically replaces the persisted state.
func (s *FileStore) Save(st TriggerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(st)
}

func (s *FileStore) save(st TriggerState) error {
	payload, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trigger state: %w", err)
	}
	payload = append(payload, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".trigger-state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Increment bumps one monotonic statistics counter and persists the result.
func (s *FileStore) Increment(counter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil && !errors.Is(err, ErrCorruptState) {
		return err
	}
	if err := bump(&st.Statistics, counter); err != nil {
		return err
	}
	return s.save(st)
}

func (s *FileStore) loadLocked() (TriggerState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultState(), nil
		}
		return DefaultState(), fmt.Errorf("%w: read %s: %v", ErrCorruptState, s.path, err)
	}
	st := DefaultState()
	if err := json.Unmarshal(raw, &st); err != nil {
		return DefaultState(), fmt.Errorf("%w: parse %s: %v", ErrCorruptState, s.path, err)
	}
	return st, nil
}

// Reset restores the documented defaults on disk.
func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(DefaultState())
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func bump(stats *Statistics, counter string) error {
	switch counter {
	case CounterTotalChecks:
		stats.TotalChecks++
	case CounterTriggeredRecoveries:
		stats.TriggeredRecoveries++
	case CounterSuccessfulRecoveries:
		stats.SuccessfulRecoveries++
	case CounterFailedRecoveries:
		stats.FailedRecoveries++
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
