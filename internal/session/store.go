package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSession is returned by Load when no active-session file exists on
// disk.
var ErrNoSession = errors.New("no active session")

// State is the cross-process view of a running recording: enough for
// `demorec stop` to find the recorder process and for `demorec status`
// and `demorec note` to report and annotate without touching the pipeline.
// The recording process refreshes the counts periodically.
type State struct {
	SessionID string `json:"id"`
	TaskName  string `json:"task_name"`
	TaskDir   string `json:"task_dir"`
	PID       int    `json:"pid"`
	StartTime int64  `json:"start_time"` // unix milliseconds

	EventsFlushed int `json:"events_flushed"`
	EventsPending int `json:"events_pending"`
	Screenshots   int `json:"screenshots"`
}

// Store persists the active-session State to disk.
type Store interface {
	Save(s *State) error
	Load() (*State, error) // returns ErrNoSession if none exists
	Delete() error
}

// diskStore is the concrete Store that writes to the XDG data directory.
type diskStore struct {
	path string // full path to active.json
}

// NewStore returns a Store backed by the XDG data directory.
// Path: $XDG_DATA_HOME/demorec/active.json or ~/.local/share/demorec/active.json
func NewStore() (Store, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &diskStore{path: filepath.Join(dir, "active.json")}, nil
}

// dataDir returns the demorec-specific XDG data directory.
func dataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "demorec"), nil
}

// Save marshals s to JSON and writes it atomically via a temp file +
// os.Rename, so a concurrent Load never sees a half-written state.
func (d *diskStore) Save(s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "active-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up the temp file on any error path.
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}

	if err = os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	return nil
}

// Load reads and unmarshals the active-session file.
// Returns ErrNoSession if the file does not exist.
func (d *diskStore) Load() (*State, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session state: %w", err)
	}
	return &s, nil
}

// Delete removes the active-session file from disk.
func (d *diskStore) Delete() error {
	if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}
