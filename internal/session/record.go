// Package session orchestrates a recording: it owns the session record,
// the active-session state file, and the controller that wires input,
// ordering, enrichment, and recorder supervision together.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/demorec/demorec/internal/artifacts"
	"github.com/demorec/demorec/internal/event"
	"github.com/demorec/demorec/internal/screen"
)

// RecordFile is the session log's file name inside the task directory.
// The export pipeline and external dataset consumers read it by name.
const RecordFile = "session_data.json"

// Metadata describes the recording environment and stop-time bookkeeping.
type Metadata struct {
	Operator string           `json:"operator,omitempty"`
	Platform string           `json:"platform,omitempty"`
	Displays []screen.Display `json:"displays,omitempty"`
	// Annotations are the operator notes folded in at seal.
	Annotations []Annotation `json:"annotations,omitempty"`
	// DroppedEvents counts slots whose enrichment never finished and
	// were dropped when the session stopped.
	DroppedEvents int `json:"droppedEvents,omitempty"`
}

// Annotation is one operator note, timestamped in unix milliseconds.
type Annotation struct {
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// Record is one recorded session in its on-disk shape. Events arrive
// strictly in sequence-id order from the registry flush; the record is
// append-only until Seal and immutable after.
type Record struct {
	mu     sync.Mutex
	sealed bool

	TaskName    string                 `json:"taskName"`
	StartTime   int64                  `json:"startTime"`
	EndTime     int64                  `json:"endTime,omitempty"`
	Metadata    Metadata               `json:"metadata"`
	Events      []event.Event          `json:"events"`
	Screenshots []artifacts.Screenshot `json:"screenshots"`
	Videos      []artifacts.Video      `json:"videos"`
}

// NewRecord opens a record for a session starting at startMs.
func NewRecord(taskName string, startMs int64, meta Metadata) *Record {
	return &Record{
		TaskName:    taskName,
		StartTime:   startMs,
		Metadata:    meta,
		Events:      []event.Event{},
		Screenshots: []artifacts.Screenshot{},
		Videos:      []artifacts.Video{},
	}
}

// Append adds one flushed event to the log. It reports false once the
// record is sealed; the caller decides whether that is worth a warning.
func (r *Record) Append(ev event.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return false
	}
	r.Events = append(r.Events, ev)
	return true
}

// EventCount returns how many events have been flushed into the log.
func (r *Record) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Events)
}

// Seal closes the record: end time, artifacts, annotations, and the
// dropped-slot count. No events can be appended after.
func (r *Record) Seal(endMs int64, shots []artifacts.Screenshot, videos []artifacts.Video, notes []Annotation, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	r.EndTime = endMs
	if shots == nil {
		shots = []artifacts.Screenshot{}
	}
	if videos == nil {
		videos = []artifacts.Video{}
	}
	r.Screenshots = shots
	r.Videos = videos
	r.Metadata.Annotations = notes
	r.Metadata.DroppedEvents = dropped
}

// WriteFile persists the sealed record atomically.
func (r *Record) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "session-*.json.tmp")
	if err != nil {
		return fmt.Errorf("persist session record: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("persist session record: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("persist session record: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("persist session record: %w", err)
	}
	return nil
}

// LoadRecord reads a sealed session record from disk.
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no session record at %s", path)
		}
		return nil, fmt.Errorf("read session record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse session record %s: %w", path, err)
	}
	r.sealed = true
	return &r, nil
}

// Duration returns the recorded span in seconds, zero for an unsealed
// record.
func (r *Record) Duration() float64 {
	if r.EndTime == 0 {
		return 0
	}
	return float64(r.EndTime-r.StartTime) / 1000.0
}
