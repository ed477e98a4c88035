package input

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// ScriptSource replays a JSONL input script: one event per line with an
// optional "delayMs" pause before it fires. Blank lines and lines
// starting with # are skipped. Scripts drive rehearsal sessions and
// deterministic end-to-end runs, so malformed lines fail hard with their
// line number instead of being skipped.
type ScriptSource struct {
	Path string
	// Sleep is injectable for tests; nil selects a cancellable wait.
	Sleep func(time.Duration)
}

type scriptLine struct {
	DelayMs int `json:"delayMs"`
	Event
}

func (s *ScriptSource) Stream(ctx context.Context, emit func(Event) error) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open input script: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var sl scriptLine
		if err := json.Unmarshal([]byte(line), &sl); err != nil {
			return fmt.Errorf("input script %s line %d: %w", s.Path, lineNo, err)
		}
		if sl.Kind == "" {
			return fmt.Errorf("input script %s line %d: missing kind", s.Path, lineNo)
		}

		if sl.DelayMs > 0 && !s.pause(ctx, time.Duration(sl.DelayMs)*time.Millisecond) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := emit(sl.Event); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// pause waits d or until ctx is cancelled, reporting whether the script
// should continue.
func (s *ScriptSource) pause(ctx context.Context, d time.Duration) bool {
	if s.Sleep != nil {
		s.Sleep(d)
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
