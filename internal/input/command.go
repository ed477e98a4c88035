package input

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/demorec/demorec/internal/logging"
)

// CommandSource streams events from an external input listener that
// prints one JSON event per line on stdout. The listener is the
// OS-specific piece of the pipeline; anything it prints that is not an
// event line (startup banners, diagnostics) is skipped, unlike script
// input, which is authored and fails hard.
type CommandSource struct {
	Argv []string
	Log  *slog.Logger
}

func (c *CommandSource) Stream(ctx context.Context, emit func(Event) error) error {
	if len(c.Argv) == 0 {
		return errors.New("input command not configured")
	}
	log := c.Log
	if log == nil {
		log = logging.Discard()
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start input listener: %w", err)
	}
	log.Debug("input listener started", "pid", cmd.Process.Pid)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var streamErr error
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			log.Debug("skipping non-event listener output", "line", line)
			continue
		}
		if ev.Kind == "" {
			continue
		}
		if err := emit(ev); err != nil {
			streamErr = err
			break
		}
	}
	scanErr := scanner.Err()

	// An emit failure leaves the listener running with nobody reading it.
	if streamErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if streamErr != nil {
		return streamErr
	}
	if ctx.Err() != nil {
		return nil
	}
	if scanErr != nil {
		return fmt.Errorf("read input listener: %w", scanErr)
	}
	if waitErr != nil {
		return fmt.Errorf("input listener: %w", waitErr)
	}
	return nil
}
