package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/demorec/demorec/internal/screen"
)

// ErrNotConfigured marks a capture command that was left empty in the
// configuration. Callers treat it as "feature off", not as a failure.
var ErrNotConfigured = errors.New("capture command not configured")

// CommandCapturer shells out to configurable screenshot tools. Argv
// elements may contain the placeholders {display} and {output}, replaced
// per invocation.
type CommandCapturer struct {
	screenArgv []string
	windowArgv []string
}

// NewCommandCapturer builds a capturer from the screen and window command
// templates. Either may be empty to disable that capture.
func NewCommandCapturer(screenArgv, windowArgv []string) *CommandCapturer {
	return &CommandCapturer{screenArgv: screenArgv, windowArgv: windowArgv}
}

func (c *CommandCapturer) CaptureDisplay(ctx context.Context, d screen.Display, absPath string) error {
	if len(c.screenArgv) == 0 {
		return fmt.Errorf("screen: %w", ErrNotConfigured)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return err
	}
	argv := expandArgv(c.screenArgv, map[string]string{
		"{display}": strconv.Itoa(d.ID),
		"{output}":  absPath,
	})
	return runCapture(ctx, argv)
}

func (c *CommandCapturer) CaptureWindow(ctx context.Context, absPath string) error {
	if len(c.windowArgv) == 0 {
		return fmt.Errorf("window: %w", ErrNotConfigured)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return err
	}
	argv := expandArgv(c.windowArgv, map[string]string{
		"{output}": absPath,
	})
	return runCapture(ctx, argv)
}

// CommandResolver resolves the active window and its bounds through
// configurable commands. The window command prints the window identity on
// the first line and optionally a title on the second; the bounds command
// takes a {window} placeholder and prints "x y width height".
type CommandResolver struct {
	windowArgv []string
	boundsArgv []string
}

// NewCommandResolver builds a resolver from the two command templates.
func NewCommandResolver(windowArgv, boundsArgv []string) *CommandResolver {
	return &CommandResolver{windowArgv: windowArgv, boundsArgv: boundsArgv}
}

func (r *CommandResolver) ActiveWindow(ctx context.Context) (screen.Window, error) {
	if len(r.windowArgv) == 0 {
		return screen.Window{}, fmt.Errorf("active window: %w", ErrNotConfigured)
	}
	out, err := commandOutput(ctx, r.windowArgv)
	if err != nil {
		return screen.Window{}, fmt.Errorf("active window: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if lines[0] == "" {
		return screen.Window{}, errors.New("active window: command printed nothing")
	}
	w := screen.Window{Identity: strings.TrimSpace(lines[0])}
	if len(lines) > 1 {
		w.Title = strings.TrimSpace(lines[1])
	}
	return w, nil
}

func (r *CommandResolver) WindowBounds(ctx context.Context, w screen.Window) (screen.Rect, error) {
	if len(r.boundsArgv) == 0 {
		return screen.Rect{}, fmt.Errorf("window bounds: %w", ErrNotConfigured)
	}
	argv := expandArgv(r.boundsArgv, map[string]string{
		"{window}": w.Identity,
	})
	out, err := commandOutput(ctx, argv)
	if err != nil {
		return screen.Rect{}, fmt.Errorf("window bounds: %w", err)
	}
	return parseBounds(out)
}

// parseBounds reads "x y width height" as printed by the bounds command.
func parseBounds(out string) (screen.Rect, error) {
	fields := strings.Fields(out)
	if len(fields) != 4 {
		return screen.Rect{}, fmt.Errorf("window bounds: expected 4 fields, got %q", strings.TrimSpace(out))
	}
	vals := make([]int, 4)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return screen.Rect{}, fmt.Errorf("window bounds: bad field %q: %w", f, err)
		}
		vals[i] = v
	}
	return screen.Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}

// expandArgv substitutes placeholders in a copy of the template.
func expandArgv(template []string, subs map[string]string) []string {
	argv := make([]string, len(template))
	for i, arg := range template {
		for placeholder, value := range subs {
			arg = strings.ReplaceAll(arg, placeholder, value)
		}
		argv[i] = arg
	}
	return argv
}

// runCapture runs a screenshot command; the image lands on disk, so only
// the exit status matters.
func runCapture(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, firstLine(out))
	}
	return nil
}

// commandOutput runs a resolver command and returns its stdout.
func commandOutput(ctx context.Context, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%s: %w: %s", argv[0], err, firstLine(exitErr.Stderr))
		}
		return "", fmt.Errorf("%s: %w", argv[0], err)
	}
	return string(out), nil
}

func firstLine(out []byte) string {
	text := strings.TrimSpace(string(out))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return text
}
