// Package config loads and merges demorec's JSON configuration: a global
// file in the XDG config directory overlaid by an optional per-project
// file, with project values winning field-wise.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/demorec/demorec/internal/screen"
)

// ProjectFile is the per-project config file name, read from the current
// working directory.
const ProjectFile = ".demorec.json"

// Config holds all configurable demorec settings. Durations are stored in
// milliseconds so the JSON stays plain numbers; the accessor methods
// convert them.
type Config struct {
	DataRoot  string `json:"data_root"`
	LogLevel  string `json:"log_level"`  // "debug" | "info" | "warn" | "error"
	LogFormat string `json:"log_format"` // "text" | "json"

	SettleDelayMs      int `json:"settle_delay_ms"`
	ScrollDebounceMs   int `json:"scroll_debounce_ms"`
	ScrollMinMagnitude int `json:"scroll_min_magnitude"`
	BoundsTTLMs        int `json:"bounds_ttl_ms"`
	BoundsPollMs       int `json:"bounds_poll_ms"`
	StopGraceMs        int `json:"stop_grace_ms"`
	StopTermMs         int `json:"stop_term_ms"`

	Displays []screen.Display `json:"displays"`

	// RecorderCommand is the argv template for the per-display video
	// recorder; {display} and {output} are substituted per target.
	RecorderCommand []string `json:"recorder_command"`
	RecorderKind    string   `json:"recorder_kind"` // "command" | "signal"
	// RecorderStopCommand is the stdin shutdown command for
	// command-driven recorders. Empty selects the supervisor default.
	RecorderStopCommand string `json:"recorder_stop_command"`
	VideoExt            string `json:"video_ext"`

	// Screenshot and window-resolution argv templates. Empty disables
	// the feature; the pipeline degrades instead of failing.
	ScreenCaptureCommand []string `json:"screen_capture_command"`
	WindowCaptureCommand []string `json:"window_capture_command"`
	ActiveWindowCommand  []string `json:"active_window_command"`
	WindowBoundsCommand  []string `json:"window_bounds_command"`

	// InputCommand is the argv of the OS input listener that prints one
	// JSON event per line on stdout.
	InputCommand []string `json:"input_command"`
}

// Defaults returns sensible default configuration values. The single
// default display matches a plain 1080p desktop; multi-monitor setups
// list theirs in the config file.
func Defaults() Config {
	return Config{
		DataRoot:           "data",
		LogLevel:           "info",
		LogFormat:          "text",
		SettleDelayMs:      150,
		ScrollDebounceMs:   300,
		ScrollMinMagnitude: 3,
		BoundsTTLMs:        2000,
		BoundsPollMs:       500,
		StopGraceMs:        5000,
		StopTermMs:         2000,
		Displays: []screen.Display{
			{ID: 1, Bounds: screen.Rect{Width: 1920, Height: 1080}, Primary: true},
		},
		RecorderKind: "command",
		VideoExt:     "mp4",
	}
}

// Dir returns the demorec config directory, honoring XDG_CONFIG_HOME.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "demorec"), nil
}

// LoadGlobal reads the global config file.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return loadFile(filepath.Join(dir, "config.json"), true)
}

// LoadProject reads ProjectFile in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking
// precedence. Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	apply(&result, global)
	apply(&result, project)
	return result
}

// apply overlays src's set fields onto dst. Zero values mean "not set".
func apply(dst, src *Config) {
	if src == nil {
		return
	}
	if src.DataRoot != "" {
		dst.DataRoot = src.DataRoot
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogFormat != "" {
		dst.LogFormat = src.LogFormat
	}
	if src.SettleDelayMs > 0 {
		dst.SettleDelayMs = src.SettleDelayMs
	}
	if src.ScrollDebounceMs > 0 {
		dst.ScrollDebounceMs = src.ScrollDebounceMs
	}
	if src.ScrollMinMagnitude > 0 {
		dst.ScrollMinMagnitude = src.ScrollMinMagnitude
	}
	if src.BoundsTTLMs > 0 {
		dst.BoundsTTLMs = src.BoundsTTLMs
	}
	if src.BoundsPollMs > 0 {
		dst.BoundsPollMs = src.BoundsPollMs
	}
	if src.StopGraceMs > 0 {
		dst.StopGraceMs = src.StopGraceMs
	}
	if src.StopTermMs > 0 {
		dst.StopTermMs = src.StopTermMs
	}
	if len(src.Displays) > 0 {
		dst.Displays = src.Displays
	}
	if len(src.RecorderCommand) > 0 {
		dst.RecorderCommand = src.RecorderCommand
	}
	if src.RecorderKind != "" {
		dst.RecorderKind = src.RecorderKind
	}
	if src.RecorderStopCommand != "" {
		dst.RecorderStopCommand = src.RecorderStopCommand
	}
	if src.VideoExt != "" {
		dst.VideoExt = src.VideoExt
	}
	if len(src.ScreenCaptureCommand) > 0 {
		dst.ScreenCaptureCommand = src.ScreenCaptureCommand
	}
	if len(src.WindowCaptureCommand) > 0 {
		dst.WindowCaptureCommand = src.WindowCaptureCommand
	}
	if len(src.ActiveWindowCommand) > 0 {
		dst.ActiveWindowCommand = src.ActiveWindowCommand
	}
	if len(src.WindowBoundsCommand) > 0 {
		dst.WindowBoundsCommand = src.WindowBoundsCommand
	}
	if len(src.InputCommand) > 0 {
		dst.InputCommand = src.InputCommand
	}
}

func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

func (c Config) ScrollDebounce() time.Duration {
	return time.Duration(c.ScrollDebounceMs) * time.Millisecond
}

func (c Config) BoundsTTL() time.Duration {
	return time.Duration(c.BoundsTTLMs) * time.Millisecond
}

func (c Config) BoundsPoll() time.Duration {
	return time.Duration(c.BoundsPollMs) * time.Millisecond
}

func (c Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceMs) * time.Millisecond
}

func (c Config) StopTerm() time.Duration {
	return time.Duration(c.StopTermMs) * time.Millisecond
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
