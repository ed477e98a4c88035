// Package input defines the raw interaction stream a recording session
// consumes. Sources push events in arrival order; the session stamps and
// orders them, so raw events carry no timestamps of their own.
package input

import "context"

// Kind classifies a raw input sample.
type Kind string

const (
	KindClick Kind = "click"
	KindDrag  Kind = "drag"
	KindKey   Kind = "key"
	KindWheel Kind = "wheel"
)

// Event is one raw input sample, before aggregation or enrichment.
// Wheel samples carry a signed rotation; key samples carry an uppercase
// key token and modifier names.
type Event struct {
	Kind      Kind     `json:"kind"`
	X         int      `json:"x,omitempty"`
	Y         int      `json:"y,omitempty"`
	EndX      int      `json:"endX,omitempty"`
	EndY      int      `json:"endY,omitempty"`
	Button    string   `json:"button,omitempty"`
	Key       string   `json:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
	Rotation  int      `json:"rotation,omitempty"`
}

// Source streams raw input events. Stream calls emit for each event in
// arrival order and blocks until the source is exhausted, ctx is
// cancelled, or emit returns an error. Cancellation is the normal stop
// path and yields a nil return.
type Source interface {
	Stream(ctx context.Context, emit func(Event) error) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, emit func(Event) error) error

func (f SourceFunc) Stream(ctx context.Context, emit func(Event) error) error {
	return f(ctx, emit)
}
