// Package event defines the interaction event model and its JSON wire
// shape. Field names are fixed: the export pipeline and downstream dataset
// consumers read them from session_data.json.
package event

import "github.com/demorec/demorec/internal/screen"

// Kind classifies an interaction event.
type Kind string

const (
	KindClick          Kind = "click"
	KindDrag           Kind = "drag"
	KindType           Kind = "type"
	KindKeyCombination Kind = "key_combination"
	KindScrollSequence Kind = "scroll_sequence"
)

// Scroll directions, derived from the sign of the total wheel rotation.
const (
	ScrollUp   = "up"
	ScrollDown = "down"
)

// Event is one entry in the ordered session log. Coordinate fields are
// pointers so that kinds without coordinates omit them entirely instead of
// serializing zeroes.
type Event struct {
	ID   uint64 `json:"id"`
	Type Kind   `json:"type"`
	// Time is seconds since session start, captured when the slot was
	// created, not when enrichment finished.
	Time float64 `json:"time"`
	// Timestamp is the wall clock at creation, in unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	X    *int `json:"x,omitempty"`
	Y    *int `json:"y,omitempty"`
	EndX *int `json:"endX,omitempty"`
	EndY *int `json:"endY,omitempty"`

	Button    string   `json:"button,omitempty"`
	Key       string   `json:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`

	Direction         string  `json:"direction,omitempty"`
	TotalAmount       int     `json:"totalAmount,omitempty"`
	Duration          float64 `json:"duration,omitempty"`
	IndividualScrolls int     `json:"individualScrolls,omitempty"`

	ScreenInfo     *ScreenInfo     `json:"screenInfo,omitempty"`
	Screenshots    *Screenshots    `json:"screenshots,omitempty"`
	WindowRelative *WindowRelative `json:"windowRelative,omitempty"`
}

// Payload holds the kind-specific fields known at the input instant.
type Payload struct {
	X, Y       *int
	EndX, EndY *int
	Button     string
	Key        string
	Modifiers  []string

	Direction         string
	TotalAmount       int
	Duration          float64
	IndividualScrolls int
}

// Coordinates returns the payload's desktop coordinates when it has any.
func (p Payload) Coordinates() (x, y int, ok bool) {
	if p.X == nil || p.Y == nil {
		return 0, 0, false
	}
	return *p.X, *p.Y, true
}

// Enrichment holds the fields attached asynchronously after capture.
type Enrichment struct {
	Screenshots    *Screenshots
	ScreenInfo     *ScreenInfo
	WindowRelative *WindowRelative
}

// ScreenInfo records which display an event happened on.
type ScreenInfo struct {
	CurrentDisplay *screen.Display `json:"currentDisplay,omitempty"`
}

// Screenshots lists the task-relative image paths captured for an event.
// Display keys are decimal display ids.
type Screenshots struct {
	Displays     map[string]string `json:"displays,omitempty"`
	ActiveWindow string            `json:"activeWindow,omitempty"`
}

// WindowRelative is an event's position translated into the active
// window's coordinate space.
type WindowRelative struct {
	X      int  `json:"x"`
	Y      int  `json:"y"`
	Inside bool `json:"inside"`
}

// New builds the wire event for a freshly created slot.
func New(id uint64, kind Kind, sessionTime float64, wallClockMs int64, p Payload) Event {
	return Event{
		ID:                id,
		Type:              kind,
		Time:              sessionTime,
		Timestamp:         wallClockMs,
		X:                 p.X,
		Y:                 p.Y,
		EndX:              p.EndX,
		EndY:              p.EndY,
		Button:            p.Button,
		Key:               p.Key,
		Modifiers:         p.Modifiers,
		Direction:         p.Direction,
		TotalAmount:       p.TotalAmount,
		Duration:          p.Duration,
		IndividualScrolls: p.IndividualScrolls,
	}
}

// Merge attaches enrichment fields to the event. Absent fields stay
// omitted; enrichment never overwrites payload data.
func (e *Event) Merge(en Enrichment) {
	if en.Screenshots != nil {
		e.Screenshots = en.Screenshots
	}
	if en.ScreenInfo != nil {
		e.ScreenInfo = en.ScreenInfo
	}
	if en.WindowRelative != nil {
		e.WindowRelative = en.WindowRelative
	}
}

// ClickPayload builds the payload for a mouse click at (x, y).
func ClickPayload(x, y int, button string) Payload {
	return Payload{X: intPtr(x), Y: intPtr(y), Button: button}
}

// DragPayload builds the payload for a drag from (x, y) to (endX, endY).
func DragPayload(x, y, endX, endY int, button string) Payload {
	return Payload{X: intPtr(x), Y: intPtr(y), EndX: intPtr(endX), EndY: intPtr(endY), Button: button}
}

// KeyPayload builds the payload for a key press. Key tokens are uppercase
// ("A", "SPACE", "ENTER", "NUMPAD_ENTER").
func KeyPayload(key string, modifiers []string) Payload {
	return Payload{Key: key, Modifiers: modifiers}
}

// ScrollPayload builds the payload for an aggregated scroll gesture ending
// at (x, y).
func ScrollPayload(direction string, totalAmount int, duration float64, individualScrolls, x, y int) Payload {
	return Payload{
		X:                 intPtr(x),
		Y:                 intPtr(y),
		Direction:         direction,
		TotalAmount:       totalAmount,
		Duration:          duration,
		IndividualScrolls: individualScrolls,
	}
}

func intPtr(v int) *int { return &v }
