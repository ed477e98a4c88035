// Package export renders recorded sessions into the model-training
// dataset formats: per-task llm_events.json and chat.jsonl, plus an
// optional combined chat dataset.
package export

import (
	"fmt"

	"github.com/demorec/demorec/internal/event"
)

// EventsFile is the flattened per-task dataset file name.
const EventsFile = "llm_events.json"

// llm_events record shapes. Field sets differ per record type, and click
// records carry explicit nulls for missing display dims, so each type
// marshals through its own struct.

type clickEvent struct {
	ID            int    `json:"id"`
	Type          string `json:"type"`
	X             int    `json:"x"`
	Y             int    `json:"y"`
	WidthDisplay  *int   `json:"width_display"`
	HeightDisplay *int   `json:"height_display"`
	SSPath        string `json:"ss_path"`
	Button        string `json:"button"`
}

type typeEvent struct {
	ID     int    `json:"id"`
	Type   string `json:"type"`
	Key    string `json:"key"`
	SSPath string `json:"ss_path"`
}

type scrollEvent struct {
	ID                int     `json:"id"`
	Type              string  `json:"type"`
	Direction         string  `json:"direction"`
	TotalAmount       int     `json:"total_amount"`
	Duration          float64 `json:"duration"`
	IndividualScrolls int     `json:"individual_scrolls"`
	SSPath            string  `json:"ss_path"`
}

type stopEvent struct {
	ID     int    `json:"id"`
	Type   string `json:"type"`
	SSPath string `json:"ss_path"`
}

// ssPath builds the dataset-relative screenshot reference for an event.
// Dataset consumers resolve these against the directory holding data/.
func ssPath(taskName string, eventID uint64) string {
	return fmt.Sprintf("data/%s/videos/frames_display_1/event_%d.png", taskName, eventID)
}

// ConvertEvents flattens a session's ordered event log into the
// llm_events shape: clicks and scroll gestures map one-to-one,
// consecutive key events merge into a single type record carrying the
// first key event's screenshot, and a final stop record closes the list.
// Ids renumber from zero over the emitted records. Kinds with no dataset
// mapping (drags) are skipped but still break a key run.
func ConvertEvents(taskName string, events []event.Event) []any {
	out := make([]any, 0, len(events)+1)
	counter := 0

	runOpen := false
	keyRun := ""
	keyRunPath := ""

	endRun := func() {
		if !runOpen {
			return
		}
		out = append(out, typeEvent{ID: counter, Type: "type", Key: keyRun, SSPath: keyRunPath})
		counter++
		runOpen = false
		keyRun = ""
		keyRunPath = ""
	}

	for _, ev := range events {
		path := ssPath(taskName, ev.ID)
		switch ev.Type {
		case event.KindType, event.KindKeyCombination:
			if !runOpen {
				runOpen = true
				keyRunPath = path
			}
			keyRun += substituteKey(ev.Key)

		case event.KindClick:
			endRun()
			click := clickEvent{
				ID:     counter,
				Type:   "click",
				SSPath: path,
				Button: ev.Button,
			}
			if ev.X != nil {
				click.X = *ev.X
			}
			if ev.Y != nil {
				click.Y = *ev.Y
			}
			if ev.ScreenInfo != nil && ev.ScreenInfo.CurrentDisplay != nil {
				b := ev.ScreenInfo.CurrentDisplay.Bounds
				w, h := b.Width, b.Height
				click.WidthDisplay = &w
				click.HeightDisplay = &h
			}
			out = append(out, click)
			counter++

		case event.KindScrollSequence:
			endRun()
			out = append(out, scrollEvent{
				ID:                counter,
				Type:              "scroll",
				Direction:         ev.Direction,
				TotalAmount:       ev.TotalAmount,
				Duration:          ev.Duration,
				IndividualScrolls: ev.IndividualScrolls,
				SSPath:            path,
			})
			counter++

		default:
			endRun()
		}
	}

	// Trailing key run, then the terminating stop record. The stop
	// screenshot references the frame past the last recorded event.
	if keyRun != "" {
		out = append(out, typeEvent{ID: counter, Type: "type", Key: keyRun, SSPath: keyRunPath})
		counter++
	}
	out = append(out, stopEvent{
		ID:     counter,
		Type:   "stop",
		SSPath: ssPath(taskName, uint64(len(events))),
	})
	return out
}

// substituteKey maps key tokens to their dataset text.
func substituteKey(key string) string {
	switch key {
	case "SPACE":
		return " "
	case "NUMPAD_ENTER":
		return " + ENTER"
	}
	return key
}
