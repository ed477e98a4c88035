package export

import (
	"fmt"
	"strconv"
	"strings"
)

// ChatFile is the per-task chat dataset file name.
const ChatFile = "chat.jsonl"

const systemPrompt = "You are an agent viewing a screenshot from the user and then emitting the action. " +
	"Clicks are provided as normalized ratios (x/width, y/height)."

// Record is the permissive read-side shape of one llm_events entry.
// Numeric fields are pointers because each record type carries a
// different subset and JSON numbers decode as float64 either way.
type Record struct {
	ID                int      `json:"id"`
	Type              string   `json:"type"`
	X                 *float64 `json:"x"`
	Y                 *float64 `json:"y"`
	WidthDisplay      *float64 `json:"width_display"`
	HeightDisplay     *float64 `json:"height_display"`
	SSPath            string   `json:"ss_path"`
	Button            string   `json:"button"`
	Key               string   `json:"key"`
	Direction         string   `json:"direction"`
	TotalAmount       *float64 `json:"total_amount"`
	Duration          *float64 `json:"duration"`
	IndividualScrolls *float64 `json:"individual_scrolls"`
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRecord is one task's full conversation: a system prompt, then one
// user screenshot reference and one assistant action per dataset event.
type ChatRecord struct {
	Messages    []Message `json:"messages"`
	Attachments []string  `json:"attachments"`
	Task        string    `json:"task"`
}

// BuildChat converts a task's llm_events records into the chat shape.
// Click coordinates are normalized by the display dims when both are
// positive; otherwise the raw coordinates are emitted. The first user
// message carries the task name prefix.
func BuildChat(taskName string, events []Record) ChatRecord {
	messages := []Message{{Role: "system", Content: systemPrompt}}
	attachments := []string{}

	for _, ev := range events {
		idx := len(attachments)
		attachments = append(attachments, ev.SSPath)

		user := fmt.Sprintf("<attachment:%d>", idx)
		if idx == 0 {
			user = fmt.Sprintf("TASK:%s <attachment:%d>", taskName, idx)
		}

		var action string
		switch ev.Type {
		case "click":
			x, y := deref(ev.X), deref(ev.Y)
			rx, ry := x, y
			if w, h := deref(ev.WidthDisplay), deref(ev.HeightDisplay); w > 0 && h > 0 {
				rx, ry = x/w, y/h
			}
			verb := "click"
			if strings.ToLower(ev.Button) == "right" {
				verb = "right_click"
			}
			action = fmt.Sprintf("%s: (%.6f, %.6f)", verb, rx, ry)
		case "type":
			action = "type: " + ev.Key
		case "scroll":
			action = fmt.Sprintf("scroll: %s %s %s %s",
				ev.Direction, formatNum(ev.TotalAmount), formatNum(ev.Duration), formatNum(ev.IndividualScrolls))
		case "stop":
			action = "stop"
		default:
			// Unknown record types keep their attachment slot but add no
			// turns, matching the upstream converter.
			continue
		}

		messages = append(messages, Message{Role: "user", Content: user})
		messages = append(messages, Message{Role: "assistant", Content: action})
	}

	return ChatRecord{Messages: messages, Attachments: attachments, Task: taskName}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// formatNum prints a JSON number the shortest way: integers without a
// decimal point, fractions without trailing zeros.
func formatNum(p *float64) string {
	return strconv.FormatFloat(deref(p), 'f', -1, 64)
}
