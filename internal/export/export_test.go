package export

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/demorec/demorec/internal/event"
	"github.com/demorec/demorec/internal/session"
)

// writeTask drops a minimal session record into dataRoot/<task>.
func writeTask(t *testing.T, dataRoot, task string, events []event.Event) {
	t.Helper()
	dir := filepath.Join(dataRoot, task)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	rec := session.NewRecord(task, 1000, session.Metadata{Operator: "tester"})
	for _, ev := range events {
		rec.Append(ev)
	}
	rec.Seal(2000, nil, nil, nil, 0)
	if err := rec.WriteFile(filepath.Join(dir, session.RecordFile)); err != nil {
		t.Fatal(err)
	}
}

func TestRunnerEventsRendersEachTask(t *testing.T) {
	dataRoot := t.TempDir()
	writeTask(t, dataRoot, "alpha", []event.Event{
		{ID: 0, Type: event.KindClick, X: intPtr(1), Y: intPtr(2), Button: "left"},
	})
	writeTask(t, dataRoot, "beta", []event.Event{
		{ID: 0, Type: event.KindType, Key: "A"},
		{ID: 1, Type: event.KindType, Key: "B"},
	})
	// A task without a session record is skipped, not fatal.
	if err := os.MkdirAll(filepath.Join(dataRoot, "broken"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := &Runner{DataRoot: dataRoot}
	n, err := r.Events(context.Background())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rendered tasks, got %d", n)
	}

	data, err := os.ReadFile(filepath.Join(dataRoot, "beta", EventsFile))
	if err != nil {
		t.Fatal(err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("llm_events.json is not valid JSON: %v", err)
	}
	if len(records) != 2 || records[0].Type != "type" || records[0].Key != "AB" ||
		records[1].Type != "stop" {
		t.Errorf("beta records wrong: %+v", records)
	}
	if _, err := os.Stat(filepath.Join(dataRoot, "broken", EventsFile)); !os.IsNotExist(err) {
		t.Error("broken task must not produce an events file")
	}
}

func TestRunnerChatRoundTrip(t *testing.T) {
	dataRoot := t.TempDir()
	writeTask(t, dataRoot, "alpha", []event.Event{
		{ID: 0, Type: event.KindClick, X: intPtr(10), Y: intPtr(20), Button: "left"},
	})
	writeTask(t, dataRoot, "beta", []event.Event{
		{ID: 0, Type: event.KindType, Key: "X"},
	})

	r := &Runner{DataRoot: dataRoot}
	if _, err := r.Events(context.Background()); err != nil {
		t.Fatalf("Events: %v", err)
	}

	combined := filepath.Join(t.TempDir(), "all_chat.jsonl")
	n, err := r.Chat(context.Background(), combined)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rendered tasks, got %d", n)
	}

	var chat ChatRecord
	data, err := os.ReadFile(filepath.Join(dataRoot, "alpha", ChatFile))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &chat); err != nil {
		t.Fatalf("chat.jsonl line is not valid JSON: %v", err)
	}
	if chat.Task != "alpha" {
		t.Errorf("task wrong: %q", chat.Task)
	}
	if got := chat.Messages[1].Content; got != "TASK:alpha <attachment:0>" {
		t.Errorf("first user message wrong: %q", got)
	}

	// Combined file: one line per task, in task order.
	f, err := os.Open(combined)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var tasks []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line ChatRecord
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("combined line is not valid JSON: %v", err)
		}
		tasks = append(tasks, line.Task)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0] != "alpha" || tasks[1] != "beta" {
		t.Errorf("combined task order wrong: %v", tasks)
	}
}

func TestRunnerMissingDataRoot(t *testing.T) {
	r := &Runner{DataRoot: filepath.Join(t.TempDir(), "nope")}
	if _, err := r.Events(context.Background()); err == nil {
		t.Error("expected error for missing data root")
	}
}
