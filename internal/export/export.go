package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/demorec/demorec/internal/logging"
	"github.com/demorec/demorec/internal/session"
)

// DefaultConcurrency caps how many tasks render at once.
const DefaultConcurrency = 4

// Runner renders datasets for every task directory under a data root.
// Unreadable tasks are skipped with a warning, never failing the run.
type Runner struct {
	DataRoot    string
	Log         *slog.Logger
	Concurrency int
}

func (r *Runner) logger() *slog.Logger {
	if r.Log == nil {
		return logging.Discard()
	}
	return r.Log
}

// taskDirs lists the task directories under the data root, sorted by
// name.
func (r *Runner) taskDirs() ([]string, error) {
	entries, err := os.ReadDir(r.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("read data root %s: %w", r.DataRoot, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(r.DataRoot, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (r *Runner) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	limit := r.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	return g, ctx
}

// Events renders llm_events.json for every task. Returns how many tasks
// were rendered.
func (r *Runner) Events(ctx context.Context) (int, error) {
	dirs, err := r.taskDirs()
	if err != nil {
		return 0, err
	}
	log := r.logger()

	var rendered atomic.Int64
	g, ctx := r.group(ctx)
	for _, dir := range dirs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			task := filepath.Base(dir)
			rec, err := session.LoadRecord(filepath.Join(dir, session.RecordFile))
			if err != nil {
				log.Warn("skipping task", "task", task, "error", err)
				return nil
			}
			records := ConvertEvents(task, rec.Events)
			if err := writeJSON(filepath.Join(dir, EventsFile), records); err != nil {
				log.Warn("skipping task", "task", task, "error", err)
				return nil
			}
			rendered.Add(1)
			log.Info("rendered events", "task", task, "records", len(records))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(rendered.Load()), err
	}
	return int(rendered.Load()), nil
}

// Chat renders chat.jsonl for every task that has an llm_events.json.
// When combinedOut is non-empty, one combined JSONL of all task records
// is also written, in task order. Returns how many tasks were rendered.
func (r *Runner) Chat(ctx context.Context, combinedOut string) (int, error) {
	dirs, err := r.taskDirs()
	if err != nil {
		return 0, err
	}
	log := r.logger()

	var mu sync.Mutex
	combined := make(map[string]ChatRecord)

	g, ctx := r.group(ctx)
	for _, dir := range dirs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			task := filepath.Base(dir)
			records, err := readEvents(filepath.Join(dir, EventsFile))
			if err != nil {
				log.Warn("skipping task", "task", task, "error", err)
				return nil
			}
			chat := BuildChat(task, records)
			if err := writeJSONL(filepath.Join(dir, ChatFile), []ChatRecord{chat}); err != nil {
				log.Warn("skipping task", "task", task, "error", err)
				return nil
			}
			mu.Lock()
			combined[task] = chat
			mu.Unlock()
			log.Info("rendered chat", "task", task, "turns", len(chat.Messages))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(combined), err
	}

	if combinedOut != "" && len(combined) > 0 {
		tasks := make([]string, 0, len(combined))
		for task := range combined {
			tasks = append(tasks, task)
		}
		sort.Strings(tasks)
		all := make([]ChatRecord, 0, len(tasks))
		for _, task := range tasks {
			all = append(all, combined[task])
		}
		if err := writeJSONL(combinedOut, all); err != nil {
			return len(combined), fmt.Errorf("write combined dataset: %w", err)
		}
		log.Info("wrote combined dataset", "path", combinedOut, "tasks", len(all))
	}
	return len(combined), nil
}

// readEvents loads a task's llm_events.json.
func readEvents(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return records, nil
}

// writeJSON writes v as indented JSON. Dataset text stays as typed:
// HTML escaping is off.
func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeJSONL writes one compact JSON record per line.
func writeJSONL[T any](path string, records []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
