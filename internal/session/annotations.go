package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// annotationsFile is the JSONL sidecar notes are appended to while a
// session runs. Appends are whole lines, so a note from `demorec note`
// in another process never interleaves with this one's.
const annotationsFile = "annotations.jsonl"

// AppendAnnotation adds one note to the task directory's sidecar.
func AppendAnnotation(taskDir string, a Annotation) error {
	if strings.TrimSpace(a.Text) == "" {
		return errors.New("empty annotation")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(taskDir, annotationsFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("append annotation: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append annotation: %w", err)
	}
	return nil
}

// ReadAnnotations loads the sidecar notes in append order. A missing
// sidecar is an empty list, not an error.
func ReadAnnotations(taskDir string) ([]Annotation, error) {
	f, err := os.Open(filepath.Join(taskDir, annotationsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read annotations: %w", err)
	}
	defer f.Close()

	var notes []Annotation
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var a Annotation
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			return notes, fmt.Errorf("annotations line %d: %w", lineNo, err)
		}
		notes = append(notes, a)
	}
	if err := scanner.Err(); err != nil {
		return notes, fmt.Errorf("read annotations: %w", err)
	}
	return notes, nil
}
