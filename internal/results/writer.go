// Package results owns the run directory: the provenance manifest, the
// append-only results log, and the aggregate summary. JSONL appends are
// serialized through a single writer goroutine so concurrent producers never
// interleave bytes within a line.
package results

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sdamache/memorybench/internal/types"
)

const (
	manifestFile = "run_manifest.json"
	resultsFile  = "results.jsonl"
	summaryFile  = "metrics_summary.json"

	appendQueueDepth = 256
)

// Writer owns one run directory under the runs root.
type Writer struct {
	dir   string
	runID string

	queue chan appendRequest
	done  chan struct{}
	file  *os.File

	mu       sync.Mutex
	writeErr error
	appended int
}

// appendRequest carries one result to the writer goroutine together with the
// channel its write outcome is acknowledged on.
type appendRequest struct {
	record types.RunCaseResult
	ack    chan error
}

// NewWriter creates runs/<run_id>/ and opens the results log for appending.
func NewWriter(runsDir, runID string) (*Writer, error) {
	dir := filepath.Join(runsDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("results: create run dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, resultsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("results: open results log: %w", err)
	}
	w := &Writer{
		dir:   dir,
		runID: runID,
		queue: make(chan appendRequest, appendQueueDepth),
		done:  make(chan struct{}),
		file:  f,
	}
	go w.drain()
	return w, nil
}

// Dir is the run directory this writer owns.
func (w *Writer) Dir() string { return w.dir }

func (w *Writer) drain() {
	defer close(w.done)
	for req := range w.queue {
		line, err := json.Marshal(req.record)
		if err == nil {
			_, err = w.file.Write(append(line, '\n'))
		}
		if err != nil {
			err = fmt.Errorf("results: append: %w", err)
		}
		w.mu.Lock()
		if err != nil && w.writeErr == nil {
			w.writeErr = err
			slog.Error("[RESULTS] append failed", "run", w.runID, "case", req.record.CaseID, "error", err)
		}
		w.appended++
		w.mu.Unlock()
		req.ack <- err
	}
}

// Append writes one case result to the log through the writer goroutine and
// returns once the line has been written. A nil return means the record is in
// the log, so callers can safely mark the case complete elsewhere.
func (w *Writer) Append(r types.RunCaseResult) error {
	ack := make(chan error, 1)
	w.queue <- appendRequest{record: r, ack: ack}
	return <-ack
}

// Err returns the first append failure, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeErr
}

// Appended returns how many queued results have been processed.
func (w *Writer) Appended() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appended
}

// Close drains the append queue, syncs the log, and reports the first
// deferred write error.
func (w *Writer) Close() error {
	close(w.queue)
	<-w.done
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("results: sync results log: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("results: close results log: %w", err)
	}
	return w.Err()
}

// WriteManifest writes the run provenance manifest atomically.
func (w *Writer) WriteManifest(m types.RunManifest) error {
	return writeJSONAtomic(filepath.Join(w.dir, manifestFile), m)
}

// WriteSummary writes the aggregate summary atomically.
func (w *Writer) WriteSummary(s types.MetricsSummary) error {
	return writeJSONAtomic(filepath.Join(w.dir, summaryFile), s)
}

// ReadResults loads every record from a run's results log. Used by the
// summarizer on resume so pre-crash cases count toward the final summary.
func ReadResults(runsDir, runID string) ([]types.RunCaseResult, error) {
	path := filepath.Join(runsDir, runID, resultsFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("results: open %s: %w", path, err)
	}
	defer f.Close()

	var out []types.RunCaseResult
	dec := json.NewDecoder(f)
	for dec.More() {
		var r types.RunCaseResult
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("results: decode %s: %w", path, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ListRuns returns run directory names under runsDir, newest first. Run IDs
// embed a UTC timestamp so lexicographic order is chronological.
func ListRuns(runsDir string) ([]string, error) {
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("results: list runs: %w", err)
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

// writeJSONAtomic writes pretty JSON via temp-then-rename.
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("results: marshal %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("results: create temp: %w", err)
	}
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("results: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("results: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("results: rename: %w", err)
	}
	return nil
}
