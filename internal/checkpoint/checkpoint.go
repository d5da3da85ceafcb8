// Package checkpoint persists crash-safe run progress. Every write goes
// through temp-file-then-rename so a killed process never leaves a torn
// checkpoint on disk.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sdamache/memorybench/internal/types"
)

const fileName = "checkpoint.json"

// Version is the checkpoint schema version this manager reads and writes.
const Version = 1

// ErrNotFound reports that a run has no checkpoint on disk.
var ErrNotFound = errors.New("checkpoint: not found")

// InvalidError reports a checkpoint that exists but cannot be trusted.
// Callers surface Reason as remediation text.
type InvalidError struct {
	RunID  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("checkpoint: run %s: invalid checkpoint: %s", e.RunID, e.Reason)
}

// Manager reads and writes checkpoints under a runs directory, one
// checkpoint per run at runs/<run_id>/checkpoint.json.
type Manager struct {
	runsDir string
}

func NewManager(runsDir string) *Manager {
	return &Manager{runsDir: runsDir}
}

func (m *Manager) path(runID string) string {
	return filepath.Join(m.runsDir, runID, fileName)
}

// Create writes the initial checkpoint for a run and returns it.
//
// Expectations:
//   - The checkpoint starts with an empty completed set and count zero
//   - It is durable on disk before Create returns
func (m *Manager) Create(runID string, sel types.Selection, totalCases int) (*types.Checkpoint, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	cp := &types.Checkpoint{
		Version:    Version,
		RunID:      runID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Selections: sel,
		Completed:  map[string]types.CompletedCase{},
		TotalCases: totalCases,
	}
	if err := m.Persist(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Load reads a run's checkpoint.
//
// Expectations:
//   - A missing file returns ErrNotFound
//   - Unparseable JSON, a wrong version, a missing run_id, or a
//     completed_count that disagrees with the completed map all return
//     *InvalidError naming the reason
func (m *Manager) Load(runID string) (*types.Checkpoint, error) {
	raw, err := os.ReadFile(m.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read: %w", err)
	}
	var cp types.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, &InvalidError{RunID: runID, Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if cp.Version != Version {
		return nil, &InvalidError{RunID: runID, Reason: fmt.Sprintf("unsupported version %d", cp.Version)}
	}
	if cp.RunID == "" || cp.CreatedAt == "" {
		return nil, &InvalidError{RunID: runID, Reason: "missing required fields"}
	}
	if cp.Completed == nil {
		return nil, &InvalidError{RunID: runID, Reason: "missing completed map"}
	}
	if cp.CompletedCount != len(cp.Completed) {
		return nil, &InvalidError{RunID: runID, Reason: fmt.Sprintf("completed_count %d does not match %d completed entries", cp.CompletedCount, len(cp.Completed))}
	}
	return &cp, nil
}

// RecordCompletion marks one case finished and persists the updated
// checkpoint. CompletedCount is derived from the map, never incremented
// independently.
func (m *Manager) RecordCompletion(cp *types.Checkpoint, caseKey string, status types.CaseStatus) error {
	cp.Completed[caseKey] = types.CompletedCase{
		Status:      status,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	cp.CompletedCount = len(cp.Completed)
	cp.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := m.Persist(cp); err != nil {
		return err
	}
	slog.Debug("[CHECKPOINT] completion recorded", "run", cp.RunID, "case", caseKey, "completed", cp.CompletedCount, "total", cp.TotalCases)
	return nil
}

// Persist writes the checkpoint atomically.
func (m *Manager) Persist(cp *types.Checkpoint) error {
	dir := filepath.Join(m.runsDir, cp.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: create run dir: %w", err)
	}
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(dir, fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp: %w", err)
	}
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, fileName)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// CompletedKeys returns the set of finished case keys.
func CompletedKeys(cp *types.Checkpoint) map[string]bool {
	keys := make(map[string]bool, len(cp.Completed))
	for k := range cp.Completed {
		keys[k] = true
	}
	return keys
}

// SelectionDiff is the four-way difference between a checkpoint's recorded
// selection and the selection offered on resume.
type SelectionDiff struct {
	MissingProviders  []string `json:"missing_providers"`
	ExtraProviders    []string `json:"extra_providers"`
	MissingBenchmarks []string `json:"missing_benchmarks"`
	ExtraBenchmarks   []string `json:"extra_benchmarks"`
}

// Empty reports whether the selections match exactly on both dimensions.
func (d SelectionDiff) Empty() bool {
	return len(d.MissingProviders) == 0 && len(d.ExtraProviders) == 0 &&
		len(d.MissingBenchmarks) == 0 && len(d.ExtraBenchmarks) == 0
}

func (d SelectionDiff) String() string {
	var parts []string
	add := func(label string, names []string) {
		if len(names) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %v", label, names))
		}
	}
	add("missing providers", d.MissingProviders)
	add("extra providers", d.ExtraProviders)
	add("missing benchmarks", d.MissingBenchmarks)
	add("extra benchmarks", d.ExtraBenchmarks)
	if len(parts) == 0 {
		return "selections match"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "; " + p
	}
	return out
}

// ValidateSelections diffs the checkpoint selection against the offered one.
// Resume requires exact set equality; order and duplicates are ignored.
func ValidateSelections(cp *types.Checkpoint, sel types.Selection) SelectionDiff {
	return SelectionDiff{
		MissingProviders:  setDiff(cp.Selections.Providers, sel.Providers),
		ExtraProviders:    setDiff(sel.Providers, cp.Selections.Providers),
		MissingBenchmarks: setDiff(cp.Selections.Benchmarks, sel.Benchmarks),
		ExtraBenchmarks:   setDiff(sel.Benchmarks, cp.Selections.Benchmarks),
	}
}

// setDiff returns the members of a absent from b, sorted.
func setDiff(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, n := range b {
		in[n] = true
	}
	var out []string
	seen := make(map[string]bool, len(a))
	for _, n := range a {
		if !in[n] && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
