package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdamache/memorybench/internal/types"
)

func testSelection() types.Selection {
	return types.Selection{Providers: []string{"mem0"}, Benchmarks: []string{"needle"}, Concurrency: 1}
}

func TestCreate_PersistsInitialCheckpoint(t *testing.T) {
	// Create writes a durable checkpoint with an empty completed set
	m := NewManager(t.TempDir())
	cp, err := m.Create("run1", testSelection(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Version)
	assert.Equal(t, 0, cp.CompletedCount)
	assert.Equal(t, 5, cp.TotalCases)

	loaded, err := m.Load("run1")
	require.NoError(t, err)
	assert.Equal(t, cp.RunID, loaded.RunID)
	assert.Empty(t, loaded.Completed)
}

func TestLoad_NotFound(t *testing.T) {
	// A run with no checkpoint returns ErrNotFound
	m := NewManager(t.TempDir())
	_, err := m.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_InvalidJSON(t *testing.T) {
	// Torn or corrupted JSON is an InvalidError, not a panic or ErrNotFound
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "run1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run1", "checkpoint.json"), []byte("{half a doc"), 0o644))

	m := NewManager(dir)
	_, err := m.Load("run1")
	var inv *InvalidError
	require.True(t, errors.As(err, &inv))
	assert.Contains(t, inv.Reason, "JSON")
}

func TestLoad_CountMismatchInvalid(t *testing.T) {
	// completed_count must equal the size of the completed map
	m := NewManager(t.TempDir())
	cp, err := m.Create("run1", testSelection(), 2)
	require.NoError(t, err)
	cp.CompletedCount = 7
	require.NoError(t, m.Persist(cp))

	_, err = m.Load("run1")
	var inv *InvalidError
	require.True(t, errors.As(err, &inv))
	assert.Contains(t, inv.Reason, "completed_count")
}

func TestLoad_WrongVersionInvalid(t *testing.T) {
	// A future schema version is rejected rather than misread
	m := NewManager(t.TempDir())
	cp, err := m.Create("run1", testSelection(), 1)
	require.NoError(t, err)
	cp.Version = 2
	require.NoError(t, m.Persist(cp))

	_, err = m.Load("run1")
	var inv *InvalidError
	assert.True(t, errors.As(err, &inv))
}

func TestRecordCompletion_PersistsAndCounts(t *testing.T) {
	// Each completion updates the map, the derived count, and the file
	m := NewManager(t.TempDir())
	cp, err := m.Create("run1", testSelection(), 2)
	require.NoError(t, err)

	key := types.CaseKey("mem0", "needle", "c1")
	require.NoError(t, m.RecordCompletion(cp, key, types.StatusPass))
	require.NoError(t, m.RecordCompletion(cp, types.CaseKey("mem0", "needle", "c2"), types.StatusFail))

	loaded, err := m.Load("run1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CompletedCount)
	assert.Equal(t, types.StatusPass, loaded.Completed[key].Status)
	assert.NotEmpty(t, loaded.Completed[key].CompletedAt)
}

func TestRecordCompletion_Idempotent(t *testing.T) {
	// Recording the same key twice does not inflate the count
	m := NewManager(t.TempDir())
	cp, err := m.Create("run1", testSelection(), 1)
	require.NoError(t, err)

	key := types.CaseKey("mem0", "needle", "c1")
	require.NoError(t, m.RecordCompletion(cp, key, types.StatusPass))
	require.NoError(t, m.RecordCompletion(cp, key, types.StatusPass))
	assert.Equal(t, 1, cp.CompletedCount)
}

func TestPersist_LeavesNoTempFiles(t *testing.T) {
	// The run directory holds only the final checkpoint after a write
	dir := t.TempDir()
	m := NewManager(dir)
	_, err := m.Create("run1", testSelection(), 1)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "run1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint.json", entries[0].Name())
}

func TestPersist_PrettyJSON(t *testing.T) {
	// The on-disk document is indented JSON
	dir := t.TempDir()
	m := NewManager(dir)
	_, err := m.Create("run1", testSelection(), 1)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "run1", "checkpoint.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"run_id\"")
	assert.True(t, json.Valid(raw))
}

func TestCompletedKeys(t *testing.T) {
	// CompletedKeys mirrors the completed map as a set
	m := NewManager(t.TempDir())
	cp, err := m.Create("run1", testSelection(), 2)
	require.NoError(t, err)
	require.NoError(t, m.RecordCompletion(cp, "a|b|c", types.StatusPass))

	keys := CompletedKeys(cp)
	assert.True(t, keys["a|b|c"])
	assert.False(t, keys["a|b|d"])
}

func TestValidateSelections_Match(t *testing.T) {
	// Order and duplicates do not break set equality
	cp := &types.Checkpoint{Selections: types.Selection{
		Providers:  []string{"mem0", "zep"},
		Benchmarks: []string{"needle"},
	}}
	diff := ValidateSelections(cp, types.Selection{
		Providers:  []string{"zep", "mem0", "mem0"},
		Benchmarks: []string{"needle"},
	})
	assert.True(t, diff.Empty())
}

func TestValidateSelections_FourWayDiff(t *testing.T) {
	// Every mismatch dimension is reported independently
	cp := &types.Checkpoint{Selections: types.Selection{
		Providers:  []string{"mem0"},
		Benchmarks: []string{"needle", "locomo"},
	}}
	diff := ValidateSelections(cp, types.Selection{
		Providers:  []string{"zep"},
		Benchmarks: []string{"needle"},
	})
	assert.False(t, diff.Empty())
	assert.Equal(t, []string{"mem0"}, diff.MissingProviders)
	assert.Equal(t, []string{"zep"}, diff.ExtraProviders)
	assert.Equal(t, []string{"locomo"}, diff.MissingBenchmarks)
	assert.Empty(t, diff.ExtraBenchmarks)
}
