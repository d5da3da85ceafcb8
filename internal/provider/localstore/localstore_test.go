package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdamache/memorybench/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func scopeA() types.ScopeContext {
	return types.ScopeContext{UserID: "u1", RunID: "r1", SessionID: "s1", Namespace: "n1"}
}

func scopeB() types.ScopeContext {
	return types.ScopeContext{UserID: "u1", RunID: "r1", SessionID: "s2", Namespace: "n1"}
}

func TestAddRetrieveRoundTrip(t *testing.T) {
	// A stored memory comes back from retrieval with its content and metadata
	s := openStore(t)
	ctx := context.Background()
	rec, err := s.AddMemory(ctx, scopeA(), "the capital of France is Paris", map[string]any{"topic": "geo"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.NotZero(t, rec.Timestamp)

	items, err := s.RetrieveMemory(ctx, scopeA(), "What is the capital of France?", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, rec.ID, items[0].Record.ID)
	assert.Equal(t, "geo", items[0].Record.Metadata["topic"])
	assert.Greater(t, items[0].Score, 0.0)
}

func TestRetrieve_ScopeIsolation(t *testing.T) {
	// A record in one scope is invisible from another
	s := openStore(t)
	ctx := context.Background()
	_, err := s.AddMemory(ctx, scopeA(), "secret fact about cats", nil)
	require.NoError(t, err)

	items, err := s.RetrieveMemory(ctx, scopeB(), "cats", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRetrieve_RankedByOverlap(t *testing.T) {
	// More query-term overlap ranks higher; zero overlap is excluded
	s := openStore(t)
	ctx := context.Background()
	_, err := s.AddMemory(ctx, scopeA(), "paris is in france", nil)
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, scopeA(), "paris", nil)
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, scopeA(), "unrelated content", nil)
	require.NoError(t, err)

	items, err := s.RetrieveMemory(ctx, scopeA(), "paris france", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "paris is in france", items[0].Record.Context)
	assert.Equal(t, 1.0, items[0].Score)
	assert.Equal(t, 0.5, items[1].Score)
}

func TestRetrieve_LimitApplies(t *testing.T) {
	// No more than limit items come back
	s := openStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.AddMemory(ctx, scopeA(), "shared topic words", nil)
		require.NoError(t, err)
	}
	items, err := s.RetrieveMemory(ctx, scopeA(), "topic", 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestDelete(t *testing.T) {
	// Deleting reports whether the record existed
	s := openStore(t)
	ctx := context.Background()
	rec, err := s.AddMemory(ctx, scopeA(), "to be removed", nil)
	require.NoError(t, err)

	ok, err := s.DeleteMemory(ctx, scopeA(), rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteMemory(ctx, scopeA(), rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	items, err := s.RetrieveMemory(ctx, scopeA(), "removed", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListAndReset(t *testing.T) {
	// ListMemories sees the scope's records; ResetScope clears them all
	s := openStore(t)
	ctx := context.Background()
	_, err := s.AddMemory(ctx, scopeA(), "one", nil)
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, scopeA(), "two", nil)
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, scopeB(), "other scope", nil)
	require.NoError(t, err)

	records, err := s.ListMemories(ctx, scopeA())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, s.ResetScope(ctx, scopeA()))
	records, err = s.ListMemories(ctx, scopeA())
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = s.ListMemories(ctx, scopeB())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCapabilities(t *testing.T) {
	// All core operations plus list/reset are declared; no async indexing
	s := openStore(t)
	caps, err := s.Capabilities(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.Valid())
	assert.True(t, caps.Has("list_memories"))
	assert.True(t, caps.Has("reset_scope"))
	assert.False(t, caps.SystemFlags.AsyncIndexing)
	assert.Zero(t, caps.SystemFlags.ConvergenceWaitMs)
}

func TestScopeWithSeparatorCharacters(t *testing.T) {
	// "|" in scope parts cannot leak records across scopes
	s := openStore(t)
	ctx := context.Background()
	tricky := types.ScopeContext{UserID: "u|1", RunID: "r1", SessionID: "s1", Namespace: "n1"}
	_, err := s.AddMemory(ctx, tricky, "tricky content", nil)
	require.NoError(t, err)

	items, err := s.RetrieveMemory(ctx, tricky, "tricky", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
