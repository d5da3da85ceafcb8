// Package localstore is the built-in reference provider backed by LevelDB.
// It implements the full provider surface with scope-prefixed keys, so the
// engine can run end to end without any external memory service.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/sdamache/memorybench/internal/types"
)

// LevelDB key scheme, "|" as separator, scope parts sanitized so keys parse
// unambiguously.
//
//	r|<user>|<run>|<session>|<namespace>|<id> → MemoryRecord JSON
const prefixRecord = "r|"

// Store is the LevelDB-backed reference provider.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) the LevelDB database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Name() string { return "localstore" }

// AddMemory implements types.Provider. Writes are synchronous; reads see
// them immediately, so no convergence wait is declared.
func (s *Store) AddMemory(_ context.Context, scope types.ScopeContext, content string, metadata map[string]any) (types.MemoryRecord, error) {
	rec := types.MemoryRecord{
		ID:        uuid.New().String(),
		Context:   content,
		Metadata:  metadata,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return types.MemoryRecord{}, fmt.Errorf("localstore: marshal record: %w", err)
	}
	if err := s.db.Put([]byte(recordKey(scope, rec.ID)), data, nil); err != nil {
		return types.MemoryRecord{}, fmt.Errorf("localstore: put record: %w", err)
	}
	return rec, nil
}

// RetrieveMemory implements types.Provider with term-overlap scoring over
// the scope's records.
//
// Expectations:
//   - Only records in the given scope are candidates
//   - Score is the fraction of query terms present in the record content
//   - Zero-score records are not returned
//   - Results sort by score descending, newest first on ties, capped at limit
func (s *Store) RetrieveMemory(_ context.Context, scope types.ScopeContext, query string, limit int) ([]types.RetrievalItem, error) {
	terms := tokenize(query)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(scopePrefix(scope))), nil)
	defer iter.Release()

	var items []types.RetrievalItem
	for iter.Next() {
		var rec types.MemoryRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		score := overlapScore(terms, rec.Context)
		if score <= 0 {
			continue
		}
		items = append(items, types.RetrievalItem{Record: rec, Score: score})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("localstore: scan scope: %w", err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Record.Timestamp > items[j].Record.Timestamp
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// DeleteMemory implements types.Provider.
func (s *Store) DeleteMemory(_ context.Context, scope types.ScopeContext, id string) (bool, error) {
	key := []byte(recordKey(scope, id))
	if _, err := s.db.Get(key, nil); err == leveldb.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("localstore: get record: %w", err)
	}
	if err := s.db.Delete(key, nil); err != nil {
		return false, fmt.Errorf("localstore: delete record: %w", err)
	}
	return true, nil
}

// ListMemories implements types.MemoryLister.
func (s *Store) ListMemories(_ context.Context, scope types.ScopeContext) ([]types.MemoryRecord, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(scopePrefix(scope))), nil)
	defer iter.Release()

	var records []types.MemoryRecord
	for iter.Next() {
		var rec types.MemoryRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("localstore: scan scope: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })
	return records, nil
}

// ResetScope implements types.ScopeResetter, deleting every record in the
// scope in one batch.
func (s *Store) ResetScope(_ context.Context, scope types.ScopeContext) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(scopePrefix(scope))), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("localstore: scan scope: %w", err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("localstore: reset scope: %w", err)
	}
	return nil
}

// Capabilities implements types.Provider.
func (s *Store) Capabilities(context.Context) (types.ProviderCapabilities, error) {
	return types.ProviderCapabilities{
		CoreOperations: types.CoreOperations{
			AddMemory:      true,
			RetrieveMemory: true,
			DeleteMemory:   true,
		},
		OptionalOperations: types.OptionalOperations{
			ListMemories:    true,
			ResetScope:      true,
			GetCapabilities: true,
		},
	}, nil
}

// ---------------------------------------------------------------------------
// Key helpers
// ---------------------------------------------------------------------------

func scopePrefix(scope types.ScopeContext) string {
	return prefixRecord +
		safeKeyPart(scope.UserID) + "|" +
		safeKeyPart(scope.RunID) + "|" +
		safeKeyPart(scope.SessionID) + "|" +
		safeKeyPart(scope.Namespace) + "|"
}

func recordKey(scope types.ScopeContext, id string) string {
	return scopePrefix(scope) + id
}

// safeKeyPart replaces "|" with "_" so keys parse unambiguously.
func safeKeyPart(s string) string {
	return strings.ReplaceAll(s, "|", "_")
}

// ---------------------------------------------------------------------------
// Scoring
// ---------------------------------------------------------------------------

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

// overlapScore is the fraction of query terms found in the content.
func overlapScore(queryTerms []string, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, t := range tokenize(content) {
		present[t] = true
	}
	matched := 0
	for _, t := range queryTerms {
		if present[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}
