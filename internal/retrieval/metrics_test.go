package retrieval

import (
	"math"
	"testing"

	"github.com/sdamache/memorybench/internal/types"
)

func hit(id, content string) types.RetrievalItem {
	return types.RetrievalItem{Record: types.MemoryRecord{ID: id, Context: content}}
}

// ── ExtractID ────────────────────────────────────────────────────────────────

func TestExtractID_SessionHeader(t *testing.T) {
	// A session header in the content wins over the record ID
	got := ExtractID(hit("rec-1", "=== Session: D2 ===\nalice: hi"))
	if got != "D2" {
		t.Errorf("got %q, want D2", got)
	}
}

func TestExtractID_FallsBackToRecordID(t *testing.T) {
	// No header: falls back to record.ID
	got := ExtractID(hit("rec-1", "plain memory content"))
	if got != "rec-1" {
		t.Errorf("got %q, want rec-1", got)
	}
}

func TestExtractIDs_Deduplicates(t *testing.T) {
	// Duplicate IDs are kept once, first occurrence order preserved
	items := []types.RetrievalItem{
		hit("a", "=== Session: D1 ===\n..."),
		hit("b", "=== Session: D2 ===\n..."),
		hit("c", "=== Session: D1 ===\nmore"),
	}
	got := ExtractIDs(items)
	if len(got) != 2 || got[0] != "D1" || got[1] != "D2" {
		t.Errorf("got %v, want [D1 D2]", got)
	}
}

// ── ParseDialogRefs ──────────────────────────────────────────────────────────

func TestParseDialogRefs_StripsLineSuffix(t *testing.T) {
	// "D2:5" yields "D2"
	got := ParseDialogRefs([]string{"D2:5"})
	if len(got) != 1 || got[0] != "D2" {
		t.Errorf("got %v, want [D2]", got)
	}
}

func TestParseDialogRefs_IgnoresNonRefs(t *testing.T) {
	// References without a D<n> prefix are ignored
	got := ParseDialogRefs([]string{"answer text", "D3:1", "x9"})
	if len(got) != 1 || got[0] != "D3" {
		t.Errorf("got %v, want [D3]", got)
	}
}

func TestParseDialogRefs_Deduplicates(t *testing.T) {
	// Repeated references to one dialog yield one ID
	got := ParseDialogRefs([]string{"D2:5", "D2:9", "D4:1"})
	if len(got) != 2 || got[0] != "D2" || got[1] != "D4" {
		t.Errorf("got %v, want [D2 D4]", got)
	}
}

// ── Metrics ──────────────────────────────────────────────────────────────────

func TestMetrics_EmptyRelevantReturnsNil(t *testing.T) {
	// No relevance judgment means the metrics are undefined
	if m := Metrics([]string{"D1"}, nil, 5); m != nil {
		t.Errorf("expected nil, got %v", m)
	}
}

func TestMetrics_PerfectRetrieval(t *testing.T) {
	// All relevant retrieved first: every metric is 1.0
	m := Metrics([]string{"D1", "D2"}, []string{"D1", "D2"}, 5)
	for _, key := range []string{"precision", "recall", "f1", "coverage_at_k", "ndcg_at_k", "map"} {
		if math.Abs(m[key]-1.0) > 1e-9 {
			t.Errorf("%s = %v, want 1.0", key, m[key])
		}
	}
}

func TestMetrics_PrecisionUsesRetrievedCount(t *testing.T) {
	// precision = hits / deduplicated retrieved count
	m := Metrics([]string{"D1", "D9", "D8", "D7"}, []string{"D1"}, 4)
	if math.Abs(m["precision"]-0.25) > 1e-9 {
		t.Errorf("precision = %v, want 0.25", m["precision"])
	}
	if math.Abs(m["recall"]-1.0) > 1e-9 {
		t.Errorf("recall = %v, want 1.0", m["recall"])
	}
}

func TestMetrics_DeduplicatesRetrieved(t *testing.T) {
	// Duplicate retrieved IDs count once
	m := Metrics([]string{"D1", "D1", "D1"}, []string{"D1", "D2"}, 3)
	if math.Abs(m["precision"]-1.0) > 1e-9 {
		t.Errorf("precision = %v, want 1.0 (one deduped hit / one deduped retrieved)", m["precision"])
	}
	if math.Abs(m["recall"]-0.5) > 1e-9 {
		t.Errorf("recall = %v, want 0.5", m["recall"])
	}
}

func TestMetrics_NDCGPosition(t *testing.T) {
	// A single relevant document at rank 2 scores 1/log2(3) against an ideal of 1
	m := Metrics([]string{"D9", "D1"}, []string{"D1"}, 2)
	want := (1.0 / math.Log2(3)) / 1.0
	if math.Abs(m["ndcg_at_k"]-want) > 1e-9 {
		t.Errorf("ndcg = %v, want %v", m["ndcg_at_k"], want)
	}
}

func TestMetrics_MAP(t *testing.T) {
	// AP averages precision at each relevant hit over total relevant
	// Hits at ranks 1 and 3: AP = (1/1 + 2/3) / 2
	m := Metrics([]string{"D1", "D9", "D2"}, []string{"D1", "D2"}, 3)
	want := (1.0 + 2.0/3.0) / 2.0
	if math.Abs(m["map"]-want) > 1e-9 {
		t.Errorf("map = %v, want %v", m["map"], want)
	}
}

func TestMetrics_CoverageLimitedToK(t *testing.T) {
	// coverage@K ignores hits beyond rank K
	m := Metrics([]string{"D9", "D8", "D1"}, []string{"D1"}, 2)
	if m["coverage_at_k"] != 0.0 {
		t.Errorf("coverage = %v, want 0 (hit is at rank 3, k=2)", m["coverage_at_k"])
	}
}
