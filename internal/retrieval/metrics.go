// Package retrieval scores retrieved memories against a case's declared
// relevant session/document IDs: precision, recall, F1, coverage@K, nDCG@K,
// and MAP, all computed over deduplicated retrieved IDs.
package retrieval

import (
	"math"
	"regexp"

	"github.com/sdamache/memorybench/internal/types"
)

var (
	sessionHeaderRe = regexp.MustCompile(`=== Session: (\S+) ===`)
	dialogRefRe     = regexp.MustCompile(`^(D\d+)`)
)

// ExtractID derives the retrieval-metric ID for one hit: the session header
// embedded in the content when present, otherwise the record ID.
//
// Expectations:
//   - "=== Session: D2 ===" anywhere in the context yields "D2"
//   - Falls back to record.ID when no header is present
func ExtractID(item types.RetrievalItem) string {
	if m := sessionHeaderRe.FindStringSubmatch(item.Record.Context); m != nil {
		return m[1]
	}
	return item.Record.ID
}

// ExtractIDs maps hits to IDs, deduplicated at first occurrence with order
// preserved.
func ExtractIDs(items []types.RetrievalItem) []string {
	seen := make(map[string]bool, len(items))
	var ids []string
	for _, it := range items {
		id := ExtractID(it)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// ParseDialogRefs extracts relevant document IDs from evidence references of
// the form "D<n>:<line>", deduplicated.
//
// Expectations:
//   - "D2:5" yields "D2"
//   - A bare "D12" yields "D12"
//   - References without a D<n> prefix are ignored
func ParseDialogRefs(evidence []string) []string {
	seen := make(map[string]bool, len(evidence))
	var ids []string
	for _, e := range evidence {
		m := dialogRefRe.FindStringSubmatch(e)
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	}
	return ids
}

// Metrics computes the retrieval metric set for deduplicated retrieved IDs
// against the relevant set. Returns nil when relevant is empty (metrics are
// undefined without a relevance judgment).
//
// Expectations:
//   - precision = |retrieved ∩ relevant| / |retrieved|
//   - recall = |retrieved ∩ relevant| / |relevant|
//   - Each relevant document counts at most once (first occurrence)
//   - coverage_at_k and ndcg_at_k only look at the first k retrieved IDs
//   - Perfect retrieval yields 1.0 across all six metrics
func Metrics(retrieved, relevant []string, k int) map[string]float64 {
	if len(relevant) == 0 {
		return nil
	}
	relSet := make(map[string]bool, len(relevant))
	for _, id := range relevant {
		relSet[id] = true
	}
	retrieved = dedupe(retrieved)
	if k <= 0 || k > len(retrieved) {
		k = len(retrieved)
	}

	var hits int
	var dcg, sumPrec float64
	for i, id := range retrieved {
		if !relSet[id] {
			continue
		}
		hits++
		sumPrec += float64(hits) / float64(i+1)
		if i < k {
			dcg += 1.0 / math.Log2(float64(i)+2)
		}
	}

	var precision, recall, f1 float64
	if len(retrieved) > 0 {
		precision = float64(hits) / float64(len(retrieved))
	}
	recall = float64(hits) / float64(len(relevant))
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	var coverage float64
	topK := retrieved
	if k < len(topK) {
		topK = topK[:k]
	}
	var topHits int
	for _, id := range topK {
		if relSet[id] {
			topHits++
		}
	}
	coverage = float64(topHits) / float64(len(relevant))

	var idcg float64
	ideal := len(relevant)
	if k < ideal {
		ideal = k
	}
	for i := 0; i < ideal; i++ {
		idcg += 1.0 / math.Log2(float64(i)+2)
	}
	var ndcg float64
	if idcg > 0 {
		ndcg = dcg / idcg
	}

	ap := sumPrec / float64(len(relevant))

	return map[string]float64{
		"precision":     precision,
		"recall":        recall,
		"f1":            f1,
		"coverage_at_k": coverage,
		"ndcg_at_k":     ndcg,
		"map":           ap,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
