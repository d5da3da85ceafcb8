// Package protocol implements the evaluation protocols: exact-match textual
// scoring and LLM-as-judge. Both produce correctness and faithfulness in
// [0,1]; the case workflow turns them into a pass/fail/error status.
package protocol

import (
	"context"
	"strings"

	"github.com/sdamache/memorybench/internal/types"
)

// ExactMatch scores generated answers by normalized string comparison with a
// word-overlap fallback.
type ExactMatch struct {
	CaseSensitive       bool
	NormalizeWhitespace bool
	Trim                bool
}

// NewExactMatch creates an ExactMatch with the default normalization
// (case-insensitive, whitespace-normalized, trimmed).
func NewExactMatch() *ExactMatch {
	return &ExactMatch{NormalizeWhitespace: true, Trim: true}
}

// Name implements types.EvaluationProtocol.
func (e *ExactMatch) Name() string { return "exact-match" }

// Evaluate scores one case.
//
// Expectations:
//   - Correctness 1.0 when expected equals generated after normalization
//   - Correctness 0.9 when normalized expected is contained in generated
//   - Otherwise piecewise from Jaccard word similarity:
//     sim >= 0.8 -> 0.7, sim >= 0.5 -> 0.5, sim > 0 -> sim*0.5, else 0
//   - Faithfulness is the max over retrieved contexts of (1.0 when the
//     context contains expected, else similarity)
//   - Emits similarity, isExactMatch, isContained as additional metrics
func (e *ExactMatch) Evaluate(_ context.Context, in types.EvalInput) (types.EvalScores, error) {
	expected := e.normalize(in.Expected)
	generated := e.normalize(in.Generated)

	sim := wordJaccard(expected, generated)
	var correctness float64
	exact := expected != "" && expected == generated
	contained := !exact && expected != "" && strings.Contains(generated, expected)
	switch {
	case exact:
		correctness = 1.0
	case contained:
		correctness = 0.9
	case sim >= 0.8:
		correctness = 0.7
	case sim >= 0.5:
		correctness = 0.5
	case sim > 0:
		correctness = sim * 0.5
	}

	var faithfulness float64
	for _, raw := range in.Retrieved {
		cctx := e.normalize(raw)
		var score float64
		if expected != "" && strings.Contains(cctx, expected) {
			score = 1.0
		} else {
			score = wordJaccard(cctx, expected)
		}
		if score > faithfulness {
			faithfulness = score
		}
	}

	return types.EvalScores{
		Correctness:  correctness,
		Faithfulness: faithfulness,
		Additional: map[string]float64{
			"similarity":   sim,
			"isExactMatch": boolScore(exact),
			"isContained":  boolScore(exact || contained),
		},
	}, nil
}

func (e *ExactMatch) normalize(s string) string {
	if e.Trim {
		s = strings.TrimSpace(s)
	}
	if !e.CaseSensitive {
		s = strings.ToLower(s)
	}
	if e.NormalizeWhitespace {
		s = strings.Join(strings.Fields(s), " ")
	}
	return s
}

func boolScore(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// wordJaccard returns |A ∩ B| / |A ∪ B| over the word sets of a and b.
//
// Expectations:
//   - Identical word sets yield 1.0
//   - Disjoint word sets yield 0.0
//   - Two empty strings yield 0.0
func wordJaccard(a, b string) float64 {
	wa := strings.Fields(a)
	wb := strings.Fields(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 0.0
	}
	setA := make(map[string]bool, len(wa))
	for _, w := range wa {
		setA[w] = true
	}
	setB := make(map[string]bool, len(wb))
	for _, w := range wb {
		setB[w] = true
	}
	var inter int
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}
