package results

import (
	"sort"
	"time"

	"github.com/sdamache/memorybench/internal/types"
)

// BuildSummary aggregates case records into the run summary.
//
// Expectations:
//   - Records group by (provider, benchmark), emitted in lexicographic order
//   - A score average divides only by the records that carry that score key
//   - Totals sum the per-combination counts and durations
//   - skippedCombos counts plan entries gated out before execution
func BuildSummary(runID string, records []types.RunCaseResult, skippedCombos int) types.MetricsSummary {
	type agg struct {
		counts     types.StatusCounts
		durationMs int64
		scoreSums  map[string]float64
		scoreNs    map[string]int
	}
	groups := make(map[[2]string]*agg)
	for _, r := range records {
		key := [2]string{r.ProviderName, r.BenchmarkName}
		a := groups[key]
		if a == nil {
			a = &agg{scoreSums: map[string]float64{}, scoreNs: map[string]int{}}
			groups[key] = a
		}
		a.counts.Cases++
		switch r.Status {
		case types.StatusPass:
			a.counts.Passed++
		case types.StatusFail:
			a.counts.Failed++
		case types.StatusSkip:
			a.counts.Skipped++
		case types.StatusError:
			a.counts.Errors++
		}
		a.durationMs += r.DurationMs
		for k, v := range r.Scores {
			a.scoreSums[k] += v
			a.scoreNs[k]++
		}
	}

	keys := make([][2]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	summary := types.MetricsSummary{
		Version:     1,
		RunID:       runID,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	summary.Totals.SkippedCombos = skippedCombos
	for _, k := range keys {
		a := groups[k]
		avgs := make(map[string]float64, len(a.scoreSums))
		for name, sum := range a.scoreSums {
			avgs[name] = sum / float64(a.scoreNs[name])
		}
		summary.ByCombination = append(summary.ByCombination, types.CombinationSummary{
			Provider:      k[0],
			Benchmark:     k[1],
			Counts:        a.counts,
			DurationMs:    a.durationMs,
			ScoreAverages: avgs,
		})
		summary.Totals.Cases += a.counts.Cases
		summary.Totals.Passed += a.counts.Passed
		summary.Totals.Failed += a.counts.Failed
		summary.Totals.Skipped += a.counts.Skipped
		summary.Totals.Errors += a.counts.Errors
		summary.Totals.DurationMs += a.durationMs
	}
	return summary
}
