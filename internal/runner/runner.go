// Package runner executes a run plan: entries in plan order, cases in
// bounded batches, each case wrapped in the retry policy and a private
// scope. Durability is behind the Sink so the runner stays testable.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sdamache/memorybench/internal/registry"
	"github.com/sdamache/memorybench/internal/types"
)

// Sink receives each finished case exactly once, in a linearization
// consistent with batch completion order. Implementations append to the
// results log and persist the checkpoint; a Sink error is a persistence
// failure and halts the run.
type Sink interface {
	CaseCompleted(r types.RunCaseResult) error
}

// Progress receives optional display callbacks. Nil methods are not
// allowed; use NopProgress when no UI is attached.
type Progress interface {
	EntryStarted(provider, benchmark string, caseCount int)
	CaseFinished(r types.RunCaseResult)
}

// NopProgress discards all callbacks.
type NopProgress struct{}

func (NopProgress) EntryStarted(string, string, int) {}
func (NopProgress) CaseFinished(types.RunCaseResult) {}

// Runner executes plans against a fixed registry.
type Runner struct {
	reg      *registry.Registry
	policy   RetryPolicy
	width    int
	progress Progress
}

func New(reg *registry.Registry, policy RetryPolicy, concurrency int, progress Progress) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if progress == nil {
		progress = NopProgress{}
	}
	return &Runner{reg: reg, policy: policy, width: concurrency, progress: progress}
}

// Execute runs every eligible plan entry.
//
// Expectations:
//   - Entries execute strictly in plan order
//   - At most width cases are in flight at once; each batch completes
//     before the next is dispatched
//   - Case keys present in completed are skipped without re-execution
//   - An entry-level failure (case enumeration) is logged and the runner
//     moves on; it never aborts the run
//   - Cancellation stops dispatch of new batches; in-flight cases finish
//     and are persisted
func (r *Runner) Execute(ctx context.Context, plan types.RunPlan, completed map[string]bool, sink Sink) error {
	for _, entry := range plan.Entries {
		if !entry.Eligible {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.runEntry(ctx, plan.RunID, entry, completed, sink); err != nil {
			if ctx.Err() != nil || isSinkError(err) {
				return err
			}
			slog.Error("[RUNNER] entry failed", "provider", entry.ProviderName, "benchmark", entry.BenchmarkName, "error", err)
		}
	}
	return ctx.Err()
}

// sinkError marks persistence failures so Execute can tell them apart from
// entry-level benchmark failures.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

func isSinkError(err error) bool {
	_, ok := err.(*sinkError)
	return ok
}

func (r *Runner) runEntry(ctx context.Context, runID string, entry types.RunPlanEntry, completed map[string]bool, sink Sink) error {
	pEntry := r.reg.Provider(entry.ProviderName)
	bEntry := r.reg.Benchmark(entry.BenchmarkName)
	if pEntry == nil || bEntry == nil {
		return fmt.Errorf("runner: entry %s/%s not in registry", entry.ProviderName, entry.BenchmarkName)
	}
	provider := pEntry.Provider
	benchmark := bEntry.Benchmark

	cases, err := benchmark.Cases()
	if err != nil {
		return fmt.Errorf("runner: enumerate cases: %w", err)
	}

	pending := cases[:0:0]
	for _, c := range cases {
		if !completed[types.CaseKey(entry.ProviderName, entry.BenchmarkName, c.ID)] {
			pending = append(pending, c)
		}
	}
	r.progress.EntryStarted(entry.ProviderName, entry.BenchmarkName, len(pending))
	slog.Info("[RUNNER] entry started", "provider", entry.ProviderName, "benchmark", entry.BenchmarkName, "cases", len(pending), "skipped_completed", len(cases)-len(pending))

	for start := 0; start < len(pending); start += r.width {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + r.width
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		results := make([]types.RunCaseResult, len(batch))

		var wg sync.WaitGroup
		for i, c := range batch {
			wg.Add(1)
			go func(i int, c types.BenchmarkCase) {
				defer wg.Done()
				results[i] = r.runCase(ctx, runID, entry, provider, benchmark, c)
			}(i, c)
		}
		wg.Wait()

		// Persist in dispatch order so the log and checkpoint linearize at
		// batch boundaries.
		for _, res := range results {
			if err := sink.CaseCompleted(res); err != nil {
				return &sinkError{err: fmt.Errorf("runner: persist case %s: %w", res.CaseID, err)}
			}
			r.progress.CaseFinished(res)
		}
	}
	return nil
}

// runCase wraps one case invocation in scope synthesis and the retry
// policy. The reported duration is the whole invocation including retries.
func (r *Runner) runCase(ctx context.Context, runID string, entry types.RunPlanEntry, provider types.Provider, benchmark types.Benchmark, c types.BenchmarkCase) types.RunCaseResult {
	scope := types.ScopeContext{
		UserID:    "user_" + runID,
		RunID:     runID,
		SessionID: fmt.Sprintf("%s_%s_%s", entry.ProviderName, entry.BenchmarkName, c.ID),
		Namespace: "runner_" + runID,
	}

	start := time.Now()
	result, history, err := r.policy.Do(ctx, func() (types.CaseResult, error) {
		return benchmark.RunCase(ctx, provider, scope, c)
	})
	duration := time.Since(start).Milliseconds()

	if err != nil {
		result = types.CaseResult{
			CaseID: c.ID,
			Status: types.StatusError,
			Scores: map[string]float64{},
			Error:  err.Error(),
		}
		slog.Warn("[RUNNER] case errored", "provider", entry.ProviderName, "benchmark", entry.BenchmarkName, "case", c.ID, "attempts", len(history), "error", err)
	}
	result.DurationMs = duration

	out := types.RunCaseResult{
		CaseResult:    result,
		ProviderName:  entry.ProviderName,
		BenchmarkName: entry.BenchmarkName,
		RetryHistory:  history,
	}
	if timings, ok := result.Artifacts["operation_timings"].(map[string]int64); ok {
		out.OperationTimings = timings
		delete(result.Artifacts, "operation_timings")
	}
	return out
}
