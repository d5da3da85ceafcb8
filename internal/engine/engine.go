// Package engine ties the layers together: plan construction, checkpoint
// lifecycle, run-directory durability, and plan execution, for both fresh
// runs and resumes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/sdamache/memorybench/internal/checkpoint"
	"github.com/sdamache/memorybench/internal/plan"
	"github.com/sdamache/memorybench/internal/registry"
	"github.com/sdamache/memorybench/internal/results"
	"github.com/sdamache/memorybench/internal/runner"
	"github.com/sdamache/memorybench/internal/types"
)

// Options configures one engine instance.
type Options struct {
	RunsDir string
	Retry   runner.RetryPolicy

	// OnPlan, when set, receives the plan before execution starts.
	OnPlan func(types.RunPlan)
	// Progress receives per-entry and per-case display callbacks.
	Progress runner.Progress
	// CLIArgs is recorded verbatim in the run manifest.
	CLIArgs []string
}

// Engine executes selections against a fixed registry.
type Engine struct {
	reg  *registry.Registry
	opts Options
}

func New(reg *registry.Registry, opts Options) *Engine {
	if opts.RunsDir == "" {
		opts.RunsDir = "runs"
	}
	return &Engine{reg: reg, opts: opts}
}

// Run executes a fresh run: plan, checkpoint, manifest, cases, summary.
//
// Expectations:
//   - Selection and construction errors fail before any case executes
//   - The run directory holds manifest, results log, summary, checkpoint
//   - The returned summary matches metrics_summary.json on disk
func (e *Engine) Run(ctx context.Context, sel types.Selection) (types.MetricsSummary, error) {
	p, err := plan.Build(ctx, e.reg, sel, time.Now())
	if err != nil {
		return types.MetricsSummary{}, err
	}
	return e.execute(ctx, p, sel, nil, true)
}

// Resume continues a crashed or cancelled run.
//
// Expectations:
//   - An unknown run ID errors listing available runs, newest first
//   - An invalid checkpoint errors with remediation text
//   - An already-complete run errors
//   - A selection differing from the checkpoint's errors with the diff
//   - Completed case keys are not re-executed; the final summary covers
//     pre-crash and post-resume cases together
func (e *Engine) Resume(ctx context.Context, runID string, sel types.Selection) (types.MetricsSummary, error) {
	cpm := checkpoint.NewManager(e.opts.RunsDir)
	cp, err := cpm.Load(runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		runs, _ := results.ListRuns(e.opts.RunsDir)
		return types.MetricsSummary{}, fmt.Errorf("engine: run %s not found (available: %s)", runID, strings.Join(runs, ", "))
	}
	if err != nil {
		var inv *checkpoint.InvalidError
		if errors.As(err, &inv) {
			return types.MetricsSummary{}, fmt.Errorf("engine: %w; delete %s/%s/checkpoint.json or restore a valid copy to proceed", err, e.opts.RunsDir, runID)
		}
		return types.MetricsSummary{}, err
	}
	if cp.CompletedCount >= cp.TotalCases {
		return types.MetricsSummary{}, fmt.Errorf("engine: run %s is already complete (%d/%d cases)", runID, cp.CompletedCount, cp.TotalCases)
	}
	if diff := checkpoint.ValidateSelections(cp, sel); !diff.Empty() {
		return types.MetricsSummary{}, fmt.Errorf("engine: resume selection does not match run %s: %s", runID, diff)
	}

	p, err := plan.Build(ctx, e.reg, sel, time.Now())
	if err != nil {
		return types.MetricsSummary{}, err
	}
	// The resumed run keeps its identity.
	p.RunID = cp.RunID
	p.Timestamp = cp.CreatedAt

	return e.execute(ctx, p, sel, cp, false)
}

func (e *Engine) execute(ctx context.Context, p types.RunPlan, sel types.Selection, cp *types.Checkpoint, fresh bool) (types.MetricsSummary, error) {
	if e.opts.OnPlan != nil {
		e.opts.OnPlan(p)
	}

	caseCounts, total, err := e.countCases(p)
	if err != nil {
		return types.MetricsSummary{}, err
	}

	cpm := checkpoint.NewManager(e.opts.RunsDir)
	if fresh {
		cp, err = cpm.Create(p.RunID, sel, total)
		if err != nil {
			return types.MetricsSummary{}, err
		}
	}

	writer, err := results.NewWriter(e.opts.RunsDir, p.RunID)
	if err != nil {
		return types.MetricsSummary{}, err
	}
	if fresh {
		if err := writer.WriteManifest(e.buildManifest(p, sel, caseCounts)); err != nil {
			writer.Close()
			return types.MetricsSummary{}, err
		}
	}

	r := runner.New(e.reg, e.opts.Retry, sel.Concurrency, e.opts.Progress)
	runErr := r.Execute(ctx, p, checkpoint.CompletedKeys(cp), &sink{writer: writer, cpm: cpm, cp: cp})

	if err := writer.Close(); err != nil && runErr == nil {
		runErr = err
	}

	records, err := results.ReadResults(e.opts.RunsDir, p.RunID)
	if err != nil {
		if runErr != nil {
			return types.MetricsSummary{}, runErr
		}
		return types.MetricsSummary{}, err
	}
	summary := results.BuildSummary(p.RunID, records, p.SkippedCount)
	if err := writer.WriteSummary(summary); err != nil && runErr == nil {
		runErr = err
	}
	slog.Info("[ENGINE] run finished", "run", p.RunID, "cases", summary.Totals.Cases, "passed", summary.Totals.Passed, "errors", summary.Totals.Errors)
	return summary, runErr
}

// sink wires runner completions into the results log and the checkpoint.
// The result line must be in the log before the checkpoint marks the case
// complete; a crash between the two leaves the case unrecorded, which resume
// re-runs, never a completed case with no result line.
type sink struct {
	writer *results.Writer
	cpm    *checkpoint.Manager
	cp     *types.Checkpoint
}

func (s *sink) CaseCompleted(r types.RunCaseResult) error {
	if err := s.writer.Append(r); err != nil {
		return err
	}
	return s.cpm.RecordCompletion(s.cp, types.CaseKey(r.ProviderName, r.BenchmarkName, r.CaseID), r.Status)
}

// countCases enumerates each eligible benchmark once. An enumeration
// failure here is a construction error and fails the run before the
// executor starts.
func (e *Engine) countCases(p types.RunPlan) (map[string]int, int, error) {
	counts := make(map[string]int)
	total := 0
	for _, entry := range p.Entries {
		if !entry.Eligible {
			continue
		}
		n, ok := counts[entry.BenchmarkName]
		if !ok {
			cases, err := e.reg.Benchmark(entry.BenchmarkName).Benchmark.Cases()
			if err != nil {
				return nil, 0, fmt.Errorf("engine: enumerate %s: %w", entry.BenchmarkName, err)
			}
			n = len(cases)
			counts[entry.BenchmarkName] = n
		}
		total += n
	}
	return counts, total, nil
}

func (e *Engine) buildManifest(p types.RunPlan, sel types.Selection, caseCounts map[string]int) types.RunManifest {
	m := types.RunManifest{
		Version:     1,
		RunID:       p.RunID,
		Timestamp:   p.Timestamp,
		Selections:  sel,
		Environment: captureEnvironment(),
		CLIArgs:     e.opts.CLIArgs,
	}
	m.GitCommit = gitOutput("rev-parse", "HEAD")
	m.GitBranch = gitOutput("rev-parse", "--abbrev-ref", "HEAD")

	seenP := map[string]bool{}
	seenB := map[string]bool{}
	for _, entry := range p.Entries {
		if !seenP[entry.ProviderName] {
			seenP[entry.ProviderName] = true
			pe := e.reg.Provider(entry.ProviderName)
			m.Providers = append(m.Providers, types.ManifestProvider{
				Name:         entry.ProviderName,
				Version:      pe.Version,
				ManifestHash: pe.ManifestHash,
			})
		}
		if !seenB[entry.BenchmarkName] {
			seenB[entry.BenchmarkName] = true
			meta := e.reg.Benchmark(entry.BenchmarkName).Benchmark.Meta()
			m.Benchmarks = append(m.Benchmarks, types.ManifestBenchmark{
				Name:      meta.Name,
				Version:   meta.Version,
				CaseCount: caseCounts[entry.BenchmarkName],
			})
		}
	}
	return m
}

func captureEnvironment() types.Environment {
	host, _ := os.Hostname()
	return types.Environment{
		Runtime:  "go",
		Version:  runtime.Version(),
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Hostname: host,
	}
}

// gitOutput is best-effort provenance capture; failures return empty.
func gitOutput(args ...string) string {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
