// Package plan resolves a selection of providers and benchmarks into a
// deterministic execution plan. Planning is pure resolution and gating; no
// case runs here.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sdamache/memorybench/internal/registry"
	"github.com/sdamache/memorybench/internal/types"
)

// NewRunID mints a unique run identifier: a compact UTC timestamp plus a
// short random suffix, filesystem-safe and sortable by start time.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// Build resolves the selection against the registry and produces the plan.
//
// Expectations:
//   - An empty provider or benchmark selection fails with the known names
//     listed; expanding "all" is the caller's job
//   - Unknown provider or benchmark names fail with the known names listed
//   - Entries are ordered by provider then benchmark, lexicographically
//   - A provider missing a required capability yields an ineligible entry
//     with the missing capabilities named, never an error
//   - The plan is deterministic apart from run_id and timestamp
func Build(ctx context.Context, reg *registry.Registry, sel types.Selection, now time.Time) (types.RunPlan, error) {
	providers, err := resolveNames(sel.Providers, reg.ProviderNames(), "provider")
	if err != nil {
		return types.RunPlan{}, err
	}
	benchmarks, err := resolveNames(sel.Benchmarks, reg.BenchmarkNames(), "benchmark")
	if err != nil {
		return types.RunPlan{}, err
	}

	plan := types.RunPlan{
		RunID:     NewRunID(now),
		Timestamp: now.UTC().Format(time.RFC3339),
	}

	// One capability fetch per provider, not per combination.
	caps := make(map[string]types.ProviderCapabilities, len(providers))
	capErrs := make(map[string]error, len(providers))
	for _, p := range providers {
		c, err := reg.Provider(p).Provider.Capabilities(ctx)
		if err != nil {
			capErrs[p] = err
			continue
		}
		caps[p] = c
	}

	for _, p := range providers {
		for _, b := range benchmarks {
			entry := types.RunPlanEntry{ProviderName: p, BenchmarkName: b}
			if err := capErrs[p]; err != nil {
				entry.SkipReason = &types.SkipReason{
					Provider:  p,
					Benchmark: b,
					Message:   fmt.Sprintf("Provider '%s' capability query failed: %v", p, err),
				}
			} else if missing := missingCapabilities(caps[p], reg.Benchmark(b).Benchmark.Meta().RequiredCapabilities); len(missing) > 0 {
				entry.SkipReason = &types.SkipReason{
					Provider:            p,
					Benchmark:           b,
					MissingCapabilities: missing,
					Message:             fmt.Sprintf("Provider '%s' lacks required capability: %s", p, strings.Join(missing, ", ")),
				}
			} else {
				entry.Eligible = true
			}
			if entry.Eligible {
				plan.EligibleCount++
			} else {
				plan.SkippedCount++
				slog.Info("[PLAN] combination skipped", "provider", p, "benchmark", b, "reason", entry.SkipReason.Message)
			}
			plan.Entries = append(plan.Entries, entry)
		}
	}
	return plan, nil
}

// resolveNames validates an explicit selection, deduplicated and sorted.
// An empty selection is a selection error; it never defaults to everything.
func resolveNames(selected, known []string, kind string) ([]string, error) {
	if len(selected) == 0 {
		return nil, fmt.Errorf("plan: empty %s selection (known: %s)", kind, strings.Join(known, ", "))
	}
	knownSet := make(map[string]bool, len(known))
	for _, n := range known {
		knownSet[n] = true
	}
	seen := make(map[string]bool, len(selected))
	var out []string
	for _, n := range selected {
		if !knownSet[n] {
			return nil, fmt.Errorf("plan: unknown %s %q (known: %s)", kind, n, strings.Join(known, ", "))
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// missingCapabilities returns the benchmark requirements the provider does
// not declare. Core operations are implicitly required by every benchmark.
func missingCapabilities(caps types.ProviderCapabilities, required []string) []string {
	var missing []string
	if !caps.CoreOperations.AddMemory {
		missing = append(missing, "core_operations.add_memory")
	}
	if !caps.CoreOperations.RetrieveMemory {
		missing = append(missing, "core_operations.retrieve_memory")
	}
	if !caps.CoreOperations.DeleteMemory {
		missing = append(missing, "core_operations.delete_memory")
	}
	for _, r := range required {
		if !caps.Has(r) && !coveredByCore(missing, r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// coveredByCore keeps a core operation from being reported twice when a
// benchmark also names it explicitly.
func coveredByCore(missing []string, name string) bool {
	for _, m := range missing {
		if m == name || strings.HasSuffix(m, "."+name) {
			return true
		}
	}
	return false
}
