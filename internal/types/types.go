// Package types holds the shared data model for the evaluation engine:
// scopes, memory records, capabilities, cases, plans, checkpoints, and the
// interfaces the engine consumes from providers and benchmarks.
package types

import "context"

// ScopeContext is the isolation handle passed on every provider call.
// The runner synthesizes a distinct scope per case so providers store
// memories into disjoint keyspaces.
type ScopeContext struct {
	UserID    string `json:"user_id"`
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id"`
	Namespace string `json:"namespace"`
}

// MemoryRecord is one stored memory as reported by a provider.
// Opaque to the engine.
type MemoryRecord struct {
	ID        string         `json:"id"`
	Context   string         `json:"context"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp"` // epoch ms
}

// RetrievalItem is one scored retrieval hit.
type RetrievalItem struct {
	Record       MemoryRecord `json:"record"`
	Score        float64      `json:"score"` // in [0,1]
	MatchContext string       `json:"match_context,omitempty"`
}

// CoreOperations are the operations every valid provider must support.
type CoreOperations struct {
	AddMemory      bool `json:"add_memory"`
	RetrieveMemory bool `json:"retrieve_memory"`
	DeleteMemory   bool `json:"delete_memory"`
}

// OptionalOperations are operations a provider may support.
type OptionalOperations struct {
	UpdateMemory    bool `json:"update_memory"`
	ListMemories    bool `json:"list_memories"`
	ResetScope      bool `json:"reset_scope"`
	GetCapabilities bool `json:"get_capabilities"`
}

// SystemFlags describe provider runtime behavior the engine must honor.
// ConvergenceWaitMs is the delay after writes before reads are expected to
// see them; zero means reads are immediately consistent.
type SystemFlags struct {
	AsyncIndexing     bool  `json:"async_indexing"`
	ConvergenceWaitMs int64 `json:"convergence_wait_ms,omitempty"`
}

// IntelligenceFlags describe provider-side smarts.
type IntelligenceFlags struct {
	AutoExtraction bool `json:"auto_extraction"`
	GraphSupport   bool `json:"graph_support"`
}

// ProviderCapabilities is the full capability declaration of a provider.
type ProviderCapabilities struct {
	CoreOperations     CoreOperations     `json:"core_operations"`
	OptionalOperations OptionalOperations `json:"optional_operations"`
	SystemFlags        SystemFlags        `json:"system_flags"`
	IntelligenceFlags  IntelligenceFlags  `json:"intelligence_flags"`
}

// Valid reports whether all core operations are supported.
func (c ProviderCapabilities) Valid() bool {
	return c.CoreOperations.AddMemory && c.CoreOperations.RetrieveMemory && c.CoreOperations.DeleteMemory
}

// Has reports whether the named capability is declared. Names may be bare
// ("update_memory") or dotted ("optional_operations.update_memory"); bare
// names are searched across all four groups.
//
// Expectations:
//   - Recognizes every boolean field across the four capability groups
//   - Dotted names must match their group; bare names match any group
//   - Returns false for unknown names
func (c ProviderCapabilities) Has(name string) bool {
	flags := map[string]bool{
		"core_operations.add_memory":           c.CoreOperations.AddMemory,
		"core_operations.retrieve_memory":      c.CoreOperations.RetrieveMemory,
		"core_operations.delete_memory":        c.CoreOperations.DeleteMemory,
		"optional_operations.update_memory":    c.OptionalOperations.UpdateMemory,
		"optional_operations.list_memories":    c.OptionalOperations.ListMemories,
		"optional_operations.reset_scope":      c.OptionalOperations.ResetScope,
		"optional_operations.get_capabilities": c.OptionalOperations.GetCapabilities,
		"system_flags.async_indexing":          c.SystemFlags.AsyncIndexing,
		"intelligence_flags.auto_extraction":   c.IntelligenceFlags.AutoExtraction,
		"intelligence_flags.graph_support":     c.IntelligenceFlags.GraphSupport,
	}
	if v, ok := flags[name]; ok {
		return v
	}
	for full, v := range flags {
		if i := lastDot(full); i >= 0 && full[i+1:] == name {
			return v
		}
	}
	return false
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// Provider is the memory-system surface the engine consumes. Optional
// operations live on the optional interfaces below; the engine discovers them
// by type assertion and gates on declared capabilities.
type Provider interface {
	Name() string
	AddMemory(ctx context.Context, scope ScopeContext, content string, metadata map[string]any) (MemoryRecord, error)
	RetrieveMemory(ctx context.Context, scope ScopeContext, query string, limit int) ([]RetrievalItem, error)
	DeleteMemory(ctx context.Context, scope ScopeContext, id string) (bool, error)
	Capabilities(ctx context.Context) (ProviderCapabilities, error)
}

// MemoryUpdater is the optional update_memory operation.
type MemoryUpdater interface {
	UpdateMemory(ctx context.Context, scope ScopeContext, id, content string, metadata map[string]any) (MemoryRecord, error)
}

// MemoryLister is the optional list_memories operation.
type MemoryLister interface {
	ListMemories(ctx context.Context, scope ScopeContext) ([]MemoryRecord, error)
}

// ScopeResetter is the optional reset_scope operation.
type ScopeResetter interface {
	ResetScope(ctx context.Context, scope ScopeContext) error
}

// BenchmarkCase is one unit of work inside a benchmark.
type BenchmarkCase struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	Input       map[string]any `json:"input"`
	Expected    any            `json:"expected"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CaseStatus is the outcome class of one case.
type CaseStatus string

const (
	StatusPass  CaseStatus = "pass"
	StatusFail  CaseStatus = "fail"
	StatusSkip  CaseStatus = "skip"
	StatusError CaseStatus = "error"
)

// CaseResult is the outcome of running one case.
type CaseResult struct {
	CaseID     string             `json:"case_id"`
	Status     CaseStatus         `json:"status"`
	Scores     map[string]float64 `json:"scores"`
	DurationMs int64              `json:"duration_ms"`
	Error      string             `json:"error,omitempty"`
	Artifacts  map[string]any     `json:"artifacts,omitempty"`
}

// BenchmarkMeta describes a benchmark for registries and run manifests.
type BenchmarkMeta struct {
	Name                 string   `json:"name"`
	Version              string   `json:"version"`
	Description          string   `json:"description,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities"`
}

// Benchmark is the benchmark surface the engine consumes. Cases is finite and
// restartable: calling it again re-enumerates the same cases in the same order.
// RunCase returns a non-nil error only for infrastructure failures (provider
// or judge transport); scoring outcomes, including judge-parse failures, are
// expressed in the CaseResult status.
type Benchmark interface {
	Meta() BenchmarkMeta
	Cases() ([]BenchmarkCase, error)
	RunCase(ctx context.Context, provider Provider, scope ScopeContext, c BenchmarkCase) (CaseResult, error)
}

// EvalInput is what an evaluation protocol scores.
type EvalInput struct {
	Question     string
	Expected     string
	Generated    string
	Retrieved    []string
	QuestionType string
}

// EvalScores is what an evaluation protocol produces. Score values are
// clamped into [0,1]. JudgeError marks an unusable judge response; the case
// workflow promotes it to status error.
type EvalScores struct {
	Correctness  float64
	Faithfulness float64
	Reasoning    string
	TypeSpecific map[string]float64
	Additional   map[string]float64
	JudgeError   bool
}

// EvaluationProtocol scores (expected, generated, retrieved) for one case.
type EvaluationProtocol interface {
	Name() string
	Evaluate(ctx context.Context, in EvalInput) (EvalScores, error)
}

// IngestionStrategy turns a case's input record into provider memories and
// returns the IDs of everything it ingested so the case can clean up.
type IngestionStrategy interface {
	Name() string
	Ingest(ctx context.Context, p Provider, scope ScopeContext, item map[string]any) ([]string, error)
}

// AnswerSynthesizer produces an answer from retrieved contexts. The
// llm-as-judge protocol uses an external LLM-backed implementation; other
// protocols fall back to concatenating top contexts.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, contexts []string) (string, error)
}

// SkipReason explains why a plan entry is ineligible.
type SkipReason struct {
	Provider            string   `json:"provider"`
	Benchmark           string   `json:"benchmark"`
	MissingCapabilities []string `json:"missing_capabilities"`
	Message             string   `json:"message"`
}

// RunPlanEntry is one (provider, benchmark) combination in a plan.
type RunPlanEntry struct {
	ProviderName  string      `json:"provider_name"`
	BenchmarkName string      `json:"benchmark_name"`
	Eligible      bool        `json:"eligible"`
	SkipReason    *SkipReason `json:"skip_reason,omitempty"`
}

// RunPlan is the deterministic execution plan for one invocation.
type RunPlan struct {
	RunID         string         `json:"run_id"`
	Timestamp     string         `json:"timestamp"` // ISO-8601
	Entries       []RunPlanEntry `json:"entries"`
	EligibleCount int            `json:"eligible_count"`
	SkippedCount  int            `json:"skipped_count"`
}

// RetryAttempt records one retried attempt inside a case invocation.
// DelayMs is the delay slept before the next attempt.
type RetryAttempt struct {
	Attempt   int    `json:"attempt"`
	Category  string `json:"category"` // "transient" | "permanent"
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	DelayMs   int64  `json:"delay_ms"`
}

// RunCaseResult is a CaseResult in the context of a run.
type RunCaseResult struct {
	CaseResult
	ProviderName     string           `json:"provider_name"`
	BenchmarkName    string           `json:"benchmark_name"`
	OperationTimings map[string]int64 `json:"operation_timings,omitempty"`
	RetryHistory     []RetryAttempt   `json:"retry_history,omitempty"`
}

// Selection is the resolved CLI selection for one invocation.
type Selection struct {
	Providers   []string `json:"providers"`
	Benchmarks  []string `json:"benchmarks"`
	Concurrency int      `json:"concurrency"`
}

// CompletedCase is one finished case inside a checkpoint.
type CompletedCase struct {
	Status      CaseStatus `json:"status"`
	CompletedAt string     `json:"completed_at"`
}

// Checkpoint is the crash-safe progress record for a run.
// Invariant: CompletedCount == len(Completed).
type Checkpoint struct {
	Version        int                      `json:"version"`
	RunID          string                   `json:"run_id"`
	CreatedAt      string                   `json:"created_at"`
	UpdatedAt      string                   `json:"updated_at"`
	Selections     Selection                `json:"selections"`
	Completed      map[string]CompletedCase `json:"completed"`
	TotalCases     int                      `json:"total_cases"`
	CompletedCount int                      `json:"completed_count"`
}

// ManifestProvider is one provider's provenance entry in a run manifest.
type ManifestProvider struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	ManifestHash string `json:"manifest_hash,omitempty"`
}

// ManifestBenchmark is one benchmark's provenance entry in a run manifest.
type ManifestBenchmark struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	CaseCount int    `json:"case_count"`
}

// Environment captures the runtime the run executed under.
type Environment struct {
	Runtime  string `json:"runtime"`
	Version  string `json:"version"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname,omitempty"`
}

// RunManifest is the provenance record written at run start.
type RunManifest struct {
	Version     int                 `json:"version"`
	RunID       string              `json:"run_id"`
	Timestamp   string              `json:"timestamp"`
	GitCommit   string              `json:"git_commit,omitempty"`
	GitBranch   string              `json:"git_branch,omitempty"`
	Selections  Selection           `json:"selections"`
	Providers   []ManifestProvider  `json:"providers"`
	Benchmarks  []ManifestBenchmark `json:"benchmarks"`
	Environment Environment         `json:"environment"`
	CLIArgs     []string            `json:"cli_args"`
}

// StatusCounts tallies case outcomes.
type StatusCounts struct {
	Cases   int `json:"cases"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// CombinationSummary aggregates one (provider, benchmark) combination.
type CombinationSummary struct {
	Provider      string             `json:"provider"`
	Benchmark     string             `json:"benchmark"`
	Counts        StatusCounts       `json:"counts"`
	DurationMs    int64              `json:"duration_ms"`
	ScoreAverages map[string]float64 `json:"score_averages"`
}

// SummaryTotals aggregates the whole run.
type SummaryTotals struct {
	StatusCounts
	DurationMs    int64 `json:"duration_ms"`
	SkippedCombos int   `json:"skipped_combos"`
}

// MetricsSummary is the aggregate record written at run end.
type MetricsSummary struct {
	Version       int                  `json:"version"`
	RunID         string               `json:"run_id"`
	GeneratedAt   string               `json:"generated_at"`
	Totals        SummaryTotals        `json:"totals"`
	ByCombination []CombinationSummary `json:"by_combination"`
}
