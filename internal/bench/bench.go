// Package bench builds runnable benchmarks from manifests. A built benchmark
// owns its data file, ingestion strategy, evaluation protocol, and the
// per-case workflow: ingest -> retrieve -> synthesize -> evaluate -> score
// retrieval -> decide status -> cleanup.
package bench

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sdamache/memorybench/internal/manifest"
	"github.com/sdamache/memorybench/internal/protocol"
	"github.com/sdamache/memorybench/internal/retrieval"
	"github.com/sdamache/memorybench/internal/types"
)

// synthTopK is how many retrieved contexts the synthesizer sees; concatTopN
// is how many are concatenated when no synthesizer is in play.
const (
	synthTopK  = 10
	concatTopN = 3
)

// Options wires the external collaborators a benchmark may need.
type Options struct {
	// Judge is required when the manifest's evaluation protocol is
	// llm-as-judge; it also backs the answer synthesizer.
	Judge protocol.Completer
	// Synthesizer overrides the default LLM synthesizer (tests use this).
	Synthesizer types.AnswerSynthesizer
}

// Bench is a manifest-driven benchmark.
type Bench struct {
	m           *manifest.Manifest
	dataPath    string
	ingest      types.IngestionStrategy
	protocol    types.EvaluationProtocol
	synthesizer types.AnswerSynthesizer
	passCorr    float64
	passFaith   float64
}

// New builds a Bench from a validated manifest. baseDir anchors the
// manifest's relative data_file path. Construction fails for unimplemented
// strategy/protocol tags, an unreadable data file, or a missing judge.
//
// Expectations:
//   - add-delete-verify ingestion is a fatal construction error
//   - deletion-check evaluation is a fatal construction error
//   - A missing or unreadable data file fails construction
//   - llm-as-judge without a judge client fails construction
func New(m *manifest.Manifest, baseDir string, opts Options) (*Bench, error) {
	dataPath := m.DataFile
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(baseDir, dataPath)
	}
	if _, err := os.Stat(dataPath); err != nil {
		return nil, fmt.Errorf("bench: %s: data file: %w", m.Name, err)
	}

	b := &Bench{m: m, dataPath: dataPath}
	b.passCorr, b.passFaith = m.PassThresholds()

	switch m.Ingestion.Strategy {
	case manifest.StrategySimple:
		b.ingest = newSimpleStrategy(m.Ingestion)
	case manifest.StrategySessionBased:
		b.ingest = newSessionStrategy(m.Ingestion)
	case manifest.StrategyAddDeleteVerify:
		return nil, fmt.Errorf("bench: %s: ingestion strategy %q is declared but not implemented", m.Name, m.Ingestion.Strategy)
	}

	switch m.Evaluation.Protocol {
	case manifest.ProtocolExactMatch:
		em := protocol.NewExactMatch()
		em.CaseSensitive = m.Evaluation.CaseSensitive
		if m.Evaluation.NormalizeWhitespace != nil {
			em.NormalizeWhitespace = *m.Evaluation.NormalizeWhitespace
		}
		if m.Evaluation.Trim != nil {
			em.Trim = *m.Evaluation.Trim
		}
		b.protocol = em
	case manifest.ProtocolLLMAsJudge:
		if opts.Judge == nil {
			return nil, fmt.Errorf("bench: %s: llm-as-judge requires a judge client", m.Name)
		}
		instructions := m.Evaluation.InstructionsFile
		if instructions != "" && !filepath.IsAbs(instructions) {
			instructions = filepath.Join(baseDir, instructions)
		}
		j, err := protocol.NewJudge(opts.Judge, instructions)
		if err != nil {
			return nil, fmt.Errorf("bench: %s: %w", m.Name, err)
		}
		b.protocol = j
		if opts.Synthesizer != nil {
			b.synthesizer = opts.Synthesizer
		} else {
			b.synthesizer = protocol.NewLLMSynthesizer(opts.Judge)
		}
	case manifest.ProtocolDeletionCheck:
		return nil, fmt.Errorf("bench: %s: evaluation protocol %q is declared but not implemented", m.Name, m.Evaluation.Protocol)
	}

	return b, nil
}

// Meta implements types.Benchmark.
func (b *Bench) Meta() types.BenchmarkMeta {
	return types.BenchmarkMeta{
		Name:                 b.m.Name,
		Version:              b.m.Version,
		Description:          b.m.Description,
		RequiredCapabilities: b.m.RequiredCapabilities,
	}
}

// Cases implements types.Benchmark. Enumeration is restartable: each call
// reloads the data file and applies the same flatten expansion, yielding the
// same cases in the same order.
func (b *Bench) Cases() ([]types.BenchmarkCase, error) {
	records, err := loadRecords(b.dataPath)
	if err != nil {
		return nil, fmt.Errorf("bench: %s: %w", b.m.Name, err)
	}
	return buildCases(records, b.m)
}

// RunCase implements types.Benchmark. Ingested records are deleted on every
// exit path; cleanup errors are swallowed and never mask the case result.
func (b *Bench) RunCase(ctx context.Context, p types.Provider, scope types.ScopeContext, c types.BenchmarkCase) (result types.CaseResult, err error) {
	timings := make(map[string]int64)
	result = types.CaseResult{CaseID: c.ID, Scores: map[string]float64{}}

	// 1. Ingest.
	start := time.Now()
	ingested, err := b.ingest.Ingest(ctx, p, scope, c.Input)
	timings["ingest_ms"] = time.Since(start).Milliseconds()
	defer func() {
		for _, id := range ingested {
			if _, derr := p.DeleteMemory(ctx, scope, id); derr != nil {
				slog.Debug("[BENCH] cleanup delete failed", "case", c.ID, "record", id, "error", derr)
			}
		}
	}()
	if err != nil {
		return result, fmt.Errorf("bench: %s: case %s: ingest: %w", b.m.Name, c.ID, err)
	}

	question := stringField(c.Input, b.m.Query.QuestionField)
	expected := stringField(c.Input, b.m.Query.ExpectedAnswerField)

	// 2. Retrieve.
	start = time.Now()
	items, err := p.RetrieveMemory(ctx, scope, question, b.m.Query.RetrievalLimit)
	timings["retrieve_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		return result, fmt.Errorf("bench: %s: case %s: retrieve: %w", b.m.Name, c.ID, err)
	}
	contexts := make([]string, 0, len(items))
	for _, it := range items {
		contexts = append(contexts, it.Record.Context)
	}

	// 3. Synthesize the answer surface.
	start = time.Now()
	var generated string
	if b.synthesizer != nil {
		topK := contexts
		if len(topK) > synthTopK {
			topK = topK[:synthTopK]
		}
		generated, err = b.synthesizer.Synthesize(ctx, question, topK)
		if err != nil {
			return result, fmt.Errorf("bench: %s: case %s: synthesize: %w", b.m.Name, c.ID, err)
		}
	} else {
		topN := contexts
		if len(topN) > concatTopN {
			topN = topN[:concatTopN]
		}
		generated = strings.Join(topN, "\n")
	}
	timings["synthesize_ms"] = time.Since(start).Milliseconds()

	// 4. Evaluate.
	start = time.Now()
	scores, err := b.protocol.Evaluate(ctx, types.EvalInput{
		Question:     question,
		Expected:     expected,
		Generated:    generated,
		Retrieved:    contexts,
		QuestionType: stringField(c.Input, b.m.Evaluation.QuestionTypeField),
	})
	timings["evaluate_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		return result, fmt.Errorf("bench: %s: case %s: evaluate: %w", b.m.Name, c.ID, err)
	}

	result.Scores["correctness"] = scores.Correctness
	result.Scores["faithfulness"] = scores.Faithfulness
	for k, v := range scores.TypeSpecific {
		result.Scores[k] = v
	}
	for k, v := range scores.Additional {
		result.Scores[k] = v
	}

	// 5. Retrieval metrics when the case declares relevant IDs.
	if relevant := b.relevantIDs(c.Input); len(relevant) > 0 {
		retrievedIDs := retrieval.ExtractIDs(items)
		for k, v := range retrieval.Metrics(retrievedIDs, relevant, b.m.Query.RetrievalLimit) {
			result.Scores[k] = v
		}
		result.Artifacts = map[string]any{"retrieved_ids": retrievedIDs, "relevant_ids": relevant}
	}

	// 6. Decide status.
	switch {
	case scores.JudgeError:
		result.Status = types.StatusError
		result.Error = "judge returned an unusable verdict"
	case scores.Correctness >= b.passCorr && scores.Faithfulness >= b.passFaith:
		result.Status = types.StatusPass
	default:
		result.Status = types.StatusFail
	}
	if result.Artifacts == nil {
		result.Artifacts = map[string]any{}
	}
	result.Artifacts["generated"] = generated
	if scores.Reasoning != "" {
		result.Artifacts["reasoning"] = scores.Reasoning
	}
	result.Artifacts["operation_timings"] = timings

	return result, nil
}

// relevantIDs derives the case's relevant session/document IDs: an explicit
// answer-sessions field when configured, else evidence references parsed as
// dialog refs.
func (b *Bench) relevantIDs(input map[string]any) []string {
	ing := b.m.Ingestion
	if ing.AnswerSessionsField != "" {
		if ids := sessionIDList(input[ing.AnswerSessionsField]); len(ids) > 0 {
			return ids
		}
	}
	if ing.EvidenceField != "" && ing.EvidenceParser == "dialog_refs" {
		return retrieval.ParseDialogRefs(stringList(input[ing.EvidenceField]))
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if key == "" {
		return ""
	}
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// stringList coerces a JSON value into a string slice.
func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		out = append(out, fmt.Sprintf("%v", e))
	}
	return out
}

// sessionIDList coerces answer-session references into session IDs.
// Numeric entries are 1-based session indices ("2" -> "D2").
func sessionIDList(v any) []string {
	var out []string
	for _, s := range stringList(v) {
		if s == "" {
			continue
		}
		if isDigits(s) {
			out = append(out, "D"+s)
		} else {
			out = append(out, s)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
