package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sdamache/memorybench/internal/llm"
	"github.com/sdamache/memorybench/internal/types"
)

const judgeSystemPrompt = `You are an impartial judge scoring a memory system's answer to a question.

You receive the question, the expected answer, the generated answer, and the memory contexts that were retrieved. Score:

- correctness: how well the generated answer matches the expected answer, 0.0 to 1.0. Semantic equivalence counts; extra detail does not hurt.
- faithfulness: how well the generated answer is grounded in the retrieved contexts, 0.0 to 1.0. An answer of "I don't have enough information" (or any refusal to answer) scores faithfulness 0.0 — the contexts were retrieved precisely so they could be used.
- reasoning: one or two sentences explaining the scores.

Output a single bare JSON object and nothing else:
{"correctness": 0.0, "faithfulness": 0.0, "reasoning": "...", "type_specific": {}}

No markdown, no prose, no code fences.`

// Completer is the chat surface the judge and synthesizer call. *llm.Client
// satisfies it.
type Completer interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

// Judge is the llm-as-judge evaluation protocol.
type Judge struct {
	client       Completer
	instructions map[string]string // question type -> extra rubric text
}

// NewJudge creates a Judge. instructionsFile, when non-empty, is a JSON map
// of question type to type-specific rubric text appended to the prompt;
// an unreadable file is a construction error.
func NewJudge(client Completer, instructionsFile string) (*Judge, error) {
	j := &Judge{client: client}
	if instructionsFile != "" {
		raw, err := os.ReadFile(instructionsFile)
		if err != nil {
			return nil, fmt.Errorf("protocol: read judge instructions %s: %w", instructionsFile, err)
		}
		if err := json.Unmarshal(raw, &j.instructions); err != nil {
			return nil, fmt.Errorf("protocol: parse judge instructions %s: %w", instructionsFile, err)
		}
	}
	return j, nil
}

// Name implements types.EvaluationProtocol.
func (j *Judge) Name() string { return "llm-as-judge" }

type judgeVerdict struct {
	Correctness  float64            `json:"correctness"`
	Faithfulness float64            `json:"faithfulness"`
	Reasoning    string             `json:"reasoning"`
	TypeSpecific map[string]float64 `json:"type_specific,omitempty"`
}

// Evaluate renders the judge prompt, calls the judge, and parses the verdict.
// Transport errors propagate (the retry layer classifies them); unparseable
// or empty responses yield zero scores with judge_error=1.
//
// Expectations:
//   - All verdict scores are clamped into [0,1]
//   - Type-specific instructions are included when the question type has an entry
//   - Parse failure or empty response sets JudgeError and judge_error=1
func (j *Judge) Evaluate(ctx context.Context, in types.EvalInput) (types.EvalScores, error) {
	raw, _, err := j.client.Chat(ctx, judgeSystemPrompt, j.renderPrompt(in))
	if err != nil {
		return types.EvalScores{}, fmt.Errorf("protocol: judge call: %w", err)
	}

	cleaned := llm.StripFences(raw)
	var v judgeVerdict
	if cleaned == "" || json.Unmarshal([]byte(cleaned), &v) != nil {
		slog.Warn("[JUDGE] unparseable verdict", "response_len", len(raw))
		return types.EvalScores{
			JudgeError: true,
			Additional: map[string]float64{"judge_error": 1},
		}, nil
	}

	scores := types.EvalScores{
		Correctness:  clamp01(v.Correctness),
		Faithfulness: clamp01(v.Faithfulness),
		Reasoning:    v.Reasoning,
	}
	if len(v.TypeSpecific) > 0 {
		scores.TypeSpecific = make(map[string]float64, len(v.TypeSpecific))
		for k, s := range v.TypeSpecific {
			scores.TypeSpecific[k] = clamp01(s)
		}
	}
	return scores, nil
}

func (j *Judge) renderPrompt(in types.EvalInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExpected answer: %s\n\nGenerated answer: %s\n\n", in.Question, in.Expected, in.Generated)
	b.WriteString("Retrieved contexts:\n")
	if len(in.Retrieved) == 0 {
		b.WriteString("(none)\n")
	}
	for i, c := range in.Retrieved {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
	}
	if extra, ok := j.instructions[in.QuestionType]; ok && extra != "" {
		fmt.Fprintf(&b, "\nType-specific instructions (%s): %s\n", in.QuestionType, extra)
	}
	return b.String()
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// LLMSynthesizer answers questions from retrieved contexts with one LLM call.
// It is the AnswerSynthesizer the llm-as-judge protocol pairs with.
type LLMSynthesizer struct {
	client Completer
}

const synthSystemPrompt = `You answer questions using only the memory contexts provided. Be concise and direct. If the contexts contain the answer, state it plainly; do not pad with caveats. If they genuinely do not contain the answer, say "I don't have enough information".`

// NewLLMSynthesizer creates an LLMSynthesizer.
func NewLLMSynthesizer(client Completer) *LLMSynthesizer {
	return &LLMSynthesizer{client: client}
}

// Synthesize implements types.AnswerSynthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, question string, contexts []string) (string, error) {
	var b strings.Builder
	b.WriteString("Contexts:\n")
	for i, c := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	answer, _, err := s.client.Chat(ctx, synthSystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("protocol: synthesize: %w", err)
	}
	return strings.TrimSpace(llm.StripThinkBlocks(answer)), nil
}
