package bench

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sdamache/memorybench/internal/manifest"
	"github.com/sdamache/memorybench/internal/retrieval"
	"github.com/sdamache/memorybench/internal/types"
)

// simpleStrategy posts the content field (or each of its elements) as one
// memory each.
type simpleStrategy struct {
	cfg manifest.Ingestion
}

func newSimpleStrategy(cfg manifest.Ingestion) *simpleStrategy {
	return &simpleStrategy{cfg: cfg}
}

func (s *simpleStrategy) Name() string { return manifest.StrategySimple }

// Ingest implements types.IngestionStrategy.
//
// Expectations:
//   - A scalar content field becomes one memory
//   - With is_array, each element becomes its own memory
//   - Metadata carries only the configured metadata_fields subset
func (s *simpleStrategy) Ingest(ctx context.Context, p types.Provider, scope types.ScopeContext, item map[string]any) ([]string, error) {
	var contents []string
	raw := item[s.cfg.ContentField]
	if s.cfg.IsArray {
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("ingest: content field %q is not an array", s.cfg.ContentField)
		}
		for _, e := range arr {
			contents = append(contents, fmt.Sprintf("%v", e))
		}
	} else {
		contents = append(contents, fmt.Sprintf("%v", raw))
	}

	var metadata map[string]any
	if len(s.cfg.MetadataFields) > 0 {
		metadata = make(map[string]any, len(s.cfg.MetadataFields))
		for _, f := range s.cfg.MetadataFields {
			if v, ok := item[f]; ok {
				metadata[f] = v
			}
		}
	}

	var ids []string
	for _, content := range contents {
		rec, err := p.AddMemory(ctx, scope, content, metadata)
		if err != nil {
			return ids, fmt.Errorf("ingest: add memory: %w", err)
		}
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// session is one conversation session extracted from a case record.
type session struct {
	ID        string
	Date      string
	Turns     []any
	HasAnswer bool
}

// sessionStrategy ingests conversation sessions as transcript memories.
// Which sessions get ingested is the mode's choice: lazy takes only the
// answer sessions, shared adds a distributed sample, full takes everything.
type sessionStrategy struct {
	cfg manifest.Ingestion
}

func newSessionStrategy(cfg manifest.Ingestion) *sessionStrategy {
	return &sessionStrategy{cfg: cfg}
}

func (s *sessionStrategy) Name() string { return manifest.StrategySessionBased }

// Ingest implements types.IngestionStrategy.
//
// Expectations:
//   - lazy ingests only answer sessions, falling back to the first session
//   - shared ingests answer sessions plus an evenly spaced sample of size
//     max(shared_sample_size - |answer|, 5)
//   - full ingests every session
//   - Honors the provider's convergence_wait_ms after all writes
func (s *sessionStrategy) Ingest(ctx context.Context, p types.Provider, scope types.ScopeContext, item map[string]any) ([]string, error) {
	sessions, err := s.extractSessions(item)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	s.markAnswerSessions(sessions, item)

	selected := s.selectSessions(sessions)
	speakerA := ""
	if s.cfg.SpeakerAField != "" {
		speakerA = strings.TrimSpace(fmt.Sprintf("%v", item[s.cfg.SpeakerAField]))
	}

	var ids []string
	for _, sess := range selected {
		content := formatTranscript(sess, speakerA)
		rec, err := p.AddMemory(ctx, scope, content, map[string]any{"session_id": sess.ID})
		if err != nil {
			return ids, fmt.Errorf("ingest: add session %s: %w", sess.ID, err)
		}
		ids = append(ids, rec.ID)
	}

	// Async-indexing providers need their declared settle time before the
	// case's retrieval can see these writes.
	if caps, err := p.Capabilities(ctx); err == nil && caps.SystemFlags.ConvergenceWaitMs > 0 {
		select {
		case <-time.After(time.Duration(caps.SystemFlags.ConvergenceWaitMs) * time.Millisecond):
		case <-ctx.Done():
			return ids, ctx.Err()
		}
	}
	return ids, nil
}

// extractSessions pulls the session list out of the record for either
// format. Session IDs are "D<n>" with n the 1-based position (dynamic keys
// sort numerically), unless an array-format session declares its own id.
func (s *sessionStrategy) extractSessions(item map[string]any) ([]*session, error) {
	switch s.cfg.SessionsFormat {
	case manifest.SessionsFormatArray:
		raw, ok := item[s.cfg.SessionsField].([]any)
		if !ok {
			return nil, fmt.Errorf("ingest: sessions field %q is not an array", s.cfg.SessionsField)
		}
		var sessions []*session
		for i, e := range raw {
			sess := &session{ID: fmt.Sprintf("D%d", i+1)}
			switch v := e.(type) {
			case []any:
				sess.Turns = v
			case map[string]any:
				if id, ok := v["id"].(string); ok && id != "" {
					sess.ID = id
				}
				if d, ok := v["date"].(string); ok {
					sess.Date = d
				}
				if turns, ok := v["turns"].([]any); ok {
					sess.Turns = turns
				}
			default:
				return nil, fmt.Errorf("ingest: session %d has unsupported shape", i+1)
			}
			sessions = append(sessions, sess)
		}
		return sessions, nil

	case manifest.SessionsFormatDynamicKeys:
		prefix := s.cfg.SessionKeyPrefix
		var nums []int
		for key := range item {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if s.cfg.DateKeySuffix != "" && strings.HasSuffix(key, s.cfg.DateKeySuffix) {
				continue
			}
			n, err := strconv.Atoi(key[len(prefix):])
			if err != nil {
				continue
			}
			nums = append(nums, n)
		}
		sort.Ints(nums)
		var sessions []*session
		for _, n := range nums {
			key := prefix + strconv.Itoa(n)
			turns, ok := item[key].([]any)
			if !ok {
				continue
			}
			sess := &session{ID: fmt.Sprintf("D%d", n), Turns: turns}
			if s.cfg.DateKeySuffix != "" {
				if d, ok := item[key+s.cfg.DateKeySuffix].(string); ok {
					sess.Date = d
				}
			}
			sessions = append(sessions, sess)
		}
		return sessions, nil

	default:
		return nil, fmt.Errorf("ingest: unknown sessions format %q", s.cfg.SessionsFormat)
	}
}

// markAnswerSessions flags the sessions the case declares as containing the
// answer, from the explicit answer-sessions field or dialog evidence refs.
// Evidence refs go through the same parser the retrieval metrics use, so the
// ingested answer sessions and the relevant-ID set always agree.
func (s *sessionStrategy) markAnswerSessions(sessions []*session, item map[string]any) {
	answer := make(map[string]bool)
	if s.cfg.AnswerSessionsField != "" {
		for _, id := range sessionIDList(item[s.cfg.AnswerSessionsField]) {
			answer[id] = true
		}
	}
	if len(answer) == 0 && s.cfg.EvidenceField != "" && s.cfg.EvidenceParser == "dialog_refs" {
		for _, id := range retrieval.ParseDialogRefs(stringList(item[s.cfg.EvidenceField])) {
			answer[id] = true
		}
	}
	for _, sess := range sessions {
		sess.HasAnswer = answer[sess.ID]
	}
}

// selectSessions applies the mode.
func (s *sessionStrategy) selectSessions(sessions []*session) []*session {
	switch s.cfg.Mode {
	case manifest.ModeLazy:
		var out []*session
		for _, sess := range sessions {
			if sess.HasAnswer {
				out = append(out, sess)
			}
		}
		if len(out) == 0 {
			out = sessions[:1]
		}
		return out

	case manifest.ModeShared:
		pick := make(map[string]bool)
		var answers int
		for _, sess := range sessions {
			if sess.HasAnswer {
				pick[sess.ID] = true
				answers++
			}
		}
		sampleN := s.cfg.SharedSampleSize - answers
		if sampleN < 5 {
			sampleN = 5
		}
		if sampleN > len(sessions) {
			sampleN = len(sessions)
		}
		for i := 0; i < sampleN; i++ {
			idx := i * len(sessions) / sampleN
			pick[sessions[idx].ID] = true
		}
		var out []*session
		for _, sess := range sessions {
			if pick[sess.ID] {
				out = append(out, sess)
			}
		}
		return out

	default: // full
		return sessions
	}
}

// formatTranscript renders one session as the transcript contract the
// retrieval-metric extractor understands.
//
// Expectations:
//   - First line is "=== Session: <id> ==="
//   - A date, when present, renders as "[Date: <date>]"
//   - {speaker, text} turns map speaker_a to the user role, others to assistant
//   - Plain-string turns render verbatim
func formatTranscript(sess *session, speakerA string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Session: %s ===\n", sess.ID)
	if sess.Date != "" {
		fmt.Fprintf(&b, "[Date: %s]\n", sess.Date)
	}
	for _, turn := range sess.Turns {
		switch v := turn.(type) {
		case string:
			b.WriteString(v)
			b.WriteByte('\n')
		case map[string]any:
			speaker := strings.TrimSpace(fmt.Sprintf("%v", firstOf(v, "speaker", "role", "name")))
			text := fmt.Sprintf("%v", firstOf(v, "text", "content", "message"))
			if speakerA != "" && speaker != "" {
				role := "assistant"
				if speaker == speakerA {
					role = "user"
				}
				fmt.Fprintf(&b, "%s (%s): %s\n", speaker, role, text)
			} else if speaker != "" {
				fmt.Fprintf(&b, "%s: %s\n", speaker, text)
			} else {
				b.WriteString(text)
				b.WriteByte('\n')
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return ""
}
