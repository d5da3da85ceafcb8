package bench

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sdamache/memorybench/internal/manifest"
	"github.com/sdamache/memorybench/internal/types"
)

// loadRecords reads a data file as either a JSON array or JSONL. A ".jsonl"
// extension forces line-delimited parsing; otherwise the first non-space byte
// decides.
//
// Expectations:
//   - A top-level JSON array yields one record per element
//   - JSONL yields one record per non-blank line
//   - Non-object elements/lines are an error
func loadRecords(path string) ([]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if !strings.HasSuffix(path, ".jsonl") && len(trimmed) > 0 && trimmed[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("parse data file: %w", err)
		}
		return records, nil
	}

	var records []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse data file line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan data file: %w", err)
	}
	return records, nil
}

// buildCases turns data records into benchmark cases, applying the flatten
// expansion when configured.
//
// Expectations:
//   - Case ID defaults to item.id, then item.question_id, then "case_{index}"
//   - Flatten expands record[field] into one child case per element, up to
//     max_items, with ids "{parent_id}_q{index}"
//   - promote_fields copies the named element fields onto the child; with no
//     promote_fields every element field is copied
func buildCases(records []map[string]any, m *manifest.Manifest) ([]types.BenchmarkCase, error) {
	var cases []types.BenchmarkCase
	for i, rec := range records {
		parentID := caseID(rec, i)
		if m.Flatten == nil {
			cases = append(cases, makeCase(parentID, rec, m))
			continue
		}

		elems, ok := rec[m.Flatten.Field].([]any)
		if !ok {
			return nil, fmt.Errorf("flatten: record %s: field %q is not an array", parentID, m.Flatten.Field)
		}
		limit := len(elems)
		if m.Flatten.MaxItems > 0 && m.Flatten.MaxItems < limit {
			limit = m.Flatten.MaxItems
		}
		for qi := 0; qi < limit; qi++ {
			child := make(map[string]any, len(rec))
			for k, v := range rec {
				if k == m.Flatten.Field {
					continue
				}
				child[k] = v
			}
			if elem, ok := elems[qi].(map[string]any); ok {
				if len(m.Flatten.PromoteFields) > 0 {
					for _, f := range m.Flatten.PromoteFields {
						if v, present := elem[f]; present {
							child[f] = v
						}
					}
				} else {
					for k, v := range elem {
						child[k] = v
					}
				}
			}
			cases = append(cases, makeCase(fmt.Sprintf("%s_q%d", parentID, qi), child, m))
		}
	}
	return cases, nil
}

func makeCase(id string, input map[string]any, m *manifest.Manifest) types.BenchmarkCase {
	return types.BenchmarkCase{
		ID:       id,
		Input:    input,
		Expected: input[m.Query.ExpectedAnswerField],
	}
}

func caseID(rec map[string]any, index int) string {
	for _, key := range []string{"id", "question_id"} {
		if v, ok := rec[key]; ok {
			if s := fmt.Sprintf("%v", v); s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("case_%d", index)
}
