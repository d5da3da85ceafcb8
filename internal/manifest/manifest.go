// Package manifest defines the benchmark manifest schema and its validation.
// Ingestion and evaluation configs are discriminated unions: unknown tags are
// rejected here, at validation time, never at execution time.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Strategy and protocol tags.
const (
	StrategySimple          = "simple"
	StrategySessionBased    = "session-based"
	StrategyAddDeleteVerify = "add-delete-verify"

	ProtocolExactMatch    = "exact-match"
	ProtocolLLMAsJudge    = "llm-as-judge"
	ProtocolDeletionCheck = "deletion-check"
)

// Session ingestion formats and modes.
const (
	SessionsFormatArray       = "array"
	SessionsFormatDynamicKeys = "dynamic_keys"

	ModeLazy   = "lazy"
	ModeShared = "shared"
	ModeFull   = "full"
)

// Flatten expands one data record into one case per element of Field.
type Flatten struct {
	Field         string   `json:"field"`
	MaxItems      int      `json:"max_items,omitempty"`
	PromoteFields []string `json:"promote_fields,omitempty"`
}

// Ingestion is the discriminated ingestion config. Strategy selects the
// variant; the remaining fields belong to one variant each.
type Ingestion struct {
	Strategy string `json:"strategy"`

	// simple
	ContentField   string   `json:"content_field,omitempty"`
	IsArray        bool     `json:"is_array,omitempty"`
	MetadataFields []string `json:"metadata_fields,omitempty"`

	// session-based
	SessionsFormat      string `json:"sessions_format,omitempty"` // "array" | "dynamic_keys"
	SessionsField       string `json:"sessions_field,omitempty"`  // array format
	SessionKeyPrefix    string `json:"session_key_prefix,omitempty"`
	DateKeySuffix       string `json:"date_key_suffix,omitempty"`
	Mode                string `json:"mode,omitempty"` // "lazy" | "shared" | "full"
	SharedSampleSize    int    `json:"shared_sample_size,omitempty"`
	AnswerSessionsField string `json:"answer_sessions_field,omitempty"`
	EvidenceField       string `json:"evidence_field,omitempty"`
	EvidenceParser      string `json:"evidence_parser,omitempty"` // "dialog_refs"
	SpeakerAField       string `json:"speaker_a_field,omitempty"`
}

// Query names the question and expected-answer fields of a case and the
// retrieval fan-out.
type Query struct {
	QuestionField       string `json:"question_field"`
	ExpectedAnswerField string `json:"expected_answer_field"`
	RetrievalLimit      int    `json:"retrieval_limit,omitempty"`
}

// Evaluation is the discriminated evaluation config.
// Pass thresholds default to 0.7 correctness / 0.5 faithfulness.
type Evaluation struct {
	Protocol string `json:"protocol"`

	// exact-match
	CaseSensitive       bool  `json:"case_sensitive,omitempty"`
	NormalizeWhitespace *bool `json:"normalize_whitespace,omitempty"` // default true
	Trim                *bool `json:"trim,omitempty"`                 // default true

	// llm-as-judge
	InstructionsFile  string `json:"instructions_file,omitempty"`
	QuestionTypeField string `json:"question_type_field,omitempty"`

	PassCorrectness  *float64 `json:"pass_correctness,omitempty"`  // default 0.7
	PassFaithfulness *float64 `json:"pass_faithfulness,omitempty"` // default 0.5
}

// Manifest is one benchmark definition.
type Manifest struct {
	ManifestVersion      string     `json:"manifest_version"`
	Name                 string     `json:"name"`
	Version              string     `json:"version"`
	Description          string     `json:"description,omitempty"`
	DataFile             string     `json:"data_file"`
	Flatten              *Flatten   `json:"flatten,omitempty"`
	Ingestion            Ingestion  `json:"ingestion"`
	Query                Query      `json:"query"`
	Evaluation           Evaluation `json:"evaluation"`
	Metrics              []string   `json:"metrics"`
	RequiredCapabilities []string   `json:"required_capabilities"`
}

// Defaults applied after validation.
const (
	DefaultRetrievalLimit   = 10
	DefaultSharedSampleSize = 10
	DefaultSessionKeyPrefix = "session_"
	DefaultPassCorrectness  = 0.7
	DefaultPassFaithfulness = 0.5
)

var semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)

// Parse decodes and validates a manifest document. Unknown fields are
// rejected.
//
// Expectations:
//   - Rejects documents with fields outside the schema
//   - Rejects manifest_version != "1"
//   - Rejects non-SemVer version strings
//   - Rejects unknown ingestion strategies and evaluation protocols
//   - Applies defaults for retrieval_limit, mode, session_key_prefix
func Parse(raw []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.applyDefaults()
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}

func (m *Manifest) validate() error {
	if m.ManifestVersion != "1" {
		return fmt.Errorf("manifest: unsupported manifest_version %q (want \"1\")", m.ManifestVersion)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest: missing name")
	}
	if !semverRe.MatchString(m.Version) {
		return fmt.Errorf("manifest: version %q is not SemVer", m.Version)
	}
	if m.DataFile == "" {
		return fmt.Errorf("manifest: missing data_file")
	}
	if m.Query.QuestionField == "" || m.Query.ExpectedAnswerField == "" {
		return fmt.Errorf("manifest: query requires question_field and expected_answer_field")
	}
	if m.Flatten != nil && m.Flatten.Field == "" {
		return fmt.Errorf("manifest: flatten requires field")
	}

	switch m.Ingestion.Strategy {
	case StrategySimple:
		if m.Ingestion.ContentField == "" {
			return fmt.Errorf("manifest: simple ingestion requires content_field")
		}
	case StrategySessionBased:
		switch m.Ingestion.SessionsFormat {
		case SessionsFormatArray:
			if m.Ingestion.SessionsField == "" {
				return fmt.Errorf("manifest: array session format requires sessions_field")
			}
		case SessionsFormatDynamicKeys:
			// session_key_prefix is defaulted
		default:
			return fmt.Errorf("manifest: unknown sessions_format %q", m.Ingestion.SessionsFormat)
		}
		switch m.Ingestion.Mode {
		case "", ModeLazy, ModeShared, ModeFull:
		default:
			return fmt.Errorf("manifest: unknown ingestion mode %q", m.Ingestion.Mode)
		}
		if p := m.Ingestion.EvidenceParser; p != "" && p != "dialog_refs" {
			return fmt.Errorf("manifest: unknown evidence_parser %q", p)
		}
	case StrategyAddDeleteVerify:
		// Declared in the schema; the factory refuses to construct it.
	default:
		return fmt.Errorf("manifest: unknown ingestion strategy %q", m.Ingestion.Strategy)
	}

	switch m.Evaluation.Protocol {
	case ProtocolExactMatch, ProtocolLLMAsJudge:
	case ProtocolDeletionCheck:
		// Declared in the schema; the factory refuses to construct it.
	default:
		return fmt.Errorf("manifest: unknown evaluation protocol %q", m.Evaluation.Protocol)
	}

	for _, c := range m.RequiredCapabilities {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("manifest: empty required capability")
		}
	}
	return nil
}

func (m *Manifest) applyDefaults() {
	if m.Query.RetrievalLimit <= 0 {
		m.Query.RetrievalLimit = DefaultRetrievalLimit
	}
	if m.Ingestion.Strategy == StrategySessionBased {
		if m.Ingestion.Mode == "" {
			m.Ingestion.Mode = ModeFull
		}
		if m.Ingestion.SessionKeyPrefix == "" {
			m.Ingestion.SessionKeyPrefix = DefaultSessionKeyPrefix
		}
		if m.Ingestion.SharedSampleSize <= 0 {
			m.Ingestion.SharedSampleSize = DefaultSharedSampleSize
		}
	}
}

// PassThresholds returns the configured pass thresholds, defaulted.
func (m *Manifest) PassThresholds() (correctness, faithfulness float64) {
	correctness = DefaultPassCorrectness
	if m.Evaluation.PassCorrectness != nil {
		correctness = *m.Evaluation.PassCorrectness
	}
	faithfulness = DefaultPassFaithfulness
	if m.Evaluation.PassFaithfulness != nil {
		faithfulness = *m.Evaluation.PassFaithfulness
	}
	return correctness, faithfulness
}
