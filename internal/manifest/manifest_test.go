package manifest

import (
	"strings"
	"testing"
)

const validManifest = `{
  "manifest_version": "1",
  "name": "locomo",
  "version": "1.0.0",
  "data_file": "locomo.json",
  "ingestion": {"strategy": "simple", "content_field": "content"},
  "query": {"question_field": "question", "expected_answer_field": "answer"},
  "evaluation": {"protocol": "exact-match"},
  "metrics": ["correctness"],
  "required_capabilities": []
}`

func TestParse_ValidManifest(t *testing.T) {
	// A well-formed manifest parses and gets defaults applied
	m, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Name != "locomo" {
		t.Errorf("name = %q", m.Name)
	}
	if m.Query.RetrievalLimit != DefaultRetrievalLimit {
		t.Errorf("retrieval_limit = %d, want default %d", m.Query.RetrievalLimit, DefaultRetrievalLimit)
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	// Fields outside the schema are rejected
	doc := strings.Replace(validManifest, `"metrics"`, `"surprise": 1, "metrics"`, 1)
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected unknown-field error")
	}
}

func TestParse_RejectsWrongManifestVersion(t *testing.T) {
	// manifest_version must be "1"
	doc := strings.Replace(validManifest, `"manifest_version": "1"`, `"manifest_version": "2"`, 1)
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected version error")
	}
}

func TestParse_RejectsNonSemVer(t *testing.T) {
	// version must be SemVer
	doc := strings.Replace(validManifest, `"version": "1.0.0"`, `"version": "v1"`, 1)
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected SemVer error")
	}
}

func TestParse_RejectsUnknownStrategy(t *testing.T) {
	// Unknown ingestion strategy tags fail at validation
	doc := strings.Replace(validManifest, `"strategy": "simple"`, `"strategy": "telepathic"`, 1)
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected unknown strategy error")
	}
}

func TestParse_RejectsUnknownProtocol(t *testing.T) {
	// Unknown evaluation protocol tags fail at validation
	doc := strings.Replace(validManifest, `"protocol": "exact-match"`, `"protocol": "vibes"`, 1)
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected unknown protocol error")
	}
}

func TestParse_SimpleRequiresContentField(t *testing.T) {
	// simple ingestion requires content_field
	doc := strings.Replace(validManifest, `, "content_field": "content"`, ``, 1)
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected content_field error")
	}
}

func TestParse_SessionBasedDefaults(t *testing.T) {
	// session-based ingestion defaults mode, prefix, and sample size
	doc := strings.Replace(validManifest,
		`{"strategy": "simple", "content_field": "content"}`,
		`{"strategy": "session-based", "sessions_format": "dynamic_keys"}`, 1)
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Ingestion.Mode != ModeFull {
		t.Errorf("mode = %q, want full", m.Ingestion.Mode)
	}
	if m.Ingestion.SessionKeyPrefix != DefaultSessionKeyPrefix {
		t.Errorf("prefix = %q", m.Ingestion.SessionKeyPrefix)
	}
	if m.Ingestion.SharedSampleSize != DefaultSharedSampleSize {
		t.Errorf("shared_sample_size = %d", m.Ingestion.SharedSampleSize)
	}
}

func TestParse_SessionBasedUnknownFormat(t *testing.T) {
	// sessions_format must be array or dynamic_keys
	doc := strings.Replace(validManifest,
		`{"strategy": "simple", "content_field": "content"}`,
		`{"strategy": "session-based", "sessions_format": "csv"}`, 1)
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected unknown sessions_format error")
	}
}

func TestPassThresholds_Defaults(t *testing.T) {
	// Defaults are 0.7 correctness / 0.5 faithfulness
	m, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c, f := m.PassThresholds()
	if c != 0.7 || f != 0.5 {
		t.Errorf("thresholds = (%v, %v), want (0.7, 0.5)", c, f)
	}
}

func TestPassThresholds_Configured(t *testing.T) {
	// Configured thresholds override the defaults
	doc := strings.Replace(validManifest,
		`{"protocol": "exact-match"}`,
		`{"protocol": "exact-match", "pass_correctness": 0.9, "pass_faithfulness": 0.2}`, 1)
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c, f := m.PassThresholds()
	if c != 0.9 || f != 0.2 {
		t.Errorf("thresholds = (%v, %v), want (0.9, 0.2)", c, f)
	}
}
