// Package llm is the OpenAI-compatible chat client shared by the judge and
// the answer synthesizer. Credentials resolve per tier with a fallback to the
// shared OPENAI_* variables, so one endpoint can serve both roles while a
// dedicated judge endpoint remains a one-variable change.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client is an OpenAI-compatible LLM client.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	label      string // tier name used in debug log lines (e.g. "JUDGE", "SYNTH")
	httpClient *http.Client
}

// HTTPError is a non-200 response from the chat endpoint. It carries the
// status code so the retry layer can classify it.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm: HTTP %d: %s", e.Status, e.Body)
}

// HTTPStatus returns the response status code.
func (e *HTTPError) HTTPStatus() int { return e.Status }

// normalizeBaseURL strips trailing slashes and the "/chat/completions" suffix
// from a raw base URL value so the path is never doubled when the client
// appends "/chat/completions" itself.
//
// Expectations:
//   - Strips a trailing "/chat/completions" suffix
//   - Strips a trailing slash without "/chat/completions"
//   - Strips trailing slash AND "/chat/completions" when both are present
//   - Returns the URL unchanged when neither suffix is present
//   - Returns "" for empty input
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// NewTier creates a Client for a named tier (e.g. "JUDGE", "SYNTH").
// For each config key it first tries {prefix}_{KEY}; if unset it falls back
// to the shared OPENAI_{KEY}. An empty prefix reads only the shared vars.
//
// Expectations:
//   - Uses {prefix}_API_KEY / _BASE_URL / _MODEL when set and non-empty
//   - Falls back to OPENAI_* vars for any unset tier-specific var
//   - Empty prefix reads only OPENAI_*
func NewTier(prefix string) *Client {
	get := func(suffix, fallback string) string {
		if prefix != "" {
			if v := os.Getenv(prefix + "_" + suffix); v != "" {
				return v
			}
		}
		return os.Getenv(fallback)
	}
	label := prefix
	if label == "" {
		label = "LLM"
	}
	return &Client{
		baseURL:    normalizeBaseURL(get("BASE_URL", "OPENAI_BASE_URL")),
		apiKey:     get("API_KEY", "OPENAI_API_KEY"),
		model:      get("MODEL", "OPENAI_MODEL"),
		label:      label,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Validate reports which of base URL, API key, and model are missing.
// The engine calls it before constructing an llm-as-judge benchmark so a
// misconfigured judge fails the run before the executor starts.
//
// Expectations:
//   - Returns nil when all three fields are non-empty
//   - Error lists every missing field comma-separated
//   - Error message includes the tier label
func (c *Client) Validate() error {
	var missing []string
	if c.baseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.apiKey == "" {
		missing = append(missing, "API key")
	}
	if c.model == "" {
		missing = append(missing, "model")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("llm: tier %s not configured: missing %s", c.label, strings.Join(missing, ", "))
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []chatMsg `json:"messages"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends a system + user prompt and returns the assistant's text response
// and token usage. Non-200 responses come back as *HTTPError.
func (c *Client) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", Usage{}, fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("llm: no choices in response")
	}

	content := chatResp.Choices[0].Message.Content
	slog.Debug("llm response", "tier", c.label,
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens)
	return content, chatResp.Usage, nil
}

// StripThinkBlocks removes all <think>...</think> blocks from s.
// Reasoning models emit these before or between JSON objects. The blocks are
// not part of structured output and must be stripped before JSON parsing.
//
// Expectations:
//   - Removes a single <think>...</think> block
//   - Removes multiple <think>...</think> blocks
//   - Strips an unclosed <think> block from its start to end of string
//   - Returns s unchanged when no <think> tag is present
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			// Unclosed block: strip from opening tag to end of string.
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes markdown code fences (```json ... ```) from LLM output,
// and also strips <think>...</think> reasoning blocks.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		// Remove opening fence line
		idx := strings.Index(s, "\n")
		if idx != -1 {
			s = s[idx+1:]
		}
		// Remove closing fence
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
