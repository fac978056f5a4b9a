package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultNLPBase  = "https://api.openai.com/v1"
	defaultNLPModel = "gpt-4o-mini"
	defaultTimeout  = 30 * time.Second
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint. Useful for local models (Ollama)
	// or any other OpenAI-compatible endpoint. Defaults to the public
	// OpenAI endpoint when empty.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini when empty.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 30 s. This is the
	// bounded-failure policy for the extraction capability: a stalled
	// model call becomes an error, never a hung turn.
	Timeout time.Duration
}

// openAIProvider implements Provider using the chat completions API with
// JSON-mode output so every response is parseable.
type openAIProvider struct {
	cfg    Config
	client *http.Client
}

// New returns a Provider backed by the OpenAI (or compatible) chat API.
// The returned provider is safe for concurrent use.
func New(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNLPBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultNLPModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

const classifySystemTmpl = `You are the intent router for a catering business assistant.
Your only job is to decide which specialized handler should process the user's message.

Handlers and their intent surfaces:
%s

The currently active handler is %q. When the message plausibly continues the
current task, or when you are unsure, choose the active handler.

Respond ONLY with valid JSON, no markdown, no code fences:
{"target": "<handler name>", "confidence": 0.0-1.0}
`

// Classify asks the model which handler should own the turn. Targets that
// name no known candidate are rejected as malformed output, preventing the
// model from routing to phantom handlers.
func (p *openAIProvider) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	var surfaces strings.Builder
	known := make(map[string]bool, len(req.Candidates))
	for _, c := range req.Candidates {
		fmt.Fprintf(&surfaces, "- %s: %s\n", c.Name, c.Surface)
		known[c.Name] = true
	}

	system := fmt.Sprintf(classifySystemTmpl, surfaces.String(), req.Active)
	content, err := p.complete(ctx, system, req.History, req.Message, 128)
	if err != nil {
		return nil, err
	}

	var classified ClassifyResponse
	if err := json.Unmarshal([]byte(content), &classified); err != nil {
		return nil, fmt.Errorf("%w: decode classification JSON: %v (raw: %.200s)", ErrMalformedOutput, err, content)
	}
	if !known[classified.Target] {
		return nil, fmt.Errorf("%w: unknown classification target %q", ErrMalformedOutput, classified.Target)
	}
	return &classified, nil
}

const generateSystemTmpl = `%s

You may hand off to these handlers when the request belongs elsewhere: %s.

Respond ONLY with valid JSON, no markdown, no code fences, one of:
{"payload": <structured result object>}          — when you extracted a complete result
{"response": "<text>", "followup": true|false}   — an answer, or a clarifying question (followup=true)
{"handoff": "<handler name>"}                    — when another handler should take over
`

// Generate runs the model as a specific handler. The envelope is parsed
// here and any structured payload is validated against the requested
// schema before it is returned.
func (p *openAIProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	targets := "(none)"
	if len(req.HandoffTargets) > 0 {
		targets = strings.Join(req.HandoffTargets, ", ")
	}

	system := fmt.Sprintf(generateSystemTmpl, req.Instructions, targets)
	content, err := p.complete(ctx, system, req.History, req.Message, 1024)
	if err != nil {
		return nil, err
	}

	var out GenerateResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%w: decode generation JSON: %v (raw: %.200s)", ErrMalformedOutput, err, content)
	}
	if len(out.Payload) > 0 && req.Schema != "" {
		if err := ValidatePayload(req.Schema, out.Payload); err != nil {
			return nil, err
		}
	}
	if out.Handoff != "" {
		for _, t := range req.HandoffTargets {
			if t == out.Handoff {
				return &out, nil
			}
		}
		return nil, fmt.Errorf("%w: handoff to unknown handler %q", ErrMalformedOutput, out.Handoff)
	}
	return &out, nil
}

// complete performs one JSON-mode chat completion and returns the raw
// message content.
func (p *openAIProvider) complete(ctx context.Context, system string, history []HistoryMessage, message string, maxTokens int) (string, error) {
	messages := make([]oaiMessage, 0, len(history)+2)
	messages = append(messages, oaiMessage{Role: "system", Content: system})
	for _, h := range history {
		messages = append(messages, oaiMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: message})

	body := oaiRequest{
		Model:          p.cfg.Model,
		Messages:       messages,
		MaxTokens:      maxTokens,
		ResponseFormat: &oaiFormat{Type: "json_object"},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("nlp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", fmt.Errorf("nlp: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("nlp: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimit
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("nlp: read response body: %w", err)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return "", fmt.Errorf("nlp: decode API response: %w", err)
	}
	if oaiResp.Error != nil {
		return "", fmt.Errorf("nlp: API error (%s): %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("nlp: no choices returned (HTTP %d)", resp.StatusCode)
	}
	return oaiResp.Choices[0].Message.Content, nil
}
