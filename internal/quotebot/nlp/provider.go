// Package nlp provides the language-understanding layer for the quotation
// bot: intent classification (which handler should own a turn) and field
// extraction (turning free text into structured order, catalog, directory
// and scheduling payloads).
//
// The LLM is an opaque capability behind the Provider interface. Everything
// downstream of it — the router's transition rules, the confirmation
// workflow, the pricing engine — is deterministic and consumes only the
// structured results defined here. Payloads are validated against embedded
// JSON Schemas before anyone is allowed to trust them.
package nlp

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrRateLimit is returned by a Provider when the upstream LLM API reports
// a rate-limiting condition (e.g. HTTP 429). Callers should surface a
// user-visible message rather than silently dropping the turn.
var ErrRateLimit = errors.New("nlp: upstream rate limit exceeded")

// ErrMalformedOutput is returned when the LLM responds with something that
// cannot be interpreted as the requested structure (JSON parse failure,
// schema violation). Callers surface a clarification prompt; the
// conversation stays with the current handler.
var ErrMalformedOutput = errors.New("nlp: malformed response from LLM")

// HistoryMessage is a prior turn injected into the LLM context window so
// the model has continuity across messages.
type HistoryMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// Candidate describes one handler the classifier may route to: its name
// and the intent surface it claims (orders, menu ops, contact ops, ...).
type Candidate struct {
	Name    string
	Surface string
}

// ClassifyRequest asks which handler should own the current turn.
type ClassifyRequest struct {
	Message    string
	History    []HistoryMessage
	Candidates []Candidate
	// Active is the handler currently owning the conversation. The model
	// is told to prefer it on ties so mid-task users are not bounced.
	Active string
}

// ClassifyResponse is the structured routing decision.
type ClassifyResponse struct {
	// Target is the chosen handler name. Must be one of the candidates;
	// anything else is rejected as malformed output.
	Target string `json:"target"`
	// Confidence is a 0–1 score. Below ClassifyThreshold the router keeps
	// the currently active handler instead of switching.
	Confidence float64 `json:"confidence"`
}

// ClassifyThreshold is the minimum confidence required for the router to
// transfer control to a different handler. Ties and ambiguity stay put.
const ClassifyThreshold = 0.5

// GenerateRequest asks the model to act as a specific handler: follow its
// instruction profile and either produce a structured payload, ask a
// follow-up question, or declare that the request belongs to another
// handler (cross-handoff).
type GenerateRequest struct {
	// Instructions is the handler's instruction profile, opaque to this
	// package.
	Instructions string
	Message      string
	History      []HistoryMessage
	// Schema names the embedded JSON Schema the payload must satisfy
	// (see schema.go). Empty means only free text is expected.
	Schema string
	// HandoffTargets lists handler names the model may hand off to.
	HandoffTargets []string
}

// GenerateResponse is the model's answer, already envelope-parsed and
// schema-validated. Exactly one of Payload, Handoff or Text is meaningful:
// a structured result, a transfer of control, or free text (an answer or a
// clarifying follow-up question).
type GenerateResponse struct {
	Text    string          `json:"response,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Handoff string          `json:"handoff,omitempty"`
	// Followup marks Text as a question awaiting more information from
	// the user, which keeps the handler active on the next turn.
	Followup bool `json:"followup,omitempty"`
}

// Provider is the LLM capability consumed by the router and the handlers.
// Implementations must be safe for concurrent use and must honour the
// context deadline — a stalled model call surfaces as an error, never as a
// hung turn.
type Provider interface {
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error)
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}
