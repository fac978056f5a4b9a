package agent

import (
	"context"

	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
)

const triageInstructions = `You are the front desk of a catering business assistant.
Decide whether the user's message is an order/quotation request, a menu
operation, a contacts operation, or a delivery-calendar operation, and hand
off accordingly:
- Requests to get a quotation, send an order, or email a quote → hand off to "order".
- Adding, editing, deleting or listing menu items → hand off to "catalog".
- Adding, editing, deleting or listing contacts → hand off to "directory".
- Scheduling, editing or deleting delivery events → hand off to "scheduling".
For greetings or general questions about the business, answer briefly and
helpfully yourself.`

// TriageHandler is the hub of the conversation: every fresh conversation
// starts here, and it is the only handler allowed to transfer to any other.
type TriageHandler struct {
	provider nlp.Provider
}

// NewTriage returns the triage handler.
func NewTriage(provider nlp.Provider) *TriageHandler {
	return &TriageHandler{provider: provider}
}

func (h *TriageHandler) Name() string { return NameTriage }

func (h *TriageHandler) Surface() string {
	return "greetings, general questions, anything that is not clearly an order, menu, contact, or delivery request"
}

func (h *TriageHandler) Handle(ctx context.Context, text string, history []nlp.HistoryMessage) (*Outcome, error) {
	resp, err := h.provider.Generate(ctx, nlp.GenerateRequest{
		Instructions:   triageInstructions,
		Message:        text,
		History:        history,
		HandoffTargets: []string{NameOrder, NameCatalog, NameDirectory, NameScheduling},
	})
	if err != nil {
		return clarifyOutcome(NameTriage, err)
	}
	if resp.Handoff != "" {
		return &Outcome{Handler: NameTriage, Handoff: resp.Handoff}, nil
	}
	return &Outcome{Handler: NameTriage, Text: resp.Text}, nil
}
