package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
	"github.com/leylacuisine/quotebot/internal/quotebot/pricing"
)

const orderInstructionsTmpl = `You parse catering order requests into a structured order payload:
{"email": "...", "name": "...", "address": "...", "date": "YYYY-MM-DD",
 "items": [{"name": "...", "quantity": 1}], "discount": "10%%" or 10,
 "delivery": true/false, "tax_rate": 8.1}

Menu items (match these names as closely as possible): %s.

Rules:
- The discount may be a percentage ("10%%") or a flat number (10).
- Include email, and name/address/date only when the user provided them;
  omit anything the user declined to give.
- When required information (the items, or where to send the quote) is
  missing, ask for it as a follow-up question instead of guessing.
- Only emit the payload once the order is complete enough to price.`

// OrderHandler extracts structured orders from free text. A finalized
// order is the terminal outcome that triggers pricing and the confirmation
// workflow; incomplete requests produce follow-up questions that keep the
// handler active.
type OrderHandler struct {
	provider  nlp.Provider
	catalog   CatalogStore
	directory DirectoryStore
}

// NewOrder returns the order handler.
func NewOrder(provider nlp.Provider, catalog CatalogStore, directory DirectoryStore) *OrderHandler {
	return &OrderHandler{provider: provider, catalog: catalog, directory: directory}
}

func (h *OrderHandler) Name() string { return NameOrder }

func (h *OrderHandler) Surface() string {
	return "placing orders, requesting quotations, emailing quotes for catering items"
}

func (h *OrderHandler) Handle(ctx context.Context, text string, history []nlp.HistoryMessage) (*Outcome, error) {
	menu, err := h.catalog.LoadMenu(ctx)
	if err != nil {
		return &Outcome{
			Handler: NameOrder,
			Text:    fmt.Sprintf("I can't reach the menu right now, so I can't take orders yet: %v", err),
		}, nil
	}

	resp, err := h.provider.Generate(ctx, nlp.GenerateRequest{
		Instructions:   fmt.Sprintf(orderInstructionsTmpl, menuNames(menu)),
		Message:        text,
		History:        history,
		Schema:         nlp.SchemaOrder,
		HandoffTargets: []string{NameTriage, NameCatalog, NameDirectory, NameScheduling},
	})
	if err != nil {
		return clarifyOutcome(NameOrder, err)
	}

	switch {
	case resp.Handoff != "":
		return &Outcome{Handler: NameOrder, Handoff: resp.Handoff}, nil
	case len(resp.Payload) > 0:
		var order pricing.Order
		if err := json.Unmarshal(resp.Payload, &order); err != nil {
			return clarifyOutcome(NameOrder, fmt.Errorf("%w: decode order: %v", nlp.ErrMalformedOutput, err))
		}
		h.enrichFromDirectory(ctx, &order)
		return &Outcome{Handler: NameOrder, Order: &order}, nil
	default:
		return &Outcome{Handler: NameOrder, Text: resp.Text, AwaitingInput: resp.Followup}, nil
	}
}

// enrichFromDirectory fills missing customer fields from the contact
// directory: a known email supplies name and address, a known name
// supplies email and address. Lookup failures are ignored — enrichment is
// best-effort and the order is valid without it.
func (h *OrderHandler) enrichFromDirectory(ctx context.Context, order *pricing.Order) {
	query := order.Email
	if query == "" {
		query = order.Name
	}
	if query == "" {
		return
	}

	contacts, err := h.directory.ListContacts(ctx, query)
	if err != nil || len(contacts) != 1 {
		return
	}

	c := contacts[0]
	if order.Name == "" {
		order.Name = c.Name
	}
	if order.Email == "" {
		order.Email = c.Email
	}
	if order.Address == "" {
		order.Address = c.Address
	}
}

func menuNames(menu pricing.Catalog) string {
	names := make([]string, 0, len(menu))
	for name := range menu {
		names = append(names, `"`+name+`"`)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
