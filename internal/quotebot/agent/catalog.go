package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
	"github.com/leylacuisine/quotebot/internal/quotebot/store"
)

const catalogInstructions = `You manage the menu of a catering business.
Translate the user's request into a catalog operation payload:
{"op": "add" | "edit" | "delete" | "list",
 "item": {"name": "...", "category": "appetizers" | "salad" | "main dish" | "deserts",
          "price": 12.5, "description": "..."}}
For "add", require name, category and price — ask a follow-up question when
any of them is missing. For "delete" and "list" only the name (or nothing)
is needed. Do not invent prices.`

// CatalogOp is the schema-validated payload for menu operations.
type CatalogOp struct {
	Op   string `json:"op"`
	Item struct {
		Name        string  `json:"name"`
		Category    string  `json:"category"`
		Price       float64 `json:"price"`
		Description string  `json:"description"`
	} `json:"item"`
}

// CatalogHandler manages menu items.
type CatalogHandler struct {
	provider nlp.Provider
	catalog  CatalogStore
}

// NewCatalog returns the catalog handler.
func NewCatalog(provider nlp.Provider, catalog CatalogStore) *CatalogHandler {
	return &CatalogHandler{provider: provider, catalog: catalog}
}

func (h *CatalogHandler) Name() string { return NameCatalog }

func (h *CatalogHandler) Surface() string {
	return "adding, editing, deleting or listing menu items and their prices"
}

func (h *CatalogHandler) Handle(ctx context.Context, text string, history []nlp.HistoryMessage) (*Outcome, error) {
	resp, err := h.provider.Generate(ctx, nlp.GenerateRequest{
		Instructions:   catalogInstructions,
		Message:        text,
		History:        history,
		Schema:         nlp.SchemaCatalogOp,
		HandoffTargets: []string{NameTriage, NameOrder, NameDirectory, NameScheduling},
	})
	if err != nil {
		return clarifyOutcome(NameCatalog, err)
	}

	switch {
	case resp.Handoff != "":
		return &Outcome{Handler: NameCatalog, Handoff: resp.Handoff}, nil
	case len(resp.Payload) > 0:
		var op CatalogOp
		if err := json.Unmarshal(resp.Payload, &op); err != nil {
			return clarifyOutcome(NameCatalog, fmt.Errorf("%w: decode catalog op: %v", nlp.ErrMalformedOutput, err))
		}
		return h.execute(ctx, op), nil
	default:
		return &Outcome{Handler: NameCatalog, Text: resp.Text, AwaitingInput: resp.Followup}, nil
	}
}

// execute runs one catalog operation. Store failures become actionable
// user-facing messages; they never propagate past the handler.
func (h *CatalogHandler) execute(ctx context.Context, op CatalogOp) *Outcome {
	out := &Outcome{Handler: NameCatalog}
	mi := store.MenuItem{
		Name:        op.Item.Name,
		Category:    op.Item.Category,
		Price:       op.Item.Price,
		Description: op.Item.Description,
	}

	switch op.Op {
	case "add":
		if err := h.catalog.AddItem(ctx, mi); err != nil {
			out.Text = fmt.Sprintf("Couldn't add %q to the menu: %v", mi.Name, err)
			return out
		}
		out.Text = fmt.Sprintf("Added %s (%s) at $%.2f.", mi.Name, mi.Category, mi.Price)
	case "edit":
		if err := h.catalog.EditItem(ctx, mi); err != nil {
			out.Text = fmt.Sprintf("Couldn't update %q: %v", mi.Name, err)
			return out
		}
		out.Text = fmt.Sprintf("Updated %s: $%.2f (%s).", mi.Name, mi.Price, mi.Category)
	case "delete":
		if err := h.catalog.DeleteItem(ctx, mi.Name); err != nil {
			out.Text = fmt.Sprintf("Couldn't delete %q: %v", mi.Name, err)
			return out
		}
		out.Text = fmt.Sprintf("Removed %s from the menu.", mi.Name)
	case "list":
		items, err := h.catalog.ListItems(ctx)
		if err != nil {
			out.Text = fmt.Sprintf("Couldn't load the menu: %v", err)
			return out
		}
		out.Text = formatMenu(items)
	default:
		out.Text = fmt.Sprintf("Unsupported menu operation %q.", op.Op)
	}
	return out
}

func formatMenu(items []store.MenuItem) string {
	if len(items) == 0 {
		return "The menu is empty."
	}
	var b strings.Builder
	b.WriteString("Current menu:\n")
	for _, mi := range items {
		fmt.Fprintf(&b, "• %s — $%.2f (%s)", mi.Name, mi.Price, mi.Category)
		if mi.Description != "" {
			fmt.Fprintf(&b, ": %s", mi.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
