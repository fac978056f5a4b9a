// Package agent implements the five specialized conversational handlers:
// triage (the routing hub), order extraction, catalog management, contact
// directory management, and delivery scheduling.
//
// Handlers share one contract: given the turn text and the bounded history
// they produce an Outcome — free text, a finalized Order, or a handoff to
// another handler. Everything a handler learns from the LLM arrives as a
// schema-validated payload through the nlp package; the handler itself only
// executes deterministic capability calls.
package agent

import (
	"context"
	"errors"

	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
	"github.com/leylacuisine/quotebot/internal/quotebot/pricing"
	"github.com/leylacuisine/quotebot/internal/quotebot/store"
)

// Handler names. These are the router's states and the classifier's
// vocabulary; they never change at runtime.
const (
	NameTriage     = "triage"
	NameOrder      = "order"
	NameCatalog    = "catalog"
	NameDirectory  = "directory"
	NameScheduling = "scheduling"
)

// Outcome is the result of one handler processing one turn. Exactly one of
// Order, Handoff or Text is meaningful.
type Outcome struct {
	// Handler is the name of the handler that actually produced this
	// outcome — after cross-handoff it differs from the one invoked.
	Handler string
	// Text is a free-text reply for the user.
	Text string
	// Order is the finalized structured order, set only by the order
	// handler. It transfers control to the pricing + confirmation path.
	Order *pricing.Order
	// Handoff names another handler that should process this same turn.
	Handoff string
	// AwaitingInput marks Text as a follow-up question: the handler is
	// mid-task and stays active for the user's next turn.
	AwaitingInput bool
}

// Handler is the polymorphic unit the router dispatches to.
type Handler interface {
	// Name identifies the handler; used as the router state key.
	Name() string
	// Surface describes the handler's intent surface for the classifier.
	Surface() string
	// Handle processes one turn.
	Handle(ctx context.Context, text string, history []nlp.HistoryMessage) (*Outcome, error)
}

// CatalogStore is the menu capability bound to the catalog and order
// handlers.
type CatalogStore interface {
	LoadMenu(ctx context.Context) (pricing.Catalog, error)
	AddItem(ctx context.Context, mi store.MenuItem) error
	EditItem(ctx context.Context, mi store.MenuItem) error
	DeleteItem(ctx context.Context, name string) error
	ListItems(ctx context.Context) ([]store.MenuItem, error)
}

// DirectoryStore is the contacts capability bound to the directory, order
// and scheduling handlers.
type DirectoryStore interface {
	AddContact(ctx context.Context, c store.Contact) error
	EditContact(ctx context.Context, c store.Contact) error
	DeleteContact(ctx context.Context, name string) error
	ListContacts(ctx context.Context, query string) ([]store.Contact, error)
	AddressesFor(ctx context.Context, nameOrEmail string) ([]string, error)
}

// clarifyOutcome converts an extraction failure into a clarifying follow-up
// so the conversation stays with the current handler instead of crashing or
// resetting. Only genuinely unexpected errors propagate.
func clarifyOutcome(name string, err error) (*Outcome, error) {
	switch {
	case errors.Is(err, nlp.ErrMalformedOutput):
		return &Outcome{
			Handler:       name,
			Text:          "I didn't quite catch that — could you rephrase?",
			AwaitingInput: true,
		}, nil
	case errors.Is(err, nlp.ErrRateLimit):
		return &Outcome{
			Handler: name,
			Text:    "I'm handling too many requests right now. Please try again in a moment.",
		}, nil
	default:
		return nil, err
	}
}
