// Package orchestrator is the per-turn entry point: it applies the
// authentication gate, routes turns into an active confirmation workflow
// or through the handler router, and turns finalized orders into priced,
// documented quotations with a confirmation prompt.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leylacuisine/quotebot/internal/quotebot/agent"
	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
	"github.com/leylacuisine/quotebot/internal/quotebot/pricing"
	"github.com/leylacuisine/quotebot/internal/quotebot/router"
	"github.com/leylacuisine/quotebot/internal/quotebot/session"
	"github.com/leylacuisine/quotebot/internal/quotebot/workflow"
)

// Gate is the authentication capability consulted before any handler
// runs.
type Gate interface {
	Authenticated(ctx context.Context, userID string) (bool, error)
	BeginFlow(ctx context.Context, userID, chatID string) (link string, err error)
}

// Renderer produces the quote document for a computed quotation.
type Renderer interface {
	Render(q *pricing.Quotation) (path string, err error)
}

// Turn is one inbound message.
type Turn struct {
	UserID string
	ChatID string
	Text   string
}

// Orchestrator wires the per-turn pipeline together.
type Orchestrator struct {
	sessions  *session.Store
	router    *router.Router
	workflows *workflow.Manager
	catalog   agent.CatalogStore
	renderer  Renderer
	gate      Gate
	log       *slog.Logger
}

// New assembles an Orchestrator. All collaborators are required.
func New(sessions *session.Store, r *router.Router, workflows *workflow.Manager, catalog agent.CatalogStore, renderer Renderer, gate Gate, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		router:    r,
		workflows: workflows,
		catalog:   catalog,
		renderer:  renderer,
		gate:      gate,
		log:       log,
	}
}

// HandleTurn processes one inbound message and returns the reply text.
// It is safe to call concurrently: turns for distinct users run in
// parallel, turns for the same user are serialized in arrival order by
// the session store's per-user lock.
func (o *Orchestrator) HandleTurn(ctx context.Context, turn Turn) (reply string) {
	s, release := o.sessions.Acquire(turn.UserID)
	defer release()
	s.ChatID = turn.ChatID

	// A panic or unexpected error must never wedge the session: reset to
	// triage, drop any workflow, apologize.
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("turn panicked", "user_id", turn.UserID, "panic", r)
			reply = o.resetSession(s)
		}
	}()

	ok, err := o.gate.Authenticated(ctx, turn.UserID)
	if err != nil {
		o.log.Error("authentication check failed", "user_id", turn.UserID, "error", err)
		return "I can't verify your access right now. Please try again in a moment."
	}
	if !ok {
		link, err := o.gate.BeginFlow(ctx, turn.UserID, turn.ChatID)
		if err != nil {
			o.log.Error("auth flow start failed", "user_id", turn.UserID, "error", err)
			return "I can't start the sign-in process right now. Please try again in a moment."
		}
		return fmt.Sprintf("Please connect your Google account first: %s", link)
	}

	// An active confirmation workflow owns the user's turns outright.
	if s.PendingWorkflow {
		reply, done, err := o.workflows.Step(ctx, turn.UserID, turn.Text)
		switch {
		case errors.Is(err, workflow.ErrNoInstance):
			// The sweeper expired the workflow while we waited for this
			// reply. Tell the user instead of apologizing vaguely.
			s.PendingWorkflow = false
			s.ResetHandler(agent.NameTriage)
			return "That quote confirmation expired while I was waiting for your reply. Ask me for the quote again if you still need it."
		case err != nil:
			o.log.Error("workflow step failed", "user_id", turn.UserID, "error", err)
			return o.resetSession(s)
		}
		if done {
			s.PendingWorkflow = false
		}
		s.Append("user", turn.Text)
		s.Append("assistant", reply)
		return reply
	}

	s.Append("user", turn.Text)
	out, err := o.router.Route(ctx, s.ActiveHandler, turn.Text, historyOf(s))
	if err != nil {
		o.log.Error("routing failed", "user_id", turn.UserID, "handler", s.ActiveHandler, "error", err)
		return o.resetSession(s)
	}

	if out.Order != nil {
		reply = o.startQuotation(ctx, s, turn.UserID, out.Order)
	} else {
		reply = router.CleanReply(out.Text)
		s.ActiveHandler = router.Next(out)
	}
	s.Append("assistant", reply)
	return reply
}

// startQuotation prices a finalized order, renders the document, opens
// the confirmation workflow, and asks for the go-ahead.
func (o *Orchestrator) startQuotation(ctx context.Context, s *session.Session, userID string, order *pricing.Order) string {
	s.ResetHandler(agent.NameTriage)

	menu, err := o.catalog.LoadMenu(ctx)
	if err != nil {
		o.log.Error("menu load failed", "user_id", userID, "error", err)
		return "I couldn't load the menu to price your order. Please try again in a moment."
	}

	q, err := pricing.ComputeQuotation(order, menu)
	if err != nil {
		var notFound *pricing.ItemNotFoundError
		if errors.As(err, &notFound) {
			// The pricing error is the user-facing message.
			return notFound.Error()
		}
		if errors.Is(err, pricing.ErrNegativeTotal) {
			return "That discount exceeds the order total, so I can't produce this quote. Please adjust the discount and try again."
		}
		o.log.Error("quotation failed", "user_id", userID, "error", err)
		return "I couldn't price that order. Could you rephrase it?"
	}

	docPath, err := o.renderer.Render(q)
	if err != nil {
		o.log.Error("document render failed", "user_id", userID, "error", err)
		return "I priced your order but couldn't prepare the quote document. Please try again in a moment."
	}

	if _, err := o.workflows.Begin(userID, order, q, docPath); err != nil {
		o.log.Error("workflow begin failed", "user_id", userID, "error", err)
		return "There's already a quote waiting for your confirmation — please answer that one first."
	}
	s.PendingWorkflow = true

	o.log.Info("quotation produced", "user_id", userID, "final_total", q.FinalTotal, "document", docPath)
	return summarize(q)
}

// resetSession is the recovery path for unhandled failures: active
// handler back to triage, workflow dropped, generic apology.
func (o *Orchestrator) resetSession(s *session.Session) string {
	s.ResetHandler(agent.NameTriage)
	s.PendingWorkflow = false
	o.workflows.Abort(s.UserID)
	return "Sorry, something went wrong on my end. Let's start over — what can I do for you?"
}

// summarize renders the itemized quotation with an explicit yes/no send
// prompt.
func summarize(q *pricing.Quotation) string {
	var b strings.Builder
	b.WriteString("Here is your quotation:\n")
	for _, line := range q.Lines {
		fmt.Fprintf(&b, "• %d× %s — $%.2f\n", line.Quantity, line.Item, line.LineTotal)
	}
	fmt.Fprintf(&b, "Subtotal: $%.2f\n", q.Subtotal)
	if q.Discount != 0 {
		fmt.Fprintf(&b, "Discount: -$%.2f\n", q.Discount)
	}
	fmt.Fprintf(&b, "Tax: $%.2f\n", q.Tax)
	if q.DeliveryFee != 0 {
		fmt.Fprintf(&b, "Delivery fee: $%.2f\n", q.DeliveryFee)
	}
	fmt.Fprintf(&b, "Total: $%.2f\n", q.FinalTotal)
	fmt.Fprintf(&b, "Should I email the quote to %s? [y/n]", q.Email)
	return b.String()
}

func historyOf(s *session.Session) []nlp.HistoryMessage {
	out := make([]nlp.HistoryMessage, 0, len(s.History))
	for _, m := range s.History {
		out = append(out, nlp.HistoryMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
