// Package router decides which conversational handler processes a turn and
// follows cross-handler handoffs to completion.
//
// Routing is two-stage: a classifier pass picks the target handler from the
// registered intent surfaces, then the target's outcome may name a further
// handoff, which the router follows under a fixed bound. The active handler
// from the previous turn is sticky — the classifier must beat a confidence
// threshold to move the conversation elsewhere.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leylacuisine/quotebot/internal/quotebot/agent"
	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
)

// maxHandoffs bounds the cross-handler chain within a single turn. Two
// hops (triage → specialist → specialist) cover every legitimate path;
// anything longer is the model looping.
const maxHandoffs = 3

// Router owns the handler registry and the classification step.
type Router struct {
	provider   nlp.Provider
	handlers   map[string]agent.Handler
	candidates []nlp.Candidate
	log        *slog.Logger
}

// New builds a router over the given handlers. Candidate order follows
// registration order so classifier prompts are stable across runs.
func New(provider nlp.Provider, log *slog.Logger, handlers ...agent.Handler) *Router {
	r := &Router{
		provider: provider,
		handlers: make(map[string]agent.Handler, len(handlers)),
		log:      log,
	}
	for _, h := range handlers {
		r.handlers[h.Name()] = h
		r.candidates = append(r.candidates, nlp.Candidate{Name: h.Name(), Surface: h.Surface()})
	}
	return r
}

// Route classifies the turn against the active handler, dispatches, and
// follows handoffs. The returned outcome's Handler field names the handler
// that finally produced it.
func (r *Router) Route(ctx context.Context, active, text string, history []nlp.HistoryMessage) (*agent.Outcome, error) {
	target := r.classify(ctx, active, text, history)

	var out *agent.Outcome
	for hop := 0; ; hop++ {
		h, ok := r.handlers[target]
		if !ok {
			return nil, fmt.Errorf("router: unknown handler %q", target)
		}

		var err error
		out, err = h.Handle(ctx, text, history)
		if err != nil {
			return nil, fmt.Errorf("router: %s: %w", target, err)
		}
		if out.Handoff == "" {
			return out, nil
		}

		next := out.Handoff
		if _, ok := r.handlers[next]; !ok || next == target {
			r.log.Warn("dropping invalid handoff", "from", target, "to", next)
			out.Handoff = ""
			return out, nil
		}
		if hop+1 >= maxHandoffs {
			r.log.Warn("handoff chain exceeded bound", "from", target, "to", next)
			out.Handoff = ""
			out.Text = "I got a bit lost there — could you tell me again what you need?"
			out.AwaitingInput = false
			return out, nil
		}
		r.log.Debug("handoff", "from", target, "to", next)
		target = next
	}
}

// classify picks the dispatch target. The active handler wins unless the
// classifier names a different registered handler with confidence at or
// above the threshold; classification failures also fall back to the
// active handler, so a flaky model never strands a turn.
func (r *Router) classify(ctx context.Context, active, text string, history []nlp.HistoryMessage) string {
	if _, ok := r.handlers[active]; !ok {
		active = agent.NameTriage
	}

	resp, err := r.provider.Classify(ctx, nlp.ClassifyRequest{
		Message:    text,
		History:    history,
		Candidates: r.candidates,
		Active:     active,
	})
	if err != nil {
		r.log.Warn("classification failed, keeping active handler", "active", active, "error", err)
		return active
	}
	if resp.Target == active || resp.Confidence < nlp.ClassifyThreshold {
		return active
	}
	if _, ok := r.handlers[resp.Target]; !ok {
		r.log.Warn("classifier named unknown handler", "target", resp.Target)
		return active
	}
	r.log.Debug("routed", "from", active, "to", resp.Target, "confidence", resp.Confidence)
	return resp.Target
}

// Next computes the active handler for the following turn: a handler
// mid-task (awaiting input) stays active, everything else resets the
// conversation to triage.
func Next(out *agent.Outcome) string {
	if out.AwaitingInput {
		return out.Handler
	}
	return agent.NameTriage
}

// CleanReply strips a self-identifying handler prefix the model sometimes
// puts on replies ("order: Sure, ...") so users never see internal names.
func CleanReply(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, name := range []string{
		agent.NameTriage, agent.NameOrder, agent.NameCatalog,
		agent.NameDirectory, agent.NameScheduling,
	} {
		for _, prefix := range []string{name + ":", "[" + name + "]"} {
			if strings.HasPrefix(lower, prefix) {
				return strings.TrimSpace(trimmed[len(prefix):])
			}
		}
	}
	return trimmed
}
