package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leylacuisine/quotebot/internal/quotebot/calendar"
	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
)

const schedulingInstructionsTmpl = `You manage the delivery calendar of a catering business.
Translate the user's request into a delivery event payload:
{"summary": "...", "address": "...", "description": "...",
 "start": "YYYY-MM-DDTHH:MM", "end": "YYYY-MM-DDTHH:MM",
 "attendees": ["email", ...]}

Date/time rules:
- The current time in the business timezone (%s) is %s. Never schedule in the past;
  a date without a year means the next occurrence of that date.
- Default delivery duration is one hour unless specified otherwise.
- Times are local to the business timezone; do not include a zone offset.

Address rules:
- Use the address on file for the client when one was provided to you.
- When no address is available, ask the user for one as a follow-up.
- Always include the client's name in the summary.

Only emit the payload once summary, start and end are settled; otherwise
ask a follow-up question.`

// ErrNoDraft is returned by Draft when the model asked a question instead
// of producing an event payload.
var ErrNoDraft = errors.New("agent: scheduling produced no event draft")

// EventDraft is the schema-validated delivery-event payload. Times are
// zone-less local strings; they are bound to the business timezone when
// the draft is committed.
type EventDraft struct {
	Summary     string   `json:"summary"`
	Address     string   `json:"address"`
	Description string   `json:"description"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Attendees   []string `json:"attendees"`
}

// SchedulingHandler manages delivery events, both as a routed conversation
// handler and as the drafting capability the confirmation workflow invokes
// directly.
type SchedulingHandler struct {
	provider nlp.Provider
	service  calendar.Service
	loc      *time.Location
	now      func() time.Time
}

// NewScheduling returns the scheduling handler. now is injectable so tests
// (and the prompt) never depend on the wall clock implicitly.
func NewScheduling(provider nlp.Provider, service calendar.Service, loc *time.Location, now func() time.Time) *SchedulingHandler {
	if now == nil {
		now = time.Now
	}
	return &SchedulingHandler{provider: provider, service: service, loc: loc, now: now}
}

func (h *SchedulingHandler) Name() string { return NameScheduling }

func (h *SchedulingHandler) Surface() string {
	return "scheduling, editing or deleting delivery events on the calendar"
}

func (h *SchedulingHandler) instructions() string {
	return fmt.Sprintf(schedulingInstructionsTmpl, h.loc.String(), h.now().In(h.loc).Format("2006-01-02 15:04"))
}

func (h *SchedulingHandler) Handle(ctx context.Context, text string, history []nlp.HistoryMessage) (*Outcome, error) {
	resp, err := h.provider.Generate(ctx, nlp.GenerateRequest{
		Instructions:   h.instructions(),
		Message:        text,
		History:        history,
		Schema:         nlp.SchemaEventDraft,
		HandoffTargets: []string{NameTriage, NameOrder, NameCatalog, NameDirectory},
	})
	if err != nil {
		return clarifyOutcome(NameScheduling, err)
	}

	switch {
	case resp.Handoff != "":
		return &Outcome{Handler: NameScheduling, Handoff: resp.Handoff}, nil
	case len(resp.Payload) > 0:
		var draft EventDraft
		if err := json.Unmarshal(resp.Payload, &draft); err != nil {
			return clarifyOutcome(NameScheduling, fmt.Errorf("%w: decode event draft: %v", nlp.ErrMalformedOutput, err))
		}
		ev, err := h.Commit(ctx, &draft)
		if err != nil {
			// The draft survives in history; the user may correct and retry.
			return &Outcome{
				Handler:       NameScheduling,
				Text:          fmt.Sprintf("Couldn't create the event: %v", err),
				AwaitingInput: true,
			}, nil
		}
		return &Outcome{Handler: NameScheduling, Text: confirmCreated(ev)}, nil
	default:
		// A question mid-scheduling keeps this handler active: the user
		// should not have to restate intent on the next turn.
		return &Outcome{Handler: NameScheduling, Text: resp.Text, AwaitingInput: resp.Followup}, nil
	}
}

// Draft asks the model to produce a delivery-event draft from a prompt the
// workflow assembles (order details, resolved address, requested changes).
// Returns ErrNoDraft when the model asked a question instead; the question
// text is returned alongside so the workflow can surface it.
func (h *SchedulingHandler) Draft(ctx context.Context, prompt string, history []nlp.HistoryMessage) (*EventDraft, string, error) {
	resp, err := h.provider.Generate(ctx, nlp.GenerateRequest{
		Instructions: h.instructions(),
		Message:      prompt,
		History:      history,
		Schema:       nlp.SchemaEventDraft,
	})
	if err != nil {
		return nil, "", err
	}
	if len(resp.Payload) == 0 {
		return nil, resp.Text, ErrNoDraft
	}
	var draft EventDraft
	if err := json.Unmarshal(resp.Payload, &draft); err != nil {
		return nil, "", fmt.Errorf("%w: decode event draft: %v", nlp.ErrMalformedOutput, err)
	}
	return &draft, "", nil
}

// Commit turns a draft into a real calendar event. Validation (timezone,
// past dates, duration default) happens in the calendar service wrapper.
func (h *SchedulingHandler) Commit(ctx context.Context, draft *EventDraft) (calendar.Event, error) {
	start, err := calendar.ParseLocal(draft.Start, h.loc)
	if err != nil {
		return calendar.Event{}, err
	}
	var end time.Time
	if draft.End != "" {
		if end, err = calendar.ParseLocal(draft.End, h.loc); err != nil {
			return calendar.Event{}, err
		}
	}
	return h.service.CreateEvent(ctx, calendar.Event{
		Summary:     draft.Summary,
		Address:     draft.Address,
		Description: draft.Description,
		Start:       start,
		End:         end,
		Attendees:   draft.Attendees,
	})
}

// Proposal renders a draft as the confirmation prompt shown to the user.
func Proposal(draft *EventDraft) string {
	var b strings.Builder
	b.WriteString("Here is the delivery event:\n")
	fmt.Fprintf(&b, "• %s\n", draft.Summary)
	if draft.End != "" {
		fmt.Fprintf(&b, "• When: %s – %s\n", draft.Start, draft.End)
	} else {
		fmt.Fprintf(&b, "• When: %s\n", draft.Start)
	}
	if draft.Address != "" {
		fmt.Fprintf(&b, "• Where: %s\n", draft.Address)
	}
	if draft.Description != "" {
		fmt.Fprintf(&b, "%s\n", draft.Description)
	}
	b.WriteString("Shall I put it on the calendar? [y/n]")
	return b.String()
}

func confirmCreated(ev calendar.Event) string {
	if ev.Link != "" {
		return fmt.Sprintf("Delivery event created: %s", ev.Link)
	}
	return fmt.Sprintf("Delivery event %q created.", ev.Summary)
}
