// Package workflow implements the post-quotation confirmation state
// machine: send the quote, optionally schedule the delivery, and loop on
// event corrections until the user confirms or cancels.
//
// Once a workflow instance exists for a user, it owns that user's turns
// outright — the orchestrator feeds turns here and bypasses the router
// until a terminal state clears the instance. Every state transition
// consumes exactly one user turn.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leylacuisine/quotebot/internal/quotebot/agent"
	"github.com/leylacuisine/quotebot/internal/quotebot/calendar"
	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
	"github.com/leylacuisine/quotebot/internal/quotebot/pricing"
	"github.com/leylacuisine/quotebot/internal/quotebot/store"
)

// DefaultTTL is how long an instance may sit idle before the sweeper
// treats it as abandoned and clears it.
const DefaultTTL = 30 * time.Minute

// ErrWorkflowActive is returned by Begin while the user already has an
// instance in flight. One workflow per user, no exceptions.
var ErrWorkflowActive = errors.New("workflow: an instance is already active for this user")

// ErrNoInstance is returned by Step when the user has no instance — the
// orchestrator believed one was pending, so it was swept as abandoned in
// the meantime.
var ErrNoInstance = errors.New("workflow: no active instance for this user")

// State enumerates the machine's non-terminal states.
type State int

const (
	StateAwaitingSendConfirmation State = iota
	StateAwaitingScheduleConfirmation
	StateAwaitingEventConfirmation
	StateAwaitingAddressInput
	StateAwaitingModificationConfirmation
	StateAwaitingModificationDetail
)

func (s State) String() string {
	switch s {
	case StateAwaitingSendConfirmation:
		return "awaiting_send_confirmation"
	case StateAwaitingScheduleConfirmation:
		return "awaiting_schedule_confirmation"
	case StateAwaitingEventConfirmation:
		return "awaiting_event_confirmation"
	case StateAwaitingAddressInput:
		return "awaiting_address_input"
	case StateAwaitingModificationConfirmation:
		return "awaiting_modification_confirmation"
	case StateAwaitingModificationDetail:
		return "awaiting_modification_detail"
	default:
		return "unknown"
	}
}

// Instance carries everything one confirmation sequence needs: the frozen
// quotation, the rendered document, the recipient, and the working
// delivery-event draft while scheduling.
type Instance struct {
	ID           string
	UserID       string
	State        State
	Order        *pricing.Order
	Quotation    *pricing.Quotation
	DocumentPath string
	Recipient    string
	Draft        *agent.EventDraft
	// Addresses holds numbered candidates while in the address-input state.
	Addresses []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notifier delivers the quote document.
type Notifier interface {
	SendDocument(ctx context.Context, path, recipient string) error
}

// Ledger persists a sent quote: the customer lands in the directory and
// the sale in the ledger.
type Ledger interface {
	UpsertContact(ctx context.Context, c store.Contact) error
	RecordSale(ctx context.Context, q *pricing.Quotation) error
}

// Scheduler drafts and commits delivery events; satisfied by the
// scheduling handler.
type Scheduler interface {
	Draft(ctx context.Context, prompt string, history []nlp.HistoryMessage) (*agent.EventDraft, string, error)
	Commit(ctx context.Context, draft *agent.EventDraft) (calendar.Event, error)
}

// Manager owns all live instances. Map access is guarded by a mutex; the
// per-user turn serialization upstream guarantees Step never races with
// itself for one user, so external calls run without holding the lock.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*Instance

	notifier  Notifier
	ledger    Ledger
	scheduler Scheduler
	directory agent.DirectoryStore
	ttl       time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// NewManager wires the workflow's collaborators. A nil now defaults to
// the wall clock; ttl <= 0 defaults to DefaultTTL.
func NewManager(notifier Notifier, ledger Ledger, scheduler Scheduler, directory agent.DirectoryStore, ttl time.Duration, now func() time.Time, log *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		instances: make(map[string]*Instance),
		notifier:  notifier,
		ledger:    ledger,
		scheduler: scheduler,
		directory: directory,
		ttl:       ttl,
		now:       now,
		log:       log,
	}
}

// Begin creates a workflow instance for a fresh quotation. Fails with
// ErrWorkflowActive if the user already has one.
func (m *Manager) Begin(userID string, order *pricing.Order, q *pricing.Quotation, documentPath string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[userID]; ok {
		return nil, ErrWorkflowActive
	}
	now := m.now()
	inst := &Instance{
		ID:           uuid.NewString(),
		UserID:       userID,
		State:        StateAwaitingSendConfirmation,
		Order:        order,
		Quotation:    q,
		DocumentPath: documentPath,
		Recipient:    order.Email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.instances[userID] = inst
	m.log.Info("workflow started", "workflow_id", inst.ID, "user_id", userID, "recipient", inst.Recipient)
	return inst, nil
}

// Active reports whether the user has an instance in flight.
func (m *Manager) Active(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[userID]
	return ok
}

// Abort drops the user's instance unconditionally; the orchestrator calls
// it on unhandled errors so a session can never stay wedged.
func (m *Manager) Abort(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[userID]; ok {
		delete(m.instances, userID)
		m.log.Warn("workflow aborted", "workflow_id", inst.ID, "user_id", userID)
	}
}

// SweepStale clears instances idle past the TTL and returns how many it
// removed. Run periodically from the application loop.
func (m *Manager) SweepStale() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.ttl)
	n := 0
	for user, inst := range m.instances {
		if inst.UpdatedAt.Before(cutoff) {
			delete(m.instances, user)
			m.log.Info("workflow expired", "workflow_id", inst.ID, "user_id", user)
			n++
		}
	}
	return n
}

// Step feeds one user turn into the user's instance. done reports whether
// the instance reached a terminal state (and was cleared). Returns
// ErrNoInstance when there is nothing to step — the instance was swept as
// abandoned since the user last replied.
func (m *Manager) Step(ctx context.Context, userID, text string) (reply string, done bool, err error) {
	m.mu.Lock()
	inst, ok := m.instances[userID]
	m.mu.Unlock()
	if !ok {
		return "", true, fmt.Errorf("%w: %s", ErrNoInstance, userID)
	}

	// The state handlers run without the manager lock: turns for one user
	// are serialized upstream, so only this goroutine touches the
	// instance's working fields. Map membership and UpdatedAt are shared
	// with the sweeper and must be written back under the lock.
	reply, done = m.step(ctx, inst, strings.TrimSpace(text))

	m.mu.Lock()
	if done {
		delete(m.instances, userID)
	} else {
		inst.UpdatedAt = m.now()
	}
	m.mu.Unlock()
	if done {
		m.log.Info("workflow finished", "workflow_id", inst.ID, "user_id", userID)
	}
	return reply, done, nil
}

func (m *Manager) step(ctx context.Context, inst *Instance, text string) (string, bool) {
	switch inst.State {
	case StateAwaitingSendConfirmation:
		return m.stepSend(ctx, inst, text)
	case StateAwaitingScheduleConfirmation:
		return m.stepSchedule(ctx, inst, text)
	case StateAwaitingEventConfirmation:
		return m.stepEvent(ctx, inst, text)
	case StateAwaitingAddressInput:
		return m.stepAddress(ctx, inst, text)
	case StateAwaitingModificationConfirmation:
		return m.stepModificationConfirm(inst, text)
	case StateAwaitingModificationDetail:
		return m.stepModificationDetail(ctx, inst, text)
	default:
		return "Something went wrong with this confirmation — let's start over.", true
	}
}

func (m *Manager) stepSend(ctx context.Context, inst *Instance, text string) (string, bool) {
	if !affirmative(text) {
		return "No problem — the quote was not sent.", true
	}
	if err := m.notifier.SendDocument(ctx, inst.DocumentPath, inst.Recipient); err != nil {
		m.log.Error("quote delivery failed", "workflow_id", inst.ID, "recipient", inst.Recipient, "error", err)
		return fmt.Sprintf("Couldn't email the quote to %s: %v. Please check the address and ask for the quote again.", inst.Recipient, err), true
	}

	// The sale is booked and the customer remembered only once the quote
	// actually went out.
	if err := m.ledger.UpsertContact(ctx, store.Contact{
		Name:    inst.Order.Name,
		Email:   inst.Order.Email,
		Address: inst.Order.Address,
	}); err != nil {
		m.log.Warn("contact upsert failed", "workflow_id", inst.ID, "error", err)
	}
	if err := m.ledger.RecordSale(ctx, inst.Quotation); err != nil {
		m.log.Warn("sale record failed", "workflow_id", inst.ID, "error", err)
	}

	inst.State = StateAwaitingScheduleConfirmation
	return fmt.Sprintf("Quote sent to %s. Would you like to schedule the delivery? [y/n]", inst.Recipient), false
}

func (m *Manager) stepSchedule(ctx context.Context, inst *Instance, text string) (string, bool) {
	if !affirmative(text) {
		return "All set — the quote has been sent and nothing was scheduled.", true
	}

	address := inst.Order.Address
	if address == "" {
		if addrs, err := m.directory.AddressesFor(ctx, recipientKey(inst.Order)); err == nil && len(addrs) > 0 {
			address = addrs[0]
		}
	}

	draft, question, err := m.scheduler.Draft(ctx, draftPrompt(inst.Order, address), nil)
	switch {
	case errors.Is(err, agent.ErrNoDraft):
		// The scheduler needs more detail (usually the address); collect
		// it as free text and re-draft.
		inst.State = StateAwaitingModificationDetail
		return question, false
	case err != nil:
		m.log.Error("event draft failed", "workflow_id", inst.ID, "error", err)
		return "The quote was sent, but I couldn't draft the delivery event. You can ask me to schedule it later.", true
	}

	inst.Draft = draft
	inst.State = StateAwaitingEventConfirmation
	return agent.Proposal(draft), false
}

func (m *Manager) stepEvent(ctx context.Context, inst *Instance, text string) (string, bool) {
	if affirmative(text) {
		ev, err := m.scheduler.Commit(ctx, inst.Draft)
		if err != nil {
			// Draft survives; the user may fix the details and confirm again.
			m.log.Error("event commit failed", "workflow_id", inst.ID, "error", err)
			return fmt.Sprintf("Couldn't create the event: %v. Fix the details and reply y to retry, or n to change it.", err), false
		}
		if ev.Link != "" {
			return fmt.Sprintf("Delivery scheduled: %s", ev.Link), true
		}
		return fmt.Sprintf("Delivery scheduled: %s.", ev.Summary), true
	}

	if mentionsAddress(text) {
		addrs, err := m.directory.AddressesFor(ctx, recipientKey(inst.Order))
		if err != nil {
			addrs = nil
		}
		inst.Addresses = addrs
		inst.State = StateAwaitingAddressInput
		if len(addrs) > 1 {
			var b strings.Builder
			b.WriteString("Which address should I use?\n")
			for i, a := range addrs {
				fmt.Fprintf(&b, "%d. %s\n", i+1, a)
			}
			b.WriteString("Reply with a number, or type a different address.")
			return b.String(), false
		}
		return "What address should I use for the delivery?", false
	}

	inst.State = StateAwaitingModificationConfirmation
	return "Would you like to change something about the event? [y/n]", false
}

func (m *Manager) stepAddress(ctx context.Context, inst *Instance, text string) (string, bool) {
	address := text
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(inst.Addresses) {
		address = inst.Addresses[n-1]
	}
	inst.Addresses = nil
	inst.Draft.Address = address

	m.redraft(ctx, inst, fmt.Sprintf("Use this delivery address instead: %s", address))
	inst.State = StateAwaitingEventConfirmation
	return agent.Proposal(inst.Draft), false
}

func (m *Manager) stepModificationConfirm(inst *Instance, text string) (string, bool) {
	if !affirmative(text) {
		return "Okay — the quote has been sent and the delivery was left unscheduled.", true
	}
	inst.State = StateAwaitingModificationDetail
	return "What would you like to change?", false
}

func (m *Manager) stepModificationDetail(ctx context.Context, inst *Instance, text string) (string, bool) {
	m.redraft(ctx, inst, text)
	if inst.Draft == nil {
		m.log.Error("event redraft produced nothing", "workflow_id", inst.ID)
		return "The quote was sent, but I couldn't put the delivery event together. You can ask me to schedule it later.", true
	}
	inst.State = StateAwaitingEventConfirmation
	return agent.Proposal(inst.Draft), false
}

// redraft asks the scheduler to rework the current draft with a requested
// change. Failures keep the prior draft so the user never loses progress.
func (m *Manager) redraft(ctx context.Context, inst *Instance, change string) {
	var prompt strings.Builder
	prompt.WriteString(draftPrompt(inst.Order, ""))
	if inst.Draft != nil {
		if raw, err := json.Marshal(inst.Draft); err == nil {
			fmt.Fprintf(&prompt, "\nCurrent event draft: %s", raw)
		}
	}
	fmt.Fprintf(&prompt, "\nRequested change: %s", change)

	draft, _, err := m.scheduler.Draft(ctx, prompt.String(), nil)
	if err != nil {
		m.log.Warn("event redraft failed, keeping prior draft", "workflow_id", inst.ID, "error", err)
		return
	}
	inst.Draft = draft
}

// draftPrompt describes the delivery to the scheduler in terms of the
// confirmed order.
func draftPrompt(order *pricing.Order, address string) string {
	var b strings.Builder
	b.WriteString("Draft a delivery event for this confirmed catering order.\n")
	fmt.Fprintf(&b, "Client: %s", customerLabel(order))
	if address != "" {
		fmt.Fprintf(&b, "\nDelivery address: %s", address)
	}
	if order.Date != "" {
		fmt.Fprintf(&b, "\nRequested delivery date: %s", order.Date)
	}
	items := make([]string, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, fmt.Sprintf("%d× %s", it.Quantity, it.Name))
	}
	fmt.Fprintf(&b, "\nItems: %s", strings.Join(items, ", "))
	return b.String()
}

func customerLabel(order *pricing.Order) string {
	if order.Name != "" {
		return order.Name
	}
	return order.Email
}

func recipientKey(order *pricing.Order) string {
	if order.Email != "" {
		return order.Email
	}
	return order.Name
}

// affirmative treats anything starting with "y" (yes, yes please, yep,
// ya) as consent; everything else is a no.
func affirmative(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), "y")
}

// mentionsAddress detects the "wrong address / different location" family
// of objections that should collect a new address instead of a free-form
// modification.
func mentionsAddress(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "address") || strings.Contains(lower, "location")
}
