package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leylacuisine/quotebot/internal/quotebot/agent"
	"github.com/leylacuisine/quotebot/internal/quotebot/calendar"
	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
	"github.com/leylacuisine/quotebot/internal/quotebot/pricing"
	"github.com/leylacuisine/quotebot/internal/quotebot/store"
	"github.com/leylacuisine/quotebot/internal/quotebot/workflow"
)

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) SendDocument(ctx context.Context, path, recipient string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, recipient)
	return nil
}

type fakeLedger struct {
	contacts []store.Contact
	sales    []*pricing.Quotation
}

func (f *fakeLedger) UpsertContact(ctx context.Context, c store.Contact) error {
	f.contacts = append(f.contacts, c)
	return nil
}

func (f *fakeLedger) RecordSale(ctx context.Context, q *pricing.Quotation) error {
	f.sales = append(f.sales, q)
	return nil
}

type fakeScheduler struct {
	draft     *agent.EventDraft
	draftErr  error
	commitErr error
	commits   int
}

func (f *fakeScheduler) Draft(ctx context.Context, prompt string, history []nlp.HistoryMessage) (*agent.EventDraft, string, error) {
	if f.draftErr != nil {
		return nil, "What address should I use?", f.draftErr
	}
	d := *f.draft
	return &d, "", nil
}

func (f *fakeScheduler) Commit(ctx context.Context, draft *agent.EventDraft) (calendar.Event, error) {
	if f.commitErr != nil {
		return calendar.Event{}, f.commitErr
	}
	f.commits++
	return calendar.Event{ID: "ev-1", Summary: draft.Summary, Link: "https://calendar.example/ev-1"}, nil
}

type fakeDirectory struct {
	addresses []string
}

func (f *fakeDirectory) AddContact(ctx context.Context, c store.Contact) error  { return nil }
func (f *fakeDirectory) EditContact(ctx context.Context, c store.Contact) error { return nil }
func (f *fakeDirectory) DeleteContact(ctx context.Context, name string) error   { return nil }

func (f *fakeDirectory) ListContacts(ctx context.Context, query string) ([]store.Contact, error) {
	return nil, nil
}

func (f *fakeDirectory) AddressesFor(ctx context.Context, nameOrEmail string) ([]string, error) {
	return f.addresses, nil
}

func testOrder() *pricing.Order {
	return &pricing.Order{
		Email: "pat@example.com",
		Name:  "Pat Doe",
		Items: []pricing.OrderItem{{Name: "Lasagna", Quantity: 2}},
	}
}

func testQuotation() *pricing.Quotation {
	return &pricing.Quotation{Subtotal: 24, FinalTotal: 38.35}
}

func newManager(n *fakeNotifier, l *fakeLedger, s *fakeScheduler, d *fakeDirectory) *workflow.Manager {
	return workflow.NewManager(n, l, s, d, 0, nil, slog.New(slog.DiscardHandler))
}

func begin(t *testing.T, m *workflow.Manager, user string) {
	t.Helper()
	if _, err := m.Begin(user, testOrder(), testQuotation(), "/tmp/quote.pdf"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
}

func step(t *testing.T, m *workflow.Manager, user, text string) (string, bool) {
	t.Helper()
	reply, done, err := m.Step(context.Background(), user, text)
	if err != nil {
		t.Fatalf("Step(%q): %v", text, err)
	}
	return reply, done
}

func TestDeclineSendTerminates(t *testing.T) {
	n := &fakeNotifier{}
	m := newManager(n, &fakeLedger{}, &fakeScheduler{}, &fakeDirectory{})
	begin(t, m, "u1")

	reply, done := step(t, m, "u1", "no thanks")
	if !done {
		t.Fatalf("decline must terminate, reply=%q", reply)
	}
	if len(n.sent) != 0 {
		t.Errorf("nothing should be sent")
	}
	if m.Active("u1") {
		t.Errorf("terminal state must clear the instance")
	}
}

func TestSendPersistsContactAndSale(t *testing.T) {
	n := &fakeNotifier{}
	l := &fakeLedger{}
	m := newManager(n, l, &fakeScheduler{}, &fakeDirectory{})
	begin(t, m, "u1")

	reply, done := step(t, m, "u1", "y")
	if done {
		t.Fatalf("send must advance to the schedule prompt, reply=%q", reply)
	}
	if !strings.Contains(reply, "pat@example.com") || !strings.Contains(reply, "[y/n]") {
		t.Errorf("reply = %q", reply)
	}
	if len(n.sent) != 1 || n.sent[0] != "pat@example.com" {
		t.Errorf("sent = %v", n.sent)
	}
	if len(l.contacts) != 1 || l.contacts[0].Email != "pat@example.com" {
		t.Errorf("contacts = %+v", l.contacts)
	}
	if len(l.sales) != 1 {
		t.Errorf("sales = %d", len(l.sales))
	}
}

func TestSendFailureTerminates(t *testing.T) {
	n := &fakeNotifier{err: errors.New("smtp: connection refused")}
	l := &fakeLedger{}
	m := newManager(n, l, &fakeScheduler{}, &fakeDirectory{})
	begin(t, m, "u1")

	reply, done := step(t, m, "u1", "y")
	if !done {
		t.Fatalf("send failure must terminate")
	}
	if !strings.Contains(reply, "pat@example.com") {
		t.Errorf("reply should name the recipient: %q", reply)
	}
	if len(l.sales) != 0 {
		t.Errorf("failed send must not record a sale")
	}
}

// Scenario: y to send, y to schedule, "n wrong address" must land in the
// address-input state rather than the modification branch.
func TestWrongAddressObjectionCollectsAddress(t *testing.T) {
	s := &fakeScheduler{draft: &agent.EventDraft{
		Summary: "Delivery for Pat Doe",
		Address: "12 Elm St",
		Start:   "2026-03-05T14:00",
		End:     "2026-03-05T15:00",
	}}
	d := &fakeDirectory{addresses: []string{"12 Elm St", "99 Oak Ave"}}
	m := newManager(&fakeNotifier{}, &fakeLedger{}, s, d)
	begin(t, m, "u1")

	step(t, m, "u1", "y") // send
	reply, done := step(t, m, "u1", "y")
	if done || !strings.Contains(reply, "[y/n]") {
		t.Fatalf("schedule confirmation should propose the event: %q", reply)
	}

	reply, done = step(t, m, "u1", "n, that's the wrong address")
	if done {
		t.Fatalf("address objection must not terminate")
	}
	if !strings.Contains(reply, "1. 12 Elm St") || !strings.Contains(reply, "2. 99 Oak Ave") {
		t.Fatalf("expected numbered address candidates, got %q", reply)
	}

	// Numeric selection re-proposes with the chosen address.
	reply, done = step(t, m, "u1", "2")
	if done {
		t.Fatalf("selection must re-propose")
	}
	if !strings.Contains(reply, "[y/n]") {
		t.Errorf("re-proposal missing confirmation prompt: %q", reply)
	}

	reply, done = step(t, m, "u1", "y")
	if !done || !strings.Contains(reply, "https://calendar.example/ev-1") {
		t.Fatalf("confirm must commit and terminate: done=%v reply=%q", done, reply)
	}
	if s.commits != 1 {
		t.Errorf("commits = %d", s.commits)
	}
}

func TestPlainObjectionGoesToModification(t *testing.T) {
	s := &fakeScheduler{draft: &agent.EventDraft{Summary: "Delivery", Start: "2026-03-05T14:00"}}
	m := newManager(&fakeNotifier{}, &fakeLedger{}, s, &fakeDirectory{})
	begin(t, m, "u1")

	step(t, m, "u1", "y")
	step(t, m, "u1", "y")
	reply, done := step(t, m, "u1", "n")
	if done || !strings.Contains(reply, "change something") {
		t.Fatalf("plain objection should offer modification: %q", reply)
	}

	reply, done = step(t, m, "u1", "y")
	if done || !strings.Contains(reply, "change") {
		t.Fatalf("want modification detail prompt: %q", reply)
	}

	reply, done = step(t, m, "u1", "make it 6pm instead")
	if done || !strings.Contains(reply, "[y/n]") {
		t.Fatalf("modification should re-propose: %q", reply)
	}
}

func TestDeclineModificationTerminates(t *testing.T) {
	s := &fakeScheduler{draft: &agent.EventDraft{Summary: "Delivery", Start: "2026-03-05T14:00"}}
	m := newManager(&fakeNotifier{}, &fakeLedger{}, s, &fakeDirectory{})
	begin(t, m, "u1")

	step(t, m, "u1", "y")
	step(t, m, "u1", "y")
	step(t, m, "u1", "n")
	_, done := step(t, m, "u1", "n")
	if !done {
		t.Fatalf("declining modification must terminate")
	}
	if m.Active("u1") {
		t.Errorf("instance must be cleared")
	}
}

func TestCommitFailureKeepsDraftForRetry(t *testing.T) {
	s := &fakeScheduler{
		draft:     &agent.EventDraft{Summary: "Delivery", Start: "2026-03-05T14:00"},
		commitErr: errors.New("calendar: 503"),
	}
	m := newManager(&fakeNotifier{}, &fakeLedger{}, s, &fakeDirectory{})
	begin(t, m, "u1")

	step(t, m, "u1", "y")
	step(t, m, "u1", "y")
	reply, done := step(t, m, "u1", "y")
	if done {
		t.Fatalf("commit failure must keep the workflow alive: %q", reply)
	}

	s.commitErr = nil
	reply, done = step(t, m, "u1", "y")
	if !done || !strings.Contains(reply, "scheduled") {
		t.Fatalf("retry should succeed: done=%v reply=%q", done, reply)
	}
}

func TestSingleFlightPerUser(t *testing.T) {
	m := newManager(&fakeNotifier{}, &fakeLedger{}, &fakeScheduler{}, &fakeDirectory{})
	begin(t, m, "u1")

	if _, err := m.Begin("u1", testOrder(), testQuotation(), "/tmp/quote2.pdf"); !errors.Is(err, workflow.ErrWorkflowActive) {
		t.Fatalf("err = %v, want ErrWorkflowActive", err)
	}
	// A different user is unaffected.
	if _, err := m.Begin("u2", testOrder(), testQuotation(), "/tmp/quote3.pdf"); err != nil {
		t.Fatalf("second user blocked: %v", err)
	}
}

func TestSweepStaleClearsAbandonedInstances(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }
	m := workflow.NewManager(&fakeNotifier{}, &fakeLedger{}, &fakeScheduler{}, &fakeDirectory{},
		30*time.Minute, now, slog.New(slog.DiscardHandler))
	begin(t, m, "u1")

	current = current.Add(10 * time.Minute)
	if n := m.SweepStale(); n != 0 {
		t.Fatalf("fresh instance swept")
	}
	current = current.Add(25 * time.Minute)
	if n := m.SweepStale(); n != 1 {
		t.Fatalf("stale instance not swept")
	}
	if m.Active("u1") {
		t.Errorf("swept instance still active")
	}
	// The user can start a new workflow afterwards.
	begin(t, m, "u1")
}

func TestAbortClearsInstance(t *testing.T) {
	m := newManager(&fakeNotifier{}, &fakeLedger{}, &fakeScheduler{}, &fakeDirectory{})
	begin(t, m, "u1")
	m.Abort("u1")
	if m.Active("u1") {
		t.Fatalf("abort must clear the instance")
	}
}

func TestStepWithoutInstanceReportsNoInstance(t *testing.T) {
	m := newManager(&fakeNotifier{}, &fakeLedger{}, &fakeScheduler{}, &fakeDirectory{})

	_, done, err := m.Step(context.Background(), "u1", "y")
	if !errors.Is(err, workflow.ErrNoInstance) {
		t.Fatalf("err = %v, want ErrNoInstance", err)
	}
	if !done {
		t.Errorf("a missing instance has nothing left to step")
	}
}

// Stateless collaborators for the concurrency test below: the fakes above
// record calls in plain slices, which would race across users.
type quietNotifier struct{}

func (quietNotifier) SendDocument(ctx context.Context, path, recipient string) error { return nil }

type quietLedger struct{}

func (quietLedger) UpsertContact(ctx context.Context, c store.Contact) error   { return nil }
func (quietLedger) RecordSale(ctx context.Context, q *pricing.Quotation) error { return nil }

type quietScheduler struct{}

func (quietScheduler) Draft(ctx context.Context, prompt string, history []nlp.HistoryMessage) (*agent.EventDraft, string, error) {
	return &agent.EventDraft{Summary: "Delivery", Start: "2026-03-05T14:00", End: "2026-03-05T15:00"}, "", nil
}

func (quietScheduler) Commit(ctx context.Context, draft *agent.EventDraft) (calendar.Event, error) {
	return calendar.Event{Summary: draft.Summary}, nil
}

// The housekeeping sweeper runs concurrently with user turns in
// production; stepping and sweeping must share the manager cleanly.
// Meaningful under the race detector.
func TestSweeperConcurrentWithSteps(t *testing.T) {
	m := workflow.NewManager(quietNotifier{}, quietLedger{}, quietScheduler{}, &fakeDirectory{},
		time.Hour, nil, slog.New(slog.DiscardHandler))

	stop := make(chan struct{})
	var sweeper sync.WaitGroup
	sweeper.Add(1)
	go func() {
		defer sweeper.Done()
		for {
			select {
			case <-stop:
				return
			default:
				m.SweepStale()
				m.Active("u0")
			}
		}
	}()

	var steppers sync.WaitGroup
	for i := 0; i < 4; i++ {
		steppers.Add(1)
		go func(user string) {
			defer steppers.Done()
			for j := 0; j < 25; j++ {
				if _, err := m.Begin(user, testOrder(), testQuotation(), "/tmp/quote.pdf"); err != nil {
					t.Errorf("Begin(%s): %v", user, err)
					return
				}
				// send → offer scheduling → propose event → decline changes.
				for _, text := range []string{"y", "y", "n", "n"} {
					if _, _, err := m.Step(context.Background(), user, text); err != nil {
						t.Errorf("Step(%s, %q): %v", user, text, err)
						return
					}
				}
			}
		}(fmt.Sprintf("u%d", i))
	}
	steppers.Wait()
	close(stop)
	sweeper.Wait()
}
