// Package calendar defines the delivery-scheduling contract and its Google
// Calendar implementation. All event times are zoned to the configured
// business timezone, and past-dated events are rejected before they reach
// the upstream service.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPastEvent is returned when an event's start time is not in the future.
var ErrPastEvent = errors.New("calendar: event starts in the past")

// Event is a delivery appointment.
type Event struct {
	ID          string
	Summary     string
	Address     string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
	// Link is the human-facing calendar URL, set by the service on create.
	Link string
}

// Service is the scheduling capability consumed by the scheduling handler
// and the confirmation workflow.
type Service interface {
	CreateEvent(ctx context.Context, ev Event) (Event, error)
	EditEvent(ctx context.Context, ev Event) (Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

// ParseLocal parses "2006-01-02T15:04" or "2006-01-02T15:04:05" in the
// given business timezone. Extractor payloads carry zone-less local times;
// the zone is a deployment property, never a per-message guess.
func ParseLocal(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("calendar: invalid local time %q", s)
}

// validator wraps a Service with the business rules every implementation
// must respect: event times zoned to the business timezone, end after
// start (defaulting to one hour), and no past-dated events.
type validator struct {
	next Service
	loc  *time.Location
	now  func() time.Time
}

// NewValidator returns a Service that enforces scheduling rules before
// delegating to next. now is injectable so tests control the present.
func NewValidator(next Service, loc *time.Location, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &validator{next: next, loc: loc, now: now}
}

func (v *validator) normalize(ev Event) (Event, error) {
	ev.Start = ev.Start.In(v.loc)
	if ev.End.IsZero() {
		// Default delivery duration is one hour.
		ev.End = ev.Start.Add(time.Hour)
	}
	ev.End = ev.End.In(v.loc)

	if !ev.Start.After(v.now()) {
		return Event{}, ErrPastEvent
	}
	if !ev.End.After(ev.Start) {
		return Event{}, fmt.Errorf("calendar: event ends before it starts")
	}
	return ev, nil
}

func (v *validator) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	ev, err := v.normalize(ev)
	if err != nil {
		return Event{}, err
	}
	return v.next.CreateEvent(ctx, ev)
}

func (v *validator) EditEvent(ctx context.Context, ev Event) (Event, error) {
	ev, err := v.normalize(ev)
	if err != nil {
		return Event{}, err
	}
	return v.next.EditEvent(ctx, ev)
}

func (v *validator) DeleteEvent(ctx context.Context, id string) error {
	return v.next.DeleteEvent(ctx, id)
}
