package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const googleCalendarBase = "https://www.googleapis.com/calendar/v3"

// GoogleConfig configures the Google Calendar service.
type GoogleConfig struct {
	// CalendarID is the target calendar, usually "primary".
	CalendarID string
	// TokenSource supplies OAuth2 access tokens (from the auth gate).
	TokenSource oauth2.TokenSource
	// Timeout bounds each API call. Defaults to 15 s.
	Timeout time.Duration
}

// googleService talks to the Google Calendar REST API.
type googleService struct {
	cfg    GoogleConfig
	client *http.Client
}

// NewGoogle returns a Service backed by the Google Calendar API. Wrap it
// with NewValidator; this type performs no business validation itself.
func NewGoogle(cfg GoogleConfig) Service {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &googleService{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{Source: cfg.TokenSource},
		},
	}
}

// --- Google Calendar wire types (the subset we use) ---

type gcalTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type gcalAttendee struct {
	Email string `json:"email"`
}

type gcalEvent struct {
	ID          string         `json:"id,omitempty"`
	Summary     string         `json:"summary"`
	Location    string         `json:"location,omitempty"`
	Description string         `json:"description,omitempty"`
	Start       gcalTime       `json:"start"`
	End         gcalTime       `json:"end"`
	Attendees   []gcalAttendee `json:"attendees,omitempty"`
	HTMLLink    string         `json:"htmlLink,omitempty"`
	Error       *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toWire(ev Event) gcalEvent {
	w := gcalEvent{
		ID:          ev.ID,
		Summary:     ev.Summary,
		Location:    ev.Address,
		Description: ev.Description,
		Start:       gcalTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.Start.Location().String()},
		End:         gcalTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.End.Location().String()},
	}
	for _, a := range ev.Attendees {
		w.Attendees = append(w.Attendees, gcalAttendee{Email: a})
	}
	return w
}

func (g *googleService) eventsURL(id string) string {
	u := fmt.Sprintf("%s/calendars/%s/events", googleCalendarBase, g.cfg.CalendarID)
	if id != "" {
		u += "/" + id
	}
	return u
}

func (g *googleService) do(ctx context.Context, method, url string, body any) (*gcalEvent, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("calendar: marshal event: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("calendar: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: api call: %w", err)
	}
	defer resp.Body.Close()

	if method == http.MethodDelete {
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("calendar: delete failed (HTTP %d)", resp.StatusCode)
		}
		return nil, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("calendar: read response: %w", err)
	}

	var out gcalEvent
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("calendar: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("calendar: api error %d: %s", out.Error.Code, out.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("calendar: api returned HTTP %d", resp.StatusCode)
	}
	return &out, nil
}

func (g *googleService) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	out, err := g.do(ctx, http.MethodPost, g.eventsURL(""), toWire(ev))
	if err != nil {
		return Event{}, err
	}
	ev.ID = out.ID
	ev.Link = out.HTMLLink
	return ev, nil
}

func (g *googleService) EditEvent(ctx context.Context, ev Event) (Event, error) {
	if ev.ID == "" {
		return Event{}, fmt.Errorf("calendar: edit requires an event id")
	}
	out, err := g.do(ctx, http.MethodPut, g.eventsURL(ev.ID), toWire(ev))
	if err != nil {
		return Event{}, err
	}
	ev.Link = out.HTMLLink
	return ev, nil
}

func (g *googleService) DeleteEvent(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("calendar: delete requires an event id")
	}
	_, err := g.do(ctx, http.MethodDelete, g.eventsURL(id), nil)
	return err
}
