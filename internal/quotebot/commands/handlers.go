package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leylacuisine/quotebot/internal/quotebot/store"
)

// AuthGate is the slice of the authentication gate the commands need.
type AuthGate interface {
	Authenticated(ctx context.Context, userID string) (bool, error)
	BeginFlow(ctx context.Context, userID, chatID string) (string, error)
}

// SessionCounter reports how many user sessions exist.
type SessionCounter interface {
	Len() int
}

// MenuLister reports the current menu for /status.
type MenuLister interface {
	ListItems(ctx context.Context) ([]store.MenuItem, error)
}

// HandlersConfig wires the meta-command dependencies.
type HandlersConfig struct {
	Gate      AuthGate
	Sessions  SessionCounter
	Catalog   MenuLister
	StartedAt time.Time
}

// Handlers implements the meta-commands.
type Handlers struct {
	cfg HandlersConfig
}

// NewHandlers creates the meta-command handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	return &Handlers{cfg: cfg}
}

// HandleHelp lists the available commands.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, userID string) (string, error) {
	var b strings.Builder
	b.WriteString("I take catering orders, manage the menu and contacts, and schedule deliveries — just tell me what you need.\n")
	b.WriteString("Commands:\n")
	b.WriteString("/help — this message\n")
	b.WriteString("/login — connect the Google account used for the calendar\n")
	b.WriteString("/status — assistant status\n")
	b.WriteString("/ping — liveness check")
	return b.String(), nil
}

// HandlePing confirms the assistant is alive.
func (h *Handlers) HandlePing(ctx context.Context, cmd *Command, userID string) (string, error) {
	return "pong", nil
}

// HandleStatus reports uptime, connection state, and store counts.
func (h *Handlers) HandleStatus(ctx context.Context, cmd *Command, userID string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %s\n", time.Since(h.cfg.StartedAt).Round(time.Second))

	connected, err := h.cfg.Gate.Authenticated(ctx, userID)
	if err != nil {
		b.WriteString("Google account: unknown (check failed)\n")
	} else if connected {
		b.WriteString("Google account: connected\n")
	} else {
		b.WriteString("Google account: not connected (use /login)\n")
	}

	fmt.Fprintf(&b, "Active sessions: %d\n", h.cfg.Sessions.Len())

	if items, err := h.cfg.Catalog.ListItems(ctx); err == nil {
		fmt.Fprintf(&b, "Menu items: %d", len(items))
	} else {
		b.WriteString("Menu items: unavailable")
	}
	return b.String(), nil
}

// HandleLogin starts the OAuth flow, or reports that the account is
// already connected.
func (h *Handlers) HandleLogin(ctx context.Context, cmd *Command, userID string) (string, error) {
	connected, err := h.cfg.Gate.Authenticated(ctx, userID)
	if err == nil && connected {
		return "The Google account is already connected.", nil
	}
	link, err := h.cfg.Gate.BeginFlow(ctx, userID, cmd.ChatID)
	if err != nil {
		return "", fmt.Errorf("start sign-in: %w", err)
	}
	return fmt.Sprintf("Connect the business Google account here: %s", link), nil
}
