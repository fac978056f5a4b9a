// Package commands parses and routes the slash meta-commands (/help,
// /login, /status, /ping) that work outside the conversational pipeline —
// including before the user has authenticated.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Command is a parsed meta-command. ChatID is the room the command
// arrived in, filled by Route.
type Command struct {
	Name    string
	Args    []string
	RawText string
	ChatID  string
}

// ErrNotACommand is returned by Parse when the message does not start
// with the command prefix. Callers use errors.Is to distinguish this
// expected case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler handles one meta-command for a user.
type Handler func(ctx context.Context, cmd *Command, userID string) (string, error)

// Router routes meta-commands to handlers.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a command router with the given prefix ("/").
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a handler under a command name.
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// Parse splits a message into a command. Messages without the prefix
// return ErrNotACommand.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}

	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	return &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    parts[1:],
		RawText: text,
	}, nil
}

// Route parses and dispatches a command.
func (r *Router) Route(ctx context.Context, text, userID, chatID string) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}
	cmd.ChatID = chatID
	handler, ok := r.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("unknown command: %s (try /help)", cmd.Name)
	}
	return handler(ctx, cmd, userID)
}
