// Package matrix is the chat transport: it delivers inbound turns from the
// business's Matrix rooms and sends replies back.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds the Matrix account the assistant runs as.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms is the list of room IDs the assistant serves. Empty means any
	// room the account is a member of.
	Rooms []string
	// DB persists the sync token across restarts. When nil an in-memory
	// store is used and room history replays on every restart.
	DB *sql.DB
}

// TurnHandler processes one inbound text turn.
type TurnHandler func(ctx context.Context, userID, roomID, text string)

// Client wraps the mautrix client with the sync loop and room filtering.
type Client struct {
	client  *mautrix.Client
	config  *Config
	stopCh  chan struct{}
	handler TurnHandler
}

// New creates a Matrix client. It does not connect until Start.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}

	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
	} else {
		slog.Warn("matrix: no DB configured, history will replay on restart")
	}

	return c, nil
}

// Start joins the configured rooms and begins syncing in the background.
// The sync loop reconnects with exponential backoff; without it a transient
// homeserver error would leave the assistant deaf to new messages.
func (c *Client) Start(ctx context.Context, handler TurnHandler) error {
	c.handler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", roomID, err)
		}
	}

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("matrix: sync stopped, reconnecting", "error", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			return
		}
	}()

	return nil
}

// Stop shuts the sync loop down.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendMessage sends a plain text message to a room.
func (c *Client) SendMessage(roomID, message string) error {
	_, err := c.client.SendText(context.Background(), id.RoomID(roomID), message)
	if err != nil {
		return fmt.Errorf("matrix: send message: %w", err)
	}
	return nil
}

// SendNotice sends a notice, used for operational messages rather than
// conversation replies.
func (c *Client) SendNotice(roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	_, err := c.client.SendMessageEvent(context.Background(), id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("matrix: send notice: %w", err)
	}
	return nil
}

// SetTyping toggles the typing indicator while a turn is being processed.
func (c *Client) SetTyping(roomID string, typing bool, timeout time.Duration) error {
	_, err := c.client.UserTyping(context.Background(), id.RoomID(roomID), typing, timeout)
	if err != nil {
		return fmt.Errorf("matrix: set typing: %w", err)
	}
	return nil
}

func (c *Client) servesRoom(roomID string) bool {
	if len(c.config.Rooms) == 0 {
		return true
	}
	for _, r := range c.config.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	if !c.servesRoom(evt.RoomID.String()) {
		return
	}
	if c.handler != nil {
		c.handler(ctx, evt.Sender.String(), evt.RoomID.String(), msg.Body)
	}
}

func (c *Client) joinRoom(roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(context.Background(), roomID)
	if err != nil {
		// Homeservers return M_FORBIDDEN when the account is already a
		// member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
