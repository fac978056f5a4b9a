// Package notify emails quote documents to customers over SMTP.
package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Config holds the SMTP account the quotes go out from.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the sender shown to the customer; defaults to Username.
	From string
	// Subject is the message subject; a sensible default is applied.
	Subject string
}

func (c *Config) withDefaults() {
	if c.From == "" {
		c.From = c.Username
	}
	if c.Subject == "" {
		c.Subject = "Your catering quotation"
	}
	if c.Port == 0 {
		c.Port = 587
	}
}

// Mailer sends quote documents. The dial function is swappable for tests.
type Mailer struct {
	cfg  Config
	send func(msg *gomail.Message) error
}

// NewMailer returns a Mailer over the given SMTP account.
func NewMailer(cfg Config) *Mailer {
	cfg.withDefaults()
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &Mailer{cfg: cfg, send: func(msg *gomail.Message) error {
		return dialer.DialAndSend(msg)
	}}
}

// SendDocument emails the document at path to the recipient as an
// attachment. The SMTP dial itself is not interruptible, so the context
// is only consulted up front.
func (m *Mailer) SendDocument(ctx context.Context, path, recipient string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if recipient == "" {
		return fmt.Errorf("notify: no recipient address")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", m.cfg.Subject)
	msg.SetBody("text/plain", "Hello,\n\nPlease find your quotation attached.\n\nThank you!")
	msg.Attach(path)

	if err := m.send(msg); err != nil {
		return fmt.Errorf("notify: send to %s: %w", recipient, err)
	}
	return nil
}
