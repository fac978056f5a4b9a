package notify

import "gopkg.in/gomail.v2"

// SetSendFunc swaps the SMTP dial for tests.
func (m *Mailer) SetSendFunc(f func(msg *gomail.Message) error) { m.send = f }
