package notify

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
)

// SMTP sends messages through a relay using net/smtp with optional PLAIN auth.
type SMTP struct {
	Addr     string
	From     string
	User     string
	Password string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP returns a notifier that relays through addr. Empty user disables
// authentication.
func NewSMTP(addr, from, user, password string) *SMTP {
	return &SMTP{Addr: addr, From: from, User: user, Password: password, send: smtp.SendMail}
}

// Notify sends msg. net/smtp has no context support, so a cancelled ctx
// returns early while the send finishes in the background.
func (s *SMTP) Notify(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}

	var auth smtp.Auth
	if s.User != "" {
		host, _, err := net.SplitHostPort(s.Addr)
		if err != nil {
			return fmt.Errorf("smtp addr: %w", err)
		}
		auth = smtp.PlainAuth("", s.User, s.Password, host)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.Addr, auth, s.From, msg.To, s.render(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SMTP) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", oneLine(s.From))
	fmt.Fprintf(&b, "To: %s\r\n", oneLine(strings.Join(msg.To, ", ")))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", oneLine(msg.Subject)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	body := strings.ReplaceAll(msg.Body, "\r", "")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
