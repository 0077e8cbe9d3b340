// Package notify delivers out-of-band messages (OTP codes) to admins.
// Delivery is best effort: callers log failures and carry on.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is a plain-text e-mail.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Notifier delivers a Message. Implementations must honour ctx cancellation.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// OTPDetails is what admins need to act on an access request.
type OTPDetails struct {
	Requester   string
	Application string
	Reason      string
	Code        string
	Validity    time.Duration
}

// OTPMessage renders the OTP notification for the given recipients.
func OTPMessage(to []string, d OTPDetails) Message {
	reason := oneLine(d.Reason)
	if strings.TrimSpace(reason) == "" {
		reason = "Not specified"
	}
	app := oneLine(d.Application)

	var b strings.Builder
	b.WriteString("A password view request has been made:\n\n")
	fmt.Fprintf(&b, "User: %s\n", oneLine(d.Requester))
	fmt.Fprintf(&b, "Application: %s\n", app)
	fmt.Fprintf(&b, "Reason: %s\n\n", reason)
	fmt.Fprintf(&b, "Your OTP code is: %s\n\n", d.Code)
	fmt.Fprintf(&b, "This OTP will expire in %s.\n\n", humanize(d.Validity))
	b.WriteString("To approve this request, use the OTP verification endpoint.\n")

	return Message{
		To:      to,
		Subject: "Password Request OTP - " + app,
		Body:    b.String(),
	}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// oneLine folds line breaks into spaces.
func oneLine(s string) string {
	return lineBreaks.Replace(s)
}

func humanize(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	case d >= time.Second && d%time.Second == 0:
		return plural(int(d/time.Second), "second")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
