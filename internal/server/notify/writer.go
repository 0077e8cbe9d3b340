package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Writer prints messages to w. It stands in for a mail relay in development.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a notifier that prints messages to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (n *Writer) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "To: %s\nSubject: %s\n\n%s\n", strings.Join(msg.To, ", "), msg.Subject, msg.Body)
	return err
}
