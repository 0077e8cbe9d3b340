package notify

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Throttled limits how often the wrapped Notifier is called. Callers block
// until a token is available or ctx is done.
type Throttled struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewThrottled allows perMinute messages per minute with a burst of the
// same size. perMinute <= 0 returns next unchanged.
func NewThrottled(next Notifier, perMinute int) Notifier {
	if perMinute <= 0 {
		return next
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (t *Throttled) Notify(ctx context.Context, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify throttled: %w", err)
	}
	return t.next.Notify(ctx, msg)
}
