package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
)

const sweepBatch = 100

// Sweeper moves lapsed approved requests to expired in the background.
// Reads already apply expiry lazily; the sweeper only keeps stored status
// close to the truth.
type Sweeper struct {
	requests *AccessRequestService
	interval time.Duration
	metrics  *metrics.Metrics
	log      logging.Logger
}

// NewSweeper returns a Sweeper that expires lapsed grants every interval.
func NewSweeper(requests *AccessRequestService, interval time.Duration, mt *metrics.Metrics, log logging.Logger) *Sweeper {
	return &Sweeper{
		requests: requests,
		interval: interval,
		metrics:  mt,
		log:      log.With("module", "sweeper"),
	}
}

// Run sweeps every interval until ctx is done. A non-positive interval
// returns immediately.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.log.Error(ctx, "sweep failed", "error", err)
			} else if n > 0 {
				s.log.Info(ctx, "expired requests swept", "count", n)
			}
		}
	}
}

// SweepOnce expires lapsed requests in batches and returns how many it
// moved. Requests changed concurrently are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	svc := s.requests
	repo := svc.repomanager.AccessRequests(svc.db)
	total := 0

	for {
		lapsed, err := repo.ListLapsed(ctx, svc.clock.Now(), sweepBatch)
		if err != nil {
			return total, err
		}

		moved := 0
		for _, r := range lapsed {
			ok, err := svc.CheckExpiration(ctx, r)
			if err != nil && !errors.Is(err, common.ErrStaleState) {
				return total, err
			}
			if ok {
				moved++
			}
		}
		total += moved
		s.metrics.Swept(moved)

		if len(lapsed) < sweepBatch || moved == 0 {
			return total, nil
		}
	}
}
