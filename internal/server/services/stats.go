package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
)

// StatsService builds the admin dashboard summary.
type StatsService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

// NewStatsService constructs a StatsService.
func NewStatsService(db *sql.DB, m repomanager.RepositoryManager) *StatsService {
	return &StatsService{db: db, repomanager: m}
}

// Stats counts users, credentials and requests. Admin only. Pending
// includes requests with an OTP outstanding.
func (s *StatsService) Stats(ctx context.Context, p models.Principal) (*models.Stats, error) {
	if !p.IsAdmin {
		return nil, common.ErrNotAuthorized
	}

	requests := s.repomanager.AccessRequests(s.db)
	var (
		st  models.Stats
		err error
	)
	if st.TotalUsers, err = s.repomanager.Users(s.db).Count(ctx); err != nil {
		return nil, err
	}
	if st.TotalCredentials, err = s.repomanager.Credentials(s.db).Count(ctx); err != nil {
		return nil, err
	}
	if st.TotalRequests, err = requests.Count(ctx); err != nil {
		return nil, err
	}
	for _, status := range []models.Status{models.StatusPending, models.StatusOTPSent} {
		n, err := requests.CountByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		st.PendingRequests += n
	}
	return &st, nil
}
