package accessrequests

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	RequesterID string
	Status      models.Status
}

type Repository interface {
	// Create stores a new request. A second open request for the same
	// (credential, requester) pair yields common.ErrDuplicatePendingRequest.
	Create(ctx context.Context, r *models.AccessRequest) error
	GetByID(ctx context.Context, id string) (*models.AccessRequest, error)
	// Update writes r if the stored version still equals r.Version and bumps
	// r.Version on success. A concurrent writer yields common.ErrStaleState.
	Update(ctx context.Context, r *models.AccessRequest) error
	FindLatestApproved(ctx context.Context, credentialID, requesterID string) (*models.AccessRequest, error)
	List(ctx context.Context, f Filter) ([]*models.AccessRequest, error)
	ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.AccessRequest, error)
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, s models.Status) (int64, error)
}
