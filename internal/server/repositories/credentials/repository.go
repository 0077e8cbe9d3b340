package credentials

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

// Repository stores credentials. Implementations return common.ErrorNotFound
// for unknown ids.
type Repository interface {
	Create(ctx context.Context, c *models.Credential) error
	GetByID(ctx context.Context, id string) (*models.Credential, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Credential, error)
	ListAll(ctx context.Context) ([]*models.Credential, error)
	UpdateCiphertext(ctx context.Context, id, ciphertext string, updatedAt time.Time) error
	UpdateDetails(ctx context.Context, c *models.Credential) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}
