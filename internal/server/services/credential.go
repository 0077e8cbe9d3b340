package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/gophvault/internal/clock"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	maxNameLen   = 255
	maxReasonLen = 1000
)

// CredentialService stores application credentials encrypted with the
// vault cipher. It performs no access checks of its own on Decrypt:
// callers must consult the Policy first (see VaultService).
type CredentialService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      *cryptox.Cipher
	clock       clock.Clock
	log         logging.Logger
}

// NewCredentialService constructs a CredentialService. cipher seals every
// stored secret.
func NewCredentialService(db *sql.DB, m repomanager.RepositoryManager, cipher *cryptox.Cipher, clk clock.Clock, log logging.Logger) *CredentialService {
	return &CredentialService{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		clock:       clk,
		log:         log.With("module", "credentials"),
	}
}

// Create encrypts plaintext and stores a new credential owned by ownerID.
func (s *CredentialService) Create(ctx context.Context, ownerID, appName, username string, email *string, plaintext []byte) (*models.Credential, error) {
	appName, username = strings.TrimSpace(appName), strings.TrimSpace(username)
	if err := validateCredential(appName, username, email, plaintext); err != nil {
		return nil, err
	}

	ct, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	c := &models.Credential{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		ApplicationName: appName,
		Username:        username,
		Email:           email,
		Ciphertext:      ct,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repomanager.Credentials(s.db).Create(ctx, c); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: unknown owner", common.ErrValidation)
		}
		return nil, fmt.Errorf("error creating credential: %w", err)
	}

	s.log.Info(ctx, "credential created", "credential_id", c.ID, "owner_id", ownerID)
	return c, nil
}

// ListForOwner returns the owner's credentials, newest first.
func (s *CredentialService) ListForOwner(ctx context.Context, ownerID string) ([]*models.Credential, error) {
	return s.repomanager.Credentials(s.db).ListByOwner(ctx, ownerID)
}

// ListVisible returns what p may browse: admins see every credential's
// metadata so they can request access, others see their own.
func (s *CredentialService) ListVisible(ctx context.Context, p models.Principal) ([]*models.Credential, error) {
	if p.IsAdmin {
		return s.repomanager.Credentials(s.db).ListAll(ctx)
	}
	return s.ListForOwner(ctx, p.UserID)
}

// Get returns credential metadata. The ciphertext is included but useless
// without the key.
func (s *CredentialService) Get(ctx context.Context, id string) (*models.Credential, error) {
	return s.repomanager.Credentials(s.db).GetByID(ctx, id)
}

// Rotate re-encrypts the credential with a new secret. Owner only.
func (s *CredentialService) Rotate(ctx context.Context, actorID, credentialID string, newPlaintext []byte) (*models.Credential, error) {
	if len(newPlaintext) == 0 {
		return nil, fmt.Errorf("%w: secret must not be empty", common.ErrValidation)
	}

	var out *models.Credential
	err := s.repomanager.RunInTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Credentials(tx)
		c, err := repo.GetByID(ctx, credentialID)
		if err != nil {
			return err
		}
		if c.OwnerID != actorID {
			return common.ErrNotAuthorized
		}

		ct, err := s.cipher.Encrypt(newPlaintext)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := repo.UpdateCiphertext(ctx, c.ID, ct, now); err != nil {
			return err
		}
		c.Ciphertext, c.UpdatedAt = ct, now
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "credential rotated", "credential_id", credentialID)
	return out, nil
}

// Update replaces the application name, username and email of a credential
// owned by actorID. The secret is untouched; use Rotate for that.
func (s *CredentialService) Update(ctx context.Context, actorID, credentialID, appName, username string, email *string) (*models.Credential, error) {
	appName, username = strings.TrimSpace(appName), strings.TrimSpace(username)
	if err := validateMetadata(appName, username, email); err != nil {
		return nil, err
	}

	var out *models.Credential
	err := s.repomanager.RunInTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Credentials(tx)
		c, err := repo.GetByID(ctx, credentialID)
		if err != nil {
			return err
		}
		if c.OwnerID != actorID {
			return common.ErrNotAuthorized
		}

		c.ApplicationName, c.Username, c.Email = appName, username, email
		c.UpdatedAt = s.clock.Now()
		if err := repo.UpdateDetails(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "credential updated", "credential_id", credentialID)
	return out, nil
}

// Decrypt returns the plaintext of c. It does not check access.
func (s *CredentialService) Decrypt(_ context.Context, c *models.Credential) ([]byte, error) {
	return s.cipher.Decrypt(c.Ciphertext)
}

// Delete removes the credential and, by cascade, its access requests. Owner only.
func (s *CredentialService) Delete(ctx context.Context, actorID, credentialID string) error {
	err := s.repomanager.RunInTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Credentials(tx)
		c, err := repo.GetByID(ctx, credentialID)
		if err != nil {
			return err
		}
		if c.OwnerID != actorID {
			return common.ErrNotAuthorized
		}
		return repo.Delete(ctx, credentialID)
	})
	if err != nil {
		return err
	}

	s.log.Info(ctx, "credential deleted", "credential_id", credentialID)
	return nil
}

// checkText rejects empty, overlong and control-character values. These
// strings end up in notification e-mails.
func checkText(field, v string, limit int, required bool) error {
	switch {
	case v == "" && required:
		return fmt.Errorf("%w: %s is required", common.ErrValidation, field)
	case len(v) > limit:
		return fmt.Errorf("%w: %s longer than %d", common.ErrValidation, field, limit)
	case strings.IndexFunc(v, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: %s must not contain control characters", common.ErrValidation, field)
	}
	return nil
}

func validateMetadata(appName, username string, email *string) error {
	if err := checkText("application name", appName, maxNameLen, true); err != nil {
		return err
	}
	if err := checkText("username", username, maxNameLen, true); err != nil {
		return err
	}
	if email != nil {
		if _, err := mail.ParseAddress(*email); err != nil {
			return fmt.Errorf("%w: invalid email", common.ErrValidation)
		}
	}
	return nil
}

func validateCredential(appName, username string, email *string, plaintext []byte) error {
	if err := validateMetadata(appName, username, email); err != nil {
		return err
	}
	if len(plaintext) == 0 {
		return fmt.Errorf("%w: secret must not be empty", common.ErrValidation)
	}
	return nil
}
