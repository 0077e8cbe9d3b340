package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

// VaultService is the only path from the transport to plaintext: it loads
// the credential, asks the Policy and only then decrypts.
type VaultService struct {
	credentials *CredentialService
	policy      *Policy
	metrics     *metrics.Metrics
	log         logging.Logger
}

// NewVaultService constructs a VaultService over credentials guarded by policy.
func NewVaultService(credentials *CredentialService, policy *Policy, mt *metrics.Metrics, log logging.Logger) *VaultService {
	return &VaultService{
		credentials: credentials,
		policy:      policy,
		metrics:     mt,
		log:         log.With("module", "vault"),
	}
}

// DecryptIfAuthorized returns the plaintext of credentialID if viewer may
// see it. Non-admins asking for a missing credential get
// common.ErrNotAuthorized so existence does not leak.
func (s *VaultService) DecryptIfAuthorized(ctx context.Context, viewer models.Principal, credentialID string) ([]byte, *models.Credential, error) {
	c, err := s.credentials.Get(ctx, credentialID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) && !viewer.IsAdmin {
			s.metrics.Decrypt(false)
			return nil, nil, common.ErrNotAuthorized
		}
		return nil, nil, err
	}

	ok, err := s.policy.CanView(ctx, viewer, c)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.Decrypt(ok)
	if !ok {
		s.log.Warn(ctx, "decrypt denied", "credential_id", c.ID, "viewer_id", viewer.UserID, "relation", RelationOf(viewer, c).String())
		return nil, nil, common.ErrNotAuthorized
	}

	plaintext, err := s.credentials.Decrypt(ctx, c)
	if err != nil {
		s.log.Error(ctx, "decrypt failed", "credential_id", c.ID, "error", err)
		return nil, nil, err
	}

	s.log.Info(ctx, "credential decrypted", "credential_id", c.ID, "viewer_id", viewer.UserID, "relation", RelationOf(viewer, c).String())
	return plaintext, c, nil
}
