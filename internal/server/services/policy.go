package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

// Relation is how a viewer stands to a credential. The set is closed and
// CanView handles every member.
type Relation int

const (
	RelationOther Relation = iota
	RelationOwner
	RelationAdmin
)

func (r Relation) String() string {
	switch r {
	case RelationOwner:
		return "owner"
	case RelationAdmin:
		return "admin"
	default:
		return "other"
	}
}

// RelationOf classifies viewer against c. Ownership wins over the admin flag.
func RelationOf(viewer models.Principal, c *models.Credential) Relation {
	switch {
	case viewer.UserID != "" && viewer.UserID == c.OwnerID:
		return RelationOwner
	case viewer.IsAdmin:
		return RelationAdmin
	default:
		return RelationOther
	}
}

// GrantSource finds the active grant for a (credential, requester) pair.
// AccessRequestService implements it.
type GrantSource interface {
	ActiveGrant(ctx context.Context, credentialID, requesterID string) (*models.AccessRequest, error)
}

// Policy decides whether a viewer may see a credential's plaintext.
// Nothing is cached: each call re-reads the grant.
type Policy struct {
	grants GrantSource
}

// NewPolicy returns a Policy that consults grants for requester access.
func NewPolicy(grants GrantSource) *Policy {
	return &Policy{grants: grants}
}

// CanView applies the decision table:
//
//	owner  -> allowed
//	admin  -> allowed iff an approved request for (credential, viewer) is active now
//	other  -> denied
func (p *Policy) CanView(ctx context.Context, viewer models.Principal, c *models.Credential) (bool, error) {
	switch rel := RelationOf(viewer, c); rel {
	case RelationOwner:
		return true, nil
	case RelationAdmin:
		grant, err := p.grants.ActiveGrant(ctx, c.ID, viewer.UserID)
		if err != nil {
			return false, err
		}
		return grant != nil, nil
	case RelationOther:
		return false, nil
	default:
		return false, fmt.Errorf("unhandled relation %v", rel)
	}
}
