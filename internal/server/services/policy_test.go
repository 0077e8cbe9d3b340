package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGrants struct {
	grant *models.AccessRequest
	err   error
	calls int
}

func (s *stubGrants) ActiveGrant(context.Context, string, string) (*models.AccessRequest, error) {
	s.calls++
	return s.grant, s.err
}

func TestRelationOf(t *testing.T) {
	c := &models.Credential{ID: "c1", OwnerID: "u-owner"}

	tests := []struct {
		name   string
		viewer models.Principal
		want   Relation
	}{
		{"owner", models.Principal{UserID: "u-owner"}, RelationOwner},
		{"admin owner is owner", models.Principal{UserID: "u-owner", IsAdmin: true}, RelationOwner},
		{"admin", models.Principal{UserID: "u-admin", IsAdmin: true}, RelationAdmin},
		{"other", models.Principal{UserID: "u-x"}, RelationOther},
		{"anonymous", models.Principal{}, RelationOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RelationOf(tt.viewer, c))
		})
	}
	assert.Equal(t, "admin", RelationAdmin.String())
}

func TestCanView_DecisionTable(t *testing.T) {
	c := &models.Credential{ID: "c1", OwnerID: "u-owner"}
	grant := &models.AccessRequest{ID: "r1", Status: models.StatusApproved}

	tests := []struct {
		name      string
		viewer    models.Principal
		grant     *models.AccessRequest
		want      bool
		wantCalls int
	}{
		{"owner without grant", models.Principal{UserID: "u-owner"}, nil, true, 0},
		{"admin with grant", models.Principal{UserID: "u-admin", IsAdmin: true}, grant, true, 1},
		{"admin without grant", models.Principal{UserID: "u-admin", IsAdmin: true}, nil, false, 1},
		{"other with grant", models.Principal{UserID: "u-x"}, grant, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubGrants{grant: tt.grant}
			got, err := NewPolicy(src).CanView(context.Background(), tt.viewer, c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, src.calls)
		})
	}
}

func TestCanView_GrantLookupError(t *testing.T) {
	boom := errors.New("db down")
	p := NewPolicy(&stubGrants{err: boom})

	ok, err := p.CanView(context.Background(), models.Principal{UserID: "a", IsAdmin: true}, &models.Credential{ID: "c", OwnerID: "o"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestCanView_FollowsWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.credential(t, "s3cr3t")

	ok, err := e.policy.CanView(ctx, e.admin, c)
	require.NoError(t, err)
	assert.False(t, ok, "no request yet")

	req, err := e.requests.Create(ctx, e.admin.UserID, c.ID, "")
	require.NoError(t, err)
	ok, _ = e.policy.CanView(ctx, e.admin, c)
	assert.False(t, ok, "pending does not grant")

	code, _, err := e.requests.IssueOTP(ctx, req.ID)
	require.NoError(t, err)
	_, err = e.requests.VerifyOTPAndApprove(ctx, e.admin, req.ID, code, 20*time.Second)
	require.NoError(t, err)
	ok, _ = e.policy.CanView(ctx, e.admin, c)
	assert.True(t, ok)

	e.clock.Advance(20 * time.Second)
	ok, _ = e.policy.CanView(ctx, e.admin, c)
	assert.False(t, ok, "window end is exclusive")

	ok, _ = e.policy.CanView(ctx, e.owner, c)
	assert.True(t, ok)
	ok, _ = e.policy.CanView(ctx, e.other, c)
	assert.False(t, ok)
}
