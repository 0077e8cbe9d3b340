// Package memory provides process-local implementations of the server
// repositories. It backs tests and the "memory" DSN; all data is lost on exit.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/accessrequests"
	"github.com/google/uuid"
)

// Store holds every table behind one mutex so cross-table checks
// (cascade delete, open-pair uniqueness) are atomic.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	credentials   map[string]*models.Credential
	requests      map[string]*models.AccessRequest
	now           func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
		credentials:   make(map[string]*models.Credential),
		requests:      make(map[string]*models.AccessRequest),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Users() *UserRepository                   { return &UserRepository{s: s} }
func (s *Store) RefreshTokens() *RefreshTokenRepository   { return &RefreshTokenRepository{s: s} }
func (s *Store) Credentials() *CredentialRepository       { return &CredentialRepository{s: s} }
func (s *Store) AccessRequests() *AccessRequestRepository { return &AccessRequestRepository{s: s} }

type UserRepository struct{ s *Store }

func (r *UserRepository) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, user.Email) || u.UserName == user.UserName {
			return nil, common.ErrorAlreadyExists
		}
	}
	user.ID = uuid.NewString()
	user.IsActive = true
	user.CreatedAt = r.s.now()
	cp := *user
	r.s.users[user.ID] = &cp
	return user, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepository) ListAdminEmails(_ context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var emails []string
	for _, u := range r.s.users {
		if u.IsAdmin && u.IsActive && u.Email != "" {
			emails = append(emails, u.Email)
		}
	}
	sort.Strings(emails)
	return emails, nil
}

func (r *UserRepository) Count(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.s.users)), nil
}

type RefreshTokenRepository struct{ s *Store }

func (r *RefreshTokenRepository) Create(_ context.Context, userID, token string, expires time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[userID]; !ok {
		return common.ErrorNotFound
	}
	r.s.refreshTokens[token] = &models.RefreshToken{
		UserID: userID, Token: token, Expires: expires, CreatedAt: r.s.now(),
	}
	return nil
}

func (r *RefreshTokenRepository) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.refreshTokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *RefreshTokenRepository) Delete(_ context.Context, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.refreshTokens, token)
	return nil
}

type CredentialRepository struct{ s *Store }

func (r *CredentialRepository) Create(_ context.Context, c *models.Credential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[c.OwnerID]; !ok {
		return common.ErrorNotFound
	}
	if _, ok := r.s.credentials[c.ID]; ok {
		return common.ErrorAlreadyExists
	}
	r.s.credentials[c.ID] = cloneCredential(c)
	return nil
}

func (r *CredentialRepository) GetByID(_ context.Context, id string) (*models.Credential, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.credentials[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneCredential(c), nil
}

func (r *CredentialRepository) ListByOwner(_ context.Context, ownerID string) ([]*models.Credential, error) {
	return r.list(func(c *models.Credential) bool { return c.OwnerID == ownerID }), nil
}

func (r *CredentialRepository) ListAll(_ context.Context) ([]*models.Credential, error) {
	return r.list(func(*models.Credential) bool { return true }), nil
}

func (r *CredentialRepository) list(keep func(*models.Credential) bool) []*models.Credential {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Credential
	for _, c := range r.s.credentials {
		if keep(c) {
			out = append(out, cloneCredential(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UpdateCiphertext replaces the stored ciphertext.
func (r *CredentialRepository) UpdateCiphertext(_ context.Context, id, ciphertext string, updatedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.credentials[id]
	if !ok {
		return common.ErrorNotFound
	}
	c.Ciphertext = ciphertext
	c.UpdatedAt = updatedAt
	return nil
}

// UpdateDetails copies the descriptive fields of c onto the stored credential.
func (r *CredentialRepository) UpdateDetails(_ context.Context, c *models.Credential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.credentials[c.ID]
	if !ok {
		return common.ErrorNotFound
	}
	cp := cloneCredential(c)
	stored.ApplicationName = cp.ApplicationName
	stored.Username = cp.Username
	stored.Email = cp.Email
	stored.UpdatedAt = cp.UpdatedAt
	return nil
}

// Delete removes the credential together with its access requests.
func (r *CredentialRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.credentials[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.credentials, id)
	for rid, req := range r.s.requests {
		if req.CredentialID == id {
			delete(r.s.requests, rid)
		}
	}
	return nil
}

func (r *CredentialRepository) Count(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.s.credentials)), nil
}

type AccessRequestRepository struct{ s *Store }

func (r *AccessRequestRepository) Create(_ context.Context, req *models.AccessRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.credentials[req.CredentialID]; !ok {
		return common.ErrorNotFound
	}
	if _, ok := r.s.users[req.RequesterID]; !ok {
		return common.ErrorNotFound
	}
	for _, other := range r.s.requests {
		if other.CredentialID == req.CredentialID && other.RequesterID == req.RequesterID && other.Status.Open() {
			return common.ErrDuplicatePendingRequest
		}
	}
	if req.Version == 0 {
		req.Version = 1
	}
	r.s.requests[req.ID] = req.Clone()
	return nil
}

func (r *AccessRequestRepository) GetByID(_ context.Context, id string) (*models.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	req, ok := r.s.requests[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return req.Clone(), nil
}

// Update applies the same version check as the SQL repository.
func (r *AccessRequestRepository) Update(_ context.Context, req *models.AccessRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.requests[req.ID]
	if !ok || cur.Version != req.Version {
		return common.ErrStaleState
	}
	req.Version++
	r.s.requests[req.ID] = req.Clone()
	return nil
}

func (r *AccessRequestRepository) FindLatestApproved(_ context.Context, credentialID, requesterID string) (*models.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *models.AccessRequest
	for _, req := range r.s.requests {
		if req.CredentialID != credentialID || req.RequesterID != requesterID || req.Status != models.StatusApproved {
			continue
		}
		if latest == nil || req.ExpiresAt.After(*latest.ExpiresAt) {
			latest = req
		}
	}
	if latest == nil {
		return nil, common.ErrorNotFound
	}
	return latest.Clone(), nil
}

func (r *AccessRequestRepository) List(_ context.Context, f accessrequests.Filter) ([]*models.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.AccessRequest
	for _, req := range r.s.requests {
		if f.RequesterID != "" && req.RequesterID != f.RequesterID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (r *AccessRequestRepository) ListLapsed(_ context.Context, now time.Time, limit int) ([]*models.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.AccessRequest
	for _, req := range r.s.requests {
		if req.Status == models.StatusApproved && req.ExpiresAt != nil && req.ExpiresAt.Before(now) {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AccessRequestRepository) Count(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.s.requests)), nil
}

func (r *AccessRequestRepository) CountByStatus(_ context.Context, st models.Status) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, req := range r.s.requests {
		if req.Status == st {
			n++
		}
	}
	return n, nil
}

func cloneCredential(c *models.Credential) *models.Credential {
	cp := *c
	if c.Email != nil {
		e := *c.Email
		cp.Email = &e
	}
	return &cp
}
