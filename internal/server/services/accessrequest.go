package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/clock"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/notify"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/accessrequests"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// ApprovalSettings bounds the time-boxed parts of the workflow.
type ApprovalSettings struct {
	OTPValidity   time.Duration
	WindowMin     time.Duration
	WindowMax     time.Duration
	WindowDefault time.Duration
	NotifyTimeout time.Duration
}

// SettingsFromConfig copies the approval timings out of the server config.
func SettingsFromConfig(cfg *config.Config) ApprovalSettings {
	return ApprovalSettings{
		OTPValidity:   cfg.OTPValidity,
		WindowMin:     cfg.ApprovalWindowMin,
		WindowMax:     cfg.ApprovalWindowMax,
		WindowDefault: cfg.ApprovalWindowDefault,
		NotifyTimeout: cfg.NotifyTimeout,
	}
}

// DefaultApprovalSettings matches the server defaults.
func DefaultApprovalSettings() ApprovalSettings {
	return ApprovalSettings{
		OTPValidity:   10 * time.Minute,
		WindowMin:     10 * time.Second,
		WindowMax:     time.Hour,
		WindowDefault: 20 * time.Second,
		NotifyTimeout: 5 * time.Second,
	}
}

// ClampWindow maps a requested approval window into [WindowMin, WindowMax].
// Zero or negative selects WindowDefault.
func (a ApprovalSettings) ClampWindow(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return a.WindowDefault
	case d < a.WindowMin:
		return a.WindowMin
	case d > a.WindowMax:
		return a.WindowMax
	}
	return d
}

// AccessRequestService drives the approval state machine:
//
//	pending --IssueOTP--> otp_sent --IssueOTP--> otp_sent
//	pending|otp_sent --Approve--> approved --(window lapses)--> expired
//	pending|otp_sent --Reject--> rejected
//
// Every write is a versioned update, so of two racing transitions on the
// same request exactly one succeeds and the other gets common.ErrStaleState.
type AccessRequestService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	clock       clock.Clock
	notifier    notify.Notifier
	metrics     *metrics.Metrics
	log         logging.Logger
	settings    ApprovalSettings
}

// NewAccessRequestService constructs an AccessRequestService. OTP codes go to
// admins through n; delivery failures are logged, not returned.
func NewAccessRequestService(db *sql.DB, m repomanager.RepositoryManager, clk clock.Clock, n notify.Notifier,
	mt *metrics.Metrics, log logging.Logger, settings ApprovalSettings) *AccessRequestService {
	return &AccessRequestService{
		db:          db,
		repomanager: m,
		clock:       clk,
		notifier:    n,
		metrics:     mt,
		log:         log.With("module", "accessrequests"),
		settings:    settings,
	}
}

// Create opens a pending request by requesterID for credentialID.
//
// Owners never need a request and get common.ErrValidation. A second open
// request for the same pair, or a request while a grant is still active,
// yields common.ErrDuplicatePendingRequest.
func (s *AccessRequestService) Create(ctx context.Context, requesterID, credentialID, reason string) (*models.AccessRequest, error) {
	reason = strings.TrimSpace(reason)
	if err := checkText("reason", reason, maxReasonLen, false); err != nil {
		return nil, err
	}

	var req *models.AccessRequest

	err := s.repomanager.RunInTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		cred, err := s.repomanager.Credentials(tx).GetByID(ctx, credentialID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%w: unknown credential", common.ErrValidation)
			}
			return err
		}
		if cred.OwnerID == requesterID {
			return fmt.Errorf("%w: owners do not need an access request", common.ErrValidation)
		}

		grant, err := s.activeGrant(ctx, tx, credentialID, requesterID)
		if err != nil {
			return err
		}
		if grant != nil {
			return fmt.Errorf("%w: access already granted until %s", common.ErrDuplicatePendingRequest, grant.ExpiresAt.Format(time.RFC3339))
		}

		req = &models.AccessRequest{
			ID:           uuid.NewString(),
			CredentialID: credentialID,
			RequesterID:  requesterID,
			Status:       models.StatusPending,
			RequestedAt:  s.clock.Now(),
			Reason:       reason,
			Version:      1,
		}
		return s.repomanager.AccessRequests(tx).Create(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(models.StatusPending))
	s.log.Info(ctx, "access request created", "request_id", req.ID, "credential_id", credentialID, "requester_id", requesterID)
	return req, nil
}

// IssueOTP generates a fresh code, moves the request to otp_sent and then
// notifies every admin. The notification runs after the state is stored
// and its outcome is only logged: the code stays valid if delivery fails.
func (s *AccessRequestService) IssueOTP(ctx context.Context, requestID string) (string, *models.AccessRequest, error) {
	code, err := cryptox.GenerateOTP()
	if err != nil {
		return "", nil, err
	}

	req, err := s.transition(ctx, requestID, func(r *models.AccessRequest, now time.Time) error {
		if !r.Status.Open() {
			return invalidTransition(r.Status, models.StatusOTPSent)
		}
		exp := now.Add(s.settings.OTPValidity)
		r.Status = models.StatusOTPSent
		r.OTP = &code
		r.OTPExpiresAt = &exp
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	s.log.Info(ctx, "otp issued", "request_id", req.ID, "otp_expires_at", req.OTPExpiresAt)
	s.notifyAdmins(ctx, req, code)
	return code, req, nil
}

func (s *AccessRequestService) notifyAdmins(ctx context.Context, req *models.AccessRequest, code string) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.NotifyTimeout)
	defer cancel()

	err := s.sendOTP(ctx, req, code)
	s.metrics.Notification(err)
	if err != nil {
		s.log.Warn(ctx, "otp notification failed", "request_id", req.ID, "error", err)
	}
}

func (s *AccessRequestService) sendOTP(ctx context.Context, req *models.AccessRequest, code string) error {
	users := s.repomanager.Users(s.db)

	admins, err := users.ListAdminEmails(ctx)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	if len(admins) == 0 {
		return errors.New("no admin recipients")
	}

	details := notify.OTPDetails{Reason: req.Reason, Code: code, Validity: s.settings.OTPValidity}
	if u, err := users.GetByID(ctx, req.RequesterID); err == nil {
		details.Requester = u.UserName
	}
	if c, err := s.repomanager.Credentials(s.db).GetByID(ctx, req.CredentialID); err == nil {
		details.Application = c.ApplicationName
	}

	return s.notifier.Notify(ctx, notify.OTPMessage(admins, details))
}

// VerifyOTP reports whether code matches the pending OTP. It never mutates
// the request.
func (s *AccessRequestService) VerifyOTP(ctx context.Context, requestID, code string) (bool, error) {
	req, err := s.repomanager.AccessRequests(s.db).GetByID(ctx, requestID)
	if err != nil {
		return false, err
	}
	return s.otpMatches(req, code), nil
}

func (s *AccessRequestService) otpMatches(req *models.AccessRequest, code string) bool {
	if req.OTP == nil || req.OTPExpiresAt == nil {
		return false
	}
	if s.clock.Now().After(*req.OTPExpiresAt) {
		return false
	}
	return cryptox.EqualOTP(*req.OTP, code)
}

// Approve grants admin a decryption window on the request. window is
// clamped with ApprovalSettings.ClampWindow. An admin cannot approve their
// own request this way; they must go through VerifyOTPAndApprove.
func (s *AccessRequestService) Approve(ctx context.Context, admin models.Principal, requestID string, window time.Duration) (*models.AccessRequest, error) {
	if !admin.IsAdmin {
		return nil, common.ErrNotAuthorized
	}
	window = s.settings.ClampWindow(window)

	req, err := s.transition(ctx, requestID, func(r *models.AccessRequest, now time.Time) error {
		if r.Status.Open() && r.RequesterID == admin.UserID {
			return fmt.Errorf("%w: own request needs an OTP", common.ErrNotAuthorized)
		}
		return s.approve(r, admin.UserID, now, window)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "access request approved", "request_id", req.ID, "admin_id", admin.UserID, "expires_at", req.ExpiresAt)
	return req, nil
}

// VerifyOTPAndApprove checks code and approves in a single versioned write.
// A wrong or expired code yields common.ErrInvalidOTP and leaves the request
// untouched.
func (s *AccessRequestService) VerifyOTPAndApprove(ctx context.Context, admin models.Principal, requestID, code string, window time.Duration) (*models.AccessRequest, error) {
	if !admin.IsAdmin {
		return nil, common.ErrNotAuthorized
	}
	window = s.settings.ClampWindow(window)

	req, err := s.transition(ctx, requestID, func(r *models.AccessRequest, now time.Time) error {
		if !r.Status.Open() {
			return invalidTransition(r.Status, models.StatusApproved)
		}
		if !s.otpMatches(r, code) {
			return common.ErrInvalidOTP
		}
		return s.approve(r, admin.UserID, now, window)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "access request approved by otp", "request_id", req.ID, "admin_id", admin.UserID, "expires_at", req.ExpiresAt)
	return req, nil
}

func (s *AccessRequestService) approve(r *models.AccessRequest, adminID string, now time.Time, window time.Duration) error {
	if !r.Status.Open() {
		return invalidTransition(r.Status, models.StatusApproved)
	}
	exp := now.Add(window)
	r.Status = models.StatusApproved
	r.AdminID = &adminID
	r.ReviewedAt = &now
	r.ExpiresAt = &exp
	r.OTP, r.OTPExpiresAt = nil, nil
	return nil
}

// Reject closes the request. notes are stored as admin notes.
func (s *AccessRequestService) Reject(ctx context.Context, admin models.Principal, requestID, notes string) (*models.AccessRequest, error) {
	if !admin.IsAdmin {
		return nil, common.ErrNotAuthorized
	}

	req, err := s.transition(ctx, requestID, func(r *models.AccessRequest, now time.Time) error {
		if !r.Status.Open() {
			return invalidTransition(r.Status, models.StatusRejected)
		}
		r.Status = models.StatusRejected
		r.AdminID = &admin.UserID
		r.ReviewedAt = &now
		r.AdminNotes = notes
		r.OTP, r.OTPExpiresAt = nil, nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "access request rejected", "request_id", req.ID, "admin_id", admin.UserID)
	return req, nil
}

// IsActive reports whether req grants access right now.
func (s *AccessRequestService) IsActive(req *models.AccessRequest) bool {
	return req.IsActive(s.clock.Now())
}

// CheckExpiration persists expired for an approved request whose window has
// passed and reports whether it did so. req is updated in place.
func (s *AccessRequestService) CheckExpiration(ctx context.Context, req *models.AccessRequest) (bool, error) {
	return s.expireIfLapsed(ctx, s.db, req)
}

func (s *AccessRequestService) expireIfLapsed(ctx context.Context, db dbx.DBTX, req *models.AccessRequest) (bool, error) {
	if !req.Lapsed(s.clock.Now()) {
		return false, nil
	}

	repo := s.repomanager.AccessRequests(db)
	next := req.Clone()
	next.Status = models.StatusExpired
	if err := repo.Update(ctx, next); err != nil {
		if !errors.Is(err, common.ErrStaleState) {
			return false, err
		}
		// Someone else moved it first; report what is stored now.
		cur, gerr := repo.GetByID(ctx, req.ID)
		if gerr != nil {
			return false, gerr
		}
		*req = *cur
		return false, nil
	}

	*req = *next
	s.metrics.Transition(string(models.StatusExpired))
	s.log.Info(ctx, "access request expired", "request_id", req.ID)
	return true, nil
}

// Status returns the request after applying lazy expiry. Only the requester
// and admins may look.
func (s *AccessRequestService) Status(ctx context.Context, p models.Principal, requestID string) (*models.AccessRequest, error) {
	req, err := s.repomanager.AccessRequests(s.db).GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin && req.RequesterID != p.UserID {
		return nil, common.ErrNotAuthorized
	}
	if _, err := s.CheckExpiration(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ActiveGrant returns the request currently granting requesterID access to
// credentialID, or nil when there is none. Lapsed grants found on the way
// are expired.
func (s *AccessRequestService) ActiveGrant(ctx context.Context, credentialID, requesterID string) (*models.AccessRequest, error) {
	return s.activeGrant(ctx, s.db, credentialID, requesterID)
}

func (s *AccessRequestService) activeGrant(ctx context.Context, db dbx.DBTX, credentialID, requesterID string) (*models.AccessRequest, error) {
	req, err := s.repomanager.AccessRequests(db).FindLatestApproved(ctx, credentialID, requesterID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if req.IsActive(s.clock.Now()) {
		return req, nil
	}
	if _, err := s.expireIfLapsed(ctx, db, req); err != nil {
		s.log.Warn(ctx, "lazy expiry failed", "request_id", req.ID, "error", err)
	}
	return nil, nil
}

// ListForUser returns every request for admins and the caller's own
// requests otherwise, newest first, with lazy expiry applied.
func (s *AccessRequestService) ListForUser(ctx context.Context, p models.Principal) ([]*models.AccessRequest, error) {
	f := accessrequests.Filter{}
	if !p.IsAdmin {
		f.RequesterID = p.UserID
	}
	return s.list(ctx, f, nil)
}

// ListPending returns requests still awaiting review (pending or otp_sent).
func (s *AccessRequestService) ListPending(ctx context.Context, p models.Principal) ([]*models.AccessRequest, error) {
	f := accessrequests.Filter{}
	if !p.IsAdmin {
		f.RequesterID = p.UserID
	}
	return s.list(ctx, f, func(r *models.AccessRequest) bool { return r.Status.Open() })
}

func (s *AccessRequestService) list(ctx context.Context, f accessrequests.Filter, keep func(*models.AccessRequest) bool) ([]*models.AccessRequest, error) {
	all, err := s.repomanager.AccessRequests(s.db).List(ctx, f)
	if err != nil {
		return nil, err
	}

	out := all[:0]
	for _, r := range all {
		if _, err := s.CheckExpiration(ctx, r); err != nil {
			return nil, err
		}
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// transition loads the request, applies fn and writes it back with a
// version check.
func (s *AccessRequestService) transition(ctx context.Context, requestID string, fn func(r *models.AccessRequest, now time.Time) error) (*models.AccessRequest, error) {
	var out *models.AccessRequest

	err := s.repomanager.RunInTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.AccessRequests(tx)
		req, err := repo.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if err := fn(req, s.clock.Now()); err != nil {
			return err
		}
		if err := repo.Update(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(out.Status))
	return out, nil
}

func invalidTransition(from, to models.Status) error {
	return fmt.Errorf("%w: %s -> %s", common.ErrInvalidStateTransition, from, to)
}
