package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an AccessRequest. The set is closed.
type Status string

const (
	StatusPending  Status = "pending"
	StatusOTPSent  Status = "otp_sent"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// ParseStatus converts a stored value into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusOTPSent, StatusApproved, StatusRejected, StatusExpired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown access request status %q", s)
	}
}

// Open reports whether the request still awaits review.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusOTPSent
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExpired
}

// AccessRequest asks for a time-boxed grant to decrypt one Credential.
//
// ExpiresAt is set only once the request has been approved. OTP and
// OTPExpiresAt are set together. Version increments on every write and is
// used for optimistic concurrency control.
type AccessRequest struct {
	ID           string
	CredentialID string
	RequesterID  string
	AdminID      *string
	Status       Status
	RequestedAt  time.Time
	ReviewedAt   *time.Time
	ExpiresAt    *time.Time
	OTP          *string
	OTPExpiresAt *time.Time
	Reason       string
	AdminNotes   string
	Version      int64
}

// IsActive reports whether the request grants access at now. It does not
// depend on the stored status having been advanced to expired.
func (r *AccessRequest) IsActive(now time.Time) bool {
	return r.Status == StatusApproved && r.ExpiresAt != nil && now.Before(*r.ExpiresAt)
}

// Lapsed reports whether an approved request's window has passed at now.
func (r *AccessRequest) Lapsed(now time.Time) bool {
	return r.Status == StatusApproved && r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r *AccessRequest) Clone() *AccessRequest {
	c := *r
	c.AdminID = clonePtr(r.AdminID)
	c.ReviewedAt = clonePtr(r.ReviewedAt)
	c.ExpiresAt = clonePtr(r.ExpiresAt)
	c.OTP = clonePtr(r.OTP)
	c.OTPExpiresAt = clonePtr(r.OTPExpiresAt)
	return &c
}

// Stats is the admin dashboard summary.
type Stats struct {
	PendingRequests  int64
	TotalUsers       int64
	TotalCredentials int64
	TotalRequests    int64
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
