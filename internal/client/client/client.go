package client

import (
	"context"
	"time"
)

// Client is the vault API as the CLI sees it.
type Client interface {
	Close() error
	IsAdmin() bool
	Ping(ctx context.Context) error
	Register(ctx context.Context, email, username string, password []byte) error
	Login(ctx context.Context, email string, password []byte) error
	Logout()
	Profile(ctx context.Context) (Profile, error)

	ListCredentials(ctx context.Context) ([]Credential, error)
	CreateCredential(ctx context.Context, app, username, email string, secret []byte) (Credential, error)
	RotateCredential(ctx context.Context, id string, secret []byte) error
	UpdateCredential(ctx context.Context, id, app, username, email string) (Credential, error)
	DeleteCredential(ctx context.Context, id string) error
	Decrypt(ctx context.Context, id string) (Credential, []byte, error)

	RequestAccess(ctx context.Context, credentialID, reason string) (AccessRequest, error)
	IssueOTP(ctx context.Context, requestID string) (AccessRequest, error)
	VerifyOTP(ctx context.Context, requestID, otp string) (bool, error)
	Approve(ctx context.Context, requestID, otp string, window time.Duration) (AccessRequest, error)
	Reject(ctx context.Context, requestID, notes string) (AccessRequest, error)
	Status(ctx context.Context, requestID string) (AccessRequest, error)
	ListRequests(ctx context.Context, pendingOnly bool) ([]AccessRequest, error)

	Stats(ctx context.Context) (Stats, error)
	ExportSnapshot(ctx context.Context) (Snapshot, error)
}
