package grpc

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"google.golang.org/protobuf/types/known/structpb"
)

// Register: {email, username, password} -> {user_id, is_admin}
func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "email", "username", "password"); err != nil {
		return nil, err
	}

	u, err := s.svc.Users.Register(ctx, str(req, "email"), str(req, "username"), str(req, "password"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Registered", "user_id", u.ID, "is_admin", u.IsAdmin)
	return reply(map[string]any{"user_id": u.ID, "is_admin": u.IsAdmin})
}

// Login: {email, password} -> {access_token, refresh_token, user_id, is_admin}
func (s *GRPCServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tokens, u, err := s.svc.Users.Login(ctx, str(req, "email"), str(req, "password"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(tokenMap(tokens, u))
}

// RefreshToken: {refresh_token} -> {access_token, refresh_token}
func (s *GRPCServer) RefreshToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "refresh_token"); err != nil {
		return nil, err
	}
	tokens, err := s.svc.Users.RefreshToken(ctx, str(req, "refresh_token"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(tokenMap(tokens, nil))
}

func (s *GRPCServer) Ping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return reply(map[string]any{"status": "OK"})
}

// Profile: {} -> {user_id, email, username, is_admin, created_at}
func (s *GRPCServer) Profile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.svc.Users.Profile(ctx, p.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(profileMap(u))
}

// CreateCredential: {application_name, username, email?, secret} -> credential
func (s *GRPCServer) CreateCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	c, err := s.svc.Credentials.Create(ctx, p.UserID, str(req, "application_name"), str(req, "username"),
		optStr(req, "email"), []byte(str(req, "secret")))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(credentialMap(c))
}

// UpdateCredential: {credential_id, application_name, username, email?} -> credential
func (s *GRPCServer) UpdateCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := required(req, "credential_id"); err != nil {
		return nil, err
	}

	c, err := s.svc.Credentials.Update(ctx, p.UserID, str(req, "credential_id"), str(req, "application_name"),
		str(req, "username"), optStr(req, "email"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(credentialMap(c))
}

// RotateCredential: {credential_id, secret} -> credential
func (s *GRPCServer) RotateCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := required(req, "credential_id"); err != nil {
		return nil, err
	}

	c, err := s.svc.Credentials.Rotate(ctx, p.UserID, str(req, "credential_id"), []byte(str(req, "secret")))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(credentialMap(c))
}

// ListCredentials: {} -> {credentials: [...]}
func (s *GRPCServer) ListCredentials(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	cs, err := s.svc.Credentials.ListVisible(ctx, p)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	list := make([]any, 0, len(cs))
	for _, c := range cs {
		list = append(list, credentialMap(c))
	}
	return reply(map[string]any{"credentials": list})
}

// DeleteCredential: {credential_id} -> {}
func (s *GRPCServer) DeleteCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := required(req, "credential_id"); err != nil {
		return nil, err
	}

	if err := s.svc.Credentials.Delete(ctx, p.UserID, str(req, "credential_id")); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]any{})
}

// DecryptCredential: {credential_id} -> {credential, secret}
func (s *GRPCServer) DecryptCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := required(req, "credential_id"); err != nil {
		return nil, err
	}

	pt, c, err := s.svc.Vault.DecryptIfAuthorized(ctx, p, str(req, "credential_id"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]any{"credential": credentialMap(c), "secret": string(pt)})
}

// CreateAccessRequest: {credential_id, reason?} -> request
func (s *GRPCServer) CreateAccessRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := required(req, "credential_id"); err != nil {
		return nil, err
	}

	r, err := s.svc.AccessRequests.Create(ctx, p.UserID, str(req, "credential_id"), str(req, "reason"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(requestMap(r))
}

// IssueOTP: {request_id} -> request. The code goes to admins only, never
// back to the caller.
func (s *GRPCServer) IssueOTP(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := required(req, "request_id"); err != nil {
		return nil, err
	}

	id := str(req, "request_id")
	if _, err := s.svc.AccessRequests.Status(ctx, p, id); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	_, r, err := s.svc.AccessRequests.IssueOTP(ctx, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(requestMap(r))
}

// VerifyOTP: {request_id, otp} -> {valid}. Admin only; the request is not
// changed.
func (s *GRPCServer) VerifyOTP(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin {
		return nil, s.toStatus(ctx, common.ErrNotAuthorized)
	}
	if err := required(req, "request_id", "otp"); err != nil {
		return nil, err
	}

	ok, err := s.svc.AccessRequests.VerifyOTP(ctx, str(req, "request_id"), str(req, "otp"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]any{"valid": ok})
}

// Approve: {request_id, window_seconds?, otp?} -> request. With otp the
// code is checked and the approval written in one step.
func (s *GRPCServer) Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := required(req, "request_id"); err != nil {
		return nil, err
	}

	id, window := str(req, "request_id"), seconds(req, "window_seconds")
	var r *models.AccessRequest
	if code := str(req, "otp"); code != "" {
		r, err = s.svc.AccessRequests.VerifyOTPAndApprove(ctx, p, id, code, window)
	} else {
		r, err = s.svc.AccessRequests.Approve(ctx, p, id, window)
	}
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(requestMap(r))
}

// Reject: {request_id, notes?} -> request
func (s *GRPCServer) Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := required(req, "request_id"); err != nil {
		return nil, err
	}

	r, err := s.svc.AccessRequests.Reject(ctx, p, str(req, "request_id"), str(req, "notes"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(requestMap(r))
}

// CheckStatus: {request_id} -> request, with lazy expiry applied.
func (s *GRPCServer) CheckStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := required(req, "request_id"); err != nil {
		return nil, err
	}

	r, err := s.svc.AccessRequests.Status(ctx, p, str(req, "request_id"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(requestMap(r))
}

// ListAccessRequests: {} -> {requests: [...]}
func (s *GRPCServer) ListAccessRequests(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	rs, err := s.svc.AccessRequests.ListForUser(ctx, p)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]any{"requests": requestList(rs)})
}

// ListPendingRequests: {} -> {requests: [...]}
func (s *GRPCServer) ListPendingRequests(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	rs, err := s.svc.AccessRequests.ListPending(ctx, p)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]any{"requests": requestList(rs)})
}

// Stats: {} -> {pending_requests, total_users, total_credentials, total_requests}
func (s *GRPCServer) Stats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	st, err := s.svc.Stats.Stats(ctx, p)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]any{
		"pending_requests":  st.PendingRequests,
		"total_users":       st.TotalUsers,
		"total_credentials": st.TotalCredentials,
		"total_requests":    st.TotalRequests,
	})
}

// ExportSnapshot: {} -> {key, url, credentials, taken_at}
func (s *GRPCServer) ExportSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := s.svc.Backups.ExportSnapshot(ctx, p)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]any{
		"key":         snap.Key,
		"url":         snap.URL,
		"credentials": snap.Credentials,
		"taken_at":    timestamp(&snap.TakenAt),
	})
}
