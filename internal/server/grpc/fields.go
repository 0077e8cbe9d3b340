package grpc

import (
	"time"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func optStr(in *structpb.Struct, key string) *string {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	s := v.GetStringValue()
	return &s
}

// seconds reads a number of seconds as a duration. Missing means zero.
func seconds(in *structpb.Struct, key string) time.Duration {
	return time.Duration(in.GetFields()[key].GetNumberValue() * float64(time.Second))
}

func required(in *structpb.Struct, keys ...string) error {
	for _, k := range keys {
		if str(in, k) == "" {
			return status.Errorf(codes.InvalidArgument, "%s is required", k)
		}
	}
	return nil
}

func reply(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return st, nil
}

func timestamp(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// credentialMap never carries the ciphertext.
func credentialMap(c *models.Credential) map[string]any {
	return map[string]any{
		"id":               c.ID,
		"owner_id":         c.OwnerID,
		"application_name": c.ApplicationName,
		"username":         c.Username,
		"email":            deref(c.Email),
		"created_at":       timestamp(&c.CreatedAt),
		"updated_at":       timestamp(&c.UpdatedAt),
	}
}

// requestMap never carries the OTP code.
func requestMap(r *models.AccessRequest) map[string]any {
	return map[string]any{
		"id":             r.ID,
		"credential_id":  r.CredentialID,
		"requester_id":   r.RequesterID,
		"status":         string(r.Status),
		"reason":         r.Reason,
		"requested_at":   timestamp(&r.RequestedAt),
		"admin_id":       deref(r.AdminID),
		"reviewed_at":    timestamp(r.ReviewedAt),
		"expires_at":     timestamp(r.ExpiresAt),
		"otp_expires_at": timestamp(r.OTPExpiresAt),
		"admin_notes":    r.AdminNotes,
	}
}

func requestList(rs []*models.AccessRequest) []any {
	out := make([]any, 0, len(rs))
	for _, r := range rs {
		out = append(out, requestMap(r))
	}
	return out
}

func tokenMap(p *services.TokenPair, u *models.User) map[string]any {
	m := map[string]any{
		"access_token":  p.AccessToken,
		"refresh_token": p.RefreshToken,
	}
	if u != nil {
		m["user_id"] = u.ID
		m["is_admin"] = u.IsAdmin
	}
	return m
}

func profileMap(u *models.User) map[string]any {
	return map[string]any{
		"user_id":    u.ID,
		"email":      u.Email,
		"username":   u.UserName,
		"is_admin":   u.IsAdmin,
		"created_at": timestamp(&u.CreatedAt),
	}
}
