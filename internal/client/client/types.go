package client

import (
	"time"
)

type Credential struct {
	ID              string
	OwnerID         string
	ApplicationName string
	Username        string
	Email           string
	UpdatedAt       time.Time
}

type Profile struct {
	UserID   string
	Email    string
	Username string
	IsAdmin  bool
}

type AccessRequest struct {
	ID           string
	CredentialID string
	RequesterID  string
	Status       string
	Reason       string
	AdminNotes   string
	RequestedAt  time.Time
	ExpiresAt    *time.Time
	OTPExpiresAt *time.Time
}

type Stats struct {
	PendingRequests  int64
	TotalUsers       int64
	TotalCredentials int64
	TotalRequests    int64
}

type Snapshot struct {
	Key         string
	URL         string
	Credentials int
}

func getString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func getInt(m map[string]any, key string) int64 {
	f, _ := m[key].(float64)
	return int64(f)
}

func getTime(m map[string]any, key string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, getString(m, key))
	if err != nil {
		return nil
	}
	return &t
}

func credentialFrom(m map[string]any) Credential {
	c := Credential{
		ID:              getString(m, "id"),
		OwnerID:         getString(m, "owner_id"),
		ApplicationName: getString(m, "application_name"),
		Username:        getString(m, "username"),
		Email:           getString(m, "email"),
	}
	if t := getTime(m, "updated_at"); t != nil {
		c.UpdatedAt = *t
	}
	return c
}

func profileFrom(m map[string]any) Profile {
	admin, _ := m["is_admin"].(bool)
	return Profile{
		UserID:   getString(m, "user_id"),
		Email:    getString(m, "email"),
		Username: getString(m, "username"),
		IsAdmin:  admin,
	}
}

func requestFrom(m map[string]any) AccessRequest {
	r := AccessRequest{
		ID:           getString(m, "id"),
		CredentialID: getString(m, "credential_id"),
		RequesterID:  getString(m, "requester_id"),
		Status:       getString(m, "status"),
		Reason:       getString(m, "reason"),
		AdminNotes:   getString(m, "admin_notes"),
		ExpiresAt:    getTime(m, "expires_at"),
		OTPExpiresAt: getTime(m, "otp_expires_at"),
	}
	if t := getTime(m, "requested_at"); t != nil {
		r.RequestedAt = *t
	}
	return r
}

func list[T any](m map[string]any, key string, conv func(map[string]any) T) []T {
	items, _ := m[key].([]any)
	out := make([]T, 0, len(items))
	for _, it := range items {
		if mm, ok := it.(map[string]any); ok {
			out = append(out, conv(mm))
		}
	}
	return out
}
