package models

import "time"

// Credential is a stored application login owned by exactly one user.
// Ciphertext is an opaque token produced by cryptox.Cipher; plaintext is
// never persisted.
type Credential struct {
	ID              string
	OwnerID         string
	ApplicationName string
	Username        string
	Email           *string
	Ciphertext      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
