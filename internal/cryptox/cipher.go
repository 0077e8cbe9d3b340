// Package cryptox holds the cryptographic primitives of the vault: the
// credential cipher (AES-256-GCM), user password hashing (argon2id) and
// one-time passcode generation.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
)

// KeySize is the required length of the credential key (AES-256).
const KeySize = 32

var tokenEncoding = base64.RawURLEncoding

// Cipher encrypts credential plaintext into opaque tokens and back.
//
// A token is base64url(nonce || sealed box). GCM authenticates the box, so a
// token produced under another key, or altered in any way, fails to decrypt.
// The key is fixed for the lifetime of the Cipher.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher around key, which must be KeySize bytes.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d", common.ErrValidation, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead}, nil
}

// ParseKey decodes a standard base64 key as it appears in configuration.
func ParseKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not valid base64", common.ErrValidation)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d", common.ErrValidation, KeySize, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return tokenEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Any malformed, truncated or
// foreign token yields common.ErrDecryption and no data.
func (c *Cipher) Decrypt(token string) ([]byte, error) {
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed token", common.ErrDecryption)
	}

	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: truncated token", common.ErrDecryption)
	}

	plaintext, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", common.ErrDecryption)
	}
	return plaintext, nil
}
