package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"
)

// OTPDigits is the length of generated one-time passcodes.
const OTPDigits = 6

// GenerateOTP returns a uniformly random OTPDigits-long numeric code.
func GenerateOTP() (string, error) {
	var b strings.Builder
	b.Grow(OTPDigits)
	ten := big.NewInt(10)
	for i := 0; i < OTPDigits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// EqualOTP compares codes in constant time.
func EqualOTP(expected, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) == 1
}
