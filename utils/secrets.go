package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
)

const (
	otpMin        = 100000
	otpMax        = 999999
	resetTokenLen = 20
)

// GenerateOneTimePassword returns a six digit code drawn uniformly from
// [100000, 999999].
func GenerateOneTimePassword() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return strconv.FormatInt(n.Int64()+otpMin, 10), nil
}

// GenerateResetToken returns 20 random bytes, hex encoded.
func GenerateResetToken() (string, error) {
	b := make([]byte, resetTokenLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSecret is the fast digest used for OTPs, reset tokens and refresh
// tokens. These are high entropy or short lived, so bcrypt is not needed.
func HashSecret(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func VerifySecret(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashSecret(plaintext)), []byte(hash)) == 1
}
