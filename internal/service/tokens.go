package service

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// newVerificationToken returns a 64-character hex token from 32 random bytes.
func newVerificationToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
