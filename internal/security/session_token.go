package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashSessionToken derives the value persisted for a session credential.
func HashSessionToken(raw, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	_, _ = mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// SessionTokenMatches compares a presented credential against a stored hash in constant time.
func SessionTokenMatches(raw, pepper, storedHash string) bool {
	computed := HashSessionToken(raw, pepper)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
