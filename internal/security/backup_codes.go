package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
)

const (
	BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	BackupCodeCount    = 10
	BackupCodeLength   = 10
)

// GenerateBackupCodes returns count formatted codes and their hashes bound to userID.
func GenerateBackupCodes(userID uint, count int) ([]string, []string, error) {
	codes := make([]string, 0, count)
	hashes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		raw, err := newBackupCode(BackupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, FormatBackupCode(raw))
		hashes = append(hashes, HashBackupCode(userID, raw))
	}
	return codes, hashes, nil
}

func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashBackupCode hashes the canonical form, so formatted and raw input hash alike.
func HashBackupCode(userID uint, code string) string {
	canonical := CanonicalizeBackupCode(code)
	subject := strconv.FormatUint(uint64(userID), 10)
	data := make([]byte, 0, len(subject)+1+len(canonical))
	data = append(data, subject...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LooksLikeBackupCode reports whether code has the shape of a backup code rather than a TOTP.
func LooksLikeBackupCode(code string) bool {
	canonical := CanonicalizeBackupCode(code)
	if len(canonical) != BackupCodeLength {
		return false
	}
	for i := 0; i < len(canonical); i++ {
		if !strings.ContainsRune(BackupCodeAlphabet, rune(canonical[i])) {
			return false
		}
	}
	return true
}

func newBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
