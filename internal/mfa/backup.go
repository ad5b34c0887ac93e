package mfa

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
)

// BackupCodeAlphabet omits 0/O and 1/I. Its length is 32 so a random byte
// masked to five bits is an unbiased index.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// BackupCodeLength is the canonical code length without the separator.
const BackupCodeLength = 10

func newBackupCode(r io.Reader) (string, error) {
	buf := make([]byte, BackupCodeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("mfa: backup code: %w", err)
	}
	for i, b := range buf {
		buf[i] = BackupCodeAlphabet[b&0x1f]
	}
	return string(buf), nil
}

// FormatBackupCode splits a canonical code in half with a dash.
func FormatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode upper-cases code and strips dashes and spaces.
// It returns "" when the result cannot be a backup code.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.NewReplacer("-", "", " ", "").Replace(s)
	if len(s) != BackupCodeLength {
		return ""
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(BackupCodeAlphabet, s[i]) < 0 {
			return ""
		}
	}
	return s
}

// BackupCodeHash salts the canonical code with the owner's id.
func BackupCodeHash(userID, canonical string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonical))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonical...)
	return sha256.Sum256(data)
}
