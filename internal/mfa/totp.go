package mfa

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

const (
	totpDigits     = otp.DigitsSix
	totpAlgorithm  = otp.AlgorithmSHA1
	totpSecretSize = 20
)

// Setup is returned once by BeginSetup. Secret is the base32 shared secret;
// URI is the otpauth:// provisioning URI.
type Setup struct {
	Secret string
	URI    string
}

func (e *Engine) generateKey(accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      e.cfg.Issuer,
		AccountName: accountName,
		Period:      e.cfg.Period,
		SecretSize:  totpSecretSize,
		Digits:      totpDigits,
		Algorithm:   totpAlgorithm,
		Rand:        e.random,
	})
}

// matchStep returns the highest step within the skew window whose code
// equals code and that is strictly greater than after.
func (e *Engine) matchStep(secret, code string, now time.Time, after int64) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits.Length() || !isDigits(code) {
		return 0, false, nil
	}

	base := now.Unix() / int64(e.cfg.Period)
	var (
		matched int64
		found   bool
	)
	for off := -int64(e.cfg.Skew); off <= int64(e.cfg.Skew); off++ {
		step := base + off
		if step < 0 || step <= after {
			continue
		}
		want, err := hotp.GenerateCodeCustom(secret, uint64(step), hotp.ValidateOpts{
			Digits:    totpDigits,
			Algorithm: totpAlgorithm,
		})
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			matched, found = step, true
		}
	}
	return matched, found, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
