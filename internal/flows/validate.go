package flows

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/keystone/domain"
)

const (
	maxEmailLength       = 254
	maxDisplayNameLength = 64
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{2,31}$`)

// NormalizeEmail trims and lower-cases an address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(verr *domain.ValidationError, email string) {
	if email == "" {
		verr.Add("email", "required", "is required")
		return
	}
	if len(email) > maxEmailLength {
		verr.Add("email", "max_length", "must be at most 254 characters")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndexByte(email, '@')+1:], ".") {
		verr.Add("email", "format", "must be a valid email address")
	}
}

func validateUsername(verr *domain.ValidationError, username string) {
	if username == "" {
		verr.Add("username", "required", "is required")
		return
	}
	if !usernamePattern.MatchString(username) {
		verr.Add("username", "format", "must be 3-32 letters, digits, '.', '_' or '-' and start with a letter or digit")
	}
}

func validateDisplayName(verr *domain.ValidationError, name string) {
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		verr.Add("display_name", "max_length", "must be at most 64 characters")
	}
}

// mergePolicy folds a password policy failure into verr. Errors that are
// not validation errors are returned unchanged.
func mergePolicy(verr *domain.ValidationError, err error, field string) error {
	if err == nil {
		return nil
	}
	var policy *domain.ValidationError
	if !errors.As(err, &policy) {
		return err
	}
	for _, f := range policy.Fields {
		verr.Add(field, f.Rule, f.Message)
	}
	return nil
}
