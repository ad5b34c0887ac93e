package password

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/MrEthical07/keystone/domain"
)

const (
	// FloorMinLength is the lowest MinLength a Policy accepts.
	FloorMinLength = 8
	// DefaultMinLength is the default minimum password length.
	DefaultMinLength = 12
	// DefaultMaxLength bounds hashing cost for hostile inputs.
	DefaultMaxLength = 128
)

// Policy is the password composition rule set.
type Policy struct {
	MinLength     int  `toml:"min_length"`
	MaxLength     int  `toml:"max_length"`
	RequireUpper  bool `toml:"require_upper"`
	RequireLower  bool `toml:"require_lower"`
	RequireDigit  bool `toml:"require_digit"`
	RequireSymbol bool `toml:"require_symbol"`
}

// DefaultPolicy requires 12 characters with upper, lower, digit and symbol.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     DefaultMinLength,
		MaxLength:     DefaultMaxLength,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// Validate rejects nonsensical policy settings.
func (p Policy) Validate() error {
	if p.MinLength < FloorMinLength {
		return fmt.Errorf("password min length must be >= %d", FloorMinLength)
	}
	if p.MaxLength < p.MinLength {
		return fmt.Errorf("password max length must be >= min length")
	}
	return nil
}

// Check returns a *domain.ValidationError naming every rule plaintext
// violates, or nil. Length is counted in runes.
func (p Policy) Check(plaintext string) error {
	verr := &domain.ValidationError{}

	n := utf8.RuneCountInString(plaintext)
	if n < p.MinLength {
		verr.Add("password", "min_length", fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		verr.Add("password", "max_length", fmt.Sprintf("must be at most %d characters", p.MaxLength))
	}

	var upper, lower, digit, symbol bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if p.RequireUpper && !upper {
		verr.Add("password", "uppercase", "must contain an uppercase letter")
	}
	if p.RequireLower && !lower {
		verr.Add("password", "lowercase", "must contain a lowercase letter")
	}
	if p.RequireDigit && !digit {
		verr.Add("password", "digit", "must contain a digit")
	}
	if p.RequireSymbol && !symbol {
		verr.Add("password", "symbol", "must contain a symbol")
	}

	return verr.OrNil()
}
