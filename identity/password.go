package identity

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen    = 6
	maxPasswordLen    = 15
	passwordSpecials  = "!@#$%^&*:;.?<>_-+="
	defaultBcryptCost = bcrypt.DefaultCost
)

// CheckPassword enforces the complexity rules: 6 to 15 characters with at
// least one upper case letter, one lower case letter, one digit and one of
// !@#$%^&*:;.?<>_-+=. Surrounding whitespace is ignored.
func CheckPassword(pw string) error {
	pw = strings.TrimSpace(pw)
	if pw == "" {
		return fmt.Errorf("%w: password cannot be empty", ErrWeakPassword)
	}
	if n := len([]rune(pw)); n < minPasswordLen || n > maxPasswordLen {
		return fmt.Errorf("%w: password must be between %d and %d characters", ErrWeakPassword, minPasswordLen, maxPasswordLen)
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}

	var missing []string
	if !upper {
		missing = append(missing, "an upper case letter")
	}
	if !lower {
		missing = append(missing, "a lower case letter")
	}
	if !digit {
		missing = append(missing, "a digit")
	}
	if !special {
		missing = append(missing, "one of "+passwordSpecials)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: password needs %s", ErrWeakPassword, strings.Join(missing, ", "))
	}
	return nil
}

func hashPassword(pw string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(pw)), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func verifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(pw))) == nil
}
