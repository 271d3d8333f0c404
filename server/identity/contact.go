package identity

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Daskott/sheguard/server/apperr"
	"github.com/Daskott/sheguard/utils"
	"github.com/go-playground/validator"
)

const MinPasswordLength = 8

var (
	validate     = validator.New()
	phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)
)

// Contact is a normalised email address or phone number.
type Contact struct {
	// Field is the user column the contact is stored in: "email" or "phone".
	Field string
	Value string
}

func (c Contact) IsEmail() bool {
	return c.Field == "email"
}

// ParseContact classifies raw as an email (anything containing '@') or a
// phone number and normalises it.
func ParseContact(raw string) (Contact, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Contact{}, apperr.New(apperr.KindValidation, "Contact info is required")
	}

	if strings.Contains(raw, "@") {
		email, err := parseEmail(raw)
		if err != nil {
			return Contact{}, err
		}
		return Contact{Field: "email", Value: email}, nil
	}

	phone, err := parsePhone(raw)
	if err != nil {
		return Contact{}, err
	}
	return Contact{Field: "phone", Value: phone}, nil
}

// ValidPassword reports whether password is acceptable: long enough and free
// of whitespace.
func ValidPassword(password string) bool {
	if len(password) < MinPasswordLength {
		return false
	}

	return strings.IndexFunc(password, unicode.IsSpace) == -1
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func parseEmail(raw string) (string, error) {
	email := utils.NormalizeEmail(raw)
	if err := validate.Var(email, "email"); err != nil {
		return "", apperr.New(apperr.KindValidation, "Invalid email address")
	}
	return email, nil
}

func parsePhone(raw string) (string, error) {
	phone := utils.NormalizePhone(raw)
	if !phonePattern.MatchString(phone) {
		return "", apperr.New(apperr.KindValidation, "Invalid phone number")
	}
	return phone, nil
}
