package utils

import (
	"errors"
	"net/mail"
	"regexp"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var (
	ErrEmailEmpty   = errors.New("`email` is empty")
	ErrEmailInvalid = errors.New("`email` is not valid")
)

func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailEmpty
	}

	// RFC 5322 allows addresses without a TLD, so double-check with the regex
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrEmailInvalid
	}

	if !emailRegex.MatchString(email) {
		return ErrEmailInvalid
	}

	return nil
}

func IsValidEmail(email string) bool {
	return ValidateEmail(email) == nil
}
