package tool

import (
	"fmt"
	"strings"

	"canon-mcp/internal/domain"
)

// RequireField returns an error if the string value is empty.
func RequireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: '%s' is required", domain.ErrInvalidInput, name)
	}
	return nil
}

// ValidateRange checks that value is within [min, max]. Returns nil on success.
func ValidateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%w: %s must be %d-%d", domain.ErrInvalidParameter, name, min, max)
	}
	return nil
}

// ValidateMaxLength checks that value does not exceed max bytes.
func ValidateMaxLength(name, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%w: %s exceeds maximum length of %d", domain.ErrInvalidInput, name, max)
	}
	return nil
}

// ValidateAll returns the first non-nil error from the given list.
// Useful for combining multiple validation checks:
//
//	if err := ValidateAll(RequireField("id", p.ID), ValidateMaxLength("id", p.ID, 256)); err != nil { ... }
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
