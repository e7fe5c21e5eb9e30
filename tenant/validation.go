package tenant

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/verkstad/dashboard/rotrut"
)

const maxNameLength = 200

// ValidateBusiness checks a business before it is stored. Returns an error
// if validation fails, nil if the business is valid.
func ValidateBusiness(name, orgNumber string) error {
	if name == "" {
		return fmt.Errorf("business name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("business name has leading/trailing whitespace: %q", name)
	}
	if n := utf8.RuneCountInString(name); n > maxNameLength {
		return fmt.Errorf("business name length %d exceeds maximum of %d characters", n, maxNameLength)
	}

	// Sole traders register without an org number
	if orgNumber != "" && !rotrut.ValidateOrgNumber(orgNumber) {
		return fmt.Errorf("invalid organisation number %q", orgNumber)
	}

	return nil
}
