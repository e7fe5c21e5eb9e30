package rotrut

import (
	"strings"
	"time"
)

// Validate reports whether input is a checksum-valid Swedish personnummer.
// Accepts 10 digits (YYMMDDNNNC) or 12 digits (YYYYMMDDNNNC); hyphens, plus
// signs and spaces are ignored. Any other input is invalid.
func Validate(input string) bool {
	digits, ok := stripDigits(input)
	if !ok {
		return false
	}

	switch len(digits) {
	case 10:
	case 12:
		digits = digits[2:]
	default:
		return false
	}

	return luhnValid(digits)
}

// ValidateOrgNumber reports whether input is a checksum-valid Swedish
// organisationsnummer. The "16" prefix used in some registers is accepted.
func ValidateOrgNumber(input string) bool {
	digits, ok := stripDigits(input)
	if !ok {
		return false
	}

	if len(digits) == 12 && strings.HasPrefix(digits, "16") {
		digits = digits[2:]
	}
	if len(digits) != 10 {
		return false
	}

	return luhnValid(digits)
}

// Format renders a personnummer as YYYYMMDD-NNNN for display.
//
// For 10-digit input the century is guessed from the age the two-digit year
// implies relative to now: more than 30 years means 1900s, otherwise 2000s.
// The guess is wrong for people between 100 and 130 and for anyone born in the
// last years of a century younger than 31; callers needing certainty must
// collect the 12-digit form. Input that is not 10 or 12 digits is returned
// unchanged.
func Format(input string, now time.Time) string {
	digits, ok := stripDigits(input)
	if !ok {
		return input
	}

	switch len(digits) {
	case 12:
	case 10:
		yy := int(digits[0]-'0')*10 + int(digits[1]-'0')
		age := (now.Year()%100 - yy + 100) % 100
		century := "20"
		if age > 30 {
			century = "19"
		}
		digits = century + digits
	default:
		return input
	}

	return digits[:8] + "-" + digits[8:]
}

// stripDigits removes separators and returns false if anything other than
// digits remains.
func stripDigits(input string) (string, bool) {
	var b strings.Builder
	b.Grow(len(input))

	for _, r := range input {
		switch {
		case r == '-' || r == '+' || r == ' ':
			continue
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			return "", false
		}
	}

	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// luhnValid applies the Luhn checksum over exactly ten digits: even positions
// are doubled (digit sum taken), odd positions are added as-is.
func luhnValid(digits string) bool {
	if len(digits) != 10 {
		return false
	}

	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[i] - '0')
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}

	return sum%10 == 0
}
