package pipeline

import "strings"

// NormalizePhone rewrites a Swedish phone number to E.164 so that deals can be
// matched on the caller's number regardless of how it was typed. Numbers that
// are already international keep their country code. Anything that doesn't
// look like a phone number is returned with separators removed.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	p := b.String()

	switch {
	case p == "" || p == "+":
		return ""
	case strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, "00"):
		return "+" + p[2:]
	case strings.HasPrefix(p, "46") && len(p) >= 10:
		return "+" + p
	case strings.HasPrefix(p, "0"):
		return "+46" + p[1:]
	default:
		return p
	}
}
