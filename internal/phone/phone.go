// Package phone canonicalizes Kenyan mobile numbers into the MSISDN
// wire format the M-Pesa gateway expects, and validates purchaser
// identity fields before any network call is made.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalid is returned when a number is not a recognizable Kenyan
// mobile number in any accepted input format.
var ErrInvalid = errors.New("invalid Kenyan mobile number")

// Accepted input shapes.  Safaricom numbers start 07, Airtel/Telkom
// ranges additionally use 01; both canonicalize to a 254-prefixed
// 12-digit MSISDN.
var (
	localRe = regexp.MustCompile(`^0[17]\d{8}$`)
	intlRe  = regexp.MustCompile(`^254[17]\d{8}$`)
)

// emailRe is a deliberately loose RFC-shaped check: one @, a non-empty
// local part and a dotted domain.  Real validation happens when the
// gateway or mailer touches the address.
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Canonicalize converts an input phone number to the 2547XXXXXXXX /
// 2541XXXXXXXX wire format.  Accepted inputs are 07XXXXXXXX,
// 01XXXXXXXX, 254XXXXXXXXX and +254XXXXXXXXX; spaces and dashes
// anywhere in the number are ignored.  All spellings of the same
// subscriber map to the identical canonical string.
func Canonicalize(input string) (string, error) {
	s := strings.TrimSpace(input)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.TrimPrefix(s, "+")
	switch {
	case localRe.MatchString(s):
		return "254" + s[1:], nil
	case intlRe.MatchString(s):
		return s, nil
	default:
		return "", ErrInvalid
	}
}

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailRe.MatchString(strings.TrimSpace(s))
}

// ValidGuestName reports whether s is an acceptable purchaser name:
// at least two characters after trimming.
func ValidGuestName(s string) bool {
	return len(strings.TrimSpace(s)) >= 2
}
