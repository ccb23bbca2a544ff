// Package slug handles market slug derivation and validation. Slugs are
// the stable URL identifiers for markets: lowercase words joined by
// single hyphens, e.g. "will-it-rain".
package slug

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLen caps slug length to keep URLs and index keys reasonable.
const MaxLen = 200

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var (
	ErrInvalid = errors.New("slug: must be lowercase words joined by single hyphens")
	ErrTooLong = errors.New("slug: exceeds maximum length")
	ErrEmpty   = errors.New("slug: empty after normalization")
)

// Validate checks that s is a well-formed slug.
func Validate(s string) error {
	if len(s) > MaxLen {
		return ErrTooLong
	}
	if !slugRegex.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return nil
}

// Make derives a slug from a free-form title: lowercase, non-alphanumeric
// runs collapsed to single hyphens, leading/trailing hyphens trimmed.
func Make(title string) (string, error) {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "", ErrEmpty
	}
	if len(s) > MaxLen {
		s = strings.TrimRight(s[:MaxLen], "-")
	}
	return s, nil
}
