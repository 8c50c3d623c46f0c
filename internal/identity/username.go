package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxUsernameLength = 15
	FallbackUsername  = "user"
)

// NormalizeUsername derives a username candidate from a display name:
// accents are folded to ASCII, everything outside [a-z0-9_] is dropped and
// the result is cut to MaxUsernameLength.
func NormalizeUsername(displayName string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, displayName)
	if err != nil {
		folded = displayName
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if b.Len() == MaxUsernameLength {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return FallbackUsername
	}
	return b.String()
}
