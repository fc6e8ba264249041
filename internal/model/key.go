package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// InsurerKey normalizes an insurer display name into the store key: lower
// case with whitespace collapsed.
func InsurerKey(name string) string {
	return strings.Join(strings.Fields(lower.String(name)), " ")
}

// InsurerSlug derives the host label used when guessing portal URLs:
// "Délta Dental" becomes "deltadental".
func InsurerSlug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, InsurerKey(name))
	if err != nil {
		folded = InsurerKey(name)
	}
	var b strings.Builder
	for _, r := range folded {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
