// Package address turns free-text address fields into geocoder queries.
package address

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and trims surrounding space. Inner
// punctuation is preserved.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	out, _, err := transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.ToLower(s),
	)
	if err != nil {
		out = strings.ToLower(s)
	}
	return strings.TrimSpace(out)
}

// Normalize folds s and collapses every run of punctuation and whitespace to
// a single space. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	folded := Fold(s)
	if folded == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(cleaned), " ")
}

// numberMarkers are tokens that introduce or stand in for a house number.
var numberMarkers = map[string]bool{
	"n": true, "no": true, "nº": true, "num": true, "numero": true, "sn": true,
}

// StripNumber removes house-number tokens from an already normalized street.
func StripNumber(normalized string) string {
	tokens := strings.Fields(normalized)
	kept := tokens[:0]
	for _, tok := range tokens {
		if strings.IndexFunc(tok, unicode.IsDigit) >= 0 {
			continue
		}
		if numberMarkers[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}
