// Package names canonicalises free-text custodian names so that spelling
// variants ("García  Pérez", "garcia perez") collapse to one equality key.
// It performs no fuzzy matching.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/okian/equity/internal/domain/model"
)

// Normalize returns the canonical form of name: diacritics stripped,
// uppercased, trimmed, and with internal whitespace runs collapsed.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToUpper(StripAccents(name))), " ")
}

// StripAccents removes combining marks from name and leaves everything else
// untouched. On a transform failure name is returned as is.
func StripAccents(name string) string {
	// transform.Chain is stateful, so a fresh one is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		return name
	}
	return stripped
}

// Equal reports whether a and b normalise to the same key.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Merge folds tallies whose names share a key, summing their values.
// Output keeps first-seen order and first-seen display name; blank names
// are dropped.
func Merge(tallies []model.Tally) []model.Tally {
	out := make([]model.Tally, 0, len(tallies))
	index := make(map[string]int, len(tallies))

	for _, t := range tallies {
		key := Normalize(t.Name)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			out[i].Value += t.Value
			continue
		}
		index[key] = len(out)
		out = append(out, model.Tally{Name: strings.TrimSpace(t.Name), Value: t.Value})
	}
	return out
}
