package corpus

import (
	"strings"
	"unicode"
)

// Tokenize splits text on whitespace. It is only used when a record arrives
// without pre-computed tokens.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// Normalize lower-cases text and keeps runs of letters and digits. It stands in
// for real lemmatization when records carry no lemmas, and is applied to
// generated utterances before similarity lookup.
func Normalize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	words := fields[:0]
	for _, f := range fields {
		if isNumber(f) {
			continue
		}
		words = append(words, f)
	}
	return words
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
