package domain

import (
	"strings"
	"unicode"
)

// Canonicalize folds a raw field name to its comparison form: lowercased, with
// every whitespace, '-', '(', ')' and '_' removed. Other characters are kept.
func Canonicalize(rawKey string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		switch r {
		case '-', '(', ')', '_':
			return -1
		}
		return r
	}, strings.ToLower(rawKey))
}
