package lexical

import (
	"strings"
	"unicode"
)

// minTokenLen filters connective noise without a stopword list.
const minTokenLen = 3

// Tokenize lowercases text and splits it into word tokens, dropping tokens
// shorter than three characters.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if len(f) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
