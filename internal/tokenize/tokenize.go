// Package tokenize splits source code and natural-language questions into
// lowercase lexical terms for BM25 scoring.
//
// Identifiers are decomposed on case transitions, digit boundaries, and any
// non-alphanumeric character, so getUserData, get_user_data and GET-USER-DATA
// all produce get, user, data. Scripts written without spaces (Han, Kana,
// Hangul) are segmented into overlapping character bigrams.
package tokenize

import (
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Tokenize returns the ordered terms of text. It is deterministic and has no
// side effects.
func Tokenize(text string) []string {
	// NFKC folds full-width Latin letters and digits into their ASCII forms.
	runes := []rune(norm.NFKC.String(text))
	fold := cases.Fold()

	var tokens []string
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case isUnspaced(r):
			j := i
			for j < len(runes) && isUnspaced(runes[j]) {
				j++
			}
			tokens = appendBigrams(tokens, runes[i:j])
			i = j
		case isWordRune(r):
			j := i
			for j < len(runes) && isWordRune(runes[j]) {
				j++
			}
			for _, part := range splitIdentifier(runes[i:j]) {
				tokens = append(tokens, fold.String(part))
			}
			i = j
		default:
			i++
		}
	}
	return tokens
}

// isUnspaced reports whether r belongs to a script that does not delimit
// words with whitespace.
func isUnspaced(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func isWordRune(r rune) bool {
	return (unicode.IsLetter(r) || unicode.IsDigit(r)) && !isUnspaced(r)
}

func appendBigrams(tokens []string, run []rune) []string {
	if len(run) == 1 {
		return append(tokens, string(run))
	}
	for k := 0; k+1 < len(run); k++ {
		tokens = append(tokens, string(run[k:k+2]))
	}
	return tokens
}

// splitIdentifier cuts an alphanumeric run at lower->upper transitions, at the
// end of an acronym (HTTPServer -> HTTP, Server) and between letters and digits.
func splitIdentifier(run []rune) []string {
	var parts []string
	start := 0
	for k := 1; k < len(run); k++ {
		prev, cur := run[k-1], run[k]
		boundary := false
		switch {
		case unicode.IsDigit(prev) != unicode.IsDigit(cur):
			boundary = true
		case unicode.IsUpper(cur) && !unicode.IsUpper(prev):
			boundary = true
		case unicode.IsUpper(prev) && unicode.IsUpper(cur) &&
			k+1 < len(run) && unicode.IsLower(run[k+1]):
			boundary = true
		}
		if boundary {
			parts = append(parts, string(run[start:k]))
			start = k
		}
	}
	return append(parts, string(run[start:]))
}
