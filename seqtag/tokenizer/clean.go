package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanText folds accents to their ASCII base letters and drops every rune outside
// letters, spaces and the punctuation set . - ? ! , # @ %.
// It feeds the text classification path, which embeds whole documents.
func CleanText(text string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, text)
	if err != nil {
		folded = text
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if keepClean(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func keepClean(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == ' ':
		return true
	}
	return strings.ContainsRune(".-?!,#@%", r)
}
