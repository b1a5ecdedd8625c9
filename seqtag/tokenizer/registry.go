package tokenizer

import (
	"fmt"
	"strings"
)

// NewPieceTokenizer selects a sub-word tokenizer by kind: "wordpiece" (radix, default),
// "sugarme" or "sentencepiece". path is a vocab.txt for the WordPiece kinds and a
// tokenizer.model for sentencepiece.
func NewPieceTokenizer(kind, path string, lowercase bool) (PieceTokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "wordpiece":
		return LoadWordPieceFromVocab(path, WithLowercase(lowercase))
	case "sugarme", "sugarme-wordpiece":
		return NewSugarWordPiece(path, lowercase)
	case "sentencepiece", "spm":
		return NewSentencePiece(path)
	default:
		return nil, fmt.Errorf("%w: tokenizer kind %q", ErrUnsupported, kind)
	}
}
