package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/armon/go-radix"
)

const (
	continuationPrefix     = "##"
	defaultMaxInputPerWord = 100
)

// WordPiece is a greedy longest-match-first BERT tokenizer. The vocabulary lives in a
// radix tree so each step is a single LongestPrefix walk instead of a shrinking
// substring scan.
type WordPiece struct {
	tree         *radix.Tree
	tokens       []string
	specials     Specials
	lowercase    bool
	maxInputRune int
}

// WordPieceOption configures a WordPiece tokenizer.
type WordPieceOption func(*WordPiece)

// WithLowercase lowercases words before lookup (uncased vocabularies).
func WithLowercase(lower bool) WordPieceOption {
	return func(w *WordPiece) { w.lowercase = lower }
}

// WithMaxInputCharsPerWord maps longer words to the unknown piece.
func WithMaxInputCharsPerWord(n int) WordPieceOption {
	return func(w *WordPiece) {
		if n > 0 {
			w.maxInputRune = n
		}
	}
}

// LoadWordPieceFromVocab reads a one-token-per-line vocab.txt.
func LoadWordPieceFromVocab(path string, opts ...WordPieceOption) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewWordPiece(f, opts...)
}

// NewWordPiece builds a tokenizer from a vocab stream; ids follow line order, blank lines are skipped.
func NewWordPiece(r io.Reader, opts ...WordPieceOption) (*WordPiece, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tok := strings.TrimSpace(scanner.Text())
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	return NewWordPieceFromTokens(tokens, opts...)
}

// NewWordPieceFromTokens builds a tokenizer where tokens[i] has id i.
func NewWordPieceFromTokens(tokens []string, opts ...WordPieceOption) (*WordPiece, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty wordpiece vocabulary", ErrUnsupported)
	}
	w := &WordPiece{
		tree:         radix.New(),
		tokens:       append([]string(nil), tokens...),
		specials:     BertSpecials(),
		maxInputRune: defaultMaxInputPerWord,
	}
	for i, tok := range tokens {
		w.tree.Insert(tok, int32(i))
	}
	// Defaults; real IDs should be looked up
	if id, ok := w.lookup(w.specials.UNK); ok {
		w.specials.UNKID = id
	}
	if id, ok := w.lookup(w.specials.CLS); ok {
		w.specials.CLSID = id
	}
	if id, ok := w.lookup(w.specials.SEP); ok {
		w.specials.SEPID = id
	}
	if id, ok := w.lookup(w.specials.PAD); ok {
		w.specials.PADID = id
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *WordPiece) lookup(tok string) (int32, bool) {
	v, ok := w.tree.Get(tok)
	if !ok {
		return 0, false
	}
	return v.(int32), true
}

// VocabSize returns the number of pieces.
func (w *WordPiece) VocabSize() int { return len(w.tokens) }

func (w *WordPiece) Special() Specials { return w.specials }

func (w *WordPiece) IsContinuation(piece string) bool {
	return strings.HasPrefix(piece, continuationPrefix)
}

func (w *WordPiece) Tokenize(word string) []string {
	if w.lowercase {
		word = strings.ToLower(word)
	}
	if word == "" || utf8.RuneCountInString(word) > w.maxInputRune {
		return []string{w.specials.UNK}
	}
	var pieces []string
	rest := word
	first := true
	for rest != "" {
		query := rest
		if !first {
			query = continuationPrefix + rest
		}
		match, _, ok := w.tree.LongestPrefix(query)
		if !ok || (!first && len(match) <= len(continuationPrefix)) {
			return []string{w.specials.UNK}
		}
		pieces = append(pieces, match)
		consumed := len(match)
		if !first {
			consumed -= len(continuationPrefix)
		}
		rest = rest[consumed:]
		first = false
	}
	return pieces
}

func (w *WordPiece) ConvertTokensToIDs(pieces []string) []int32 {
	ids := make([]int32, len(pieces))
	for i, p := range pieces {
		id, ok := w.lookup(p)
		if !ok {
			id = w.specials.UNKID
		}
		ids[i] = id
	}
	return ids
}

// IDToToken returns the piece for id.
func (w *WordPiece) IDToToken(id int32) (string, bool) {
	if id < 0 || int(id) >= len(w.tokens) {
		return "", false
	}
	return w.tokens[id], true
}
