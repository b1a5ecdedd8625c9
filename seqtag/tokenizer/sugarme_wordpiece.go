package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// SugarWordPiece wraps sugarme/tokenizer WordPiece (BERT-style) as a PieceTokenizer.
// The sugarme pipeline handles normalization and piece splitting; ids are mapped back
// to piece strings through the vocab file so the aligner sees the real pieces.
type SugarWordPiece struct {
	t        *tk.Tokenizer
	vocab    map[string]int32
	tokens   []string
	specials Specials
}

// NewSugarWordPiece loads vocab.txt (or a directory containing it) and builds a BERT WordPiece tokenizer
func NewSugarWordPiece(vocabPath string, lowercase bool) (*SugarWordPiece, error) {
	if fi, err := os.Stat(vocabPath); err == nil && fi.IsDir() {
		vocabPath = filepath.Join(vocabPath, "vocab.txt")
	}
	content, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("read vocab %s: %w", vocabPath, err)
	}

	var wp wordpiece.WordPiece
	if nw, err := wordpiece.NewWordPieceFromFile(vocabPath, "[UNK]"); err == nil {
		wp = nw
	} else {
		wp = wordpiece.NewWordPieceBuilder().Files(vocabPath).Build()
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, lowercase, lowercase))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	s := &SugarWordPiece{
		t:        t,
		vocab:    make(map[string]int32),
		specials: BertSpecials(),
	}
	for _, line := range splitLines(string(content)) {
		s.vocab[line] = int32(len(s.tokens))
		s.tokens = append(s.tokens, line)
	}
	if len(s.tokens) == 0 {
		return nil, fmt.Errorf("%w: empty vocab %s", ErrUnsupported, vocabPath)
	}
	if id, ok := s.vocab[s.specials.CLS]; ok {
		s.specials.CLSID = id
	}
	if id, ok := s.vocab[s.specials.SEP]; ok {
		s.specials.SEPID = id
	}
	if id, ok := s.vocab[s.specials.PAD]; ok {
		s.specials.PADID = id
	}
	if id, ok := s.vocab[s.specials.UNK]; ok {
		s.specials.UNKID = id
	}
	return s, nil
}

func (s *SugarWordPiece) Tokenize(word string) []string {
	enc, err := s.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(word)), false)
	if err != nil {
		return []string{s.specials.UNK}
	}
	ids := enc.GetIds()
	if len(ids) == 0 {
		return []string{s.specials.UNK}
	}
	pieces := make([]string, len(ids))
	for i, id := range ids {
		if id >= 0 && id < len(s.tokens) {
			pieces[i] = s.tokens[id]
		} else {
			pieces[i] = s.specials.UNK
		}
	}
	return pieces
}

func (s *SugarWordPiece) ConvertTokensToIDs(pieces []string) []int32 {
	ids := make([]int32, len(pieces))
	for i, p := range pieces {
		id, ok := s.vocab[p]
		if !ok {
			id = s.specials.UNKID
		}
		ids[i] = id
	}
	return ids
}

func (s *SugarWordPiece) IsContinuation(piece string) bool {
	return strings.HasPrefix(piece, continuationPrefix)
}

func (s *SugarWordPiece) Special() Specials { return s.specials }

func splitLines(s string) []string {
	parts := strings.Split(s, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
