package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	esentencepiece "github.com/eliben/go-sentencepiece"
)

// metaspace is the SentencePiece word-start marker (U+2581).
const metaspace = "▁"

// SentencePiece adapts a SentencePiece model to PieceTokenizer. A piece continues the
// previous word unless it carries the metaspace marker.
type SentencePiece struct {
	proc     *esentencepiece.Processor
	specials Specials
	ids      sync.Map // piece text -> int32, filled from Encode results
}

// NewSentencePiece loads a tokenizer.model protobuf.
func NewSentencePiece(modelPath string) (*SentencePiece, error) {
	proc, err := esentencepiece.NewProcessorFromPath(modelPath)
	if err != nil {
		return nil, fmt.Errorf("create sentencepiece tokenizer: %w", err)
	}
	info := proc.ModelInfo()
	sp := &SentencePiece{
		proc: proc,
		specials: Specials{
			CLS: "<s>", SEP: "</s>", PAD: "<pad>", UNK: "<unk>",
			CLSID: int32(info.BeginningOfSentenceID),
			SEPID: int32(info.EndOfSentenceID),
			PADID: int32(info.PadID),
			UNKID: int32(info.UnknownID),
		},
	}
	if sp.specials.PADID < 0 {
		sp.specials.PADID = 0
	}
	for _, s := range []struct {
		text string
		id   int32
	}{
		{sp.specials.CLS, sp.specials.CLSID},
		{sp.specials.SEP, sp.specials.SEPID},
		{sp.specials.PAD, sp.specials.PADID},
		{sp.specials.UNK, sp.specials.UNKID},
	} {
		sp.ids.Store(s.text, s.id)
	}
	return sp, nil
}

func (s *SentencePiece) Tokenize(word string) []string {
	tokens := s.proc.Encode(word)
	if len(tokens) == 0 {
		return []string{s.specials.UNK}
	}
	pieces := make([]string, 0, len(tokens))
	for _, t := range tokens {
		s.ids.Store(t.Text, int32(t.ID))
		pieces = append(pieces, t.Text)
	}
	return pieces
}

func (s *SentencePiece) ConvertTokensToIDs(pieces []string) []int32 {
	ids := make([]int32, len(pieces))
	for i, p := range pieces {
		if v, ok := s.ids.Load(p); ok {
			ids[i] = v.(int32)
			continue
		}
		ids[i] = s.specials.UNKID
	}
	return ids
}

func (s *SentencePiece) IsContinuation(piece string) bool {
	return !strings.HasPrefix(piece, metaspace)
}

func (s *SentencePiece) Special() Specials { return s.specials }
