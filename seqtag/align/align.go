// Package align re-tokenizes word sequences into sub-word pieces for transformer inputs and
// projects word-level chars, features and labels onto the pieces.
package align

import (
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tensor"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tokenizer"
)

// MaskedLabel is the label of markers, padding and continuation pieces. It is the padding
// tag index and is never scored.
const MaskedLabel int32 = 0

// PieceKind tells the realignment step what each piece position holds.
type PieceKind uint8

const (
	KindPad PieceKind = iota
	KindCLS
	KindSEP
	KindWordStart
	KindContinuation
)

func (k PieceKind) String() string {
	switch k {
	case KindCLS:
		return "cls"
	case KindSEP:
		return "sep"
	case KindWordStart:
		return "word"
	case KindContinuation:
		return "continuation"
	default:
		return "pad"
	}
}

// Span is the half-open piece range [Start, End) one word expanded to.
type Span struct {
	Start, End int
}

// Aligned is one sequence at piece granularity. Every per-piece slice has exactly the
// aligner's max length. Features and Labels are nil when no input was given for them.
type Aligned struct {
	IDs      []int32
	Mask     []int32
	Segments []int32
	Chars    [][]int32
	Features [][]int32
	Labels   []int32
	Tokens   []string
	Kinds    []PieceKind
	// Spans holds one entry per word that received pieces, in word order.
	Spans []Span
}

// FirstPad returns the index of the first padding piece, or the length when there is none.
func (a *Aligned) FirstPad() int {
	for i, k := range a.Kinds {
		if k == KindPad {
			return i
		}
	}
	return len(a.Kinds)
}

// WordStarts returns the piece index of each aligned word's first piece.
func (a *Aligned) WordStarts() []int {
	out := make([]int, len(a.Spans))
	for i, s := range a.Spans {
		out[i] = s.Start
	}
	return out
}

// Aligner is safe for concurrent use when its PieceTokenizer is.
type Aligner struct {
	tok           tokenizer.PieceTokenizer
	maxLength     int
	charWidth     int
	emptyFeatures []int32
	logger        zerolog.Logger
}

type Option func(*Aligner)

// WithEmptyFeatures sets the feature row given to markers, padding and continuation pieces.
func WithEmptyFeatures(row []int32) Option {
	return func(a *Aligner) { a.emptyFeatures = append([]int32(nil), row...) }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Aligner) { a.logger = logger }
}

// New builds an aligner producing maxLength pieces per sequence (markers included) with
// char rows of charWidth.
func New(tok tokenizer.PieceTokenizer, maxLength, charWidth int, opts ...Option) (*Aligner, error) {
	if tok == nil {
		return nil, common.NewConfigurationError("tokenizer", "transformer path needs a piece tokenizer")
	}
	if charWidth <= 0 {
		return nil, common.NewConfigurationError("max_char_length", "must be positive, got %d", charWidth)
	}
	if maxLength < 2 {
		return nil, common.NewConfigurationError("max_sequence_length", "must leave room for the two marker pieces, got %d", maxLength)
	}
	a := &Aligner{tok: tok, maxLength: maxLength, charWidth: charWidth, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Aligner) MaxLength() int { return a.maxLength }

// Align expands words into pieces. chars holds one row per word; features and labels are
// optional and, when given, hold one entry per word. The first piece of a word inherits the
// word's chars, features and label; continuation pieces, markers and padding get zero chars,
// the empty feature row and MaskedLabel.
//
// When the piece budget cannot hold every word, the trailing words are clipped or dropped
// and the result comes back together with an *common.AlignmentMismatchError.
func (a *Aligner) Align(example int, words []string, chars [][]int32, features [][]int32, labels []int32) (*Aligned, error) {
	if len(chars) != len(words) {
		return nil, common.NewConfigurationError("chars", "example %d has %d char rows for %d words", example, len(chars), len(words))
	}
	if features != nil && len(features) != len(words) {
		return nil, common.NewConfigurationError("features", "example %d has %d feature rows for %d words", example, len(features), len(words))
	}
	if labels != nil && len(labels) != len(words) {
		return nil, common.NewConfigurationError("labels", "example %d has %d labels for %d words", example, len(labels), len(words))
	}

	budget := a.maxLength - 2
	sp := a.tok.Special()
	pieces := make([]string, 0, budget)
	spans := make([]Span, 0, len(words))
	clipped := 0
	for _, w := range words {
		remaining := budget - len(pieces)
		if remaining <= 0 {
			break
		}
		ps := a.tok.Tokenize(w)
		if len(ps) == 0 {
			ps = []string{sp.UNK}
		}
		if len(ps) > remaining {
			ps = ps[:remaining]
			clipped++
		}
		spans = append(spans, Span{Start: len(pieces) + 1, End: len(pieces) + 1 + len(ps)})
		pieces = append(pieces, ps...)
	}

	enc := tokenizer.Encode(a.tok, pieces, a.maxLength)
	out := &Aligned{
		IDs:      enc.IDs,
		Mask:     enc.AttentionMask,
		Segments: enc.TypeIDs,
		Tokens:   enc.Tokens,
		Chars:    make([][]int32, a.maxLength),
		Kinds:    make([]PieceKind, a.maxLength),
		Spans:    spans,
	}
	if features != nil {
		out.Features = make([][]int32, a.maxLength)
	}
	if labels != nil {
		out.Labels = make([]int32, a.maxLength)
	}
	emptyFeatures := a.emptyFeatures
	if emptyFeatures == nil && len(features) > 0 {
		emptyFeatures = make([]int32, len(features[0]))
	}
	for i := range out.Kinds {
		switch {
		case i == 0:
			out.Kinds[i] = KindCLS
		case i == len(pieces)+1:
			out.Kinds[i] = KindSEP
		case i > len(pieces)+1:
			out.Kinds[i] = KindPad
		default:
			out.Kinds[i] = KindContinuation
		}
		out.Chars[i] = make([]int32, a.charWidth)
		if out.Features != nil {
			out.Features[i] = append([]int32{}, emptyFeatures...)
		}
	}
	for w, s := range spans {
		out.Kinds[s.Start] = KindWordStart
		copy(out.Chars[s.Start], chars[w])
		if out.Features != nil {
			out.Features[s.Start] = append([]int32(nil), features[w]...)
		}
		if out.Labels != nil {
			out.Labels[s.Start] = labels[w]
		}
	}

	if len(spans) < len(words) || clipped > 0 {
		return out, &common.AlignmentMismatchError{
			Example: example,
			Words:   len(words),
			Aligned: len(spans),
			Clipped: clipped,
		}
	}
	return out, nil
}

// Batch is a set of word sequences with their word-level tensors. Chars is
// [batch, words, charWidth]; Features [batch, words, columns] and Labels [batch, words]
// are optional.
type Batch struct {
	Examples []int // dataset index of each sequence, used in reports
	Words    [][]string
	Chars    *tensor.Dense[int32]
	Features *tensor.Dense[int32]
	Labels   *tensor.Dense[int32]
}

// AlignBatch aligns every sequence of b. Mismatches are recorded in report and logged once
// for the batch; they never abort it. Any other error is returned immediately.
func (a *Aligner) AlignBatch(b Batch, report *common.AlignmentReport) ([]*Aligned, error) {
	out := make([]*Aligned, len(b.Words))
	mismatches := 0
	for i, words := range b.Words {
		n := len(words)
		chars := make([][]int32, n)
		for j := range chars {
			chars[j] = b.Chars.Slice(i, j)
		}
		var feats [][]int32
		if b.Features != nil {
			feats = make([][]int32, n)
			for j := range feats {
				feats[j] = b.Features.Slice(i, j)
			}
		}
		var labels []int32
		if b.Labels != nil {
			labels = b.Labels.Row(i)[:n]
		}

		example := i
		if i < len(b.Examples) {
			example = b.Examples[i]
		}
		aligned, err := a.Align(example, words, chars, feats, labels)
		if err != nil {
			if common.IsFatal(err) {
				return nil, err
			}
			mismatches++
			if report != nil {
				report.Record(err)
			}
			a.logger.Debug().Err(err).Msg("sub-word alignment truncated example")
		}
		out[i] = aligned
	}
	if mismatches > 0 {
		a.logger.Warn().
			Int("batch_size", len(b.Words)).
			Int("examples", mismatches).
			Msg("sub-word alignment exceeded the piece budget")
	}
	return out, nil
}
