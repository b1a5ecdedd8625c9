// Package generator assembles per-batch model inputs for sequence labelling, on both the
// static word embedding path and the transformer sub-word path.
package generator

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/seqtag/seqtag"
	"github.com/ZanzyTHEbar/seqtag/seqtag/align"
	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/embedding"
	"github.com/ZanzyTHEbar/seqtag/seqtag/features"
	"github.com/ZanzyTHEbar/seqtag/seqtag/model"
	"github.com/ZanzyTHEbar/seqtag/seqtag/preprocess"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tensor"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tokenizer"
)

// Dataset is the generator input. Either Tokens (pre-tokenized words) or Texts (raw strings,
// used with WithTokenize) is set. Labels and Features are optional and index-aligned with it.
type Dataset struct {
	Tokens   [][]string
	Texts    []string
	Labels   [][]string
	Features [][][]string
}

// Len is the number of examples.
func (d Dataset) Len() int {
	if d.Texts != nil {
		return len(d.Texts)
	}
	return len(d.Tokens)
}

// Batch is one window of examples ready for the model.
type Batch struct {
	Index int
	// Examples are the dataset indices of the batch rows, in row order.
	Examples []int
	// Inputs follow the variant's input contract exactly.
	Inputs []tensor.Tensor
	// Labels is [batch, time] tag indices, nil without labels. On the transformer path
	// it is at piece granularity with masked continuation pieces.
	Labels *tensor.Dense[int32]
	// Lengths are the true word counts after truncation.
	Lengths []int32
	// Original are the word counts before max-length truncation.
	Original []int32
	// Offsets hold the position in the full sequence of each row's first kept word.
	Offsets []int32
	// Gold are the untruncated label strings, nil without labels.
	Gold [][]string
	// Words are the word tokens of each row after truncation.
	Words [][]string
	// Kinds describes every piece position on the transformer path.
	Kinds [][]align.PieceKind
	// PieceTokens is set on the transformer path when input tokens are requested.
	PieceTokens [][]string
	MaxLength   int
	Extended    bool
}

// Generator produces the batches of one epoch. Batch may be called concurrently for
// distinct indices; OnEpochEnd must not run concurrently with Batch.
type Generator struct {
	variant model.Variant
	data    Dataset
	pre     *preprocess.Preprocessor
	aligner *align.Aligner
	opts    options
	rng     *rand.Rand
	mu      sync.RWMutex
	order   []int
	logger  zerolog.Logger
}

// New builds a generator for variant v over data. pre must be fitted.
func New(v model.Variant, data Dataset, pre *preprocess.Preprocessor, opts ...Option) (*Generator, error) {
	o, err := buildOptions(options{
		batchSize: seqtag.DefaultBatchSize,
		shuffle:   true,
		seed:      seqtag.DefaultSeed,
		logger:    zerolog.Nop(),
	}, opts)
	if err != nil {
		return nil, err
	}
	if pre == nil || pre.Tags() == nil {
		return nil, common.NewConfigurationError("preprocessor", "a fitted preprocessor is required")
	}
	n := data.Len()
	if o.tokenize && data.Texts == nil {
		return nil, common.NewConfigurationError("tokenize", "tokenize requires raw texts")
	}
	if !o.tokenize && data.Tokens == nil && data.Texts != nil {
		return nil, common.NewConfigurationError("tokenize", "raw texts given without tokenize")
	}
	if data.Labels != nil && len(data.Labels) != n {
		return nil, common.NewConfigurationError("labels", "%d label sequences for %d examples", len(data.Labels), n)
	}
	if v.ReturnFeatures() {
		if !pre.ReturnFeatures() {
			return nil, common.NewConfigurationError("features", "%s needs a preprocessor fitted with features", v.Name)
		}
		if len(data.Features) != n {
			return nil, common.NewConfigurationError("features", "%s needs features for all %d examples, got %d", v.Name, n, len(data.Features))
		}
	}

	g := &Generator{
		variant: v,
		data:    data,
		pre:     pre,
		opts:    o,
		rng:     rand.New(rand.NewPCG(uint64(o.seed), uint64(o.seed)^0x9e3779b97f4a7c15)),
		logger:  o.logger.With().Str("component", "generator").Str("architecture", v.Name).Logger(),
	}
	if v.Transformer {
		maxLength := o.maxLength
		if maxLength == 0 {
			maxLength = seqtag.DefaultMaxSequenceLength
		}
		g.opts.maxLength = maxLength
		g.aligner, err = align.New(o.pieces, maxLength, pre.MaxCharLength(),
			align.WithEmptyFeatures(pre.EmptyFeaturesVector()),
			align.WithLogger(g.logger))
		if err != nil {
			return nil, err
		}
	} else if o.embeddings == nil {
		return nil, common.NewConfigurationError("embeddings", "%s needs a word embedding provider", v.Name)
	}

	g.order = make([]int, n)
	for i := range g.order {
		g.order[i] = i
	}
	g.OnEpochEnd()
	return g, nil
}

// Len is the number of batches per epoch, ceil(N / batch size).
func (g *Generator) Len() int {
	n := g.data.Len()
	return (n + g.opts.batchSize - 1) / g.opts.batchSize
}

// Variant returns the architecture the batches are assembled for.
func (g *Generator) Variant() model.Variant { return g.variant }

// Report returns the alignment report shared by all batches.
func (g *Generator) Report() *common.AlignmentReport { return g.opts.report }

// OnEpochEnd reshuffles labelled data. One permutation is applied to tokens, labels and
// features alike, so an example's parts always travel together.
func (g *Generator) OnEpochEnd() {
	if g.data.Labels == nil || !g.opts.shuffle {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	order := make([]int, len(g.order))
	for i := range order {
		order[i] = i
	}
	g.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	g.order = order
}

// Order returns a copy of the current example permutation.
func (g *Generator) Order() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]int(nil), g.order...)
}

// window is the word-level content of one batch.
type window struct {
	examples []int
	words    [][]string
	labels   [][]string
	features [][][]string
}

func (g *Generator) window(index int) window {
	g.mu.RLock()
	order := g.order
	g.mu.RUnlock()

	start := index * g.opts.batchSize
	end := min(start+g.opts.batchSize, len(order))
	w := window{examples: append([]int(nil), order[start:end]...)}
	w.words = make([][]string, len(w.examples))
	for i, e := range w.examples {
		if g.opts.tokenize {
			w.words[i] = tokenizer.Words(g.data.Texts[e])
		} else {
			w.words[i] = g.data.Tokens[e]
		}
	}
	if g.data.Labels != nil {
		w.labels = make([][]string, len(w.examples))
		for i, e := range w.examples {
			w.labels[i] = g.data.Labels[e]
		}
	}
	if g.variant.ReturnFeatures() {
		w.features = make([][][]string, len(w.examples))
		for i, e := range w.examples {
			w.features[i] = g.data.Features[e]
		}
	}
	return w
}

// Batch builds batch index. It only reads shared state, so distinct indices may be built
// in parallel.
func (g *Generator) Batch(ctx context.Context, index int) (*Batch, error) {
	if index < 0 || index >= g.Len() {
		return nil, rangeError(index, g.Len())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := g.window(index)
	for i := range w.labels {
		if len(w.labels[i]) != len(w.words[i]) {
			return nil, common.NewConfigurationError("labels", "example %d has %d labels for %d tokens", w.examples[i], len(w.labels[i]), len(w.words[i]))
		}
	}
	for i := range w.features {
		if len(w.features[i]) != len(w.words[i]) {
			return nil, common.NewConfigurationError("features", "example %d has %d feature rows for %d tokens", w.examples[i], len(w.features[i]), len(w.words[i]))
		}
	}

	original := make([]int32, len(w.words))
	offsets := make([]int32, len(w.words))
	for i, words := range w.words {
		original[i] = int32(len(words))
	}
	gold := w.labels

	maxLength := preprocess.MaxLength(w.words, false)
	if g.opts.maxLength > 0 && maxLength > g.opts.maxLength {
		maxLength = g.opts.maxLength
		for i := range w.words {
			if g.opts.truncation == TruncateBack && len(w.words[i]) > maxLength {
				offsets[i] = int32(len(w.words[i]) - maxLength)
			}
			w.words[i] = cut(w.words[i], maxLength, g.opts.truncation)
		}
		if w.labels != nil {
			w.labels = make([][]string, len(gold))
			for i := range gold {
				w.labels[i] = cut(gold[i], maxLength, g.opts.truncation)
			}
		}
		for i := range w.features {
			w.features[i] = cut(w.features[i], maxLength, g.opts.truncation)
		}
	}

	// a single-step batch trips some recurrent kernels; pad it to two steps
	extend := false
	if maxLength == 1 {
		maxLength = 2
		extend = true
	}

	b := &Batch{
		Index:     index,
		Examples:  w.examples,
		Words:     w.words,
		Original:  original,
		Offsets:   offsets,
		Gold:      gold,
		MaxLength: maxLength,
		Extended:  extend,
	}
	var err error
	if g.variant.Transformer {
		err = g.transformerBatch(ctx, b, w, extend)
	} else {
		err = g.staticBatch(ctx, b, w, maxLength, extend)
	}
	if err != nil {
		return nil, err
	}
	g.logger.Debug().
		Int("batch", index).
		Int("size", len(w.examples)).
		Int("max_length", b.MaxLength).
		Bool("extended", extend).
		Msg("built batch")
	return b, nil
}

func (g *Generator) staticBatch(ctx context.Context, b *Batch, w window, maxLength int, extend bool) error {
	embeddings, err := g.embed(ctx, b.Index, w.words, maxLength)
	if err != nil {
		return err
	}
	chars, lengths, err := g.pre.Transform(w.words, extend)
	if err != nil {
		return err
	}
	b.Lengths = lengths

	var casing, feats *tensor.Dense[int32]
	if g.variant.ReturnCasing() {
		rows := make([][]int32, len(w.words))
		for i, words := range w.words {
			rows[i] = features.CasingSequence(words, maxLength)
		}
		casing = tensor.FromRows(rows, maxLength)
	}
	if g.variant.ReturnFeatures() {
		if feats, err = g.pre.TransformFeatures(w.features, maxLength, extend); err != nil {
			return err
		}
	}
	if w.labels != nil {
		if b.Labels, err = g.pre.TransformLabels(w.labels, maxLength); err != nil {
			return err
		}
	}

	b.Inputs = make([]tensor.Tensor, len(g.variant.Inputs))
	for i, kind := range g.variant.Inputs {
		switch kind {
		case model.InputWordEmbeddings:
			b.Inputs[i] = embeddings
		case model.InputChars:
			b.Inputs[i] = chars
		case model.InputCasing:
			b.Inputs[i] = casing
		case model.InputFeatures:
			b.Inputs[i] = feats
		case model.InputLength:
			b.Inputs[i] = lengthTensor(lengths)
		default:
			return common.NewConfigurationError("architecture", "%s input %s is not produced on the static path", g.variant.Name, kind)
		}
	}
	return nil
}

// embed looks up every token of the batch in one provider call and lays the vectors out as
// [batch, maxLength, dims]. Padding positions stay zero.
func (g *Generator) embed(ctx context.Context, index int, words [][]string, maxLength int) (*tensor.Dense[float32], error) {
	dims := g.opts.embeddings.Dimensions()
	var flat []string
	for _, seq := range words {
		flat = append(flat, seq...)
	}
	out := tensor.New[float32](len(words), maxLength, dims)
	if len(flat) == 0 {
		return out, nil
	}
	vectors, err := g.opts.embeddings.Embed(ctx, flat)
	if err != nil {
		return nil, common.WrapError(err, "embed batch %d", index)
	}
	resolved := false
	k := 0
	for i, seq := range words {
		for j := range seq {
			vec := vectors[k]
			k++
			if !embedding.IsZero(vec) {
				resolved = true
			}
			copy(out.Slice(i, j), vec)
		}
	}
	if !resolved {
		return nil, &common.ResourceUnavailableError{Resource: "embeddings", Batch: index}
	}
	return out, nil
}

func (g *Generator) transformerBatch(ctx context.Context, b *Batch, w window, extend bool) error {
	chars, lengths, err := g.pre.Transform(w.words, extend)
	if err != nil {
		return err
	}
	b.Lengths = lengths
	wordLength := chars.Dims()[1]

	batch := align.Batch{Examples: w.examples, Words: w.words, Chars: chars}
	if g.variant.ReturnFeatures() {
		if batch.Features, err = g.pre.TransformFeatures(w.features, wordLength, extend); err != nil {
			return err
		}
	}
	if w.labels != nil {
		if batch.Labels, err = g.pre.TransformLabels(w.labels, wordLength); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	aligned, err := g.aligner.AlignBatch(batch, g.opts.report)
	if err != nil {
		return err
	}

	full := g.aligner.MaxLength()
	// the batch only needs the pieces up to its longest non-padding run
	tight := 0
	for _, a := range aligned {
		tight = max(tight, a.FirstPad())
	}
	n := len(aligned)
	charWidth := g.pre.MaxCharLength()
	ids := tensor.New[int32](n, full)
	mask := tensor.New[int32](n, full)
	pieceChars := tensor.New[int32](n, full, charWidth)
	var pieceFeats, pieceLabels *tensor.Dense[int32]
	if batch.Features != nil {
		pieceFeats = tensor.New[int32](n, full, batch.Features.Dims()[2])
	}
	if batch.Labels != nil {
		pieceLabels = tensor.New[int32](n, full)
	}
	b.Kinds = make([][]align.PieceKind, n)
	if g.opts.outputTokens {
		b.PieceTokens = make([][]string, n)
	}
	for i, a := range aligned {
		copy(ids.Row(i), a.IDs)
		copy(mask.Row(i), a.Mask)
		for p := 0; p < full; p++ {
			copy(pieceChars.Slice(i, p), a.Chars[p])
			if pieceFeats != nil {
				copy(pieceFeats.Slice(i, p), a.Features[p])
			}
		}
		if pieceLabels != nil {
			copy(pieceLabels.Row(i), a.Labels)
		}
		b.Kinds[i] = a.Kinds[:tight]
		if b.PieceTokens != nil {
			b.PieceTokens[i] = a.Tokens[:tight]
		}
	}

	ids, mask, pieceChars = ids.Truncate(tight), mask.Truncate(tight), pieceChars.Truncate(tight)
	if pieceFeats != nil {
		pieceFeats = pieceFeats.Truncate(tight)
	}
	if pieceLabels != nil {
		b.Labels = pieceLabels.Truncate(tight)
	}
	b.MaxLength = tight

	b.Inputs = make([]tensor.Tensor, len(g.variant.Inputs))
	for i, kind := range g.variant.Inputs {
		switch kind {
		case model.InputPieceIDs:
			b.Inputs[i] = ids
		case model.InputPieceMask:
			b.Inputs[i] = mask
		case model.InputChars:
			b.Inputs[i] = pieceChars
		case model.InputFeatures:
			b.Inputs[i] = pieceFeats
		default:
			return common.NewConfigurationError("architecture", "%s input %s is not produced on the transformer path", g.variant.Name, kind)
		}
	}
	return nil
}

func lengthTensor(lengths []int32) *tensor.Dense[int32] {
	t := tensor.New[int32](len(lengths))
	copy(t.Data(), lengths)
	return t
}
