package generator

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/seqtag/seqtag"
	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tensor"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tokenizer"
)

// ClassificationBatch is one window of texts for a text classifier.
type ClassificationBatch struct {
	Index    int
	Examples []int
	// Inputs is [embeddings] on the static path and [ids, mask, segments] with a piece tokenizer.
	Inputs []tensor.Tensor
	// Labels is [batch, classes], nil without labels.
	Labels *tensor.Dense[float32]
}

// ClassificationGenerator batches raw texts into fixed-length inputs. Texts are cleaned,
// split into words and cut to maxlen keeping the last words unless configured otherwise.
type ClassificationGenerator struct {
	texts   []string
	labels  [][]float32
	classes int
	opts    options
	rng     *rand.Rand
	mu      sync.RWMutex
	order   []int
	logger  zerolog.Logger
}

// NewClassification builds a classification generator. labels holds one score vector per
// text (one-hot for single-label data) and may be nil for prediction.
func NewClassification(texts []string, labels [][]float32, opts ...Option) (*ClassificationGenerator, error) {
	o, err := buildOptions(options{
		batchSize:  seqtag.DefaultBatchSize,
		maxLength:  seqtag.DefaultMaxSequenceLength,
		shuffle:    true,
		seed:       seqtag.DefaultSeed,
		truncation: TruncateBack,
		logger:     zerolog.Nop(),
	}, opts)
	if err != nil {
		return nil, err
	}
	if o.maxLength == 0 {
		return nil, common.NewConfigurationError("maxlen", "text classification needs a fixed length")
	}
	if o.embeddings == nil && o.pieces == nil {
		return nil, common.NewConfigurationError("embeddings", "text classification needs embeddings or a piece tokenizer")
	}
	classes := 0
	if labels != nil {
		if len(labels) != len(texts) {
			return nil, common.NewConfigurationError("labels", "%d label rows for %d texts", len(labels), len(texts))
		}
		for i, row := range labels {
			if i == 0 {
				classes = len(row)
			}
			if len(row) != classes || classes == 0 {
				return nil, common.NewConfigurationError("labels", "text %d has %d classes, expected %d", i, len(row), classes)
			}
		}
	}
	g := &ClassificationGenerator{
		texts:   texts,
		labels:  labels,
		classes: classes,
		opts:    o,
		rng:     rand.New(rand.NewPCG(uint64(o.seed), uint64(o.seed)^0x9e3779b97f4a7c15)),
		order:   make([]int, len(texts)),
		logger:  o.logger.With().Str("component", "classification_generator").Logger(),
	}
	for i := range g.order {
		g.order[i] = i
	}
	g.OnEpochEnd()
	return g, nil
}

func (g *ClassificationGenerator) Len() int {
	return (len(g.texts) + g.opts.batchSize - 1) / g.opts.batchSize
}

// OnEpochEnd reshuffles texts and labels with one permutation.
func (g *ClassificationGenerator) OnEpochEnd() {
	if g.labels == nil || !g.opts.shuffle {
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

// Window returns the cleaned, tokenized and truncated words of text i.
func (g *ClassificationGenerator) Window(i int) []string {
	return cut(tokenizer.Words(tokenizer.CleanText(g.texts[i])), g.opts.maxLength, g.opts.truncation)
}

func (g *ClassificationGenerator) Batch(ctx context.Context, index int) (*ClassificationBatch, error) {
	if index < 0 || index >= g.Len() {
		return nil, rangeError(index, g.Len())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	order := g.order
	g.mu.RUnlock()
	start := index * g.opts.batchSize
	end := min(start+g.opts.batchSize, len(order))
	b := &ClassificationBatch{Index: index, Examples: append([]int(nil), order[start:end]...)}

	maxLength := g.opts.maxLength
	if g.opts.embeddings != nil {
		dims := g.opts.embeddings.Dimensions()
		x := tensor.New[float32](len(b.Examples), maxLength, dims)
		for i, e := range b.Examples {
			words := g.Window(e)
			vectors, err := g.opts.embeddings.Embed(ctx, words)
			if err != nil {
				return nil, common.WrapError(err, "embed text %d", e)
			}
			for j, vec := range vectors {
				copy(x.Slice(i, j), vec)
			}
		}
		b.Inputs = []tensor.Tensor{x}
	} else {
		ids := tensor.New[int32](len(b.Examples), maxLength)
		mask := tensor.New[int32](len(b.Examples), maxLength)
		segments := tensor.New[int32](len(b.Examples), maxLength)
		for i, e := range b.Examples {
			var pieces []string
			for _, w := range g.Window(e) {
				pieces = append(pieces, g.opts.pieces.Tokenize(w)...)
			}
			enc := tokenizer.Encode(g.opts.pieces, pieces, maxLength)
			copy(ids.Row(i), enc.IDs)
			copy(mask.Row(i), enc.AttentionMask)
			copy(segments.Row(i), enc.TypeIDs)
		}
		b.Inputs = []tensor.Tensor{ids, mask, segments}
	}

	if g.labels != nil {
		y := tensor.New[float32](len(b.Examples), g.classes)
		for i, e := range b.Examples {
			copy(y.Row(i), g.labels[e])
		}
		b.Labels = y
	}
	g.logger.Debug().Int("batch", index).Int("size", len(b.Examples)).Msg("built classification batch")
	return b, nil
}
