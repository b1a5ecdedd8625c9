package generator

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/seqtag/seqtag/align"
	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/embedding"
	"github.com/ZanzyTHEbar/seqtag/seqtag/model"
	"github.com/ZanzyTHEbar/seqtag/seqtag/preprocess"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tensor"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tokenizer"
)

const dims = 4

func variant(t *testing.T, tag string) model.Variant {
	t.Helper()
	v, err := model.Lookup(tag)
	require.NoError(t, err)
	return v
}

func fit(t *testing.T, x, y [][]string, rows [][][]string, opts ...preprocess.Option) *preprocess.Preprocessor {
	t.Helper()
	p := preprocess.New(opts...)
	require.NoError(t, p.Fit(x, y, rows))
	return p
}

func seq(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tok%d", i)
	}
	return out
}

func outside(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "O"
	}
	return out
}

func TestNewYorkScenario(t *testing.T) {
	texts := []string{"New York is big."}
	labels := [][]string{{"B-LOC", "I-LOC", "O", "O", "O"}}
	pre := fit(t, tokenizer.WordsBatch(texts), labels, nil)

	g, err := New(variant(t, "BidLSTM_CRF"), Dataset{Texts: texts, Labels: labels}, pre,
		WithTokenize(true),
		WithMaxSequenceLength(10),
		WithEmbeddings(embedding.NewHashProvider(dims)))
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())

	b, err := g.Batch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, b.Inputs, 3)
	assert.Equal(t, []int{1, 5, dims}, b.Inputs[0].Dims())
	assert.Equal(t, []int{1, 5, pre.MaxCharLength()}, b.Inputs[1].Dims())
	assert.Equal(t, []int32{5}, b.Inputs[2].(*tensor.Dense[int32]).Data())
	assert.Equal(t, []int32{5}, b.Lengths)
	assert.Equal(t, []string{"New", "York", "is", "big", "."}, b.Words[0])
	assert.Equal(t, labels[0], pre.InverseTransform(b.Labels.Row(0)))
	assert.False(t, b.Extended)
}

func TestPaddingToBatchMax(t *testing.T) {
	x := [][]string{seq(3), seq(7)}
	y := [][]string{outside(3), outside(7)}
	pre := fit(t, x, y, nil)

	g, err := New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x, Labels: y}, pre,
		WithBatchSize(2),
		WithShuffle(false),
		WithMaxSequenceLength(10),
		WithEmbeddings(embedding.NewHashProvider(dims)))
	require.NoError(t, err)

	b, err := g.Batch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 7, b.MaxLength)
	assert.Equal(t, []int32{3, 7}, b.Lengths)

	words := b.Inputs[0].(*tensor.Dense[float32])
	assert.Equal(t, []int{2, 7, dims}, words.Dims())
	for j := 0; j < 7; j++ {
		assert.Equal(t, j >= 3, embedding.IsZero(words.Slice(0, j)), "position %d", j)
		assert.False(t, embedding.IsZero(words.Slice(1, j)))
	}
	assert.True(t, tensor.SameLength(7, b.Inputs[0], b.Inputs[1], b.Labels))
}

func TestDegenerateLengthExtension(t *testing.T) {
	x := [][]string{{"Paris"}}
	y := [][]string{{"B-LOC"}}
	pre := fit(t, x, y, nil)

	g, err := New(variant(t, "BidLSTM_CRF_CASING"), Dataset{Tokens: x, Labels: y}, pre,
		WithBatchSize(1),
		WithEmbeddings(embedding.NewHashProvider(dims)))
	require.NoError(t, err)

	b, err := g.Batch(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, b.Extended)
	assert.Equal(t, 2, b.MaxLength)
	assert.Equal(t, []int32{1}, b.Lengths)
	for _, in := range b.Inputs[:3] {
		assert.Equal(t, 2, in.Dims()[1])
	}
	assert.True(t, embedding.IsZero(b.Inputs[0].(*tensor.Dense[float32]).Slice(0, 1)))
	assert.Equal(t, []int32{4, 0}, b.Inputs[2].(*tensor.Dense[int32]).Row(0))
	assert.Equal(t, []int32{1, 0}, b.Labels.Row(0))
}

func TestTruncationPolicy(t *testing.T) {
	x := [][]string{{"a", "b", "c", "d", "e"}}
	y := [][]string{{"O", "O", "O", "B-X", "I-X"}}
	pre := fit(t, x, y, nil)

	cases := []struct {
		policy Truncation
		words  []string
		labels []string
		offset int32
	}{
		{TruncateFront, []string{"a", "b", "c"}, []string{"O", "O", "O"}, 0},
		{TruncateBack, []string{"c", "d", "e"}, []string{"O", "B-X", "I-X"}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.policy.String(), func(t *testing.T) {
			g, err := New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x, Labels: y}, pre,
				WithMaxSequenceLength(3),
				WithTruncation(tc.policy),
				WithEmbeddings(embedding.NewHashProvider(dims)))
			require.NoError(t, err)

			b, err := g.Batch(context.Background(), 0)
			require.NoError(t, err)
			assert.Equal(t, 3, b.MaxLength)
			assert.Equal(t, tc.words, b.Words[0])
			assert.Equal(t, tc.labels, pre.InverseTransform(b.Labels.Row(0)))
			assert.Equal(t, []int32{3}, b.Lengths)
			assert.Equal(t, []int32{5}, b.Original)
			assert.Equal(t, []int32{tc.offset}, b.Offsets)
			assert.Equal(t, y, b.Gold)
			for _, in := range b.Inputs[:2] {
				assert.LessOrEqual(t, in.Dims()[1], 3)
			}
		})
	}
	// the source data is never modified
	assert.Len(t, x[0], 5)

	p, err := ParseTruncation("BACK")
	require.NoError(t, err)
	assert.Equal(t, TruncateBack, p)
	_, err = ParseTruncation("middle")
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestShuffleKeepsTripleAligned(t *testing.T) {
	const n = 16
	x := make([][]string, n)
	y := make([][]string, n)
	f := make([][][]string, n)
	for i := 0; i < n; i++ {
		x[i] = []string{fmt.Sprintf("w%d", i), "x"}
		y[i] = []string{fmt.Sprintf("T%d", i), "O"}
		f[i] = [][]string{{fmt.Sprintf("f%d", i)}, {fmt.Sprintf("f%d", i)}}
	}
	pre := fit(t, x, y, f, preprocess.WithFeatures([]int{0}, 32))

	g, err := New(variant(t, "BidLSTM_CRF_FEATURES"), Dataset{Tokens: x, Labels: y, Features: f}, pre,
		WithBatchSize(5),
		WithSeed(42),
		WithEmbeddings(embedding.NewHashProvider(dims)))
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())

	check := func() []int {
		var seen []int
		for i := 0; i < g.Len(); i++ {
			b, err := g.Batch(context.Background(), i)
			require.NoError(t, err)
			feats := b.Inputs[2].(*tensor.Dense[int32])
			for r, e := range b.Examples {
				seen = append(seen, e)
				assert.Equal(t, fmt.Sprintf("w%d", e), b.Words[r][0])
				assert.Equal(t, fmt.Sprintf("T%d", e), pre.InverseTransform(b.Labels.Row(r))[0])
				assert.Equal(t, int32(e+1), feats.At(r, 0, 0))
			}
		}
		return seen
	}

	first := check()
	g.OnEpochEnd()
	second := check()
	assert.NotEqual(t, first, second)

	sort.Ints(second)
	for i, e := range second {
		assert.Equal(t, i, e)
	}
}

func TestShuffleIsSeeded(t *testing.T) {
	x := make([][]string, 10)
	y := make([][]string, 10)
	for i := range x {
		x[i], y[i] = seq(2), outside(2)
	}
	pre := fit(t, x, y, nil)
	build := func(seed int64) *Generator {
		g, err := New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x, Labels: y}, pre,
			WithSeed(seed), WithEmbeddings(embedding.NewHashProvider(dims)))
		require.NoError(t, err)
		return g
	}
	assert.Equal(t, build(3).Order(), build(3).Order())

	noLabels, err := New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x}, pre,
		WithEmbeddings(embedding.NewHashProvider(dims)))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, noLabels.Order())
}

func TestBatchWindowing(t *testing.T) {
	x := [][]string{seq(2), seq(3), seq(4), seq(5), seq(6)}
	pre := fit(t, x, nil, nil)
	g, err := New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x}, pre,
		WithBatchSize(2), WithEmbeddings(embedding.NewHashProvider(dims)))
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	last, err := g.Batch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, last.Examples)
	assert.Nil(t, last.Labels)
	assert.Equal(t, 6, last.MaxLength)

	_, err = g.Batch(context.Background(), 3)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Batch(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResourceUnavailable(t *testing.T) {
	x := [][]string{{"a", "b"}}
	pre := fit(t, x, nil, nil)
	g, err := New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x}, pre,
		WithEmbeddings(embedding.NewMemoryStore(dims, nil)))
	require.NoError(t, err)

	_, err = g.Batch(context.Background(), 0)
	assert.ErrorIs(t, err, common.ErrResourceUnavailable)
	assert.True(t, common.IsFatal(err))

	partial, err := New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x}, pre,
		WithEmbeddings(embedding.NewMemoryStore(dims, map[string][]float32{"b": {1, 0, 0, 0}})))
	require.NoError(t, err)
	b, err := partial.Batch(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, embedding.IsZero(b.Inputs[0].(*tensor.Dense[float32]).Slice(0, 0)))
}

func TestUnknownLabelIsFatal(t *testing.T) {
	x := [][]string{{"a", "b"}}
	pre := fit(t, x, [][]string{{"O", "O"}}, nil)
	g, err := New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x, Labels: [][]string{{"O", "B-PER"}}}, pre,
		WithEmbeddings(embedding.NewHashProvider(dims)))
	require.NoError(t, err)

	_, err = g.Batch(context.Background(), 0)
	assert.ErrorIs(t, err, common.ErrUnknownLabel)
}

func TestFeatureRowsMustMatchTokens(t *testing.T) {
	x := [][]string{{"a", "b", "c"}}
	y := [][]string{{"O", "O", "O"}}
	f := [][][]string{{{"p"}, {"q"}, {"r"}}}
	pre := fit(t, x, y, f, preprocess.WithFeatures([]int{0}, 8))

	short := [][][]string{{{"p"}, {"q"}}}
	g, err := New(variant(t, "BidLSTM_CRF_FEATURES"), Dataset{Tokens: x, Labels: y, Features: short}, pre,
		WithEmbeddings(embedding.NewHashProvider(dims)))
	require.NoError(t, err)
	_, err = g.Batch(context.Background(), 0)
	var cfgErr *common.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "features", cfgErr.Field)

	// truncation must not hide a mismatch that exists in the full sequence
	g, err = New(variant(t, "BidLSTM_CRF_FEATURES"), Dataset{Tokens: x, Labels: y, Features: short}, pre,
		WithMaxSequenceLength(2),
		WithEmbeddings(embedding.NewHashProvider(dims)))
	require.NoError(t, err)
	_, err = g.Batch(context.Background(), 0)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestNewValidation(t *testing.T) {
	x := [][]string{{"a"}}
	pre := fit(t, x, nil, nil)

	_, err := New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x}, pre)
	assert.ErrorIs(t, err, common.ErrConfiguration, "static path without embeddings")

	_, err = New(variant(t, "BidLSTM_CRF_FEATURES"), Dataset{Tokens: x}, pre, WithEmbeddings(embedding.NewHashProvider(dims)))
	assert.ErrorIs(t, err, common.ErrConfiguration, "features variant without features")

	_, err = New(variant(t, "BERT_CRF"), Dataset{Tokens: x}, pre)
	assert.ErrorIs(t, err, common.ErrConfiguration, "transformer without piece tokenizer")

	_, err = New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x}, pre, WithBatchSize(0))
	assert.ErrorIs(t, err, common.ErrConfiguration)

	_, err = New(variant(t, "BidLSTM_CRF"), Dataset{Texts: []string{"a"}}, pre, WithEmbeddings(embedding.NewHashProvider(dims)))
	assert.ErrorIs(t, err, common.ErrConfiguration)

	_, err = New(variant(t, "BidLSTM_CRF"), Dataset{Tokens: x}, preprocess.New(), WithEmbeddings(embedding.NewHashProvider(dims)))
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func wordPiece(t *testing.T) tokenizer.PieceTokenizer {
	t.Helper()
	wp, err := tokenizer.NewWordPieceFromTokens([]string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]",
		"un", "##aff", "##able", "new", "york", "is", "big", ".", "##s",
	}, tokenizer.WithLowercase(true))
	require.NoError(t, err)
	return wp
}

func TestTransformerBatch(t *testing.T) {
	x := [][]string{{"New", "York", "is", "big", "."}, {"unaffable"}}
	y := [][]string{{"B-LOC", "I-LOC", "O", "O", "O"}, {"O"}}
	pre := fit(t, x, y, nil, preprocess.WithChars(true))

	g, err := New(variant(t, "BERT_CRF_CHAR"), Dataset{Tokens: x, Labels: y}, pre,
		WithShuffle(false),
		WithMaxSequenceLength(16),
		WithPieceTokenizer(wordPiece(t)),
		WithOutputInputTokens(true))
	require.NoError(t, err)

	b, err := g.Batch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, b.Inputs, 3)

	// longest piece row is [CLS] new york is big . [SEP]
	assert.Equal(t, 7, b.MaxLength)
	ids := b.Inputs[0].(*tensor.Dense[int32])
	assert.Equal(t, []int{2, 7}, ids.Dims())
	assert.Equal(t, []int{2, 7, pre.MaxCharLength()}, b.Inputs[1].Dims())
	assert.Equal(t, []int{2, 7}, b.Inputs[2].Dims())
	assert.True(t, tensor.SameLength(7, b.Inputs[0], b.Inputs[1], b.Inputs[2], b.Labels))

	assert.Equal(t, []int32{2, 7, 8, 9, 10, 11, 3}, ids.Row(0))
	assert.Equal(t, []int32{2, 4, 5, 6, 3, 0, 0}, ids.Row(1))
	assert.Equal(t, []int32{1, 1, 1, 1, 1, 0, 0}, b.Inputs[2].(*tensor.Dense[int32]).Row(1))

	tags := pre.Tags()
	o, _ := tags.Index("O")
	assert.Equal(t, []int32{0, o, 0, 0, 0, 0, 0}, b.Labels.Row(1))
	assert.Equal(t, []align.PieceKind{align.KindCLS, align.KindWordStart, align.KindContinuation, align.KindContinuation, align.KindSEP, align.KindPad, align.KindPad}, b.Kinds[1])
	assert.Equal(t, []string{"[CLS]", "un", "##aff", "##able", "[SEP]", "[PAD]", "[PAD]"}, b.PieceTokens[1])
	assert.Equal(t, []int32{5, 1}, b.Lengths)

	chars := b.Inputs[1].(*tensor.Dense[int32])
	assert.Equal(t, pre.CharIndices("unaffable"), chars.Slice(1, 1))
	assert.Equal(t, make([]int32, pre.MaxCharLength()), chars.Slice(1, 2))
}

func TestTransformerBatchReportsTruncation(t *testing.T) {
	x := [][]string{{"unaffable", "unaffable", "big"}}
	pre := fit(t, x, nil, nil)
	report := common.NewAlignmentReport()

	g, err := New(variant(t, "BERT"), Dataset{Tokens: x}, pre,
		WithMaxSequenceLength(6),
		WithPieceTokenizer(wordPiece(t)),
		WithAlignmentReport(report))
	require.NoError(t, err)
	assert.Same(t, report, g.Report())

	b, err := g.Batch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 6, b.MaxLength)
	assert.Equal(t, []int{0}, report.Examples())
	assert.Equal(t, 1, report.Clipped())
}

func TestClassificationGenerator(t *testing.T) {
	texts := []string{"Café au lait is great today", "Bad!"}
	labels := [][]float32{{1, 0}, {0, 1}}
	store := embedding.NewMemoryStore(2, map[string][]float32{
		"today": {1, 1},
		"Bad":   {2, 2},
	})

	g, err := NewClassification(texts, labels,
		WithMaxSequenceLength(4),
		WithShuffle(false),
		WithEmbeddings(store))
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, []string{"lait", "is", "great", "today"}, g.Window(0))

	b, err := g.Batch(context.Background(), 0)
	require.NoError(t, err)
	x := b.Inputs[0].(*tensor.Dense[float32])
	assert.Equal(t, []int{2, 4, 2}, x.Dims())
	assert.Equal(t, []float32{1, 1}, x.Slice(0, 3))
	assert.Equal(t, []float32{2, 2}, x.Slice(1, 0))
	assert.Equal(t, []float32{0, 0}, x.Slice(1, 2))
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, b.Labels.Rows())

	front, err := NewClassification(texts, nil, WithMaxSequenceLength(2), WithTruncation(TruncateFront), WithEmbeddings(store))
	require.NoError(t, err)
	assert.Equal(t, []string{"Cafe", "au"}, front.Window(0))
}

func TestClassificationGeneratorPieces(t *testing.T) {
	g, err := NewClassification([]string{"new york is big"}, nil,
		WithMaxSequenceLength(8),
		WithPieceTokenizer(wordPiece(t)))
	require.NoError(t, err)

	b, err := g.Batch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, b.Inputs, 3)
	assert.Equal(t, []int32{2, 7, 8, 9, 10, 3, 0, 0}, b.Inputs[0].(*tensor.Dense[int32]).Row(0))
	assert.Equal(t, []int32{1, 1, 1, 1, 1, 1, 0, 0}, b.Inputs[1].(*tensor.Dense[int32]).Row(0))
	assert.Nil(t, b.Labels)

	_, err = NewClassification([]string{"x"}, [][]float32{{1}, {0}}, WithPieceTokenizer(wordPiece(t)))
	assert.ErrorIs(t, err, common.ErrConfiguration)
	_, err = NewClassification([]string{"x"}, nil)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
