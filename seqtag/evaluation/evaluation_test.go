package evaluation

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/seqtag/seqtag/align"
	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/embedding"
	"github.com/ZanzyTHEbar/seqtag/seqtag/generator"
	"github.com/ZanzyTHEbar/seqtag/seqtag/model"
	"github.com/ZanzyTHEbar/seqtag/seqtag/pipeline"
	"github.com/ZanzyTHEbar/seqtag/seqtag/preprocess"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tensor"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tokenizer"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want []Chunk
	}{
		{"iob2", []string{"B-PER", "I-PER", "O", "B-LOC"}, []Chunk{{"PER", 0, 1}, {"LOC", 3, 3}}},
		{"iob2 adjacent", []string{"B-PER", "B-PER", "I-PER"}, []Chunk{{"PER", 0, 0}, {"PER", 1, 2}}},
		{"iob1", []string{"I-PER", "I-PER", "O", "I-LOC", "I-ORG"}, []Chunk{{"PER", 0, 1}, {"LOC", 3, 3}, {"ORG", 4, 4}}},
		{"iobes", []string{"S-PER", "B-LOC", "I-LOC", "E-LOC", "O", "S-ORG"}, []Chunk{{"PER", 0, 0}, {"LOC", 1, 3}, {"ORG", 5, 5}}},
		{"type change", []string{"B-PER", "I-LOC"}, []Chunk{{"PER", 0, 0}, {"LOC", 1, 1}}},
		{"outside only", []string{"O", "O"}, nil},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chunks(tt.tags))
		})
	}
}

func TestPerfectPrediction(t *testing.T) {
	seq := [][]string{{"O", "B-PER", "I-PER"}}
	f1, err := F1(seq, [][]string{{"O", "B-PER", "I-PER"}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, f1)
}

func TestCompute(t *testing.T) {
	truth := [][]string{{"B-PER", "I-PER", "O", "B-LOC"}}
	pred := [][]string{{"B-PER", "I-PER", "O", "B-ORG"}}

	r, err := Compute(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r.Micro.Precision, 1e-9)
	assert.InDelta(t, 0.5, r.Micro.Recall, 1e-9)
	assert.InDelta(t, 0.5, r.Micro.F1, 1e-9)
	assert.Equal(t, 2, r.Micro.Support)

	assert.Equal(t, Metrics{Precision: 1, Recall: 1, F1: 1, Support: 1}, r.Labels["PER"])
	assert.Equal(t, Metrics{Support: 1}, r.Labels["LOC"])
	assert.Equal(t, Metrics{}, r.Labels["ORG"])

	acc, err := Accuracy(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, acc, 1e-9)

	text := r.Format(4)
	assert.Contains(t, text, "PER")
	assert.Contains(t, text, "all (micro avg.)")
	assert.Contains(t, text, "0.5000")
	assert.Less(t, strings.Index(text, "LOC"), strings.Index(text, "ORG"))

	// a boundary error is a miss even when the type matches
	f1, err := F1([][]string{{"B-PER", "I-PER"}}, [][]string{{"B-PER", "O"}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, f1)

	_, err = Compute(truth, [][]string{{"O"}})
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestRealignPieces(t *testing.T) {
	kinds := []align.PieceKind{
		align.KindCLS, align.KindWordStart, align.KindContinuation, align.KindWordStart,
		align.KindSEP, align.KindPad,
	}
	pred := []int32{0, 4, 9, 5, 9, 9}
	truth := []int32{0, 1, 0, 2, 0, 0}

	p, tr := RealignPieces(pred, truth, kinds)
	assert.Equal(t, []int32{4, 5}, p)
	assert.Equal(t, []int32{1, 2}, tr)

	p, tr = RealignPieces(pred[:2], truth, kinds)
	assert.Equal(t, []int32{4}, p)
	assert.Equal(t, []int32{1, 2}, tr)

	p, tr = RealignByLength([]int32{1, 2, 3, 0}, []int32{1, 2, 2, 0}, 3)
	assert.Equal(t, []int32{1, 2, 3}, p)
	assert.Equal(t, []int32{1, 2, 2}, tr)
}

func TestReconcileLengths(t *testing.T) {
	truth := [][]string{{"B-PER", "O"}, {"O", "O", "B-LOC"}, {"O"}}
	pred := [][]string{{"B-PER", "O"}, {"O", "O"}}

	tr, p, affected := ReconcileLengths(truth, pred)
	require.Len(t, tr, 3)
	require.Len(t, p, 3)
	assert.Equal(t, []string{"O", "O", "O"}, p[1])
	assert.Equal(t, []string{"O"}, p[2])
	assert.Equal(t, []uint32{1, 2}, affected.ToArray())
	assert.Len(t, pred[1], 2, "inputs are not modified")

	r, err := Compute(tr, p)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r.Micro.Precision, 1e-9)
	assert.InDelta(t, 0.5, r.Micro.Recall, 1e-9)
}

func TestEarlyStopping(t *testing.T) {
	es := NewEarlyStopping(2)
	_, epoch := es.Best()
	assert.Equal(t, -1, epoch)

	steps := []struct {
		f1       float64
		improved bool
		stop     bool
	}{
		{0.5, true, false},
		{0.6, true, false},
		{0.55, false, false},
		{0.6, false, true},
	}
	for _, s := range steps {
		improved, stop := es.Observe(s.f1)
		assert.Equal(t, s.improved, improved, "f1 %v", s.f1)
		assert.Equal(t, s.stop, stop, "f1 %v", s.f1)
	}
	best, epoch := es.Best()
	assert.Equal(t, 0.6, best)
	assert.Equal(t, 1, epoch)
}

func TestFolds(t *testing.T) {
	folds, err := FoldBounds(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []Fold{{0, 0, 3}, {1, 3, 6}, {2, 6, 10}}, folds)

	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	train, valid := Split(items, folds[1])
	assert.Equal(t, []int{0, 1, 2, 6, 7, 8, 9}, train)
	assert.Equal(t, []int{3, 4, 5}, valid)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, items)

	_, err = FoldBounds(10, 1)
	assert.ErrorIs(t, err, common.ErrConfiguration)
	_, err = FoldBounds(2, 3)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestSummarizeFolds(t *testing.T) {
	sum, err := SummarizeFolds([]*Result{
		{F1: 0.8, Precision: 0.7, Recall: 0.9, Accuracy: 0.95},
		{F1: 0.9, Precision: 0.9, Recall: 0.9, Accuracy: 0.97},
		{F1: 0.7, Precision: 0.8, Recall: 0.6, Accuracy: 0.93},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Folds)
	assert.InDelta(t, 0.8, sum.MeanF1, 1e-9)
	assert.InDelta(t, 0.1, sum.StdF1, 1e-9)
	assert.InDelta(t, 0.8, sum.MeanPrecision, 1e-9)
	assert.InDelta(t, 0.95, sum.MeanAccuracy, 1e-9)
	assert.Equal(t, 1, sum.Best)
	assert.Equal(t, 2, sum.Worst)
	assert.Contains(t, sum.String(), "best fold:  1")

	one, err := SummarizeFolds([]*Result{{F1: 0.5}})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(one.StdF1))
	assert.Equal(t, 0.0, one.StdF1)

	_, err = SummarizeFolds(nil)
	assert.Error(t, err)
}

// oracleModel replays the gold labels of gen batch by batch, relying on in-order consumption.
type oracleModel struct {
	variant model.Variant
	gen     *generator.Generator
	next    int
	outside int32
	closed  bool
}

func (m *oracleModel) Variant() model.Variant { return m.variant }

func (m *oracleModel) Predict(ctx context.Context, inputs []tensor.Tensor) ([][]int32, error) {
	b, err := m.gen.Batch(ctx, m.next)
	if err != nil {
		return nil, err
	}
	m.next++
	out := b.Labels.Rows()
	if m.outside > 0 {
		for _, row := range out {
			for i := range row {
				row[i] = m.outside
			}
		}
	}
	return out, nil
}

func (m *oracleModel) Save(string) error { return nil }
func (m *oracleModel) Load(string) error { return nil }
func (m *oracleModel) Close() error      { m.closed = true; return nil }

var _ model.Model = (*oracleModel)(nil)

func lookup(t *testing.T, tag string) model.Variant {
	t.Helper()
	v, err := model.Lookup(tag)
	require.NoError(t, err)
	return v
}

func staticSetup(t *testing.T) (*preprocess.Preprocessor, *generator.Generator, model.Variant) {
	t.Helper()
	x := [][]string{
		{"John", "Smith", "lives", "in", "Paris"},
		{"He", "works"},
		{"Berlin", "is", "big"},
	}
	y := [][]string{
		{"B-PER", "I-PER", "O", "O", "B-LOC"},
		{"O", "O"},
		{"B-LOC", "O", "O"},
	}
	pre := preprocess.New()
	require.NoError(t, pre.Fit(x, y, nil))
	v := lookup(t, "BidLSTM_CRF")
	gen, err := generator.New(v, generator.Dataset{Tokens: x, Labels: y}, pre,
		generator.WithBatchSize(2),
		generator.WithShuffle(false),
		generator.WithEmbeddings(embedding.NewHashProvider(8)))
	require.NoError(t, err)
	return pre, gen, v
}

func newScorer(t *testing.T, pre *preprocess.Preprocessor) *Scorer {
	t.Helper()
	p, err := pipeline.New(pipeline.WithWorkers(2))
	require.NoError(t, err)
	s, err := NewScorer(pre, WithPrefetcher(p))
	require.NoError(t, err)
	return s
}

func TestScorerStaticPath(t *testing.T) {
	pre, gen, v := staticSetup(t)
	s := newScorer(t, pre)

	res, err := s.Evaluate(context.Background(), &oracleModel{variant: v, gen: gen}, gen)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.F1)
	assert.Equal(t, 1.0, res.Accuracy)
	assert.Equal(t, 3, res.Sequences)
	assert.Empty(t, res.Mismatched)
	assert.Contains(t, res.Text, "LOC")

	o, ok := pre.Tags().Index("O")
	require.True(t, ok)
	res, err = s.Evaluate(context.Background(), &oracleModel{variant: v, gen: gen, outside: o}, gen)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.F1)
	assert.InDelta(t, 6.0/10.0, res.Accuracy, 1e-9)
}

func TestScorerTransformerPath(t *testing.T) {
	wp, err := tokenizer.NewWordPieceFromTokens([]string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]", "un", "##aff", "##able", "big", "is",
	}, tokenizer.WithLowercase(true))
	require.NoError(t, err)

	x := [][]string{{"big", "is", "big"}, {"unaffable", "unaffable", "big"}}
	y := [][]string{{"B-X", "O", "O"}, {"B-X", "I-X", "O"}}
	pre := preprocess.New()
	require.NoError(t, pre.Fit(x, y, nil))
	v := lookup(t, "BERT_CRF")
	gen, err := generator.New(v, generator.Dataset{Tokens: x, Labels: y}, pre,
		generator.WithShuffle(false),
		generator.WithMaxSequenceLength(6),
		generator.WithPieceTokenizer(wp))
	require.NoError(t, err)

	res, err := newScorer(t, pre).Evaluate(context.Background(), &oracleModel{variant: v, gen: gen}, gen)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.F1)
	// the second example lost its last word to the piece budget
	assert.Equal(t, []int{1}, res.Mismatched)
}

func TestScorerCountsTruncatedWords(t *testing.T) {
	pre, _, v := staticSetup(t)
	x := [][]string{
		{"John", "Smith", "lives", "in", "Paris"},
		{"Berlin", "is", "big"},
	}
	y := [][]string{
		{"B-PER", "I-PER", "O", "O", "B-LOC"},
		{"B-LOC", "O", "O"},
	}
	cases := []struct {
		policy generator.Truncation
		recall float64
	}{
		// Paris falls outside the kept window
		{generator.TruncateFront, 2.0 / 3.0},
		// John Smith falls outside the kept window
		{generator.TruncateBack, 2.0 / 3.0},
	}
	for _, tc := range cases {
		t.Run(tc.policy.String(), func(t *testing.T) {
			gen, err := generator.New(v, generator.Dataset{Tokens: x, Labels: y}, pre,
				generator.WithShuffle(false),
				generator.WithMaxSequenceLength(3),
				generator.WithTruncation(tc.policy),
				generator.WithEmbeddings(embedding.NewHashProvider(8)))
			require.NoError(t, err)

			res, err := newScorer(t, pre).Evaluate(context.Background(), &oracleModel{variant: v, gen: gen}, gen)
			require.NoError(t, err)
			assert.Equal(t, 1.0, res.Precision)
			assert.InDelta(t, tc.recall, res.Recall, 1e-9)
			assert.InDelta(t, 0.8, res.F1, 1e-9)
			assert.Equal(t, []int{0}, res.Mismatched)
			assert.Equal(t, 3, res.Report.Micro.Support)
		})
	}
}

func TestPlaceWords(t *testing.T) {
	assert.Equal(t, []string{"B-X", "I-X", "O", "O"}, PlaceWords([]string{"B-X", "I-X"}, 4, 0))
	assert.Equal(t, []string{"O", "O", "B-X", "I-X"}, PlaceWords([]string{"B-X", "I-X"}, 4, 2))
	assert.Equal(t, []string{"O", "B-X"}, PlaceWords([]string{"B-X", "I-X"}, 2, 1))
	assert.Equal(t, []string{"O"}, PlaceWords([]string{"B-X"}, 1, 3))
}

func TestScorerRejectsMismatchedVariant(t *testing.T) {
	pre, gen, _ := staticSetup(t)
	other := lookup(t, "BidGRU_CRF")
	_, err := newScorer(t, pre).Evaluate(context.Background(), &oracleModel{variant: other, gen: gen}, gen)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestScorerNeedsLabels(t *testing.T) {
	pre, _, v := staticSetup(t)
	gen, err := generator.New(v, generator.Dataset{Tokens: [][]string{{"a"}}}, pre,
		generator.WithEmbeddings(embedding.NewHashProvider(8)))
	require.NoError(t, err)
	_, err = newScorer(t, pre).Evaluate(context.Background(), &oracleModel{variant: v, gen: gen}, gen)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestScoreReconciles(t *testing.T) {
	pre, _, _ := staticSetup(t)
	res, err := newScorer(t, pre).Score(
		[][]string{{"B-PER", "I-PER", "O"}, {"O"}},
		[][]string{{"B-PER", "I-PER"}, {"O"}},
	)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.F1)
	assert.Equal(t, []int{0}, res.Mismatched)

	_, err = NewScorer(preprocess.New())
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
