package evaluation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/generator"
	"github.com/ZanzyTHEbar/seqtag/seqtag/model"
	"github.com/ZanzyTHEbar/seqtag/seqtag/pipeline"
	"github.com/ZanzyTHEbar/seqtag/seqtag/preprocess"
)

// Result is the outcome of one evaluation pass.
type Result struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
	Report    *Report
	// Text is Report formatted for humans.
	Text string
	// Sequences is the number of scored sequences.
	Sequences int
	// Mismatched lists the examples whose predictions did not cover every word, either
	// because of the max sequence length or the transformer piece budget.
	Mismatched []int
}

// Scorer runs a model over a generator and scores its predictions against the gold labels.
type Scorer struct {
	pre        *preprocess.Preprocessor
	prefetcher *pipeline.Prefetcher
	digits     int
	logger     zerolog.Logger
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithPrefetcher replaces the default batch prefetcher.
func WithPrefetcher(p *pipeline.Prefetcher) ScorerOption {
	return func(s *Scorer) { s.prefetcher = p }
}

// WithDigits sets the precision of the formatted report.
func WithDigits(n int) ScorerOption {
	return func(s *Scorer) { s.digits = n }
}

func WithLogger(logger zerolog.Logger) ScorerOption {
	return func(s *Scorer) { s.logger = logger }
}

// NewScorer returns a scorer that decodes label indices with pre.
func NewScorer(pre *preprocess.Preprocessor, opts ...ScorerOption) (*Scorer, error) {
	if pre == nil || pre.Tags() == nil {
		return nil, common.NewConfigurationError("preprocessor", "a fitted preprocessor is required")
	}
	s := &Scorer{pre: pre, digits: 4, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "scorer").Logger()
	if s.prefetcher == nil {
		p, err := pipeline.New(pipeline.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.prefetcher = p
	}
	return s, nil
}

// Evaluate predicts every batch of gen in index order and scores the word-level labels.
// Transformer predictions are mapped back to words through the batch piece kinds; static
// predictions are cut to the true sequence lengths.
func (s *Scorer) Evaluate(ctx context.Context, m model.Model, gen *generator.Generator) (*Result, error) {
	v := gen.Variant()
	if m.Variant().Name != v.Name {
		return nil, common.NewConfigurationError("architecture", "model is %s but generator builds %s batches", m.Variant().Name, v.Name)
	}
	report := common.NewAlignmentReport()
	var truth, pred [][]string
	var examples []int

	err := pipeline.Run(ctx, s.prefetcher, gen, func(ctx context.Context, i int, b *generator.Batch) error {
		if b.Labels == nil {
			return common.NewConfigurationError("labels", "evaluation needs gold labels")
		}
		if err := model.CheckInputs(v, b.Inputs); err != nil {
			return err
		}
		out, err := m.Predict(ctx, b.Inputs)
		if err != nil {
			return fmt.Errorf("predict batch %d: %w", i, err)
		}
		for r, e := range b.Examples {
			var row []int32
			if r < len(out) {
				row = out[r]
			}
			gold := b.Labels.Row(r)
			var p, t []int32
			if v.Transformer {
				p, t = RealignPieces(row, gold, b.Kinds[r])
			} else {
				p, t = RealignByLength(row, gold, int(b.Lengths[r]))
			}
			predTags, truthTags := s.decode(p), s.decode(t)
			// words cut by the length limit or the piece budget are scored as predicted outside
			if words := int(b.Original[r]); len(p) < words || len(t) < words {
				predTags = PlaceWords(predTags, words, int(b.Offsets[r]))
				truthTags = append([]string(nil), b.Gold[r]...)
				report.Add(e)
			}
			pred = append(pred, predTags)
			truth = append(truth, truthTags)
			examples = append(examples, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.score(truth, pred, examples, report)
}

// Score evaluates already decoded sequences, reconciling unequal pairs first.
func (s *Scorer) Score(truth, pred [][]string) (*Result, error) {
	examples := make([]int, max(len(truth), len(pred)))
	for i := range examples {
		examples[i] = i
	}
	return s.score(truth, pred, examples, common.NewAlignmentReport())
}

func (s *Scorer) score(truth, pred [][]string, examples []int, report *common.AlignmentReport) (*Result, error) {
	truth, pred, affected := ReconcileLengths(truth, pred)
	it := affected.Iterator()
	for it.HasNext() {
		report.Add(examples[it.Next()])
	}
	if n := report.Count(); n > 0 {
		s.logger.Warn().Int("examples", n).Msg("scored sequences with mismatched lengths")
	}

	rep, err := Compute(truth, pred)
	if err != nil {
		return nil, err
	}
	acc, err := Accuracy(truth, pred)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Precision:  rep.Micro.Precision,
		Recall:     rep.Micro.Recall,
		F1:         rep.Micro.F1,
		Accuracy:   acc,
		Report:     rep,
		Text:       rep.Format(s.digits),
		Sequences:  len(truth),
		Mismatched: report.Examples(),
	}
	s.logger.Info().
		Float64("f1", res.F1).
		Float64("precision", res.Precision).
		Float64("recall", res.Recall).
		Int("sequences", res.Sequences).
		Msg("evaluation finished")
	return res, nil
}

// decode maps label indices to tags; padding predictions read as outside.
func (s *Scorer) decode(indices []int32) []string {
	tags := s.pre.InverseTransform(indices)
	for i, t := range tags {
		if t == preprocess.PadToken {
			tags[i] = OutsideTag
		}
	}
	return tags
}
