// Package tagger binds a model variant to its preprocessor, input providers and scorer,
// exposing the handful of operations a labelling run needs.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/config"
	"github.com/ZanzyTHEbar/seqtag/seqtag/embedding"
	"github.com/ZanzyTHEbar/seqtag/seqtag/evaluation"
	"github.com/ZanzyTHEbar/seqtag/seqtag/generator"
	"github.com/ZanzyTHEbar/seqtag/seqtag/model"
	"github.com/ZanzyTHEbar/seqtag/seqtag/pipeline"
	"github.com/ZanzyTHEbar/seqtag/seqtag/preprocess"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tokenizer"
)

// PreprocessorFileName is the vocabulary snapshot written next to the model.
const PreprocessorFileName = "preprocessor.json"

// Tagger owns its model, embedding provider and tokenizer until Close.
type Tagger struct {
	cfg        *config.Config
	variant    model.Variant
	model      model.Model
	pre        *preprocess.Preprocessor
	embeddings embedding.Provider
	pieces     tokenizer.PieceTokenizer
	prefetcher *pipeline.Prefetcher
	logger     zerolog.Logger
}

// Option configures a Tagger.
type Option func(*Tagger)

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Tagger) { t.logger = logger }
}

// WithEmbeddings replaces the provider that New would build from the configuration.
func WithEmbeddings(p embedding.Provider) Option {
	return func(t *Tagger) { t.embeddings = p }
}

// WithPieceTokenizer replaces the tokenizer that New would load from the configuration.
func WithPieceTokenizer(p tokenizer.PieceTokenizer) Option {
	return func(t *Tagger) { t.pieces = p }
}

// WithPreprocessor installs an already fitted preprocessor.
func WithPreprocessor(p *preprocess.Preprocessor) Option {
	return func(t *Tagger) { t.pre = p }
}

// New binds m to cfg. Static architectures get the configured embedding provider and
// transformer architectures the configured piece tokenizer, unless given as options.
func New(ctx context.Context, cfg *config.Config, m model.Model, opts ...Option) (*Tagger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v, err := cfg.Variant()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, common.NewConfigurationError("model", "a model is required")
	}
	if m.Variant().Name != v.Name {
		return nil, common.NewConfigurationError("architecture", "model is %s but the configuration names %s", m.Variant().Name, v.Name)
	}
	t := &Tagger{cfg: cfg, variant: v, model: m, logger: cfg.Logger()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With().Str("component", "tagger").Str("architecture", v.Name).Logger()

	if v.Transformer && t.pieces == nil {
		path := cfg.Tokenizer.VocabPath
		if cfg.Tokenizer.Kind == "sentencepiece" {
			path = cfg.Tokenizer.ModelPath
		}
		if t.pieces, err = tokenizer.NewPieceTokenizer(cfg.Tokenizer.Kind, path, cfg.Tokenizer.Lowercase); err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
	}
	if !v.Transformer && t.embeddings == nil {
		source := cfg.Embeddings.Path
		if cfg.Embeddings.Provider == "libsql" {
			source = cfg.Embeddings.DSN
		}
		if t.embeddings, err = embedding.NewProvider(ctx, cfg.Embeddings.Provider, cfg.Embeddings.Dims, source); err != nil {
			return nil, fmt.Errorf("open embeddings %s: %w", cfg.Model.EmbeddingsName, err)
		}
	}
	if t.prefetcher, err = pipeline.New(
		pipeline.WithWorkers(cfg.Training.Workers),
		pipeline.WithPrefetch(cfg.Training.Prefetch),
		pipeline.WithLogger(t.logger),
	); err != nil {
		return nil, err
	}
	return t, nil
}

// Open loads a saved tagger from dir: the ONNX network and the preprocessor snapshot.
func Open(ctx context.Context, cfg *config.Config, dir string, opts ...Option) (*Tagger, error) {
	v, err := cfg.Variant()
	if err != nil {
		return nil, err
	}
	m, err := model.NewONNXModel(v, filepath.Join(dir, model.ONNXFileName), cfg.ONNXOptions())
	if err != nil {
		return nil, err
	}
	t, err := New(ctx, cfg, m, opts...)
	if err != nil {
		m.Close()
		return nil, err
	}
	if err := t.loadPreprocessor(dir); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tagger) Variant() model.Variant { return t.variant }

func (t *Tagger) Preprocessor() *preprocess.Preprocessor { return t.pre }

// Fit builds the preprocessor vocabularies with the input flags of the variant.
func (t *Tagger) Fit(data generator.Dataset) error {
	tokens := data.Tokens
	if tokens == nil {
		tokens = tokenizer.WordsBatch(data.Texts)
	}
	opts := []preprocess.Option{
		preprocess.WithMaxCharLength(t.cfg.Model.MaxCharLength),
		preprocess.WithCasing(t.variant.ReturnCasing()),
		preprocess.WithChars(t.variant.ReturnChars()),
	}
	if t.variant.ReturnFeatures() {
		opts = append(opts, preprocess.WithFeatures(t.cfg.Model.FeaturesIndices, t.cfg.Model.FeaturesVocabularySize))
	}
	pre := preprocess.New(opts...)
	if err := pre.Fit(tokens, data.Labels, data.Features); err != nil {
		return err
	}
	t.pre = pre
	t.logger.Info().
		Int("sequences", len(tokens)).
		Int("chars", pre.Chars().Len()).
		Int("tags", pre.Tags().Len()).
		Msg("fitted preprocessor")
	return nil
}

// Generator returns a batch generator over data configured for this tagger. Training
// generators shuffle labelled data; evaluation and prediction keep the input order.
func (t *Tagger) Generator(data generator.Dataset, training bool, opts ...generator.Option) (*generator.Generator, error) {
	if t.pre == nil {
		return nil, common.NewConfigurationError("preprocessor", "fit or load the tagger first")
	}
	base := []generator.Option{
		generator.WithBatchSize(t.cfg.Training.BatchSize),
		generator.WithMaxSequenceLength(t.cfg.Model.MaxSequenceLength),
		generator.WithShuffle(training && t.cfg.Training.Shuffle),
		generator.WithSeed(t.cfg.Training.Seed),
		generator.WithTruncation(t.cfg.Truncation()),
		generator.WithTokenize(data.Tokens == nil && data.Texts != nil),
		generator.WithLogger(t.logger),
	}
	if t.variant.Transformer {
		base = append(base, generator.WithPieceTokenizer(t.pieces))
	} else {
		base = append(base, generator.WithEmbeddings(t.embeddings))
	}
	return generator.New(t.variant, data, t.pre, append(base, opts...)...)
}

// Predict labels every word of data, one tag per input word. Words dropped by the max
// sequence length or the transformer piece budget are labelled outside.
func (t *Tagger) Predict(ctx context.Context, data generator.Dataset) ([][]string, error) {
	data.Labels = nil
	gen, err := t.Generator(data, false)
	if err != nil {
		return nil, err
	}
	out := make([][]string, data.Len())
	err = pipeline.Run(ctx, t.prefetcher, gen, func(ctx context.Context, i int, b *generator.Batch) error {
		preds, err := t.model.Predict(ctx, b.Inputs)
		if err != nil {
			return fmt.Errorf("predict batch %d: %w", i, err)
		}
		for r, e := range b.Examples {
			var row []int32
			if r < len(preds) {
				row = preds[r]
			}
			if t.variant.Transformer {
				row, _ = evaluation.RealignPieces(row, nil, b.Kinds[r])
			} else {
				row, _ = evaluation.RealignByLength(row, nil, int(b.Lengths[r]))
			}
			tags := t.pre.InverseTransform(row[:min(len(row), int(b.Lengths[r]))])
			for j, tag := range tags {
				if tag == preprocess.PadToken {
					tags[j] = evaluation.OutsideTag
				}
			}
			out[e] = evaluation.PlaceWords(tags, int(b.Original[r]), int(b.Offsets[r]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Evaluate scores the model on labelled data.
func (t *Tagger) Evaluate(ctx context.Context, data generator.Dataset) (*evaluation.Result, error) {
	if data.Labels == nil {
		return nil, common.NewConfigurationError("labels", "evaluation needs gold labels")
	}
	gen, err := t.Generator(data, false)
	if err != nil {
		return nil, err
	}
	scorer, err := evaluation.NewScorer(t.pre,
		evaluation.WithPrefetcher(t.prefetcher),
		evaluation.WithLogger(t.logger))
	if err != nil {
		return nil, err
	}
	return scorer.Evaluate(ctx, t.model, gen)
}

// Save writes the model and the preprocessor snapshot into dir.
func (t *Tagger) Save(dir string) error {
	if t.pre == nil {
		return common.NewConfigurationError("preprocessor", "nothing fitted to save")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := t.pre.Save(filepath.Join(dir, PreprocessorFileName)); err != nil {
		return err
	}
	if err := t.model.Save(dir); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	t.logger.Info().Str("dir", dir).Msg("saved tagger")
	return nil
}

// Load restores the preprocessor snapshot and the model weights from dir.
func (t *Tagger) Load(dir string) error {
	if err := t.loadPreprocessor(dir); err != nil {
		return err
	}
	if err := t.model.Load(dir); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	t.logger.Info().Str("dir", dir).Msg("loaded tagger")
	return nil
}

func (t *Tagger) loadPreprocessor(dir string) error {
	pre, err := preprocess.Load(filepath.Join(dir, PreprocessorFileName))
	if err != nil {
		return err
	}
	if t.variant.ReturnFeatures() && !pre.ReturnFeatures() {
		return common.NewConfigurationError("features", "%s snapshot has no feature dimensions", t.variant.Name)
	}
	t.pre = pre
	return nil
}

// Close releases the model and any closable provider.
func (t *Tagger) Close() error {
	var errs []error
	if err := t.model.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := t.embeddings.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
