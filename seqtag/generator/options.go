package generator

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/embedding"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tokenizer"
)

// Truncation selects which tokens survive when a sequence exceeds the max length.
type Truncation int

const (
	// TruncateFront keeps the first tokens.
	TruncateFront Truncation = iota
	// TruncateBack keeps the last tokens.
	TruncateBack
)

func (t Truncation) String() string {
	if t == TruncateBack {
		return "back"
	}
	return "front"
}

// ParseTruncation accepts "front" (keep leading tokens, the default) or "back".
func ParseTruncation(s string) (Truncation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "front", "head":
		return TruncateFront, nil
	case "back", "tail":
		return TruncateBack, nil
	}
	return TruncateFront, common.NewConfigurationError("truncation", "unknown policy %q", s)
}

// cut shortens s to n elements according to the policy.
func cut[T any](s []T, n int, policy Truncation) []T {
	if n < 0 || len(s) <= n {
		return s
	}
	if policy == TruncateBack {
		return s[len(s)-n:]
	}
	return s[:n]
}

type options struct {
	batchSize    int
	maxLength    int
	shuffle      bool
	seed         int64
	tokenize     bool
	truncation   Truncation
	embeddings   embedding.Provider
	pieces       tokenizer.PieceTokenizer
	outputTokens bool
	report       *common.AlignmentReport
	logger       zerolog.Logger
}

// Option configures a generator.
type Option func(*options)

func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithMaxSequenceLength caps the time axis; 0 means uncapped on the static path. On the
// transformer path it is the piece budget including the two markers.
func WithMaxSequenceLength(n int) Option {
	return func(o *options) { o.maxLength = n }
}

// WithShuffle reshuffles labelled data at construction and at every epoch end.
func WithShuffle(on bool) Option {
	return func(o *options) { o.shuffle = on }
}

// WithSeed fixes the shuffle RNG.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithTokenize makes the generator split raw texts into words lazily per batch.
func WithTokenize(on bool) Option {
	return func(o *options) { o.tokenize = on }
}

func WithTruncation(t Truncation) Option {
	return func(o *options) { o.truncation = t }
}

// WithEmbeddings sets the static word vector provider.
func WithEmbeddings(p embedding.Provider) Option {
	return func(o *options) { o.embeddings = p }
}

// WithPieceTokenizer sets the sub-word tokenizer of the transformer path.
func WithPieceTokenizer(t tokenizer.PieceTokenizer) Option {
	return func(o *options) { o.pieces = t }
}

// WithOutputInputTokens keeps the piece tokens of every batch for later reconstruction.
func WithOutputInputTokens(on bool) Option {
	return func(o *options) { o.outputTokens = on }
}

// WithAlignmentReport collects the examples whose alignment was truncated.
func WithAlignmentReport(r *common.AlignmentReport) Option {
	return func(o *options) { o.report = r }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(defaults options, opts []Option) (options, error) {
	o := defaults
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize <= 0 {
		return o, common.NewConfigurationError("batch_size", "must be positive, got %d", o.batchSize)
	}
	if o.maxLength < 0 {
		return o, common.NewConfigurationError("max_sequence_length", "must not be negative, got %d", o.maxLength)
	}
	if o.report == nil {
		o.report = common.NewAlignmentReport()
	}
	return o, nil
}

func rangeError(index, n int) error {
	return fmt.Errorf("batch index %d out of range [0, %d)", index, n)
}
