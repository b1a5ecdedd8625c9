// Package preprocess turns word-token sequences into index tensors: it owns the char and
// tag vocabularies, the optional feature encoder and the label transforms.
package preprocess

import (
	"github.com/ZanzyTHEbar/seqtag/seqtag"
	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/features"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tensor"
)

// Preprocessor holds the fitted vocabularies of a model. After Fit it is read-only and may
// be shared by concurrent batch workers.
type Preprocessor struct {
	chars *Vocabulary
	tags  *Vocabulary

	features       *features.Encoder
	featureIndices []int
	featureVocab   int
	maxCharLength  int
	returnCasing   bool
	returnFeatures bool
	returnChars    bool
	fitted         bool
}

type Option func(*Preprocessor)

// WithMaxCharLength sets the per-token char budget. Longer tokens are cut, shorter are zero padded.
func WithMaxCharLength(n int) Option {
	return func(p *Preprocessor) {
		if n > 0 {
			p.maxCharLength = n
		}
	}
}

// WithCasing activates the casing channel.
func WithCasing(on bool) Option {
	return func(p *Preprocessor) { p.returnCasing = on }
}

// WithChars activates the char channel on the transformer path.
func WithChars(on bool) Option {
	return func(p *Preprocessor) { p.returnChars = on }
}

// WithFeatures activates the feature channel over the given raw columns (nil selects by
// cardinality) with vocabSize values per column.
func WithFeatures(indices []int, vocabSize int) Option {
	return func(p *Preprocessor) {
		p.returnFeatures = true
		p.featureIndices = append([]int(nil), indices...)
		if vocabSize > 0 {
			p.featureVocab = vocabSize
		}
	}
}

func New(opts ...Option) *Preprocessor {
	p := &Preprocessor{
		maxCharLength: seqtag.DefaultMaxCharLength,
		featureVocab:  seqtag.DefaultFeaturesVocabSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fit builds the vocabularies in first-seen order over the whole corpus. labels and rows
// may be nil for prediction-only preprocessors; rows are required when features are active.
func (p *Preprocessor) Fit(sequences [][]string, labels [][]string, rows [][][]string) error {
	if len(sequences) == 0 {
		return &common.EmptyVocabularyError{Vocabulary: "chars"}
	}
	if labels != nil && len(labels) != len(sequences) {
		return common.NewConfigurationError("labels", "%d label sequences for %d sequences", len(labels), len(sequences))
	}

	chars := NewVocabulary(true)
	tags := NewVocabulary(false)
	for _, seq := range sequences {
		for _, tok := range seq {
			for _, r := range tok {
				chars.Add(string(r))
			}
		}
	}
	for _, seq := range labels {
		for _, label := range seq {
			tags.Add(label)
		}
	}
	chars.Freeze()
	tags.Freeze()

	if p.returnFeatures {
		if len(rows) != len(sequences) {
			return common.NewConfigurationError("features", "%d feature sequences for %d sequences", len(rows), len(sequences))
		}
		enc := features.NewEncoder(p.featureIndices, p.featureVocab)
		if err := enc.Fit(rows); err != nil {
			return err
		}
		p.features = enc
		p.featureIndices = enc.Indices()
	}

	p.chars, p.tags = chars, tags
	p.fitted = true
	return nil
}

func (p *Preprocessor) ReturnCasing() bool   { return p.returnCasing }
func (p *Preprocessor) ReturnFeatures() bool { return p.returnFeatures }
func (p *Preprocessor) ReturnChars() bool    { return p.returnChars }
func (p *Preprocessor) MaxCharLength() int   { return p.maxCharLength }

// Chars returns the char vocabulary.
func (p *Preprocessor) Chars() *Vocabulary { return p.chars }

// Tags returns the tag vocabulary. Index 0 is the padding tag used for masked positions.
func (p *Preprocessor) Tags() *Vocabulary { return p.tags }

// Features returns the fitted feature encoder, nil when the feature channel is off.
func (p *Preprocessor) Features() *features.Encoder { return p.features }

func (p *Preprocessor) checkFitted() error {
	if !p.fitted {
		return common.NewConfigurationError("preprocessor", "used before fit")
	}
	return nil
}

// MaxLength is the padded length of a batch: its longest sequence, plus one when extend is set.
func MaxLength(sequences [][]string, extend bool) int {
	n := 0
	for _, seq := range sequences {
		n = max(n, len(seq))
	}
	if extend {
		n++
	}
	return n
}

// Transform converts each token into its char index row and reports the true lengths.
// The char tensor is [batch, maxLength, maxCharLength]; extend pads every sequence with one
// more empty token for batches whose longest sequence has a single token.
func (p *Preprocessor) Transform(sequences [][]string, extend bool) (*tensor.Dense[int32], []int32, error) {
	if err := p.checkFitted(); err != nil {
		return nil, nil, err
	}
	maxLength := MaxLength(sequences, extend)
	out := tensor.New[int32](len(sequences), maxLength, p.maxCharLength)
	lengths := make([]int32, len(sequences))
	for i, seq := range sequences {
		lengths[i] = int32(len(seq))
		for j, tok := range seq {
			copy(out.Slice(i, j), p.CharIndices(tok))
		}
	}
	return out, lengths, nil
}

// CharIndices returns the char index row of token, cut or zero padded to the char budget.
func (p *Preprocessor) CharIndices(token string) []int32 {
	row := make([]int32, p.maxCharLength)
	k := 0
	for _, r := range token {
		if k >= p.maxCharLength {
			break
		}
		row[k] = p.chars.Lookup(string(r))
		k++
	}
	return row
}

// TransformLabels maps label strings to tag indices in a [batch, maxLength] tensor. A label
// missing from the fitted vocabulary is an UnknownLabelError; it is never mapped to a default.
func (p *Preprocessor) TransformLabels(labels [][]string, maxLength int) (*tensor.Dense[int32], error) {
	if err := p.checkFitted(); err != nil {
		return nil, err
	}
	out := tensor.New[int32](len(labels), maxLength)
	for i, seq := range labels {
		for j, label := range seq {
			if j >= maxLength {
				break
			}
			idx, ok := p.tags.Index(label)
			if !ok {
				return nil, &common.UnknownLabelError{Label: label, Sequence: i, Position: j}
			}
			out.Set(idx, i, j)
		}
	}
	return out, nil
}

// TransformFeatures encodes raw feature rows into a [batch, maxLength, columns] tensor.
func (p *Preprocessor) TransformFeatures(rows [][][]string, maxLength int, extend bool) (*tensor.Dense[int32], error) {
	if err := p.checkFitted(); err != nil {
		return nil, err
	}
	if p.features == nil {
		return nil, common.NewConfigurationError("features", "feature channel is not active")
	}
	enc, err := p.features.Transform(rows, maxLength, extend)
	if err != nil {
		return nil, err
	}
	if extend && maxLength < 2 {
		maxLength = 2
	}
	width := len(p.featureIndices)
	out := tensor.New[int32](len(rows), maxLength, width)
	for i, seq := range enc {
		for j, vec := range seq {
			copy(out.Slice(i, j), vec)
		}
	}
	return out, nil
}

// EmptyFeaturesVector is the feature row used for padding and continuation pieces.
func (p *Preprocessor) EmptyFeaturesVector() []int32 {
	if p.features == nil {
		return nil
	}
	return p.features.EmptyVector()
}

// InverseTransform maps tag indices back to labels. Unknown indices map to the padding tag.
func (p *Preprocessor) InverseTransform(indices []int32) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		label, ok := p.tags.Token(idx)
		if !ok {
			label = PadToken
		}
		out[i] = label
	}
	return out
}
