package features

import "github.com/ZanzyTHEbar/seqtag/seqtag/common"

// Encoder maps categorical feature values to globally unique indices.
//
// Every selected column keeps its own value table with indices in [1, V]; the column at
// position p is shifted by p*V so values from different columns never collide. Index 0 is
// padding and also stands for missing values and values first seen after V were learned.
type Encoder struct {
	indices   []int
	vocabSize int
	width     int
	maps      []map[string]int32
	fitted    bool
}

// EncoderSnapshot is the persisted form of a fitted Encoder.
type EncoderSnapshot struct {
	Indices        []int              `json:"features_indices"`
	VocabularySize int                `json:"features_vocabulary_size"`
	Width          int                `json:"features_width"`
	Maps           []map[string]int32 `json:"features_map_to_index"`
}

// NewEncoder returns an encoder over the given raw columns. With no indices, Fit selects
// every column whose cardinality fits in vocabSize.
func NewEncoder(indices []int, vocabSize int) *Encoder {
	return &Encoder{indices: append([]int(nil), indices...), vocabSize: vocabSize}
}

// Indices returns the selected raw column indices.
func (e *Encoder) Indices() []int { return append([]int(nil), e.indices...) }

// VocabularySize is V, the per-column value budget.
func (e *Encoder) VocabularySize() int { return e.vocabSize }

// InputDim is the size an embedding layer over Transform's output needs.
func (e *Encoder) InputDim() int { return len(e.indices)*e.vocabSize + 1 }

// Fit learns the value tables from rows shaped [sequence][token][column].
func (e *Encoder) Fit(rows [][][]string) error {
	if e.vocabSize <= 0 {
		return common.NewConfigurationError("features_vocabulary_size", "must be positive, got %d", e.vocabSize)
	}
	width, err := consistentWidth(rows)
	if err != nil {
		return err
	}
	if width == 0 {
		return &common.EmptyVocabularyError{Vocabulary: "features"}
	}
	if len(e.indices) == 0 {
		e.indices = selectColumns(rows, width, e.vocabSize)
		if len(e.indices) == 0 {
			return common.NewConfigurationError("features_indices", "no column has at most %d distinct values", e.vocabSize)
		}
	}
	for _, idx := range e.indices {
		if idx < 0 || idx >= width {
			return common.NewConfigurationError("features_indices", "column %d outside feature width %d", idx, width)
		}
	}
	e.width = width
	e.maps = make([]map[string]int32, len(e.indices))
	for p := range e.maps {
		e.maps[p] = make(map[string]int32)
	}
	for _, seq := range rows {
		for _, tok := range seq {
			for p, idx := range e.indices {
				m := e.maps[p]
				v := tok[idx]
				if _, ok := m[v]; ok || len(m) >= e.vocabSize {
					continue
				}
				m[v] = int32(len(m) + 1)
			}
		}
	}
	e.fitted = true
	return nil
}

// Transform encodes sequences into rows of maxLength tokens by len(Indices()) columns.
// Tokens past maxLength are dropped; extend only documents that the batch was padded
// by the degenerate-length fix, padding rows are zero either way.
func (e *Encoder) Transform(rows [][][]string, maxLength int, extend bool) ([][][]int32, error) {
	if !e.fitted {
		return nil, common.NewConfigurationError("features", "encoder used before fit")
	}
	if extend && maxLength < 2 {
		maxLength = 2
	}
	out := make([][][]int32, len(rows))
	for s, seq := range rows {
		enc := make([][]int32, maxLength)
		for t := range enc {
			if t >= len(seq) {
				enc[t] = e.EmptyVector()
				continue
			}
			tok := seq[t]
			if len(tok) != e.width {
				return nil, common.NewConfigurationError("features", "sequence %d token %d has %d columns, expected %d", s, t, len(tok), e.width)
			}
			enc[t] = e.encodeToken(tok)
		}
		out[s] = enc
	}
	return out, nil
}

func (e *Encoder) encodeToken(tok []string) []int32 {
	vec := make([]int32, len(e.indices))
	for p, idx := range e.indices {
		if v, ok := e.maps[p][tok[idx]]; ok {
			vec[p] = v + int32(p*e.vocabSize)
		}
	}
	return vec
}

// EmptyVector is the feature row for padding and continuation pieces.
func (e *Encoder) EmptyVector() []int32 { return make([]int32, len(e.indices)) }

// Snapshot exports the fitted tables.
func (e *Encoder) Snapshot() EncoderSnapshot {
	maps := make([]map[string]int32, len(e.maps))
	for i, m := range e.maps {
		maps[i] = make(map[string]int32, len(m))
		for k, v := range m {
			maps[i][k] = v
		}
	}
	return EncoderSnapshot{Indices: e.Indices(), VocabularySize: e.vocabSize, Width: e.width, Maps: maps}
}

// EncoderFromSnapshot restores a fitted encoder.
func EncoderFromSnapshot(s EncoderSnapshot) (*Encoder, error) {
	if len(s.Maps) != len(s.Indices) {
		return nil, common.NewConfigurationError("features", "snapshot has %d tables for %d columns", len(s.Maps), len(s.Indices))
	}
	e := NewEncoder(s.Indices, s.VocabularySize)
	e.width = s.Width
	e.maps = s.Maps
	e.fitted = true
	return e, nil
}

func consistentWidth(rows [][][]string) (int, error) {
	width := -1
	for s, seq := range rows {
		for t, tok := range seq {
			if width < 0 {
				width = len(tok)
				continue
			}
			if len(tok) != width {
				return 0, common.NewConfigurationError("features", "sequence %d token %d has %d columns, expected %d", s, t, len(tok), width)
			}
		}
	}
	if width < 0 {
		return 0, nil
	}
	return width, nil
}

// selectColumns keeps the columns whose distinct value count is within budget.
func selectColumns(rows [][][]string, width, budget int) []int {
	distinct := make([]map[string]struct{}, width)
	for i := range distinct {
		distinct[i] = make(map[string]struct{})
	}
	for _, seq := range rows {
		for _, tok := range seq {
			for c, v := range tok {
				if len(distinct[c]) <= budget {
					distinct[c][v] = struct{}{}
				}
			}
		}
	}
	var out []int
	for c, d := range distinct {
		if len(d) <= budget {
			out = append(out, c)
		}
	}
	return out
}
