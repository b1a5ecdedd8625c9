// Package model declares the architecture variants, their positional input contracts and
// the Model interface the pipeline drives.
package model

import (
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
)

// InputKind names one positional model input.
type InputKind int

const (
	InputWordEmbeddings InputKind = iota // [batch, time, embed_dim] float32
	InputChars                           // [batch, time, max_char] int32
	InputCasing                          // [batch, time] int32
	InputFeatures                        // [batch, time, feature_columns] int32
	InputLength                          // [batch] int32 true lengths
	InputPieceIDs                        // [batch, time] int32
	InputPieceMask                       // [batch, time] int32 attention mask
)

var inputNames = map[InputKind]string{
	InputWordEmbeddings: "word_input",
	InputChars:          "char_input",
	InputCasing:         "casing_input",
	InputFeatures:       "features_input",
	InputLength:         "length_input",
	InputPieceIDs:       "input_token",
	InputPieceMask:      "input_mask",
}

func (k InputKind) String() string {
	if n, ok := inputNames[k]; ok {
		return n
	}
	return "unknown_input"
}

// Variant describes one architecture and the exact order of its inputs. The order is a
// contract with the trained network and must never be rearranged.
type Variant struct {
	Name        string
	Transformer bool
	UseCRF      bool
	Inputs      []InputKind
}

// Has reports whether the variant consumes input kind k.
func (v Variant) Has(k InputKind) bool {
	for _, in := range v.Inputs {
		if in == k {
			return true
		}
	}
	return false
}

func (v Variant) ReturnCasing() bool   { return v.Has(InputCasing) }
func (v Variant) ReturnFeatures() bool { return v.Has(InputFeatures) }

// ReturnChars reports whether a transformer variant feeds char indices. Static variants
// always consume them.
func (v Variant) ReturnChars() bool { return v.Has(InputChars) }

// InputNames lists the input names in contract order.
func (v Variant) InputNames() []string {
	out := make([]string, len(v.Inputs))
	for i, k := range v.Inputs {
		out[i] = k.String()
	}
	return out
}

var (
	staticBase   = []InputKind{InputWordEmbeddings, InputChars, InputLength}
	staticCasing = []InputKind{InputWordEmbeddings, InputChars, InputCasing, InputLength}
	staticFeats  = []InputKind{InputWordEmbeddings, InputChars, InputFeatures, InputLength}
)

var registryMu sync.RWMutex

var registry = map[string]Variant{}

func init() {
	for _, v := range []Variant{
		{Name: "BidLSTM_CRF", UseCRF: true, Inputs: staticBase},
		{Name: "BidGRU_CRF", UseCRF: true, Inputs: staticBase},
		{Name: "BidLSTM_CNN", Inputs: staticCasing},
		{Name: "BidLSTM_CNN_CRF", UseCRF: true, Inputs: staticCasing},
		{Name: "BidLSTM_CRF_CASING", UseCRF: true, Inputs: staticCasing},
		{Name: "BidLSTM_CRF_FEATURES", UseCRF: true, Inputs: staticFeats},
		{Name: "BERT", Transformer: true, Inputs: []InputKind{InputPieceIDs, InputPieceMask}},
		{Name: "BERT_CRF", Transformer: true, UseCRF: true, Inputs: []InputKind{InputPieceIDs, InputPieceMask}},
		{Name: "BERT_CRF_FEATURES", Transformer: true, UseCRF: true, Inputs: []InputKind{InputPieceIDs, InputFeatures, InputPieceMask}},
		{Name: "BERT_CRF_CHAR", Transformer: true, UseCRF: true, Inputs: []InputKind{InputPieceIDs, InputChars, InputPieceMask}},
		{Name: "BERT_CRF_CHAR_FEATURES", Transformer: true, UseCRF: true, Inputs: []InputKind{InputPieceIDs, InputChars, InputFeatures, InputPieceMask}},
	} {
		if err := Register(v); err != nil {
			panic(err)
		}
	}
}

// Register adds a variant. Tags are case-sensitive and unique.
func Register(v Variant) error {
	if strings.TrimSpace(v.Name) == "" {
		return common.NewConfigurationError("architecture", "variant without a name")
	}
	if len(v.Inputs) == 0 {
		return common.NewConfigurationError("architecture", "variant %s declares no inputs", v.Name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[v.Name]; ok {
		return common.NewConfigurationError("architecture", "variant %s already registered", v.Name)
	}
	v.Inputs = append([]InputKind(nil), v.Inputs...)
	registry[v.Name] = v
	return nil
}

// Lookup resolves an architecture tag. Unknown tags fail with a ConfigurationError.
func Lookup(tag string) (Variant, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	v, ok := registry[tag]
	if !ok {
		return Variant{}, common.NewConfigurationError("architecture", "unknown architecture %q", tag)
	}
	v.Inputs = append([]InputKind(nil), v.Inputs...)
	return v, nil
}

// Names lists the registered tags in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
