package preprocess

const (
	PadToken     = "<PAD>"
	UnknownToken = "<UNK>"

	PadIndex     int32 = 0
	UnknownIndex int32 = 1
)

// Vocabulary is a bidirectional token<->index map in first-seen order. Index 0 is always
// padding; vocabularies built with an unknown entry reserve index 1 for unseen tokens.
// A frozen vocabulary never grows, so indices stay stable for a model's lifetime.
type Vocabulary struct {
	tokens  []string
	index   map[string]int32
	unknown bool
	frozen  bool
}

func NewVocabulary(withUnknown bool) *Vocabulary {
	v := &Vocabulary{index: make(map[string]int32), unknown: withUnknown}
	v.add(PadToken)
	if withUnknown {
		v.add(UnknownToken)
	}
	return v
}

func vocabularyFromTokens(tokens []string, withUnknown bool) *Vocabulary {
	v := &Vocabulary{index: make(map[string]int32, len(tokens)), unknown: withUnknown}
	for _, tok := range tokens {
		v.add(tok)
	}
	v.frozen = true
	return v
}

func (v *Vocabulary) add(token string) int32 {
	if i, ok := v.index[token]; ok {
		return i
	}
	i := int32(len(v.tokens))
	v.tokens = append(v.tokens, token)
	v.index[token] = i
	return i
}

// Add inserts token if absent and returns its index. Once frozen, Add behaves like Lookup.
func (v *Vocabulary) Add(token string) int32 {
	if v.frozen {
		return v.Lookup(token)
	}
	return v.add(token)
}

// Freeze stops the vocabulary from growing.
func (v *Vocabulary) Freeze() { v.frozen = true }

func (v *Vocabulary) Frozen() bool { return v.frozen }

// Index returns the exact index of token.
func (v *Vocabulary) Index(token string) (int32, bool) {
	i, ok := v.index[token]
	return i, ok
}

// Lookup returns the index of token, falling back to the unknown index (or padding when the
// vocabulary has no unknown entry).
func (v *Vocabulary) Lookup(token string) int32 {
	if i, ok := v.index[token]; ok {
		return i
	}
	if v.unknown {
		return UnknownIndex
	}
	return PadIndex
}

// Token returns the token stored at index i.
func (v *Vocabulary) Token(i int32) (string, bool) {
	if i < 0 || int(i) >= len(v.tokens) {
		return "", false
	}
	return v.tokens[i], true
}

func (v *Vocabulary) Len() int { return len(v.tokens) }

// Tokens returns the tokens in index order, reserved entries included.
func (v *Vocabulary) Tokens() []string { return append([]string(nil), v.tokens...) }
