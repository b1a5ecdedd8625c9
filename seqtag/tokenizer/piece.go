package tokenizer

// Specials names the marker pieces of a sub-word vocabulary and their ids.
type Specials struct {
	CLS, SEP, PAD, UNK         string
	CLSID, SEPID, PADID, UNKID int32
}

// BertSpecials are the markers of BERT-style WordPiece vocabularies.
// Ids are the bert-base defaults and are overridden from the vocab when present.
func BertSpecials() Specials {
	return Specials{
		CLS: "[CLS]", SEP: "[SEP]", PAD: "[PAD]", UNK: "[UNK]",
		CLSID: 101, SEPID: 102, PADID: 0, UNKID: 100,
	}
}

// PieceTokenizer splits word tokens into sub-word pieces for transformer inputs.
// Implementations must be safe for concurrent use once constructed.
type PieceTokenizer interface {
	// Tokenize returns the pieces of a single word. It never returns an empty
	// slice for a non-empty word; uncoverable words map to the unknown piece.
	Tokenize(word string) []string
	ConvertTokensToIDs(pieces []string) []int32
	// IsContinuation reports whether piece continues the previous piece's word.
	IsContinuation(piece string) bool
	Special() Specials
}

// Encoding is the fixed-length transformer input for one sequence.
type Encoding struct {
	Tokens        []string
	IDs           []int32
	AttentionMask []int32
	TypeIDs       []int32
}

// Encode frames pieces with the classification and separator markers, truncates from the
// right so the markers always fit, and pads to maxLength. The pieces themselves are not
// altered; callers that already framed their input must not call Encode again.
func Encode(tok PieceTokenizer, pieces []string, maxLength int) Encoding {
	sp := tok.Special()
	if maxLength < 2 {
		maxLength = 2
	}
	if len(pieces) > maxLength-2 {
		pieces = pieces[:maxLength-2]
	}
	framed := make([]string, 0, maxLength)
	framed = append(framed, sp.CLS)
	framed = append(framed, pieces...)
	framed = append(framed, sp.SEP)

	enc := Encoding{
		Tokens:        make([]string, maxLength),
		IDs:           make([]int32, maxLength),
		AttentionMask: make([]int32, maxLength),
		TypeIDs:       make([]int32, maxLength),
	}
	ids := tok.ConvertTokensToIDs(framed)
	for i := 0; i < maxLength; i++ {
		if i < len(framed) {
			enc.Tokens[i] = framed[i]
			enc.IDs[i] = ids[i]
			enc.AttentionMask[i] = 1
			continue
		}
		enc.Tokens[i] = sp.PAD
		enc.IDs[i] = sp.PADID
	}
	return enc
}

// EncodeBatch runs Encode over every piece sequence.
func EncodeBatch(tok PieceTokenizer, batch [][]string, maxLength int) []Encoding {
	out := make([]Encoding, len(batch))
	for i, pieces := range batch {
		out[i] = Encode(tok, pieces, maxLength)
	}
	return out
}

// TokenizeText splits text into words and every word into pieces.
func TokenizeText(tok PieceTokenizer, text string) []string {
	var pieces []string
	for _, w := range Words(text) {
		pieces = append(pieces, tok.Tokenize(w)...)
	}
	return pieces
}
