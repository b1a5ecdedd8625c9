// Package evaluation scores predicted tag sequences against gold ones with chunk-based
// precision, recall and F1, and drives evaluation of a model over a batch generator.
package evaluation

import "strings"

// Chunk is a labelled span [Start, End] over token positions, both inclusive.
type Chunk struct {
	Type  string
	Start int
	End   int
}

// splitTag returns the prefix (B, I, E, S, O) and entity type of tag. Tags without a
// prefix separator are treated as a type with an I prefix; the type of O is "_".
func splitTag(tag string) (prefix byte, typ string) {
	if tag == "" || tag == "O" {
		return 'O', "_"
	}
	if i := strings.IndexByte(tag, '-'); i == 1 {
		typ = tag[2:]
		if typ == "" {
			typ = "_"
		}
		return tag[0], typ
	}
	return 'I', tag
}

func endOfChunk(prevTag, tag byte, prevType, typ string) bool {
	switch {
	case prevTag == 'E', prevTag == 'S':
		return true
	case prevTag == 'B' && (tag == 'B' || tag == 'S' || tag == 'O'):
		return true
	case prevTag == 'I' && (tag == 'B' || tag == 'S' || tag == 'O'):
		return true
	case prevTag != 'O' && prevType != typ:
		return true
	}
	return false
}

func startOfChunk(prevTag, tag byte, prevType, typ string) bool {
	switch {
	case tag == 'B', tag == 'S':
		return true
	case (prevTag == 'E' || prevTag == 'S' || prevTag == 'O') && (tag == 'E' || tag == 'I'):
		return true
	case tag != 'O' && prevType != typ:
		return true
	}
	return false
}

// Chunks extracts the labelled spans of one tag sequence. IOB1, IOB2 and IOBES inputs
// are all accepted: a run of same-type tags is one chunk unless a B or S prefix starts
// a new one.
func Chunks(tags []string) []Chunk {
	var out []Chunk
	prevTag, prevType := byte('O'), "_"
	begin := 0
	for i := 0; i <= len(tags); i++ {
		tag, typ := byte('O'), "_"
		if i < len(tags) {
			tag, typ = splitTag(tags[i])
		}
		if endOfChunk(prevTag, tag, prevType, typ) {
			out = append(out, Chunk{Type: prevType, Start: begin, End: i - 1})
		}
		if startOfChunk(prevTag, tag, prevType, typ) {
			begin = i
		}
		prevTag, prevType = tag, typ
	}
	return out
}
