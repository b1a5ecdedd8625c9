package evaluation

import (
	roaring "github.com/RoaringBitmap/roaring"

	"github.com/ZanzyTHEbar/seqtag/seqtag/align"
)

// OutsideTag fills positions that one side of a mismatched pair lacks.
const OutsideTag = "O"

// RealignPieces maps piece-level label indices back to one label per word. Position q of
// pred is paired with position q of truth and kinds; the walk stops at the separator and
// keeps only word-start pieces. A pred row shorter than kinds yields fewer predicted labels,
// which ReconcileLengths later pads.
func RealignPieces(pred, truth []int32, kinds []align.PieceKind) (p, t []int32) {
	for q, k := range kinds {
		if k == align.KindSEP {
			break
		}
		if k != align.KindWordStart {
			continue
		}
		if q < len(pred) {
			p = append(p, pred[q])
		}
		if q < len(truth) {
			t = append(t, truth[q])
		}
	}
	return p, t
}

// RealignByLength cuts both rows to the true sequence length.
func RealignByLength(pred, truth []int32, length int) (p, t []int32) {
	return pred[:min(length, len(pred))], truth[:min(length, len(truth))]
}

// PlaceWords returns a row of total tags, all OutsideTag except for tags copied in from
// position offset. It restores the full sequence after truncation kept only a window of
// words; tags running past total are dropped.
func PlaceWords(tags []string, total, offset int) []string {
	out := padOutside(nil, total)
	if offset < 0 || offset >= total {
		return out
	}
	copy(out[offset:], tags)
	return out
}

// ReconcileLengths pairs truth[i] with pred[i] by index and pads the shorter side of any
// unequal pair with OutsideTag. A missing sequence on either side counts as empty. The
// returned bitmap holds the indices of every padded pair; inputs are not modified.
func ReconcileLengths(truth, pred [][]string) (t, p [][]string, affected *roaring.Bitmap) {
	n := max(len(truth), len(pred))
	t = make([][]string, n)
	p = make([][]string, n)
	affected = roaring.New()
	for i := 0; i < n; i++ {
		var a, b []string
		if i < len(truth) {
			a = truth[i]
		}
		if i < len(pred) {
			b = pred[i]
		}
		if len(a) == len(b) && i < len(truth) && i < len(pred) {
			t[i], p[i] = a, b
			continue
		}
		affected.Add(uint32(i))
		width := max(len(a), len(b))
		t[i], p[i] = padOutside(a, width), padOutside(b, width)
	}
	return t, p, affected
}

func padOutside(s []string, n int) []string {
	out := make([]string, n)
	copy(out, s)
	for i := len(s); i < n; i++ {
		out[i] = OutsideTag
	}
	return out
}
