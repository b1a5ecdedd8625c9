package evaluation

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
)

// EarlyStopping tracks the validation F1 across epochs and signals a stop once it has not
// improved for Patience consecutive epochs.
type EarlyStopping struct {
	Patience int

	best      float64
	bestEpoch int
	epoch     int
	wait      int
}

func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{Patience: patience, best: math.Inf(-1), bestEpoch: -1}
}

// Observe records the score of the next epoch. It reports whether the score improved on
// the best so far and whether training should stop.
func (e *EarlyStopping) Observe(f1 float64) (improved, stop bool) {
	epoch := e.epoch
	e.epoch++
	if f1 > e.best {
		e.best, e.bestEpoch, e.wait = f1, epoch, 0
		return true, false
	}
	e.wait++
	return false, e.wait >= e.Patience
}

// Best returns the best score and its zero-based epoch, or -1 before any observation.
func (e *EarlyStopping) Best() (float64, int) {
	if e.bestEpoch < 0 {
		return 0, -1
	}
	return e.best, e.bestEpoch
}

// Fold is the validation range [Start, End) of one cross-validation partition.
type Fold struct {
	Index int
	Start int
	End   int
}

// FoldBounds splits n examples into k contiguous validation folds of n/k examples; the last
// fold also takes the remainder.
func FoldBounds(n, k int) ([]Fold, error) {
	if k < 2 {
		return nil, common.NewConfigurationError("fold_number", "need at least 2 folds, got %d", k)
	}
	if n < k {
		return nil, common.NewConfigurationError("fold_number", "%d folds for %d examples", k, n)
	}
	size := n / k
	folds := make([]Fold, k)
	for i := range folds {
		folds[i] = Fold{Index: i, Start: i * size, End: (i + 1) * size}
	}
	folds[k-1].End = n
	return folds, nil
}

// Split returns the training items (everything outside f) and the validation items of f.
func Split[T any](items []T, f Fold) (train, valid []T) {
	train = make([]T, 0, len(items)-(f.End-f.Start))
	train = append(train, items[:f.Start]...)
	train = append(train, items[f.End:]...)
	return train, items[f.Start:f.End]
}

// FoldSummary aggregates the results of every fold.
type FoldSummary struct {
	Folds         int
	MeanF1        float64
	StdF1         float64
	MeanPrecision float64
	MeanRecall    float64
	MeanAccuracy  float64
	Best          int
	Worst         int
	BestF1        float64
	WorstF1       float64
}

// SummarizeFolds averages the fold results and picks the best and worst fold by F1.
func SummarizeFolds(results []*Result) (*FoldSummary, error) {
	if len(results) == 0 {
		return nil, common.NewConfigurationError("fold_number", "no fold results to summarize")
	}
	f1 := make([]float64, len(results))
	precision := make([]float64, len(results))
	recall := make([]float64, len(results))
	accuracy := make([]float64, len(results))
	sum := &FoldSummary{Folds: len(results)}
	for i, r := range results {
		if r == nil {
			return nil, fmt.Errorf("fold %d has no result", i)
		}
		f1[i], precision[i], recall[i], accuracy[i] = r.F1, r.Precision, r.Recall, r.Accuracy
		if r.F1 > f1[sum.Best] {
			sum.Best = i
		}
		if r.F1 < f1[sum.Worst] {
			sum.Worst = i
		}
	}
	sum.MeanF1, sum.StdF1 = stat.MeanStdDev(f1, nil)
	if len(results) == 1 {
		sum.StdF1 = 0
	}
	sum.MeanPrecision = stat.Mean(precision, nil)
	sum.MeanRecall = stat.Mean(recall, nil)
	sum.MeanAccuracy = stat.Mean(accuracy, nil)
	sum.BestF1, sum.WorstF1 = f1[sum.Best], f1[sum.Worst]
	return sum, nil
}

func (s *FoldSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d folds\n", s.Folds)
	fmt.Fprintf(&b, "worst fold: %d, f1 %.4f\n", s.Worst, s.WorstF1)
	fmt.Fprintf(&b, "best fold:  %d, f1 %.4f\n", s.Best, s.BestF1)
	fmt.Fprintf(&b, "average over folds: precision %.4f, recall %.4f, f1 %.4f (+/- %.4f), accuracy %.4f\n",
		s.MeanPrecision, s.MeanRecall, s.MeanF1, s.StdF1, s.MeanAccuracy)
	return b.String()
}
