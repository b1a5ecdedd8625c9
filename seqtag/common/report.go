package common

import (
	"errors"
	"sync"

	roaring "github.com/RoaringBitmap/roaring"
)

// AlignmentReport collects the examples affected by alignment mismatches.
// It is safe for concurrent use by batch workers.
type AlignmentReport struct {
	mu       sync.Mutex
	examples *roaring.Bitmap
	clipped  int
}

func NewAlignmentReport() *AlignmentReport {
	return &AlignmentReport{examples: roaring.New()}
}

// Add records example as misaligned.
func (r *AlignmentReport) Add(example int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.examples.Add(uint32(example))
}

// Record adds err to the report if it is an AlignmentMismatchError and reports whether it was.
func (r *AlignmentReport) Record(err error) bool {
	var mismatch *AlignmentMismatchError
	if !errors.As(err, &mismatch) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.examples.Add(uint32(mismatch.Example))
	r.clipped += mismatch.Clipped
	return true
}

// Count returns the number of distinct affected examples.
func (r *AlignmentReport) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.examples.GetCardinality())
}

// Clipped returns the total number of words whose pieces were cut short.
func (r *AlignmentReport) Clipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clipped
}

// Contains reports whether example was recorded.
func (r *AlignmentReport) Contains(example int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.examples.Contains(uint32(example))
}

// Examples returns the affected example indices in ascending order.
func (r *AlignmentReport) Examples() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, r.examples.GetCardinality())
	it := r.examples.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Merge folds other into r.
func (r *AlignmentReport) Merge(other *AlignmentReport) {
	if other == nil || other == r {
		return
	}
	other.mu.Lock()
	snapshot := other.examples.Clone()
	clipped := other.clipped
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.examples.Or(snapshot)
	r.clipped += clipped
}

// Reset clears the report for a new epoch.
func (r *AlignmentReport) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.examples.Clear()
	r.clipped = 0
}
