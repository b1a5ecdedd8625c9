package evaluation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
)

// Metrics are the chunk scores of one label, or of all labels for the micro average.
type Metrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report holds per-label and micro averaged chunk metrics.
type Report struct {
	Labels map[string]Metrics `json:"labels"`
	Micro  Metrics            `json:"micro"`
}

type counts struct {
	correct, predicted, gold int
}

func (c counts) metrics() Metrics {
	m := Metrics{Support: c.gold}
	if c.predicted > 0 {
		m.Precision = float64(c.correct) / float64(c.predicted)
	}
	if c.gold > 0 {
		m.Recall = float64(c.correct) / float64(c.gold)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

func checkPaired(truth, pred [][]string) error {
	if len(truth) != len(pred) {
		return common.NewConfigurationError("predictions", "%d gold sequences for %d predicted", len(truth), len(pred))
	}
	for i := range truth {
		if len(truth[i]) != len(pred[i]) {
			return common.NewConfigurationError("predictions", "sequence %d has %d gold tags for %d predicted", i, len(truth[i]), len(pred[i]))
		}
	}
	return nil
}

// Compute scores pred against truth. A chunk counts as correct only when both its
// boundaries and its type match a gold chunk. Sequences must be paired one to one with
// equal lengths; use ReconcileLengths first when they may not be.
func Compute(truth, pred [][]string) (*Report, error) {
	if err := checkPaired(truth, pred); err != nil {
		return nil, err
	}
	perLabel := make(map[string]*counts)
	get := func(typ string) *counts {
		c, ok := perLabel[typ]
		if !ok {
			c = &counts{}
			perLabel[typ] = c
		}
		return c
	}
	var total counts
	for i := range truth {
		gold := make(map[Chunk]bool)
		for _, ch := range Chunks(truth[i]) {
			gold[ch] = true
			get(ch.Type).gold++
			total.gold++
		}
		for _, ch := range Chunks(pred[i]) {
			c := get(ch.Type)
			c.predicted++
			total.predicted++
			if gold[ch] {
				c.correct++
				total.correct++
			}
		}
	}
	r := &Report{Labels: make(map[string]Metrics, len(perLabel)), Micro: total.metrics()}
	for typ, c := range perLabel {
		r.Labels[typ] = c.metrics()
	}
	return r, nil
}

// F1 is the micro averaged chunk F1 of pred against truth.
func F1(truth, pred [][]string) (float64, error) {
	r, err := Compute(truth, pred)
	if err != nil {
		return 0, err
	}
	return r.Micro.F1, nil
}

// Accuracy is the fraction of tokens whose predicted tag equals the gold tag.
func Accuracy(truth, pred [][]string) (float64, error) {
	if err := checkPaired(truth, pred); err != nil {
		return 0, err
	}
	var n, ok int
	for i := range truth {
		for j := range truth[i] {
			n++
			if truth[i][j] == pred[i][j] {
				ok++
			}
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(ok) / float64(n), nil
}

// Format renders the report as a fixed-width table with digits decimals, one row per
// label in alphabetical order followed by the micro average.
func (r *Report) Format(digits int) string {
	names := make([]string, 0, len(r.Labels))
	width := len("all (micro avg.)")
	for name := range r.Labels {
		names = append(names, name)
		width = max(width, len(name))
	}
	sort.Strings(names)

	var b strings.Builder
	col := digits + 6
	fmt.Fprintf(&b, "%*s %*s %*s %*s %*s\n\n", width, "", col, "precision", col, "recall", col, "f1-score", col, "support")
	row := func(name string, m Metrics) {
		fmt.Fprintf(&b, "%*s %*.*f %*.*f %*.*f %*d\n", width, name, col, digits, m.Precision, col, digits, m.Recall, col, digits, m.F1, col, m.Support)
	}
	for _, name := range names {
		row(name, r.Labels[name])
	}
	b.WriteString("\n")
	row("all (micro avg.)", r.Micro)
	return b.String()
}
