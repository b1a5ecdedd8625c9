package model

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/tensor"
)

// Model is an opaque network bound to one variant. Predict receives the batch inputs in the
// variant's contract order and returns one label index per time step of every sequence.
// A Model holds runtime resources until Close; only one batch is fed at a time.
type Model interface {
	Variant() Variant
	Predict(ctx context.Context, inputs []tensor.Tensor) ([][]int32, error)
	Save(dir string) error
	Load(dir string) error
	Close() error
}

var _ Model = (*ONNXModel)(nil)

// CheckInputs verifies that inputs match v's contract in count and rank.
func CheckInputs(v Variant, inputs []tensor.Tensor) error {
	if len(inputs) != len(v.Inputs) {
		return common.NewConfigurationError("inputs", "%s expects %d inputs %v, got %d", v.Name, len(v.Inputs), v.InputNames(), len(inputs))
	}
	for i, k := range v.Inputs {
		if inputs[i] == nil {
			return common.NewConfigurationError("inputs", "%s input %d (%s) is nil", v.Name, i, k)
		}
		if got, want := len(inputs[i].Dims()), rank(k); got != want {
			return common.NewConfigurationError("inputs", "%s input %d (%s) has rank %d, expected %d", v.Name, i, k, got, want)
		}
	}
	return nil
}

func rank(k InputKind) int {
	switch k {
	case InputWordEmbeddings, InputChars, InputFeatures:
		return 3
	case InputLength:
		return 1
	default:
		return 2
	}
}

// Argmax reduces [batch, time, classes] logits to label indices.
func Argmax(logits []float32, batch, time, classes int) ([][]int32, error) {
	if batch*time*classes != len(logits) {
		return nil, fmt.Errorf("logits of size %d do not match shape [%d %d %d]", len(logits), batch, time, classes)
	}
	out := make([][]int32, batch)
	for b := range out {
		row := make([]int32, time)
		for t := range row {
			base := (b*time + t) * classes
			best := 0
			for c := 1; c < classes; c++ {
				if logits[base+c] > logits[base+best] {
					best = c
				}
			}
			row[t] = int32(best)
		}
		out[b] = row
	}
	return out, nil
}
