//go:build !onnx
// +build !onnx

package model

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/seqtag/seqtag/tensor"
)

// ONNXModel is a stub used when built without the "onnx" build tag.
type ONNXModel struct{ variant Variant }

func NewONNXModel(v Variant, path string, opts ONNXOptions) (*ONNXModel, error) {
	return nil, fmt.Errorf("onnx model not available: build with -tags onnx")
}

func (m *ONNXModel) Variant() Variant { return m.variant }

func (m *ONNXModel) Predict(ctx context.Context, inputs []tensor.Tensor) ([][]int32, error) {
	return nil, fmt.Errorf("onnx model not available: build with -tags onnx")
}

func (m *ONNXModel) Save(dir string) error { return fmt.Errorf("onnx model not available") }

func (m *ONNXModel) Load(dir string) error { return fmt.Errorf("onnx model not available") }

func (m *ONNXModel) Close() error { return nil }
