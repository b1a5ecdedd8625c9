//go:build !onnx
// +build !onnx

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestONNXModelUnavailableWithoutTag(t *testing.T) {
	v, err := Lookup("BERT_CRF")
	assert.NoError(t, err)
	_, err = NewONNXModel(v, "model.onnx", ONNXOptions{ExecutionProvider: "CPU"})
	assert.Error(t, err)
	assert.Equal(t, "cuda", NormalizeExecutionProvider(" CUDA "))
}
