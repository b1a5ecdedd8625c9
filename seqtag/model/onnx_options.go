package model

import "strings"

// ONNXFileName is the file a saved ONNX model lives in.
const ONNXFileName = "model.onnx"

// ONNXOptions selects the ONNX Runtime execution provider.
type ONNXOptions struct {
	// ExecutionProvider is "cuda", "tensorrt", "coreml", "dml" or "cpu" (default).
	ExecutionProvider string
	DeviceID          int
}

// NormalizeExecutionProvider lowercases and trims an execution provider name.
func NormalizeExecutionProvider(ep string) string {
	return strings.ToLower(strings.TrimSpace(ep))
}
