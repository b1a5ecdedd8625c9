//go:build onnx
// +build onnx

package model

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ZanzyTHEbar/seqtag/seqtag/tensor"
)

// ONNXModel runs an exported network with ONNX Runtime. Its declared inputs are bound
// positionally to the variant's contract; the first output is either [batch, time, classes]
// float logits or [batch, time] int64 decoded tags (CRF exports).
type ONNXModel struct {
	variant     Variant
	opts        ONNXOptions
	mu          sync.Mutex
	modelPath   string
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

// NewONNXModel binds variant v to the model file at path. The session is created lazily.
func NewONNXModel(v Variant, path string, opts ONNXOptions) (*ONNXModel, error) {
	return &ONNXModel{variant: v, opts: opts, modelPath: path}, nil
}

func (m *ONNXModel) Variant() Variant { return m.variant }

func (m *ONNXModel) ensureSession() error {
	if m.session != nil {
		return nil
	}
	if m.modelPath == "" {
		return fmt.Errorf("onnx model path is required")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	ins, outs, err := ort.GetInputOutputInfo(m.modelPath)
	if err != nil {
		return fmt.Errorf("get IO info: %w", err)
	}
	if len(ins) != len(m.variant.Inputs) {
		return fmt.Errorf("model declares %d inputs, %s needs %v", len(ins), m.variant.Name, m.variant.InputNames())
	}
	inputNames := make([]string, len(ins))
	for i, ii := range ins {
		inputNames[i] = ii.Name
	}
	var outputNames []string
	for _, oi := range outs {
		if oi.DataType == ort.TensorElementDataTypeFloat || oi.DataType == ort.TensorElementDataTypeInt64 {
			outputNames = append(outputNames, oi.Name)
			break
		}
	}
	if len(outputNames) == 0 {
		return fmt.Errorf("could not determine ONNX output name")
	}

	var sessionOpts *ort.SessionOptions
	if ep := NormalizeExecutionProvider(m.opts.ExecutionProvider); ep != "" && ep != "cpu" {
		if o, e := ort.NewSessionOptions(); e == nil {
			_ = o.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
			switch ep {
			case "cuda":
				if cu, e2 := ort.NewCUDAProviderOptions(); e2 == nil {
					_ = o.AppendExecutionProviderCUDA(cu)
					_ = cu.Destroy()
				}
			case "tensorrt":
				if trt, e2 := ort.NewTensorRTProviderOptions(); e2 == nil {
					_ = o.AppendExecutionProviderTensorRT(trt)
					_ = trt.Destroy()
				}
			case "coreml":
				_ = o.AppendExecutionProviderCoreMLV2(map[string]string{})
			case "dml":
				_ = o.AppendExecutionProviderDirectML(m.opts.DeviceID)
			}
			sessionOpts = o
		}
	}
	s, err := ort.NewDynamicAdvancedSession(m.modelPath, inputNames, outputNames, sessionOpts)
	if sessionOpts != nil {
		_ = sessionOpts.Destroy()
	}
	if err != nil {
		return fmt.Errorf("create onnx session: %w", err)
	}
	m.session = s
	m.inputNames = inputNames
	m.outputNames = outputNames
	return nil
}

func (m *ONNXModel) Predict(ctx context.Context, inputs []tensor.Tensor) ([][]int32, error) {
	if err := CheckInputs(m.variant, inputs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureSession(); err != nil {
		return nil, err
	}

	inVals := make([]ort.Value, len(inputs))
	defer func() {
		for _, v := range inVals {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	for i, in := range inputs {
		v, err := toORT(in)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", m.variant.Inputs[i], err)
		}
		inVals[i] = v
	}
	outs := make([]ort.Value, len(m.outputNames))
	if err := m.session.Run(inVals, outs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	switch t := outs[0].(type) {
	case *ort.Tensor[float32]:
		shape := t.GetShape()
		if len(shape) != 3 {
			return nil, fmt.Errorf("unexpected logits rank %d", len(shape))
		}
		return Argmax(t.GetData(), int(shape[0]), int(shape[1]), int(shape[2]))
	case *ort.Tensor[int64]:
		shape := t.GetShape()
		if len(shape) != 2 {
			return nil, fmt.Errorf("unexpected tags rank %d", len(shape))
		}
		data := t.GetData()
		rows, cols := int(shape[0]), int(shape[1])
		out := make([][]int32, rows)
		for r := range out {
			out[r] = make([]int32, cols)
			for c := range out[r] {
				out[r][c] = int32(data[r*cols+c])
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected output type")
}

func toORT(in tensor.Tensor) (ort.Value, error) {
	dims := in.Dims()
	shape := make(ort.Shape, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	switch t := in.(type) {
	case *tensor.Dense[float32]:
		return ort.NewTensor(shape, t.Data())
	case *tensor.Dense[int32]:
		return ort.NewTensor(shape, t.Data())
	case *tensor.Dense[int64]:
		return ort.NewTensor(shape, t.Data())
	}
	return nil, fmt.Errorf("unsupported tensor type %s", in.DType())
}

// Save copies the model file into dir as model.onnx.
func (m *ONNXModel) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	dst := filepath.Join(dir, ONNXFileName)
	if filepath.Clean(dst) == filepath.Clean(m.modelPath) {
		return nil
	}
	src, err := os.Open(m.modelPath)
	if err != nil {
		return fmt.Errorf("open model: %w", err)
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create model copy: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("copy model: %w", err)
	}
	return out.Close()
}

// Load points the model at dir/model.onnx and drops any open session.
func (m *ONNXModel) Load(dir string) error {
	path := filepath.Join(dir, ONNXFileName)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeSession()
	m.modelPath = path
	return nil
}

func (m *ONNXModel) closeSession() {
	if m.session != nil {
		_ = m.session.Destroy()
		m.session = nil
	}
}

// Close releases the ONNX session.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeSession()
	return nil
}
