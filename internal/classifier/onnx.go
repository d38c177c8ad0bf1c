package classifier

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/eyebox/internal/inference"
)

// ONNXConfig describes an eye-state model exported to ONNX.
type ONNXConfig struct {
	ModelPath  string
	InputName  string
	OutputName string
	Threads    int
	UseCoreML  bool
}

// ONNXModel runs the eye-state network with ONNX Runtime. The runtime
// environment must be initialized by the caller.
type ONNXModel struct {
	session *inference.Session
}

// NewONNXModel loads the model into a new session
func NewONNXModel(config ONNXConfig) (*ONNXModel, error) {
	session, err := inference.NewSession(
		config.ModelPath,
		[]string{config.InputName},
		[]string{config.OutputName},
		inference.SessionOptions{IntraOpThreads: config.Threads, UseCoreML: config.UseCoreML},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier session: %w", err)
	}
	return &ONNXModel{session: session}, nil
}

// Run executes one inference and returns [closed, open]
func (m *ONNXModel) Run(input []float32, shape []int64) ([]float32, error) {
	if m.session == nil {
		return nil, ErrClosed
	}

	inputTensor, err := inference.CreateTensor(shape, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 2})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := m.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("classifier inference failed: %w", err)
	}

	out := make([]float32, 2)
	copy(out, outputTensor.GetData())
	return out, nil
}

// Close releases the session
func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
