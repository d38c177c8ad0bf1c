package inference

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNX Runtime keeps one environment per process; sessions share it.
var (
	refs   int
	initMu sync.Mutex
)

// ErrNotInitialized is returned when a session is created before Initialize.
var ErrNotInitialized = errors.New("ONNX Runtime not initialized, call Initialize() first")

// Initialize sets up the ONNX Runtime environment. Every successful call must
// be paired with Shutdown; the environment is destroyed with the last one.
func Initialize(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if refs > 0 {
		refs++
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	refs = 1
	return nil
}

// Shutdown releases one reference to the ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if refs == 0 {
		return nil
	}
	refs--
	if refs > 0 {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX Runtime environment: %w", err)
	}
	return nil
}

func initialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return refs > 0
}

// SessionOptions tunes a session
type SessionOptions struct {
	IntraOpThreads int
	UseCoreML      bool
}

// Session wraps an ONNX Runtime inference session
type Session struct {
	session *ort.DynamicAdvancedSession
}

// NewSession creates a new inference session from an ONNX model
func NewSession(modelPath string, inputNames, outputNames []string, opts SessionOptions) (*Session, error) {
	if !initialized() {
		return nil, ErrNotInitialized
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	entry := log.WithFields(log.Fields{"component": "inference", "model": modelPath})
	if opts.UseCoreML {
		// Flag 0 = default settings, use Neural Engine + GPU
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			entry.Warnf("CoreML unavailable, using CPU: %v", err)
		} else {
			entry.Info("using CoreML execution provider")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	entry.Debug("session created")

	return &Session{session: session}, nil
}

// Run executes inference with the given inputs
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	return s.session.Run(inputs, outputs)
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		return err
	}
	return nil
}

// CreateTensor creates a tensor with the given shape and data
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates an uninitialized tensor for output
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}
