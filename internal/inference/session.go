package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Runtime owns the process-wide ONNX Runtime environment and the device
// policy for a batch. Model sessions are created once and shared read-only;
// the accelerator (if selected) admits one in-flight inference at a time.
type Runtime struct {
	gpuID     int
	serialize bool
	runMu     sync.Mutex
	log       *zap.Logger
}

var (
	envOnce sync.Once
	envErr  error
)

// NewRuntime initializes the ONNX Runtime environment and fixes the device
// for the lifetime of the process. gpuID -1 selects CPU; >= 0 selects a CUDA
// device index. The environment is initialized at most once per process.
func NewRuntime(libraryPath string, gpuID int, log *zap.Logger) (*Runtime, error) {
	if gpuID < -1 {
		return nil, fmt.Errorf("invalid device id %d", gpuID)
	}

	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", envErr)
	}

	return &Runtime{
		gpuID: gpuID,
		// Accelerator calls are serialized; CPU sessions run freely and
		// parallelism is applied to pre/post-processing instead.
		serialize: gpuID >= 0,
		log:       log,
	}, nil
}

// OnAccelerator reports whether the runtime targets a CUDA device.
func (r *Runtime) OnAccelerator() bool {
	return r.gpuID >= 0
}

// Session wraps one ONNX model shared across a batch.
type Session struct {
	rt          *Runtime
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputNames  []string
	outputNames []string
}

// NewSession loads an ONNX model onto the runtime's device.
func (r *Runtime) NewSession(modelPath string, inputNames, outputNames []string) (*Session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if r.gpuID >= 0 {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
		}
		defer cudaOpts.Destroy()

		if err := cudaOpts.Update(map[string]string{"device_id": fmt.Sprintf("%d", r.gpuID)}); err != nil {
			return nil, fmt.Errorf("failed to select CUDA device %d: %w", r.gpuID, err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("CUDA device %d unavailable: %w", r.gpuID, err)
		}
		r.log.Info("session on CUDA", zap.String("model", modelPath), zap.Int("device", r.gpuID))
	} else {
		r.log.Info("session on CPU", zap.String("model", modelPath))
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}

	return &Session{
		rt:          r,
		session:     session,
		modelPath:   modelPath,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// Run executes one forward pass. On an accelerator the call holds the
// runtime's device lock for the duration of the pass.
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	if s.rt.serialize {
		s.rt.runMu.Lock()
		defer s.rt.runMu.Unlock()
	}
	return s.session.Run(inputs, outputs)
}

// ModelPath returns the path the session was loaded from.
func (s *Session) ModelPath() string {
	return s.modelPath
}

// Destroy releases session resources.
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// Shutdown tears down the ONNX Runtime environment.
func Shutdown() error {
	return ort.DestroyEnvironment()
}

// CreateTensor creates a tensor with the given shape and data.
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates a zeroed tensor sized for an output.
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}
