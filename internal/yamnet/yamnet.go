// Package yamnet wraps the YamNet audio event classifier: the TensorFlow
// Lite model handle, its on-disk cache with self-healing acquisition, and
// framewise inference over normalized waveforms.
package yamnet

import (
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"

	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/logging"
)

// Model framing constants. YamNet consumes 0.975 s patches of 16 kHz mono
// audio advanced by a 0.48 s hop and scores 521 AudioSet classes per patch.
const (
	FrameSamples = 15600
	HopSamples   = 7680
	FrameStride  = 0.48
	NumClasses   = 521
)

// Classifier is the model handle used by the inference path. The concrete
// implementation is the tflite-backed Model; tests substitute fakes.
type Classifier interface {
	// Predict scores one FrameSamples-long frame and returns one
	// probability per label.
	Predict(frame []float32) ([]float32, error)
	// Labels returns the class labels, index-aligned with Predict output.
	Labels() []string
	// Close releases interpreter resources.
	Close()
}

// Model is the loaded YamNet classifier backed by a TensorFlow Lite
// interpreter. Interpreter invocations are serialized by an internal mutex;
// the model is otherwise stateless per call.
type Model struct {
	interpreter *tflite.Interpreter
	labels      []string
	mu          sync.Mutex
}

// newModel builds an interpreter from raw model data and validates that the
// output tensor width matches the label count.
func newModel(modelData []byte, labels []string, threads int) (*Model, error) {
	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("yamnet").
			Category(errors.CategoryModelInit).
			Context("model_size_mb", len(modelData)/1024/1024).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(determineThreadCount(threads))
	options.SetErrorReporter(func(msg string, userData any) {
		logging.ForService("yamnet").Error("TFLite error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, errors.Newf("cannot create interpreter").
			Component("yamnet").
			Category(errors.CategoryModelInit).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Component("yamnet").
			Category(errors.CategoryModelInit).
			Build()
	}

	m := &Model{interpreter: interpreter, labels: labels}
	if err := m.validate(); err != nil {
		interpreter.Delete()
		return nil, err
	}

	// The interpreter holds its own copy of the model data
	runtime.GC()

	return m, nil
}

// validate checks that the number of labels matches the model's output size.
func (m *Model) validate() error {
	outputTensor := m.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return errors.Newf("cannot get output tensor from model").
			Component("yamnet").
			Category(errors.CategoryValidation).
			Build()
	}

	modelOutputSize := outputTensor.Dim(outputTensor.NumDims() - 1)
	if len(m.labels) != modelOutputSize {
		return errors.Newf("label count mismatch: model expects %d classes but class map has %d labels",
			modelOutputSize, len(m.labels)).
			Component("yamnet").
			Category(errors.CategoryValidation).
			Context("expected_labels", modelOutputSize).
			Context("actual_labels", len(m.labels)).
			Build()
	}
	return nil
}

// Predict runs one forward pass over a single frame. An invoke failure is
// classified as cache corruption, the signature a partially written model
// cache produces at inference time, so the loader can self-heal.
func (m *Model) Predict(frame []float32) ([]float32, error) {
	if len(frame) != FrameSamples {
		return nil, errors.Newf("frame length %d does not match model input %d", len(frame), FrameSamples).
			Component("yamnet").
			Category(errors.CategoryInference).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A recovery may have closed this handle while another run was between
	// frames. Surface it as corruption so the caller routes into recovery
	// and picks up the fresh handle instead of dereferencing a dead
	// interpreter.
	if m.interpreter == nil {
		return nil, errors.Newf("interpreter has been closed").
			Component("yamnet").
			Category(errors.CategoryCacheCorruption).
			Build()
	}

	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, errors.Newf("cannot get input tensor").
			Component("yamnet").
			Category(errors.CategoryCacheCorruption).
			Build()
	}
	copy(inputTensor.Float32s(), frame)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tensor invoke failed: %v", status).
			Component("yamnet").
			Category(errors.CategoryCacheCorruption).
			Build()
	}

	outputTensor := m.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return nil, errors.Newf("cannot get output tensor").
			Component("yamnet").
			Category(errors.CategoryCacheCorruption).
			Build()
	}

	predSize := outputTensor.Dim(outputTensor.NumDims() - 1)
	scores := make([]float32, predSize)
	copy(scores, outputTensor.Float32s())
	return scores, nil
}

// Labels returns the class labels, index-aligned with Predict output.
func (m *Model) Labels() []string {
	return m.labels
}

// Close releases the TensorFlow Lite interpreter.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
}

// determineThreadCount bounds the configured thread count by the CPU count,
// using all CPUs when unset.
func determineThreadCount(configuredThreads int) int {
	systemCPUCount := runtime.NumCPU()
	if configuredThreads <= 0 || configuredThreads > systemCPUCount {
		return systemCPUCount
	}
	return configuredThreads
}

var _ Classifier = (*Model)(nil)
