package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"icplookup/internal/logging"
)

var (
	envMu   sync.Mutex
	envRefs int
)

// acquireEnvironment initializes the shared onnxruntime environment on first
// use and reference-counts it so the last closed session tears it down.
func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		_ = ort.DestroyEnvironment()
	}
}

// ORTSession is the production Session backed by onnxruntime. One instance
// is created per model file and reused across challenges.
type ORTSession struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

// OpenSession loads the network at modelPath. libraryPath optionally points
// at the onnxruntime shared library; empty means the platform default.
func OpenSession(modelPath, libraryPath string) (*ORTSession, error) {
	if err := acquireEnvironment(libraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("read model metadata %s: %w", modelPath, err)
	}
	inputNames := make([]string, len(inputs))
	for i, in := range inputs {
		inputNames[i] = in.Name
	}
	outputNames := make([]string, len(outputs))
	for i, out := range outputs {
		outputNames[i] = out.Name
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("open model %s: %w", modelPath, err)
	}

	logging.ModelsDebug("opened session %s inputs=%v outputs=%v", modelPath, inputNames, outputNames)
	return &ORTSession{session: session, inputNames: inputNames, outputNames: outputNames}, nil
}

// Run executes one forward pass.
func (s *ORTSession) Run(inputs []Tensor) ([]Tensor, error) {
	if len(inputs) != len(s.inputNames) {
		return nil, fmt.Errorf("model expects %d inputs, got %d", len(s.inputNames), len(inputs))
	}

	ortInputs := make([]ort.Value, len(inputs))
	for i, in := range inputs {
		t, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
		if err != nil {
			return nil, fmt.Errorf("build input tensor %d: %w", i, err)
		}
		defer t.Destroy()
		ortInputs[i] = t
	}

	// nil output slots let the runtime allocate output tensors itself.
	ortOutputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}

	results := make([]Tensor, len(ortOutputs))
	for i, out := range ortOutputs {
		tensor, ok := out.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %d is not a float32 tensor", i)
		}
		shape := tensor.GetShape()
		data := tensor.GetData()
		results[i] = Tensor{
			Shape: append([]int64(nil), shape...),
			Data:  append([]float32(nil), data...),
		}
		tensor.Destroy()
	}
	return results, nil
}

// Close releases the underlying session and drops the environment refcount.
func (s *ORTSession) Close() error {
	err := s.session.Destroy()
	releaseEnvironment()
	return err
}
