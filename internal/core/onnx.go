package core

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// InitOnnxRuntime initializes the shared ONNX runtime environment. Safe to
// call more than once; the dylib path is only honored on the first call.
func InitOnnxRuntime(sharedLibraryPath string) error {
	ortInitOnce.Do(func() {
		if sharedLibraryPath != "" {
			ort.SetSharedLibraryPath(sharedLibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// TensorRunner runs a float32 tensor of the given shape through a model and
// returns the flattened output. Classifiers depend on this rather than on a
// session directly so inference can be stubbed in tests.
type TensorRunner interface {
	Run(input []float32, shape []int64) ([]float32, error)

	Destroy()
}

type onnxSession struct {
	session    *ort.DynamicAdvancedSession
	outputName string
	numOutputs int64
}

var _ TensorRunner = (*onnxSession)(nil)

func newOnnxSession(modelDir string, meta ModelMetadata) (*onnxSession, error) {
	session, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, "model.onnx"),
		[]string{meta.InputName},
		[]string{meta.OutputName},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}

	return &onnxSession{
		session:    session,
		outputName: meta.OutputName,
		numOutputs: int64(len(meta.Classes)),
	}, nil
}

// Run feeds one tensor through the session. The leading dimension of shape
// is the batch size; the output has shape [batch][classes].
func (s *onnxSession) Run(input []float32, shape []int64) ([]float32, error) {
	inT, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inT.Destroy()

	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(shape[0], s.numOutputs))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outT.Destroy()

	if err := s.session.Run([]ort.Value{inT}, []ort.Value{outT}); err != nil {
		return nil, fmt.Errorf("session run error: %w", err)
	}

	out := make([]float32, len(outT.GetData()))
	copy(out, outT.GetData())
	return out, nil
}

func (s *onnxSession) Destroy() {
	s.session.Destroy()
}
