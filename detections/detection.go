package detections

import (
	"fmt"
	"image"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// SessionConfig describes the model file and its fixed tensor geometry.
type SessionConfig struct {
	ModelPath     string
	InputName     string
	OutputName    string
	InputWidth    int
	InputHeight   int
	NumAttributes int
	NumCandidates int
}

func DefaultSessionConfig(modelPath string) SessionConfig {
	return SessionConfig{
		ModelPath:     modelPath,
		InputName:     "images",
		OutputName:    "output0",
		InputWidth:    InputWidth,
		InputHeight:   InputHeight,
		NumAttributes: NumAttributes,
		NumCandidates: NumCandidates,
	}
}

// ModelSession is one ONNX Runtime session with its bound input and output
// tensors. A session is used by one caller at a time; the output tensor is
// overwritten by every Run.
type ModelSession struct {
	Session      *ort.AdvancedSession
	Input        *ort.Tensor[float32]
	Output       *ort.Tensor[float32]
	Config       SessionConfig
	preprocessor *Preprocessor
}

func NewModelSession(cfg SessionConfig) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	inputShape := ort.NewShape(1, 3, int64(cfg.InputHeight), int64(cfg.InputWidth))
	outputShape := ort.NewShape(1, int64(cfg.NumAttributes), int64(cfg.NumCandidates))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session:      session,
		Input:        inputTensor,
		Output:       outputTensor,
		Config:       cfg,
		preprocessor: NewPreprocessor(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Run preprocesses img into the input tensor and runs the model. img must
// already be InputWidth x InputHeight. The result is read from Output.
func (m *ModelSession) Run(img image.Image) error {
	if b := img.Bounds(); b.Dx() != m.Config.InputWidth || b.Dy() != m.Config.InputHeight {
		return fmt.Errorf("input image is %dx%d, model expects %dx%d",
			b.Dx(), b.Dy(), m.Config.InputWidth, m.Config.InputHeight)
	}

	m.preprocessor.Process(img, m.Input.GetData())

	if err := m.Session.Run(); err != nil {
		return fmt.Errorf("model inference: %w", err)
	}
	return nil
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}
