package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// Frames is the encoder output for one clip, row-major steps x hidden.
type Frames struct {
	Data   []float32
	Steps  int
	Hidden int
}

// Encoder runs the acoustic encoder over a raw waveform.
type Encoder interface {
	Encode(ctx context.Context, samples []float32) (Frames, error)
	Close() error
}

// ORTConfig selects the ONNX graph and runtime settings.
type ORTConfig struct {
	GraphPath      string
	LibraryPath    string
	InputName      string
	OutputName     string
	IntraOpThreads int
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime initializes the process-wide ONNX Runtime environment.
func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ORTEncoder runs an ONNX export of the encoder. The graph maps input_values
// [1, samples] to last_hidden_state [1, steps, hidden].
type ORTEncoder struct {
	session *ort.DynamicAdvancedSession
	config  ORTConfig
	logger  *logrus.Logger
}

// NewORTEncoder loads the graph into an inference session.
func NewORTEncoder(config ORTConfig, logger *logrus.Logger) (*ORTEncoder, error) {
	if config.InputName == "" {
		config.InputName = "input_values"
	}
	if config.OutputName == "" {
		config.OutputName = "last_hidden_state"
	}

	if err := initRuntime(config.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	if config.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(config.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(config.GraphPath,
		[]string{config.InputName}, []string{config.OutputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("load encoder graph %s: %w", config.GraphPath, err)
	}

	logger.WithFields(logrus.Fields{
		"graph":  config.GraphPath,
		"input":  config.InputName,
		"output": config.OutputName,
	}).Info("Encoder session created")

	return &ORTEncoder{session: session, config: config, logger: logger}, nil
}

// Encode runs one batch of size 1.
func (e *ORTEncoder) Encode(ctx context.Context, samples []float32) (Frames, error) {
	if err := ctx.Err(); err != nil {
		return Frames{}, err
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return Frames{}, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{input}, outputs); err != nil {
		return Frames{}, fmt.Errorf("run encoder: %w", err)
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return Frames{}, fmt.Errorf("encoder output %s is not a float32 tensor", e.config.OutputName)
	}

	shape := hidden.GetShape()
	if len(shape) != 3 || shape[0] != 1 {
		return Frames{}, fmt.Errorf("encoder output has shape %v, expected [1, steps, hidden]", shape)
	}

	// the tensor memory is released on return
	data := make([]float32, len(hidden.GetData()))
	copy(data, hidden.GetData())

	return Frames{Data: data, Steps: int(shape[1]), Hidden: int(shape[2])}, nil
}

// Close destroys the session.
func (e *ORTEncoder) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
