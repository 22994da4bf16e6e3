package model

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/errors"
)

// State is the lifecycle position of the loader.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LoaderConfig locates the model artifacts.
type LoaderConfig struct {
	Dir            string
	GraphFile      string
	LibraryPath    string
	InputName      string
	OutputName     string
	IntraOpThreads int
	SampleRate     int
}

// GraphPath resolves the encoder graph location.
func (c LoaderConfig) GraphPath() string {
	graph := c.GraphFile
	if graph == "" {
		graph = DefaultGraphFile
	}
	if filepath.IsAbs(graph) {
		return graph
	}
	return filepath.Join(c.Dir, graph)
}

// EncoderFactory creates the encoder once the artifacts have been validated.
type EncoderFactory func(cfg LoaderConfig, logger *logrus.Logger) (Encoder, error)

// ORTEncoderFactory is the default factory backed by ONNX Runtime.
func ORTEncoderFactory(cfg LoaderConfig, logger *logrus.Logger) (Encoder, error) {
	return NewORTEncoder(ORTConfig{
		GraphPath:      cfg.GraphPath(),
		LibraryPath:    cfg.LibraryPath,
		InputName:      cfg.InputName,
		OutputName:     cfg.OutputName,
		IntraOpThreads: cfg.IntraOpThreads,
	}, logger)
}

// LoaderOption customizes a Loader
type LoaderOption func(*Loader)

// WithEncoderFactory replaces the ONNX Runtime encoder.
func WithEncoderFactory(f EncoderFactory) LoaderOption {
	return func(l *Loader) { l.newEncoder = f }
}

// WithStateObserver registers a callback invoked on every state change.
func WithStateObserver(f func(State)) LoaderOption {
	return func(l *Loader) { l.observers = append(l.observers, f) }
}

// Loader loads the model at most once: Unloaded -> Loading -> Ready or Failed.
// There is no reload; a failed load stays failed until the process restarts.
type Loader struct {
	config     LoaderConfig
	logger     *logrus.Logger
	newEncoder EncoderFactory
	observers  []func(State)

	state atomic.Int32
	once  sync.Once
	model *Model
	err   error
}

// NewLoader creates a loader in the Unloaded state
func NewLoader(config LoaderConfig, logger *logrus.Logger, opts ...LoaderOption) *Loader {
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	l := &Loader{
		config:     config,
		logger:     logger,
		newEncoder: ORTEncoderFactory,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

func (l *Loader) setState(s State) {
	l.state.Store(int32(s))
	for _, observe := range l.observers {
		observe(s)
	}
}

// Load performs the load on the first call; later calls return the recorded outcome.
func (l *Loader) Load(ctx context.Context) (*Model, error) {
	l.once.Do(func() {
		l.setState(StateLoading)
		l.model, l.err = l.load(ctx)
		if l.err != nil {
			l.logger.WithError(l.err).WithField("dir", l.config.Dir).Error("Failed to load model")
			l.setState(StateFailed)
			return
		}
		l.setState(StateReady)
	})
	return l.model, l.err
}

// Model returns the loaded model. Before loading finishes the error is
// ErrUnavailable; after a failed load it is the load error.
func (l *Loader) Model() (*Model, error) {
	switch l.State() {
	case StateReady:
		return l.model, nil
	case StateFailed:
		return nil, l.err
	case StateLoading:
		return nil, errors.NewUnavailable("model is still loading")
	default:
		return nil, errors.NewUnavailable("model has not been loaded")
	}
}

// Err returns the recorded load failure, if any.
func (l *Loader) Err() error {
	if l.State() != StateFailed {
		return nil
	}
	return l.err
}

// Close releases the model if it was loaded.
func (l *Loader) Close() error {
	if l.State() != StateReady {
		return nil
	}
	return l.model.Close()
}

func (l *Loader) load(ctx context.Context) (*Model, error) {
	dir := l.config.Dir
	fields := map[string]interface{}{"dir": dir}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, errors.NewModelLoadError("model directory not found", err, fields)
	}

	statuses := InspectArtifacts(dir, l.config.GraphFile)
	if err := MissingArtifacts(statuses); err != nil {
		return nil, errors.NewModelLoadError("model directory is incomplete", err, fields)
	}

	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, errors.NewModelLoadError("read model config", err, fields)
	}
	cfg, err := ParseConfig(raw)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, errors.NewModelLoadError("invalid model config", err, fields)
	}

	raw, err = os.ReadFile(filepath.Join(dir, PreprocessorFile))
	if err != nil {
		return nil, errors.NewModelLoadError("read preprocessor config", err, fields)
	}
	pre, err := ParsePreprocessorConfig(raw)
	if err == nil {
		err = pre.Validate(l.config.SampleRate)
	}
	if err != nil {
		return nil, errors.NewModelLoadError("invalid preprocessor config", err, fields)
	}

	st, err := OpenSafeTensors(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, errors.NewModelLoadError("open model weights", err, fields)
	}
	defer st.Close()

	head, err := LoadHead(st, cfg)
	if err != nil {
		return nil, errors.NewModelLoadError("load classification head", err, fields)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.NewModelLoadError("model loading interrupted", err, fields)
	}

	encoder, err := l.newEncoder(l.config, l.logger)
	if err != nil {
		return nil, errors.NewModelLoadError("load encoder", err, fields)
	}

	info := Info{
		Dir:            dir,
		ModelType:      cfg.ModelType,
		WeightsBytes:   st.Size(),
		Parameters:     st.ParameterCount(),
		HiddenSize:     cfg.HiddenSize,
		ProjectionSize: cfg.ClassifierProjSize,
		Labels:         cfg.NumLabels,
		SampleRate:     pre.SamplingRate,
		Format:         "safetensors",
	}
	if len(cfg.Architectures) > 0 {
		info.Architecture = cfg.Architectures[0]
	}

	l.logger.WithFields(logrus.Fields{
		"dir":          dir,
		"model_type":   info.ModelType,
		"weights_mb":   float64(info.WeightsBytes) / (1 << 20),
		"parameters":   info.Parameters,
		"hidden_size":  info.HiddenSize,
		"do_normalize": pre.DoNormalize,
	}).Info("Model loaded")

	return NewModel(encoder, head, info), nil
}
