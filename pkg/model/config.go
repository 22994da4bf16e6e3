package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"emotion-detector/pkg/emotion"
)

// Config is the subset of config.json the classifier depends on.
type Config struct {
	ModelType           string
	Architectures       []string
	HiddenSize          int
	ClassifierProjSize  int
	NumLabels           int
	UseWeightedLayerSum bool

	// Labels holds id2label ordered by class index.
	Labels []string
}

// ParseConfig reads config.json. id2label keys are class indices encoded as strings.
func ParseConfig(raw []byte) (*Config, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%s is not valid JSON", ConfigFile)
	}
	doc := gjson.ParseBytes(raw)

	cfg := &Config{
		ModelType:           doc.Get("model_type").String(),
		HiddenSize:          int(doc.Get("hidden_size").Int()),
		ClassifierProjSize:  int(doc.Get("classifier_proj_size").Int()),
		UseWeightedLayerSum: doc.Get("use_weighted_layer_sum").Bool(),
	}
	for _, a := range doc.Get("architectures").Array() {
		cfg.Architectures = append(cfg.Architectures, a.String())
	}

	id2label := doc.Get("id2label")
	if !id2label.IsObject() {
		return nil, fmt.Errorf("%s: id2label is missing", ConfigFile)
	}

	byIndex := make(map[int]string)
	var parseErr error
	id2label.ForEach(func(key, value gjson.Result) bool {
		idx, err := strconv.Atoi(key.String())
		if err != nil || idx < 0 {
			parseErr = fmt.Errorf("%s: id2label key %q is not a class index", ConfigFile, key.String())
			return false
		}
		byIndex[idx] = value.String()
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for i, idx := range indices {
		if i != idx {
			return nil, fmt.Errorf("%s: id2label has no entry for class %d", ConfigFile, i)
		}
		cfg.Labels = append(cfg.Labels, byIndex[idx])
	}

	cfg.NumLabels = len(cfg.Labels)
	if n := doc.Get("num_labels"); n.Exists() {
		cfg.NumLabels = int(n.Int())
	}
	return cfg, nil
}

// Validate checks the configuration against the fixed label set and the
// pooling path implemented by Head.
func (c *Config) Validate() error {
	if c.NumLabels != len(c.Labels) {
		return fmt.Errorf("num_labels is %d but id2label has %d labels", c.NumLabels, len(c.Labels))
	}
	if len(c.Labels) != emotion.Count {
		return fmt.Errorf("model predicts %d labels, expected %d", len(c.Labels), emotion.Count)
	}
	for i, name := range c.Labels {
		want := emotion.Label(i).String()
		if !strings.EqualFold(strings.TrimSpace(name), want) {
			return fmt.Errorf("label %d is %q, expected %q", i, name, want)
		}
	}
	if c.UseWeightedLayerSum {
		return fmt.Errorf("use_weighted_layer_sum is not supported")
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be positive")
	}
	if c.ClassifierProjSize <= 0 {
		return fmt.Errorf("classifier_proj_size must be positive")
	}
	return nil
}

// PreprocessorConfig mirrors preprocessor_config.json.
type PreprocessorConfig struct {
	SamplingRate int
	FeatureSize  int
	DoNormalize  bool
	PaddingValue float64
}

// ParsePreprocessorConfig reads preprocessor_config.json.
func ParsePreprocessorConfig(raw []byte) (*PreprocessorConfig, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%s is not valid JSON", PreprocessorFile)
	}
	doc := gjson.ParseBytes(raw)

	pc := &PreprocessorConfig{
		SamplingRate: int(doc.Get("sampling_rate").Int()),
		FeatureSize:  1,
		DoNormalize:  doc.Get("do_normalize").Bool(),
		PaddingValue: doc.Get("padding_value").Float(),
	}
	if fs := doc.Get("feature_size"); fs.Exists() {
		pc.FeatureSize = int(fs.Int())
	}
	return pc, nil
}

// Validate checks that the feature extractor consumes raw 16 kHz mono audio.
func (p *PreprocessorConfig) Validate(sampleRate int) error {
	if p.SamplingRate != sampleRate {
		return fmt.Errorf("model expects %d Hz audio, pipeline produces %d Hz", p.SamplingRate, sampleRate)
	}
	if p.FeatureSize != 1 {
		return fmt.Errorf("feature_size %d is not a raw waveform input", p.FeatureSize)
	}
	return nil
}
