// Package model loads the speech emotion classifier from a local directory.
//
// The directory holds the configuration and classification head of a
// Wav2Vec2-style sequence classifier in safetensors form, plus an ONNX export
// of the acoustic encoder. Nothing is fetched over the network.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Artifact file names
const (
	ConfigFile       = "config.json"
	WeightsFile      = "model.safetensors"
	PreprocessorFile = "preprocessor_config.json"
	DefaultGraphFile = "model.onnx"
)

// ArtifactStatus describes one expected file in the model directory.
type ArtifactStatus struct {
	Name   string
	Path   string
	Size   int64
	Exists bool
}

// RequiredFiles lists the files the loader reads, in check order.
func RequiredFiles(graphFile string) []string {
	if graphFile == "" {
		graphFile = DefaultGraphFile
	}
	return []string{ConfigFile, WeightsFile, PreprocessorFile, graphFile}
}

// InspectArtifacts stats every required file under dir.
func InspectArtifacts(dir, graphFile string) []ArtifactStatus {
	names := RequiredFiles(graphFile)
	statuses := make([]ArtifactStatus, 0, len(names))
	for _, name := range names {
		path := name
		if !filepath.IsAbs(name) {
			path = filepath.Join(dir, name)
		}
		st := ArtifactStatus{Name: name, Path: path}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			st.Exists = true
			st.Size = info.Size()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// MissingArtifacts returns an error naming every absent file, or nil.
func MissingArtifacts(statuses []ArtifactStatus) error {
	var missing []string
	for _, st := range statuses {
		if !st.Exists {
			missing = append(missing, st.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing model files: %s", strings.Join(missing, ", "))
}
