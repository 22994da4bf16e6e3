package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"emotion-detector/pkg/model"
)

// ServerBinaryName is the executable the launcher starts when none is configured.
const ServerBinaryName = "emotion-server"

// Dependency is one external requirement of the server.
type Dependency struct {
	Name     string
	Path     string
	Found    bool
	Optional bool
	Detail   string
}

// CheckDependencies resolves ffmpeg, the ONNX Runtime library and the server binary.
func CheckDependencies(cfg Config) []Dependency {
	deps := make([]Dependency, 0, 3)

	ffmpeg := Dependency{Name: "ffmpeg"}
	if path, err := exec.LookPath(cfg.FFmpegPath); err == nil {
		ffmpeg.Path, ffmpeg.Found = path, true
	} else {
		ffmpeg.Detail = fmt.Sprintf("%q not found on PATH", cfg.FFmpegPath)
	}
	deps = append(deps, ffmpeg)

	ort := Dependency{Name: "onnxruntime"}
	if cfg.ORTLibrary == "" {
		ort.Found, ort.Optional = true, true
		ort.Detail = "MODEL_ORT_LIBRARY not set, using the system library search path"
	} else if isFile(cfg.ORTLibrary) {
		ort.Path, ort.Found = cfg.ORTLibrary, true
	} else {
		ort.Path = cfg.ORTLibrary
		ort.Detail = "shared library not found"
	}
	deps = append(deps, ort)

	server := Dependency{Name: ServerBinaryName}
	if path, err := ResolveServerBinary(cfg.ServerBinary); err == nil {
		server.Path, server.Found = path, true
	} else {
		server.Detail = err.Error()
	}
	deps = append(deps, server)

	return deps
}

// ResolveServerBinary returns the configured binary, else the sibling of the
// running executable, else the first match on PATH.
func ResolveServerBinary(configured string) (string, error) {
	if configured != "" {
		if isFile(configured) {
			return configured, nil
		}
		return exec.LookPath(configured)
	}

	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), ServerBinaryName)
		if isFile(sibling) {
			return sibling, nil
		}
	}
	return exec.LookPath(ServerBinaryName)
}

// ModelReport is the outcome of the artifact check.
type ModelReport struct {
	Artifacts []model.ArtifactStatus
	Missing   []string
}

// WeightsMB returns the safetensors size in MiB, or 0 when it is absent.
func (r ModelReport) WeightsMB() float64 {
	for _, a := range r.Artifacts {
		if a.Name == model.WeightsFile && a.Exists {
			return float64(a.Size) / (1024 * 1024)
		}
	}
	return 0
}

// OK reports whether every artifact is present.
func (r ModelReport) OK() bool { return len(r.Missing) == 0 }

// CheckModelFiles stats the files the model loader needs.
func CheckModelFiles(dir, graphFile string) ModelReport {
	report := ModelReport{Artifacts: model.InspectArtifacts(dir, graphFile)}
	for _, a := range report.Artifacts {
		if !a.Exists {
			report.Missing = append(report.Missing, a.Path)
		}
	}
	return report
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
