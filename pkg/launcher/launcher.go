// Package launcher verifies the environment and supervises the web server process.
package launcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/version"
)

// Config holds what the launcher checks and starts
type Config struct {
	ModelDir     string
	GraphFile    string
	FFmpegPath   string
	ORTLibrary   string
	ServerBinary string
	ServerArgs   []string
	Port         int

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	// Signals replaces os/signal notification when set
	Signals <-chan os.Signal
}

// Launcher runs the three launch steps
type Launcher struct {
	config Config
	logger *logrus.Logger
	styles Styles
}

// New creates a launcher
func New(config Config, logger *logrus.Logger) *Launcher {
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	if config.Stdin == nil {
		config.Stdin = os.Stdin
	}
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.Port == 0 {
		config.Port = 8501
	}
	return &Launcher{config: config, logger: logger, styles: NewStyles(DefaultTheme)}
}

// Run performs the checks then starts the server. It returns the process exit code.
func (l *Launcher) Run(ctx context.Context) int {
	l.printf("%s", l.styles.banner(
		fmt.Sprintf("🎭 Voice Emotion Detector v%s", version.Version),
		"AI-Powered Emotion Recognition from Voice",
	))

	serverPath, ok := l.checkDependencies()
	if !ok {
		return 1
	}
	if !l.checkModelFiles() {
		return 1
	}
	return l.launch(ctx, serverPath)
}

func (l *Launcher) checkDependencies() (string, bool) {
	l.printf("%s\n", l.styles.Step.Render("📦 [1/3] Checking dependencies..."))

	var serverPath string
	var missing []Dependency
	for _, dep := range CheckDependencies(l.config) {
		if !dep.Found {
			missing = append(missing, dep)
			continue
		}
		if dep.Name == ServerBinaryName {
			serverPath = dep.Path
		}
		if dep.Optional && dep.Detail != "" {
			l.printf("%s\n", l.styles.Hint.Render("   "+dep.Name+": "+dep.Detail))
		}
	}

	if len(missing) > 0 {
		l.printf("%s\n", l.styles.Fail.Render("❌ Missing dependencies:"))
		for _, dep := range missing {
			l.printf("   - %s (%s)\n", dep.Name, dep.Detail)
		}
		l.printf("\n%s\n", l.styles.Hint.Render("💡 Install ffmpeg and ONNX Runtime, then build the server with: go build ./cmd/emotion-server"))
		return "", false
	}

	l.printf("%s\n", l.styles.OK.Render("✅ All dependencies installed"))
	return serverPath, true
}

func (l *Launcher) checkModelFiles() bool {
	l.printf("\n%s\n", l.styles.Step.Render("🤖 [2/3] Checking model files..."))

	report := CheckModelFiles(l.config.ModelDir, l.config.GraphFile)
	if !report.OK() {
		l.printf("%s\n", l.styles.Fail.Render("❌ Missing model files:"))
		for _, path := range report.Missing {
			l.printf("   - %s\n", path)
		}
		l.printf("\n%s\n", l.styles.Fail.Render("⚠️  Model files are required for emotion detection!"))
		return false
	}

	l.printf("%s\n", l.styles.OK.Render("✅ All model files found"))
	l.printf("   Model size: %.1f MB\n", report.WeightsMB())
	return true
}

func (l *Launcher) launch(ctx context.Context, serverPath string) int {
	l.printf("\n%s\n", l.styles.Step.Render("🚀 [3/3] Starting application..."))
	l.printf("🌐 Web Interface: http://localhost:%d\n", l.config.Port)
	l.printf("🎯 Features: File Upload + AI Emotion Analysis\n")
	l.printf("⏹️  Press Ctrl+C to stop\n\n")

	cmd := exec.Command(serverPath, l.config.ServerArgs...)
	cmd.Stdout = l.config.Stdout
	cmd.Stderr = l.config.Stderr
	cmd.Stdin = l.config.Stdin
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		l.printf("\n%s\n", l.styles.Fail.Render("❌ Failed to start application: "+err.Error()))
		return 1
	}
	l.logger.WithFields(logrus.Fields{
		"pid":    cmd.Process.Pid,
		"binary": serverPath,
	}).Debug("Server process started")

	signals := l.config.Signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	interrupted := false
	for {
		select {
		case sig := <-signals:
			interrupted = true
			l.logger.WithField("signal", sig.String()).Debug("Forwarding signal to server")
			if err := cmd.Process.Signal(sig); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
				l.logger.WithError(err).Warn("Failed to forward signal")
			}
		case <-ctx.Done():
			interrupted = true
			_ = cmd.Process.Signal(syscall.SIGTERM)
			ctx = context.Background()
		case err := <-done:
			return l.exitCode(err, interrupted)
		}
	}
}

func (l *Launcher) exitCode(err error, interrupted bool) int {
	if interrupted {
		l.printf("\n\n👋 Application stopped by user\n")
		return 0
	}
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		l.printf("\n%s\n", l.styles.Fail.Render(fmt.Sprintf("❌ Application exited with status %d", exitErr.ExitCode())))
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
		return 1
	}

	l.printf("\n%s\n", l.styles.Fail.Render("❌ Unexpected error: "+err.Error()))
	return 1
}

func (l *Launcher) printf(format string, args ...interface{}) {
	fmt.Fprintf(l.config.Stdout, format, args...)
}
