// Command emotion-launcher checks the environment and starts emotion-server.
//
// It verifies that ffmpeg, the ONNX Runtime library and the server binary are
// available, that the model directory is complete, then runs the server in the
// foreground until it exits or Ctrl+C is pressed.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"emotion-detector/pkg/config"
	"emotion-detector/pkg/launcher"
)

var (
	logger = logrus.New()

	configFile   string
	serverBinary string
	exitCode     int
)

var rootCmd = &cobra.Command{
	Use:   "emotion-launcher [-- server flags]",
	Short: "Check dependencies and model files, then start the web server",
	Long: `emotion-launcher - one-step start for the voice emotion detector.

Steps:
  1. Check dependencies (ffmpeg, ONNX Runtime, emotion-server)
  2. Check model files
  3. Start the web interface

Arguments after -- are passed to emotion-server unchanged.

Examples:
  emotion-launcher
  emotion-launcher -- --port 9000
  emotion-launcher -- --model-dir /opt/emotion/model`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := os.Setenv(config.ConfigFileEnv, configFile); err != nil {
				return err
			}
		}

		// Config warnings would interleave with the step report.
		logger.SetLevel(logrus.ErrorLevel)
		cfg, err := config.Load(logger)
		if err != nil {
			return err
		}

		binary := cfg.Launcher.ServerBinary
		if serverBinary != "" {
			binary = serverBinary
		}

		l := launcher.New(launcher.Config{
			ModelDir:     serverModelDir(args, cfg.Model.Dir),
			GraphFile:    cfg.Model.GraphFile,
			FFmpegPath:   cfg.Audio.FFmpegPath,
			ORTLibrary:   cfg.Model.LibraryPath,
			ServerBinary: binary,
			ServerArgs:   args,
			Port:         serverPort(args, cfg.HTTP.Port),
		}, logger)
		exitCode = l.Run(context.Background())
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML configuration file shared with the server")
	rootCmd.Flags().StringVar(&serverBinary, "server", "", "path to the emotion-server binary")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// serverFlag returns the last value of a flag passed through to the server,
// given as "--name value", "--name=value" or "-short value".
func serverFlag(args []string, name, short string) (string, bool) {
	var value string
	var found bool
	for i, arg := range args {
		switch {
		case (arg == "--"+name || (short != "" && arg == "-"+short)) && i+1 < len(args):
			value, found = args[i+1], true
		case strings.HasPrefix(arg, "--"+name+"="):
			value, found = strings.TrimPrefix(arg, "--"+name+"="), true
		}
	}
	return value, found
}

// serverPort picks up a --port/-p passed through to the server so the printed URL matches.
func serverPort(args []string, fallback int) int {
	value, ok := serverFlag(args, "port", "p")
	if !ok {
		return fallback
	}
	if port, err := strconv.Atoi(value); err == nil && port > 0 {
		return port
	}
	return fallback
}

// serverModelDir picks up a --model-dir passed through to the server so the
// launcher checks the directory the server will load.
func serverModelDir(args []string, fallback string) string {
	if dir, ok := serverFlag(args, "model-dir", ""); ok && dir != "" {
		return dir
	}
	return fallback
}
