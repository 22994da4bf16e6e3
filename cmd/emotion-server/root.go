package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"emotion-detector/pkg/audio"
	"emotion-detector/pkg/config"
	"emotion-detector/pkg/detector"
	http_server "emotion-detector/pkg/http"
	"emotion-detector/pkg/metrics"
	"emotion-detector/pkg/model"
	"emotion-detector/pkg/ratelimit"
	"emotion-detector/pkg/util"
	"emotion-detector/pkg/version"
)

var (
	logger = logrus.New()

	configFile string
	portFlag   int
	modelDir   string
)

var rootCmd = &cobra.Command{
	Use:   "emotion-server",
	Short: "Voice emotion detection web server",
	Long: `emotion-server - upload a voice recording and get the emotion it expresses.

The classifier is loaded once at startup from the model directory:
  config.json                 model configuration and label names
  model.safetensors           classification head weights
  preprocessor_config.json    feature extractor settings
  model.onnx                  acoustic encoder graph

Examples:
  emotion-server --model-dir ./model --port 8501
  EMOTION_CONFIG_FILE=config.yaml emotion-server`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and model files without serving",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		statuses := model.InspectArtifacts(cfg.Model.Dir, cfg.Model.GraphFile)
		for _, st := range statuses {
			mark := "ok"
			if !st.Exists {
				mark = "missing"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-28s %-8s %d bytes\n", st.Name, mark, st.Size)
		}
		return model.MissingArtifacts(statuses)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.UserAgent())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().IntVarP(&portFlag, "port", "p", 0, "HTTP port (overrides HTTP_PORT)")
	rootCmd.PersistentFlags().StringVar(&modelDir, "model-dir", "", "model directory (overrides MODEL_DIR)")

	rootCmd.AddCommand(checkCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	if configFile != "" {
		if err := os.Setenv(config.ConfigFileEnv, configFile); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if portFlag != 0 {
		cfg.HTTP.Port = portFlag
	}
	if modelDir != "" {
		cfg.Model.Dir = modelDir
	}
	if err := cfg.ApplyLogging(logger); err != nil {
		return nil, fmt.Errorf("failed to apply logging configuration: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.WithFields(logrus.Fields{
		"version":   version.Version,
		"model_dir": cfg.Model.Dir,
		"port":      cfg.HTTP.Port,
	}).Info("Starting emotion detector")

	metrics.Init(logger)
	metrics.EnableMetrics(cfg.HTTP.EnableMetrics)
	metrics.SetMetricsPath(cfg.HTTP.MetricsPath)

	loader := model.NewLoader(model.LoaderConfig{
		Dir:            cfg.Model.Dir,
		GraphFile:      cfg.Model.GraphFile,
		LibraryPath:    cfg.Model.LibraryPath,
		InputName:      cfg.Model.InputName,
		OutputName:     cfg.Model.OutputName,
		IntraOpThreads: cfg.Model.IntraOpThreads,
	}, logger, model.WithStateObserver(func(s model.State) {
		metrics.SetModelState(int(s))
	}))

	// A failed load keeps the server up so the page can show why.
	if _, err := loader.Load(ctx); err != nil {
		logger.WithError(err).Error("Model failed to load; analysis is disabled")
	}

	ffmpeg := audio.NewFFmpegDecoder(audio.FFmpegConfig{
		Path:    cfg.Audio.FFmpegPath,
		TempDir: cfg.Audio.TempDir,
	}, logger)
	if !ffmpeg.Available(ctx) {
		logger.WithField("path", ffmpeg.Path()).Warn("ffmpeg not found; only WAV uploads can be decoded")
	}
	preprocessor := audio.NewPreprocessor(audio.NewChainDecoder(audio.NewWAVDecoder(logger), ffmpeg, logger), logger)
	analyzer := detector.New(preprocessor, detector.FromLoader(loader), logger)

	limiter := ratelimit.NewHTTPMiddleware(&ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		BlockDuration:     cfg.RateLimit.BlockDuration,
		WhitelistedIPs:    config.SplitList(cfg.RateLimit.WhitelistedIPs),
		WhitelistedPaths:  config.SplitList(cfg.RateLimit.WhitelistedPaths),
	}, logger)

	tlsConfig, err := cfg.HTTP.ServerTLSConfig(logger)
	if err != nil {
		return err
	}

	httpConfig := http_server.DefaultConfig()
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.EnableMetrics = cfg.HTTP.EnableMetrics
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.MaxUploadBytes = cfg.HTTP.MaxUploadBytes
	httpConfig.TLS = tlsConfig

	server, err := http_server.NewServer(logger, httpConfig, http_server.Dependencies{
		Analyzer:  analyzer,
		Model:     loader,
		ModelDir:  cfg.Model.Dir,
		Decoder:   ffmpeg,
		RateLimit: limiter,
	})
	if err != nil {
		return err
	}

	shutdown := util.NewGracefulShutdown(logger, cfg.HTTP.ShutdownTimeout)
	shutdown.Register(util.ShutdownResource{Name: "http", Priority: 1, Shutdown: server.Shutdown})
	shutdown.RegisterFunc("rate-limiter", 2, func() error {
		limiter.Close()
		return nil
	})
	shutdown.RegisterFunc("model", 3, loader.Close)

	serveErr := server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err, ok := <-serveErr:
		if ok && err != nil {
			runErr = err
		}
	}

	cancel()
	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Warn("Shutdown completed with errors")
	}
	logger.Info("Emotion detector stopped")
	return runErr
}
