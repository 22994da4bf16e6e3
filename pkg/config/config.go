package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"emotion-detector/pkg/errors"
)

// ConfigFileEnv names an optional YAML file applied before environment variables.
const ConfigFileEnv = "EMOTION_CONFIG_FILE"

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Model     ModelConfig     `json:"model" yaml:"model"`
	Audio     AudioConfig     `json:"audio" yaml:"audio"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Launcher  LauncherConfig  `json:"launcher" yaml:"launcher"`

	// Source records the YAML file that was applied, if any
	Source string `json:"source,omitempty" yaml:"-"`
}

// HTTPConfig holds the web server configuration
type HTTPConfig struct {
	// HTTP port
	Port int `json:"port" yaml:"port" env:"HTTP_PORT" default:"8501"`

	// Whether metrics endpoint is enabled
	EnableMetrics bool `json:"enable_metrics" yaml:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`

	// Path of the metrics endpoint
	MetricsPath string `json:"metrics_path" yaml:"metrics_path" env:"HTTP_METRICS_PATH" default:"/metrics"`

	// Read timeout for HTTP requests, uploads included
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"30s"`

	// Write timeout for HTTP responses, inference included
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"2m"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`

	// Maximum upload size in bytes, 0 for no limit
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes" env:"HTTP_MAX_UPLOAD_BYTES" default:"0"`

	// Enable TLS for the HTTP server
	TLSEnabled bool `json:"tls_enabled" yaml:"tls_enabled" env:"HTTP_TLS_ENABLED" default:"false"`

	// Path to TLS certificate file
	TLSCertFile string `json:"tls_cert_file" yaml:"tls_cert_file" env:"HTTP_TLS_CERT_FILE"`

	// Path to TLS key file
	TLSKeyFile string `json:"tls_key_file" yaml:"tls_key_file" env:"HTTP_TLS_KEY_FILE"`

	// Minimum TLS version, 1.2 or 1.3
	TLSMinVersion string `json:"tls_min_version" yaml:"tls_min_version" env:"HTTP_TLS_MIN_VERSION" default:"1.2"`
}

// ModelConfig locates the model artifacts
type ModelConfig struct {
	Dir            string `json:"dir" yaml:"dir" env:"MODEL_DIR" default:"./model"`
	GraphFile      string `json:"graph_file" yaml:"graph_file" env:"MODEL_GRAPH_FILE" default:"model.onnx"`
	LibraryPath    string `json:"ort_library" yaml:"ort_library" env:"MODEL_ORT_LIBRARY"`
	InputName      string `json:"input_name" yaml:"input_name" env:"MODEL_INPUT_NAME" default:"input_values"`
	OutputName     string `json:"output_name" yaml:"output_name" env:"MODEL_OUTPUT_NAME" default:"last_hidden_state"`
	IntraOpThreads int    `json:"intra_op_threads" yaml:"intra_op_threads" env:"MODEL_INTRA_OP_THREADS" default:"0"`
}

// AudioConfig holds decoder settings
type AudioConfig struct {
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path" env:"AUDIO_FFMPEG_PATH" default:"ffmpeg"`
	TempDir    string `json:"temp_dir" yaml:"temp_dir" env:"AUDIO_TEMP_DIR"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT" default:"json"`
	OutputFile string `json:"output_file" yaml:"output_file" env:"LOG_OUTPUT_FILE"`
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled" env:"RATE_LIMIT_ENABLED" default:"false"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second" env:"RATE_LIMIT_RPS" default:"2"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size" env:"RATE_LIMIT_BURST" default:"10"`
	BlockDuration     time.Duration `json:"block_duration" yaml:"block_duration" env:"RATE_LIMIT_BLOCK_DURATION" default:"1m"`
	WhitelistedIPs    string        `json:"whitelisted_ips" yaml:"whitelisted_ips" env:"RATE_LIMIT_WHITELIST_IPS" default:"127.0.0.1,::1"`
	WhitelistedPaths  string        `json:"whitelisted_paths" yaml:"whitelisted_paths" env:"RATE_LIMIT_WHITELIST_PATHS" default:"/health,/health/live,/health/ready,/metrics"`
}

// LauncherConfig holds settings for the launcher process
type LauncherConfig struct {
	ServerBinary string `json:"server_binary" yaml:"server_binary" env:"LAUNCHER_SERVER_BINARY"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8501,
			EnableMetrics:   true,
			MetricsPath:     "/metrics",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			TLSMinVersion:   "1.2",
		},
		Model: ModelConfig{
			Dir:        "./model",
			GraphFile:  "model.onnx",
			InputName:  "input_values",
			OutputName: "last_hidden_state",
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
			TempDir:    os.TempDir(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			BurstSize:         10,
			BlockDuration:     time.Minute,
			WhitelistedIPs:    "127.0.0.1,::1",
			WhitelistedPaths:  "/health,/health/live,/health/ready,/metrics",
		},
	}
}

// Load reads .env, an optional YAML file, then environment variables, in
// increasing order of precedence.
func Load(logger *logrus.Logger) (*Config, error) {
	loadDotEnv(logger)

	config := Default()

	if err := applyYAML(logger, config); err != nil {
		return nil, err
	}

	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}
	if err := loadModelConfig(logger, &config.Model); err != nil {
		return nil, errors.Wrap(err, "failed to load model configuration")
	}
	if err := loadAudioConfig(logger, &config.Audio); err != nil {
		return nil, errors.Wrap(err, "failed to load audio configuration")
	}
	if err := loadLoggingConfig(logger, &config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}
	if err := loadRateLimitConfig(logger, &config.RateLimit); err != nil {
		return nil, errors.Wrap(err, "failed to load rate limit configuration")
	}
	config.Launcher.ServerBinary = getEnv("LAUNCHER_SERVER_BINARY", config.Launcher.ServerBinary)

	if err := validateConfig(logger, config); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return config, nil
}

// loadDotEnv tries the usual .env locations and keeps the first that loads
func loadDotEnv(logger *logrus.Logger) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr != nil {
			continue
		}
		absPath, _ := filepath.Abs(envFile)
		logger.WithField("path", absPath).Debug("Attempting to load .env file")

		if loadErr := godotenv.Load(envFile); loadErr == nil {
			loadedFrom = absPath
			break
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}
}

// applyYAML overlays the file named by EMOTION_CONFIG_FILE, or the first
// config.yaml found in the conventional locations.
func applyYAML(logger *logrus.Logger, config *Config) error {
	explicit := os.Getenv(ConfigFileEnv)
	candidates := []string{filepath.Join("config", "config.yaml"), "config.yaml"}
	if explicit != "" {
		candidates = []string{explicit}
	}

	for _, path := range candidates {
		f, err := os.Open(path)
		if err != nil {
			if explicit != "" && os.IsNotExist(err) {
				return errors.NewNotFound(fmt.Sprintf("config file %s does not exist", explicit),
					map[string]interface{}{"path": explicit})
			}
			if explicit != "" {
				return errors.Wrap(err, fmt.Sprintf("cannot open %s", explicit))
			}
			continue
		}

		err = yaml.NewDecoder(f).Decode(config)
		f.Close()
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to parse config file %s", path))
		}

		config.Source, _ = filepath.Abs(path)
		logger.WithField("path", config.Source).Info("Loaded configuration file")
		return nil
	}
	return nil
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	httpPort := getEnvInt("HTTP_PORT", config.Port)
	if httpPort < 1 || httpPort > 65535 {
		logger.Warnf("Invalid HTTP_PORT value %d, using default: 8501", httpPort)
		config.Port = 8501
	} else {
		config.Port = httpPort
	}

	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", config.EnableMetrics)
	config.MetricsPath = getEnv("HTTP_METRICS_PATH", config.MetricsPath)

	config.ReadTimeout = durationOrWarn(logger, "HTTP_READ_TIMEOUT", config.ReadTimeout)
	config.WriteTimeout = durationOrWarn(logger, "HTTP_WRITE_TIMEOUT", config.WriteTimeout)
	config.ShutdownTimeout = durationOrWarn(logger, "HTTP_SHUTDOWN_TIMEOUT", config.ShutdownTimeout)

	if raw := os.Getenv("HTTP_MAX_UPLOAD_BYTES"); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || limit < 0 {
			logger.Warnf("Invalid HTTP_MAX_UPLOAD_BYTES '%s', uploads are not limited", raw)
			limit = 0
		}
		config.MaxUploadBytes = limit
	}

	config.TLSEnabled = getEnvBool("HTTP_TLS_ENABLED", config.TLSEnabled)
	config.TLSCertFile = getEnv("HTTP_TLS_CERT_FILE", config.TLSCertFile)
	config.TLSKeyFile = getEnv("HTTP_TLS_KEY_FILE", config.TLSKeyFile)
	config.TLSMinVersion = getEnv("HTTP_TLS_MIN_VERSION", config.TLSMinVersion)

	return nil
}

func loadModelConfig(logger *logrus.Logger, config *ModelConfig) error {
	config.Dir = getEnv("MODEL_DIR", config.Dir)
	config.GraphFile = getEnv("MODEL_GRAPH_FILE", config.GraphFile)
	config.LibraryPath = getEnv("MODEL_ORT_LIBRARY", getEnv("ONNXRUNTIME_LIB", config.LibraryPath))
	config.InputName = getEnv("MODEL_INPUT_NAME", config.InputName)
	config.OutputName = getEnv("MODEL_OUTPUT_NAME", config.OutputName)

	threads := getEnvInt("MODEL_INTRA_OP_THREADS", config.IntraOpThreads)
	if threads < 0 {
		logger.Warn("Invalid MODEL_INTRA_OP_THREADS, using the runtime default")
		threads = 0
	}
	config.IntraOpThreads = threads

	return nil
}

func loadAudioConfig(logger *logrus.Logger, config *AudioConfig) error {
	config.FFmpegPath = getEnv("AUDIO_FFMPEG_PATH", config.FFmpegPath)
	config.TempDir = getEnv("AUDIO_TEMP_DIR", config.TempDir)
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	return nil
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) error {
	config.Level = getEnv("LOG_LEVEL", config.Level)
	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", config.Format)
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	config.OutputFile = getEnv("LOG_OUTPUT_FILE", config.OutputFile)
	return nil
}

func loadRateLimitConfig(logger *logrus.Logger, config *RateLimitConfig) error {
	config.Enabled = getEnvBool("RATE_LIMIT_ENABLED", config.Enabled)
	config.RequestsPerSecond = getEnvFloat("RATE_LIMIT_RPS", config.RequestsPerSecond)
	config.BurstSize = getEnvInt("RATE_LIMIT_BURST", config.BurstSize)
	config.BlockDuration = durationOrWarn(logger, "RATE_LIMIT_BLOCK_DURATION", config.BlockDuration)
	config.WhitelistedIPs = getEnv("RATE_LIMIT_WHITELIST_IPS", config.WhitelistedIPs)
	config.WhitelistedPaths = getEnv("RATE_LIMIT_WHITELIST_PATHS", config.WhitelistedPaths)

	if config.Enabled {
		logger.WithFields(logrus.Fields{
			"rps":   config.RequestsPerSecond,
			"burst": config.BurstSize,
			"block": config.BlockDuration,
		}).Info("HTTP rate limiting enabled")
	}
	return nil
}

func validateConfig(logger *logrus.Logger, config *Config) error {
	if strings.TrimSpace(config.Model.Dir) == "" {
		return errors.New("MODEL_DIR must not be empty")
	}

	if config.HTTP.EnableMetrics && !strings.HasPrefix(config.HTTP.MetricsPath, "/") {
		return errors.NewInvalidInput("HTTP_METRICS_PATH must start with /")
	}

	if config.HTTP.TLSEnabled && (config.HTTP.TLSCertFile == "" || config.HTTP.TLSKeyFile == "") {
		return errors.New("HTTP_TLS_ENABLED requires HTTP_TLS_CERT_FILE and HTTP_TLS_KEY_FILE")
	}

	if config.HTTP.WriteTimeout > 0 && config.HTTP.WriteTimeout < 10*time.Second {
		logger.Warn("HTTP_WRITE_TIMEOUT is shorter than 10s; long clips may time out during inference")
	}

	if config.RateLimit.Enabled {
		if config.RateLimit.RequestsPerSecond <= 0 {
			return errors.New("RATE_LIMIT_RPS must be positive when rate limiting is enabled")
		}
		if config.RateLimit.BurstSize < 1 {
			return errors.New("RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled")
		}
	}

	if config.Logging.OutputFile != "" {
		f, err := os.OpenFile(config.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("cannot write to log file: %s", config.Logging.OutputFile))
		}
		f.Close()
	}

	return nil
}

// ApplyLogging applies the logging configuration to the logger
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// SplitList splits a comma separated setting, dropping empty entries
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationOrWarn(logger *logrus.Logger, key string, current time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return current
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		logger.Warnf("Invalid %s value '%s', using %s", key, raw, current)
		return current
	}
	return d
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
