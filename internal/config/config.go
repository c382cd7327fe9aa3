package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// Config holds all configuration for the holdseg server and workers.
type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Model       ModelConfig
	Postprocess PostprocessConfig
	Pool        PoolConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	LogLevel        string
	MaxUploadBytes  int64
	RateLimitPerMin int
}

// RedisConfig is optional. An empty URL disables caching and the status mirror.
type RedisConfig struct {
	URL           string
	PredictionTTL time.Duration
	JobStatusTTL  time.Duration
}

type ModelConfig struct {
	Runtime   string
	InputSize int
	Channels  int
	// MaxImagePixels caps the decoded width×height of an upload.
	MaxImagePixels int
	Outputs        models.OutputSpec
	ONNX           ONNXConfig
	KServe         KServeConfig
}

type ONNXConfig struct {
	ModelPath      string
	LibraryPath    string
	IntraOpThreads int
}

type KServeConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type PostprocessConfig struct {
	ConfidenceThreshold float64
	IoUThreshold        float64
	NumMaskCoeffs       int
	MaxAreaRatio        float64
	MinAreaRatio        float64
	MaxAspectRatio      float64
	SmoothRadius        int
	SmoothSigma         float64
	ExpansionRatio      float64
}

type PoolConfig struct {
	MaxWorkers    int
	Mode          string
	WorkerBinary  string
	TaskTimeout   time.Duration
	JobTTL        time.Duration
	SweepInterval time.Duration
}

const (
	RuntimeONNX   = "onnx"
	RuntimeKServe = "kserve"

	ModeInProcess = "inproc"
	ModeProcess   = "process"
)

var validRuntimes = map[string]bool{
	RuntimeONNX:   true,
	RuntimeKServe: true,
}

var validModes = map[string]bool{
	ModeInProcess: true,
	ModeProcess:   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("HOLDSEG_PORT", 8080),
			Env:             envString("HOLDSEG_ENV", "development"),
			LogLevel:        strings.ToLower(envString("HOLDSEG_LOG_LEVEL", "info")),
			MaxUploadBytes:  int64(envInt("HOLDSEG_MAX_UPLOAD_BYTES", 20<<20)),
			RateLimitPerMin: envInt("HOLDSEG_RATE_LIMIT_PER_MIN", 30),
		},
		Redis: RedisConfig{
			URL:           os.Getenv("REDIS_URL"),
			PredictionTTL: envDuration("HOLDSEG_PREDICTION_TTL", time.Hour),
			JobStatusTTL:  envDuration("HOLDSEG_JOB_STATUS_TTL", 30*time.Minute),
		},
		Model: ModelConfig{
			Runtime:        envString("HOLDSEG_MODEL_RUNTIME", RuntimeONNX),
			InputSize:      envInt("HOLDSEG_MODEL_INPUT_SIZE", 1024),
			Channels:       envInt("HOLDSEG_MODEL_CHANNELS", 3),
			MaxImagePixels: envInt("HOLDSEG_MAX_IMAGE_PIXELS", 64<<20),
			Outputs: models.OutputSpec{
				Version:    models.DefaultOutputSpec.Version,
				Input:      envString("HOLDSEG_MODEL_INPUT_NAME", models.DefaultOutputSpec.Input),
				Detections: envString("HOLDSEG_MODEL_DETECTIONS_OUTPUT", models.DefaultOutputSpec.Detections),
				Prototypes: envString("HOLDSEG_MODEL_PROTOTYPES_OUTPUT", models.DefaultOutputSpec.Prototypes),
			},
			ONNX: ONNXConfig{
				ModelPath:      envString("HOLDSEG_MODEL_PATH", "models/model.onnx"),
				LibraryPath:    os.Getenv("ONNXRUNTIME_LIB_PATH"),
				IntraOpThreads: envInt("HOLDSEG_ONNX_INTRA_OP_THREADS", 0),
			},
			KServe: KServeConfig{
				BaseURL: os.Getenv("KSERVE_BASE_URL"),
				Model:   envString("KSERVE_MODEL", "holdseg"),
				Timeout: envDurationSecs("KSERVE_TIMEOUT_SECS", 60*time.Second),
			},
		},
		Postprocess: PostprocessConfig{
			ConfidenceThreshold: envFloat("HOLDSEG_CONFIDENCE_THRESHOLD", 0.25),
			IoUThreshold:        envFloat("HOLDSEG_IOU_THRESHOLD", 0.5),
			NumMaskCoeffs:       envInt("HOLDSEG_NUM_MASK_COEFFS", 32),
			MaxAreaRatio:        envFloat("HOLDSEG_MAX_AREA_RATIO", 0.03),
			MinAreaRatio:        envFloat("HOLDSEG_MIN_AREA_RATIO", 0.01),
			MaxAspectRatio:      envFloat("HOLDSEG_MAX_ASPECT_RATIO", 2.0),
			SmoothRadius:        envInt("HOLDSEG_SMOOTH_RADIUS", 2),
			SmoothSigma:         envFloat("HOLDSEG_SMOOTH_SIGMA", 0.75),
			ExpansionRatio:      envFloat("HOLDSEG_EXPANSION_RATIO", 0.005),
		},
		Pool: PoolConfig{
			MaxWorkers:    envInt("HOLDSEG_MAX_WORKERS", 4),
			Mode:          envString("HOLDSEG_POOL_MODE", ModeInProcess),
			WorkerBinary:  envString("HOLDSEG_WORKER_BINARY", "holdctl"),
			TaskTimeout:   envDurationSecs("HOLDSEG_TASK_TIMEOUT_SECS", 120*time.Second),
			JobTTL:        envDuration("HOLDSEG_JOB_TTL", time.Hour),
			SweepInterval: envDuration("HOLDSEG_SWEEP_INTERVAL", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HOLDSEG_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("HOLDSEG_LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("HOLDSEG_MAX_UPLOAD_BYTES must be positive")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validRuntimes[c.Model.Runtime] {
		return fmt.Errorf("HOLDSEG_MODEL_RUNTIME must be one of onnx, kserve; got %q", c.Model.Runtime)
	}
	if c.Model.InputSize <= 0 {
		return fmt.Errorf("HOLDSEG_MODEL_INPUT_SIZE must be positive, got %d", c.Model.InputSize)
	}
	if c.Model.Channels != 1 && c.Model.Channels != 3 {
		return fmt.Errorf("HOLDSEG_MODEL_CHANNELS must be 1 or 3, got %d", c.Model.Channels)
	}
	if c.Model.MaxImagePixels <= 0 {
		return fmt.Errorf("HOLDSEG_MAX_IMAGE_PIXELS must be positive, got %d", c.Model.MaxImagePixels)
	}
	if c.Model.Outputs.Detections == "" || c.Model.Outputs.Prototypes == "" {
		return fmt.Errorf("model output names must not be empty")
	}
	if c.Model.Runtime == RuntimeONNX && c.Model.ONNX.ModelPath == "" {
		return fmt.Errorf("HOLDSEG_MODEL_PATH is required when HOLDSEG_MODEL_RUNTIME is onnx")
	}
	if c.Model.Runtime == RuntimeKServe {
		if c.Model.KServe.BaseURL == "" {
			return fmt.Errorf("KSERVE_BASE_URL is required when HOLDSEG_MODEL_RUNTIME is kserve")
		}
		if !strings.HasPrefix(c.Model.KServe.BaseURL, "http://") && !strings.HasPrefix(c.Model.KServe.BaseURL, "https://") {
			return fmt.Errorf("KSERVE_BASE_URL must start with http:// or https://, got %q", c.Model.KServe.BaseURL)
		}
	}

	p := c.Postprocess
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("HOLDSEG_CONFIDENCE_THRESHOLD must be in (0, 1], got %v", p.ConfidenceThreshold)
	}
	if p.IoUThreshold <= 0 || p.IoUThreshold > 1 {
		return fmt.Errorf("HOLDSEG_IOU_THRESHOLD must be in (0, 1], got %v", p.IoUThreshold)
	}
	if p.NumMaskCoeffs <= 0 {
		return fmt.Errorf("HOLDSEG_NUM_MASK_COEFFS must be positive, got %d", p.NumMaskCoeffs)
	}
	if p.MinAreaRatio < 0 || p.MaxAreaRatio <= 0 || p.MinAreaRatio > p.MaxAreaRatio {
		return fmt.Errorf("area ratios must satisfy 0 <= min (%v) <= max (%v)", p.MinAreaRatio, p.MaxAreaRatio)
	}
	if p.MaxAspectRatio < 1 {
		return fmt.Errorf("HOLDSEG_MAX_ASPECT_RATIO must be at least 1, got %v", p.MaxAspectRatio)
	}
	if p.SmoothRadius < 0 || p.SmoothSigma <= 0 {
		return fmt.Errorf("smoothing needs radius >= 0 and sigma > 0")
	}
	if p.ExpansionRatio < 0 {
		return fmt.Errorf("HOLDSEG_EXPANSION_RATIO must not be negative, got %v", p.ExpansionRatio)
	}

	if c.Pool.MaxWorkers <= 0 {
		return fmt.Errorf("HOLDSEG_MAX_WORKERS must be positive, got %d", c.Pool.MaxWorkers)
	}
	if !validModes[c.Pool.Mode] {
		return fmt.Errorf("HOLDSEG_POOL_MODE must be one of inproc, process; got %q", c.Pool.Mode)
	}
	if c.Pool.Mode == ModeProcess && c.Pool.WorkerBinary == "" {
		return fmt.Errorf("HOLDSEG_WORKER_BINARY is required when HOLDSEG_POOL_MODE is process")
	}
	if c.Pool.TaskTimeout <= 0 {
		return fmt.Errorf("HOLDSEG_TASK_TIMEOUT_SECS must be positive")
	}
	if c.Pool.JobTTL <= 0 || c.Pool.SweepInterval <= 0 {
		return fmt.Errorf("HOLDSEG_JOB_TTL and HOLDSEG_SWEEP_INTERVAL must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
