// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sammcj/pdf-ocr-compare/internal/ocrjob"
	"github.com/sammcj/pdf-ocr-compare/internal/raster"
	"github.com/sammcj/pdf-ocr-compare/internal/reassemble"
	"github.com/sammcj/pdf-ocr-compare/internal/stitch"
	"github.com/sammcj/pdf-ocr-compare/internal/storage"
	"github.com/sammcj/pdf-ocr-compare/internal/vision"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigPathEnvVar names an optional YAML configuration file
	ConfigPathEnvVar = "OCR_COMPARE_CONFIG"

	DefaultListenAddr     = ":8080"
	DefaultRequestTimeout = 5 * time.Minute
	DefaultMaxUploadBytes = int64(50 * 1024 * 1024) // 50MB
	DefaultMemoryTTL      = time.Hour
	DefaultRegion         = "us-east-1"
)

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	PublicURL      string        `yaml:"public_url"` // Externally reachable base URL, used for memory-store upload URLs
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// StorageConfig configures the content store
type StorageConfig struct {
	Backend       string        `yaml:"backend"` // "s3" or "memory"
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
	StagingPrefix string        `yaml:"staging_prefix"`
	MemoryTTL     time.Duration `yaml:"memory_ttl"`
}

// VisionConfig configures the vision provider
type VisionConfig struct {
	vision.OpenAIConfig `yaml:",inline"`

	Enabled           bool    `yaml:"enabled"`
	Prompt            string  `yaml:"prompt"`
	StitchPDFs        bool    `yaml:"stitch_pdfs"`
	JPEGQuality       int     `yaml:"jpeg_quality"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// OCRConfig configures the OCR job provider
type OCRConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Region       string        `yaml:"region"` // Defaults to the storage region
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Config holds the complete service configuration
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Log     LogConfig      `yaml:"log"`
	Storage StorageConfig  `yaml:"storage"`
	Raster  raster.Options `yaml:"raster"`
	Stitch  stitch.Layout  `yaml:"stitch"`
	Vision  VisionConfig   `yaml:"vision"`
	OCR     OCRConfig      `yaml:"ocr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     DefaultListenAddr,
			RequestTimeout: DefaultRequestTimeout,
			MaxUploadBytes: DefaultMaxUploadBytes,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend:       storage.BackendS3,
			Region:        DefaultRegion,
			PresignExpiry: storage.DefaultPresignExpiry,
			StagingPrefix: storage.DefaultStagingPrefix,
			MemoryTTL:     DefaultMemoryTTL,
		},
		Raster: raster.Options{
			Tool:     raster.ToolPdftoppm,
			Scale:    raster.DefaultScale,
			MaxPages: raster.DefaultMaxPages,
		},
		Stitch: stitch.DefaultLayout(),
		Vision: VisionConfig{
			OpenAIConfig: vision.OpenAIConfig{
				Model:       "gpt-4o",
				MaxTokens:   vision.DefaultMaxTokens,
				Temperature: vision.DefaultTemperature,
				Timeout:     vision.DefaultTimeout,
				ImageDetail: vision.DefaultImageDetail,
			},
			Enabled:     true,
			StitchPDFs:  true,
			JPEGQuality: reassemble.DefaultJPEGQuality,
		},
		OCR: OCRConfig{
			Enabled:      true,
			PollInterval: ocrjob.DefaultPollInterval,
		},
	}
}

// LoadConfig builds the configuration. path may be empty, in which case
// OCR_COMPARE_CONFIG is consulted; a missing .env file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[1:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	setString(&c.Server.ListenAddr, "LISTEN_ADDR")
	setString(&c.Server.PublicURL, "PUBLIC_URL")
	setDuration(&c.Server.RequestTimeout, "REQUEST_TIMEOUT")
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Server.MaxUploadBytes = n
		}
	}

	// Logging
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	// Storage
	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.Bucket, "S3_BUCKET")
	setString(&c.Storage.Region, "AWS_REGION")
	setDuration(&c.Storage.PresignExpiry, "PRESIGN_EXPIRY")
	setString(&c.Storage.StagingPrefix, "OCR_STAGING_PREFIX")
	setDuration(&c.Storage.MemoryTTL, "MEMORY_TTL")

	// Rasteriser and stitching
	if v := os.Getenv("RASTER_TOOL"); v != "" {
		c.Raster.Tool = raster.ConvertTool(strings.ToLower(v))
	}
	setString(&c.Raster.ToolPath, "RASTER_TOOL_PATH")
	setString(&c.Raster.ExtraArgs, "RASTER_EXTRA_ARGS")
	if v := os.Getenv("RASTER_SCALE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Raster.Scale = f
		}
	}
	setInt(&c.Raster.MaxPages, "RASTER_MAX_PAGES")
	if v := os.Getenv("STITCH_FIT"); v != "" {
		c.Stitch.Fit = stitch.Fit(strings.ToLower(v))
	}

	// Vision
	setBool(&c.Vision.Enabled, "VISION_ENABLED")
	setBool(&c.Vision.StitchPDFs, "VISION_STITCH_PDFS")
	setString(&c.Vision.BaseURL, "VISION_BASE_URL")
	if c.Vision.APIKey == "" {
		setString(&c.Vision.APIKey, "OPENAI_API_KEY")
	}
	setString(&c.Vision.APIKey, "VISION_API_KEY")
	setString(&c.Vision.Model, "VISION_MODEL")
	setString(&c.Vision.Prompt, "VISION_PROMPT")
	setString(&c.Vision.ImageDetail, "VISION_IMAGE_DETAIL")
	setInt(&c.Vision.MaxTokens, "VISION_MAX_TOKENS")
	setInt(&c.Vision.JPEGQuality, "VISION_JPEG_QUALITY")
	setDuration(&c.Vision.Timeout, "VISION_TIMEOUT")
	if v := os.Getenv("VISION_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Vision.Temperature = f
		}
	}
	if v := os.Getenv("VISION_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Vision.RequestsPerSecond = f
		}
	}

	// OCR
	setBool(&c.OCR.Enabled, "OCR_ENABLED")
	setString(&c.OCR.Region, "OCR_REGION")
	setDuration(&c.OCR.PollInterval, "OCR_POLL_INTERVAL")
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be greater than 0")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q (expected text or json)", c.Log.Format)
	}

	switch c.Storage.Backend {
	case storage.BackendS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
		if c.Storage.Region == "" {
			return fmt.Errorf("AWS_REGION is required for the s3 storage backend")
		}
	case storage.BackendMemory:
		if c.OCR.Enabled {
			return fmt.Errorf("the OCR provider reads documents from S3 and cannot be used with the memory storage backend; set OCR_ENABLED=false or STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q (expected %s or %s)", c.Storage.Backend, storage.BackendS3, storage.BackendMemory)
	}

	switch c.Raster.Tool {
	case raster.ToolPdftoppm, raster.ToolMutool:
	default:
		return fmt.Errorf("unsupported raster tool %q (expected %s or %s)", c.Raster.Tool, raster.ToolPdftoppm, raster.ToolMutool)
	}
	if c.Raster.Scale <= 0 {
		return fmt.Errorf("raster scale must be greater than 0")
	}

	if err := c.Stitch.Validate(); err != nil {
		return err
	}

	if c.Vision.JPEGQuality < 0 || c.Vision.JPEGQuality > 100 {
		return fmt.Errorf("JPEG quality must be between 1 and 100")
	}

	if c.OCR.Enabled && c.OCR.PollInterval <= 0 {
		return fmt.Errorf("OCR poll interval must be greater than 0")
	}

	return nil
}

// OCRRegion returns the region the OCR service is called in
func (c *Config) OCRRegion() string {
	if c.OCR.Region != "" {
		return c.OCR.Region
	}
	return c.Storage.Region
}

// VisionConfigured reports whether the vision provider has what it needs to run
func (c *Config) VisionConfigured() bool {
	return c.Vision.Enabled && c.Vision.Configured()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
