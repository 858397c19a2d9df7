package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/docquote/internal/inference"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds settings for both binaries. Values are resolved as
// defaults, then the YAML file named by CONFIG_FILE, then the environment
// (including a .env file in the working directory).
type Config struct {
	LogLevel string `yaml:"log_level"`

	// docextract HTTP
	Port           string `yaml:"port"`
	APIKey         string `yaml:"api_key"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	// Inference
	InferenceBackend       string        `yaml:"inference_backend"`
	InferenceURL           string        `yaml:"inference_url"`
	InferenceAPIKey        string        `yaml:"inference_api_key"`
	InferenceModel         string        `yaml:"inference_model"`
	InferencePrompt        string        `yaml:"inference_prompt"`
	MaxNewTokens           int           `yaml:"max_new_tokens"`
	InferenceTimeout       time.Duration `yaml:"inference_timeout"`
	MaxConcurrentInference int           `yaml:"max_concurrent_inference"`

	// Documents
	PDFMaxPages int           `yaml:"pdf_max_pages"`
	PDFDPI      int           `yaml:"pdf_dpi"`
	PictureMode string        `yaml:"picture_mode"`
	ResultTTL   time.Duration `yaml:"result_ttl"`

	// stockserver
	MarketTransport string        `yaml:"market_transport"`
	MarketAddr      string        `yaml:"market_addr"`
	MarketBaseURL   string        `yaml:"market_base_url"`
	MarketTimeout   time.Duration `yaml:"market_timeout"`
}

func defaults() Config {
	return Config{
		LogLevel: "info",

		Port:           "7860",
		MaxUploadBytes: 20 << 20,

		InferenceBackend:       "openai",
		InferenceURL:           "http://localhost:8000/v1",
		InferenceModel:         inference.DefaultModelID,
		InferencePrompt:        inference.DefaultPrompt,
		MaxNewTokens:           inference.DefaultMaxNewTokens,
		InferenceTimeout:       300 * time.Second,
		MaxConcurrentInference: 1,

		PDFMaxPages: 1,
		PDFDPI:      144,
		PictureMode: "placeholder",
		ResultTTL:   time.Hour,

		MarketTransport: "stdio",
		MarketAddr:      ":8081",
		MarketBaseURL:   "https://query1.finance.yahoo.com",
		MarketTimeout:   30 * time.Second,
	}
}

// Load resolves the configuration. A missing .env file is not an error; a
// missing CONFIG_FILE is.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)

	c.Port = envOr("PORT", c.Port)
	c.APIKey = envOr("DOCEXTRACT_API_KEY", c.APIKey)
	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)

	c.InferenceBackend = envOr("INFERENCE_BACKEND", c.InferenceBackend)
	c.InferenceURL = envOr("INFERENCE_URL", c.InferenceURL)
	c.InferenceAPIKey = envOr("INFERENCE_API_KEY", c.InferenceAPIKey)
	c.InferenceModel = envOr("INFERENCE_MODEL", c.InferenceModel)
	c.InferencePrompt = envOr("INFERENCE_PROMPT", c.InferencePrompt)
	c.MaxNewTokens = envInt("MAX_NEW_TOKENS", c.MaxNewTokens)
	c.InferenceTimeout = envDuration("INFERENCE_TIMEOUT", c.InferenceTimeout)
	c.MaxConcurrentInference = envInt("MAX_CONCURRENT_INFERENCE", c.MaxConcurrentInference)

	c.PDFMaxPages = envInt("PDF_MAX_PAGES", c.PDFMaxPages)
	c.PDFDPI = envInt("PDF_DPI", c.PDFDPI)
	c.PictureMode = envOr("PICTURE_MODE", c.PictureMode)
	c.ResultTTL = envDuration("RESULT_TTL", c.ResultTTL)

	c.MarketTransport = envOr("MARKET_TRANSPORT", c.MarketTransport)
	c.MarketAddr = envOr("MARKET_ADDR", c.MarketAddr)
	c.MarketBaseURL = envOr("MARKET_BASE_URL", c.MarketBaseURL)
	c.MarketTimeout = envDuration("MARKET_HTTP_TIMEOUT", c.MarketTimeout)
}

func (c *Config) normalize() {
	d := defaults()
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if c.MaxNewTokens <= 0 {
		c.MaxNewTokens = d.MaxNewTokens
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = d.InferenceTimeout
	}
	if c.MaxConcurrentInference <= 0 {
		c.MaxConcurrentInference = d.MaxConcurrentInference
	}
	if c.PDFMaxPages <= 0 {
		c.PDFMaxPages = d.PDFMaxPages
	}
	if c.PDFDPI <= 0 {
		c.PDFDPI = d.PDFDPI
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = d.ResultTTL
	}
	if c.MarketTimeout <= 0 {
		c.MarketTimeout = d.MarketTimeout
	}
	c.InferenceBackend = strings.ToLower(c.InferenceBackend)
	c.PictureMode = strings.ToLower(c.PictureMode)
	c.MarketTransport = strings.ToLower(c.MarketTransport)
}

// ValidateExtract checks the settings docextract depends on.
func (c Config) ValidateExtract() error {
	switch c.InferenceBackend {
	case "openai", "worker":
	default:
		return fmt.Errorf("INFERENCE_BACKEND must be openai or worker, got %q", c.InferenceBackend)
	}
	if c.InferenceURL == "" {
		return fmt.Errorf("INFERENCE_URL is required")
	}
	switch c.PictureMode {
	case "placeholder", "embedded":
	default:
		return fmt.Errorf("PICTURE_MODE must be placeholder or embedded, got %q", c.PictureMode)
	}
	return nil
}

// ValidateMarket checks the settings stockserver depends on.
func (c Config) ValidateMarket() error {
	switch c.MarketTransport {
	case "stdio", "sse":
	default:
		return fmt.Errorf("MARKET_TRANSPORT must be stdio or sse, got %q", c.MarketTransport)
	}
	if c.MarketBaseURL == "" {
		return fmt.Errorf("MARKET_BASE_URL is required")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
