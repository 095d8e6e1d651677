package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dreamup/checkin-agent/internal/captcha"
	"github.com/dreamup/checkin-agent/internal/checkin"
)

// Detector backends
const (
	DetectorONNX   = "onnx"
	DetectorOpenAI = "openai"
)

// Config holds application configuration
type Config struct {
	Users     []string
	BaseURL   string
	Headless  bool
	WorkDir   string
	DBPath    string
	Detector  string
	ModelPath string
	// SecretID names an AWS Secrets Manager secret holding credentials
	SecretID string

	OpenAI  OpenAIConfig
	Captcha CaptchaConfig
	S3      S3Config
	Log     LogConfig
	Server  ServerConfig
}

// OpenAIConfig configures the vision-model detector
type OpenAIConfig struct {
	APIKey string
	Model  string
}

// CaptchaConfig tunes the solve loop
type CaptchaConfig struct {
	MaxAttempts int
	SettleDelay time.Duration
	ResultDelay time.Duration
	ElementWait time.Duration
}

// S3Config configures report and sample uploads. An empty bucket disables
// uploads.
type S3Config struct {
	Bucket        string
	Region        string
	UploadSamples bool
}

// LogConfig configures logging
type LogConfig struct {
	Level string
	File  string
}

// ServerConfig configures the HTTP job server
type ServerConfig struct {
	Port int
}

// New returns a viper instance with defaults, the config file search path
// and CHECKIN_* environment variables set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.checkin")

	d := captcha.DefaultConfig()
	v.SetDefault("users", []string{})
	v.SetDefault("base_url", checkin.DefaultBaseURL)
	v.SetDefault("headless", true)
	v.SetDefault("work_dir", "./checkin-data")
	v.SetDefault("db_path", "")
	v.SetDefault("detector", DetectorONNX)
	v.SetDefault("model_path", "./models/detector.onnx")
	v.SetDefault("secret_id", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "")
	v.SetDefault("captcha.max_attempts", d.MaxAttempts)
	v.SetDefault("captcha.settle_delay", d.SettleDelay)
	v.SetDefault("captcha.result_delay", d.ResultDelay)
	v.SetDefault("captcha.element_wait", d.ElementWait)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.upload_samples", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("server.port", 8080)

	// Read environment variables
	v.SetEnvPrefix("CHECKIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds command flags to config keys. flagToKey maps a flag name
// to its viper key; flags that do not exist are skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, flagToKey map[string]string) error {
	for name, key := range flagToKey {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the optional config file and returns the validated config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK - we'll use defaults
	}

	cfg := &Config{
		Users:     v.GetStringSlice("users"),
		BaseURL:   v.GetString("base_url"),
		Headless:  v.GetBool("headless"),
		WorkDir:   v.GetString("work_dir"),
		DBPath:    v.GetString("db_path"),
		Detector:  strings.ToLower(v.GetString("detector")),
		ModelPath: v.GetString("model_path"),
		SecretID:  v.GetString("secret_id"),
		OpenAI: OpenAIConfig{
			APIKey: v.GetString("openai.api_key"),
			Model:  v.GetString("openai.model"),
		},
		Captcha: CaptchaConfig{
			MaxAttempts: v.GetInt("captcha.max_attempts"),
			SettleDelay: v.GetDuration("captcha.settle_delay"),
			ResultDelay: v.GetDuration("captcha.result_delay"),
			ElementWait: v.GetDuration("captcha.element_wait"),
		},
		S3: S3Config{
			Bucket:        v.GetString("s3.bucket"),
			Region:        v.GetString("s3.region"),
			UploadSamples: v.GetBool("s3.upload_samples"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
		Server: ServerConfig{
			Port: v.GetInt("server.port"),
		},
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.WorkDir, "checkin.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	switch c.Detector {
	case DetectorONNX:
		if c.ModelPath == "" {
			return fmt.Errorf("model_path is required for the onnx detector")
		}
	case DetectorOpenAI:
	default:
		return fmt.Errorf("unknown detector %q (want %s or %s)", c.Detector, DetectorONNX, DetectorOpenAI)
	}
	if c.Captcha.MaxAttempts <= 0 {
		return fmt.Errorf("captcha.max_attempts must be positive, got %d", c.Captcha.MaxAttempts)
	}
	if c.Captcha.SettleDelay < 0 || c.Captcha.ResultDelay < 0 || c.Captcha.ElementWait < 0 {
		return fmt.Errorf("captcha delays must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.S3.UploadSamples && c.S3.Bucket == "" {
		return fmt.Errorf("s3.upload_samples needs s3.bucket")
	}
	return nil
}

// Accounts parses the configured users
func (c *Config) Accounts() ([]checkin.Account, error) {
	return checkin.ParseAccounts(c.Users)
}

// SolverConfig returns the solve-loop settings
func (c *Config) SolverConfig() captcha.Config {
	cfg := captcha.DefaultConfig()
	cfg.MaxAttempts = c.Captcha.MaxAttempts
	cfg.SettleDelay = c.Captcha.SettleDelay
	cfg.ResultDelay = c.Captcha.ResultDelay
	cfg.ElementWait = c.Captcha.ElementWait
	return cfg
}
