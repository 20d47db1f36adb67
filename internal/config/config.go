// Package config provides configuration loading and validation for the pipeline agent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the agent configuration. It can be loaded from a JSON or YAML file;
// environment variables override file values and CLI flags override both.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Readiness ReadinessConfig `json:"readiness" yaml:"readiness"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`

	Catalog   string           `json:"catalog,omitempty" yaml:"catalog"` // YAML file with pipelines and personas
	Schedules []ScheduleConfig `json:"schedules,omitempty" yaml:"schedules" validate:"dive"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port int `json:"port,omitempty" yaml:"port" validate:"gte=0,lte=65535"`
}

// DatabaseConfig holds persistence settings. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL string `json:"url,omitempty" yaml:"url"`
}

// LLMConfig selects the text generation provider.
type LLMConfig struct {
	Provider string `json:"provider,omitempty" yaml:"provider" validate:"omitempty,oneof=gemini openai"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key"`
	Model    string `json:"model,omitempty" yaml:"model"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url"`
}

// EngineConfig holds compute engine settings.
type EngineConfig struct {
	URL          string   `json:"url,omitempty" yaml:"url"`
	WorkflowDir  string   `json:"workflow_dir,omitempty" yaml:"workflow_dir"`
	OutputDir    string   `json:"output_dir,omitempty" yaml:"output_dir"`
	Concurrency  int      `json:"concurrency,omitempty" yaml:"concurrency" validate:"gte=0,lte=64"`
	MaxRetries   int      `json:"max_retries,omitempty" yaml:"max_retries" validate:"gte=0,lte=10"`
	PollInterval Duration `json:"poll_interval,omitempty" yaml:"poll_interval"`
	JobTimeout   Duration `json:"job_timeout,omitempty" yaml:"job_timeout"`
	FFmpegPath   string   `json:"ffmpeg_path,omitempty" yaml:"ffmpeg_path"`
}

// ReadinessConfig holds readiness monitor settings.
type ReadinessConfig struct {
	PollInterval    Duration `json:"poll_interval,omitempty" yaml:"poll_interval"`
	WaitTimeout     Duration `json:"wait_timeout,omitempty" yaml:"wait_timeout"`
	GateOnReadiness *bool    `json:"gate_on_readiness,omitempty" yaml:"gate_on_readiness"`
}

// StorageConfig holds MinIO settings for uploading finished artifacts.
type StorageConfig struct {
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key"`
	Bucket    string `json:"bucket,omitempty" yaml:"bucket"`
	UseSSL    bool   `json:"use_ssl,omitempty" yaml:"use_ssl"`
}

// Enabled reports whether artifact upload is configured.
func (s StorageConfig) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != ""
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `json:"level,omitempty" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	File  string `json:"file,omitempty" yaml:"file"`
	JSON  bool   `json:"json,omitempty" yaml:"json"`
}

// AuthConfig enables bearer-token auth on the HTTP API when Secret is set.
type AuthConfig struct {
	JWTSecret string   `json:"jwt_secret,omitempty" yaml:"jwt_secret"`
	TokenTTL  Duration `json:"token_ttl,omitempty" yaml:"token_ttl"`
}

// ScheduleConfig triggers a pipeline on a cron expression.
type ScheduleConfig struct {
	PipelineID string   `json:"pipeline_id" yaml:"pipeline_id" validate:"required"`
	Cron       string   `json:"cron" yaml:"cron" validate:"required"`
	Topics     []string `json:"topics,omitempty" yaml:"topics"`
}

// Duration accepts "30s"-style strings or integer milliseconds in config files.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// LoadConfig loads configuration from a JSON or YAML file chosen by extension.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// ApplyEnv overrides file values with environment variables when they are set.
func (c *Config) ApplyEnv() {
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.APIKey, "GEMINI_API_KEY")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.Engine.URL, "COMFY_URL")
	setString(&c.Engine.OutputDir, "OUTPUT_DIR")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Storage.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Storage.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Storage.Bucket, "MINIO_BUCKET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.File, "LOG_PATH")
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate checks that the configuration has valid values.
// Required connection settings are checked by the commands that need them.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.Engine.WorkflowDir != "" {
		if _, err := os.Stat(c.Engine.WorkflowDir); os.IsNotExist(err) {
			return fmt.Errorf("config error: workflow directory not found: %s", c.Engine.WorkflowDir)
		}
	}
	if c.Catalog != "" {
		if _, err := os.Stat(c.Catalog); os.IsNotExist(err) {
			return fmt.Errorf("config error: catalog file not found: %s", c.Catalog)
		}
	}
	if c.Storage.Endpoint != "" && c.Storage.Bucket == "" {
		return fmt.Errorf("config error: 'storage.bucket' is required when 'storage.endpoint' is set")
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Server.Port == 0 {
		result.Server.Port = defaults.Server.Port
	}
	if result.LLM.Provider == "" {
		result.LLM.Provider = defaults.LLM.Provider
	}
	if result.LLM.Model == "" {
		result.LLM.Model = defaults.LLM.Model
	}
	if result.Engine.URL == "" {
		result.Engine.URL = defaults.Engine.URL
	}
	if result.Engine.WorkflowDir == "" {
		result.Engine.WorkflowDir = defaults.Engine.WorkflowDir
	}
	if result.Engine.OutputDir == "" {
		result.Engine.OutputDir = defaults.Engine.OutputDir
	}
	if result.Engine.Concurrency == 0 {
		result.Engine.Concurrency = defaults.Engine.Concurrency
	}
	if result.Engine.MaxRetries == 0 {
		result.Engine.MaxRetries = defaults.Engine.MaxRetries
	}
	if result.Engine.PollInterval == 0 {
		result.Engine.PollInterval = defaults.Engine.PollInterval
	}
	if result.Engine.JobTimeout == 0 {
		result.Engine.JobTimeout = defaults.Engine.JobTimeout
	}
	if result.Engine.FFmpegPath == "" {
		result.Engine.FFmpegPath = defaults.Engine.FFmpegPath
	}
	if result.Readiness.PollInterval == 0 {
		result.Readiness.PollInterval = defaults.Readiness.PollInterval
	}
	if result.Readiness.WaitTimeout == 0 {
		result.Readiness.WaitTimeout = defaults.Readiness.WaitTimeout
	}
	if result.Readiness.GateOnReadiness == nil {
		result.Readiness.GateOnReadiness = defaults.Readiness.GateOnReadiness
	}
	if result.Log.Level == "" {
		result.Log.Level = defaults.Log.Level
	}

	return result
}

// GateOnReadiness reports whether dispatch waits for a ready engine.
func (c *Config) GateOnReadiness() bool {
	return c.Readiness.GateOnReadiness == nil || *c.Readiness.GateOnReadiness
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	gate := true
	return Config{
		Server: ServerConfig{Port: 8080},
		LLM:    LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash"},
		Engine: EngineConfig{
			URL:          "http://127.0.0.1:8188",
			WorkflowDir:  "workflows",
			OutputDir:    "output",
			Concurrency:  2,
			MaxRetries:   2,
			PollInterval: Duration(2 * time.Second),
			JobTimeout:   Duration(10 * time.Minute),
			FFmpegPath:   "ffmpeg",
		},
		Readiness: ReadinessConfig{
			PollInterval:    Duration(15 * time.Second),
			WaitTimeout:     Duration(2 * time.Minute),
			GateOnReadiness: &gate,
		},
		Log: LogConfig{Level: "info"},
	}
}
