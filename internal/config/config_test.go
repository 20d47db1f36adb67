package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidJSON(t *testing.T) {
	content := `{
		"server": {"port": 9090},
		"engine": {"url": "http://gpu:8188", "concurrency": 3, "poll_interval": "500ms", "job_timeout": 60000},
		"readiness": {"gate_on_readiness": false},
		"log": {"level": "debug"}
	}`

	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://gpu:8188", cfg.Engine.URL)
	assert.Equal(t, 3, cfg.Engine.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.PollInterval.D())
	assert.Equal(t, time.Minute, cfg.Engine.JobTimeout.D())
	assert.False(t, cfg.GateOnReadiness())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	content := `
server:
  port: 7000
llm:
  provider: openai
  base_url: http://localhost:1234/v1
readiness:
  poll_interval: 5s
schedules:
  - pipeline_id: daily
    cron: "0 9 * * *"
    topics: [coffee, tea]
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 5*time.Second, cfg.Readiness.PollInterval.D())
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "daily", cfg.Schedules[0].PipelineID)
	assert.Equal(t, []string{"coffee", "tea"}, cfg.Schedules[0].Topics)
	assert.True(t, cfg.GateOnReadiness(), "gate defaults to on when unset")
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{ invalid json }`), 0644))

	cfg, err := LoadConfig(tmpFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{"engine": {"poll_interval": "soon"}}`), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestValidate(t *testing.T) {
	t.Run("empty config is valid", func(t *testing.T) {
		cfg := &Config{}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := &Config{LLM: LLMConfig{Provider: "mystery"}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative concurrency", func(t *testing.T) {
		cfg := &Config{Engine: EngineConfig{Concurrency: -1}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing workflow dir", func(t *testing.T) {
		cfg := &Config{Engine: EngineConfig{WorkflowDir: "/nonexistent/workflows"}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workflow directory not found")
	})

	t.Run("storage endpoint without bucket", func(t *testing.T) {
		cfg := &Config{Storage: StorageConfig{Endpoint: "minio:9000"}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("schedule without cron", func(t *testing.T) {
		cfg := &Config{Schedules: []ScheduleConfig{{PipelineID: "daily"}}}
		assert.Error(t, cfg.Validate())
	})
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := &Config{Engine: EngineConfig{Concurrency: 5}}
	merged := cfg.MergeWithDefaults(Defaults())

	assert.Equal(t, 5, merged.Engine.Concurrency, "explicit values win")
	assert.Equal(t, 8080, merged.Server.Port)
	assert.Equal(t, "gemini", merged.LLM.Provider)
	assert.Equal(t, 2*time.Second, merged.Engine.PollInterval.D())
	assert.Equal(t, 2*time.Minute, merged.Readiness.WaitTimeout.D())
	assert.True(t, merged.GateOnReadiness())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/content")
	t.Setenv("COMFY_URL", "http://gpu:8188")
	t.Setenv("PORT", "9999")
	t.Setenv("MINIO_BUCKET", "renders")

	cfg := &Config{Engine: EngineConfig{URL: "http://file:8188"}}
	cfg.ApplyEnv()

	assert.Equal(t, "postgres://localhost/content", cfg.Database.URL)
	assert.Equal(t, "http://gpu:8188", cfg.Engine.URL)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "renders", cfg.Storage.Bucket)
}

func TestNewJWTConfig(t *testing.T) {
	cfg, err := NewJWTConfig(AuthConfig{JWTSecret: "0123456789abcdef0123"})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)

	cfg, err = NewJWTConfig(AuthConfig{JWTSecret: "0123456789abcdef0123", TokenTTL: Duration(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.TokenTTL)

	_, err = NewJWTConfig(AuthConfig{JWTSecret: "short"})
	assert.Error(t, err)

	_, err = NewJWTConfig(AuthConfig{JWTSecret: "0123456789abcdef0123", TokenTTL: Duration(time.Second)})
	assert.Error(t, err)
}
