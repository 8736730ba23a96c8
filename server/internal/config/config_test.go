package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "LLM_API_KEY", "ELEVENLABS_API_KEY", "REDIS_ADDR", "JUNCTION_STORE_DRIVER"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoadAppliesFileOverDefaults 验证文件内容覆盖默认值，未配置的字段保留默认。
func TestLoadAppliesFileOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
llm:
  provider: openai
  openai:
    api_key: sk-file
analysis:
  timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sk-file", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.OpenAI.Model)
	assert.Equal(t, 5*time.Second, cfg.Analysis.Timeout)
	assert.Equal(t, 4, cfg.Analysis.Interval)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

// TestLoadEnvOverrides 验证环境变量覆盖敏感配置。
func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_API_KEY", "sk-env")
	t.Setenv("ELEVENLABS_API_KEY", "xi-env")
	t.Setenv("JUNCTION_STORE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "xi-env", cfg.Voice.APIKey)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "127.0.0.1:6379", cfg.Store.Redis.Addr)
}

// TestLoadMissingAPIKey 验证缺少 LLM API Key 时返回 MissingConfiguration。
func TestLoadMissingAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingConfiguration))

	var missing *MissingConfigError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "llm.openai.api_key", missing.Field)
}

func TestValidateStoreDrivers(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "redis"
	assert.ErrorIs(t, cfg.ValidateStore(), ErrMissingConfiguration)

	cfg.Store.Redis.Addr = "localhost:6379"
	assert.NoError(t, cfg.ValidateStore())

	cfg.Store.Driver = "etcd"
	err := cfg.ValidateStore()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMissingConfiguration))
}

func TestValidateAnalysisWindows(t *testing.T) {
	cfg := Default()
	cfg.LLM.OpenAI.APIKey = "sk"
	cfg.Analysis.FullWindow = 2
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.LLM.OpenAI.APIKey = "sk"
	cfg.Analysis.Interval = 0
	assert.Error(t, cfg.Validate())
}
