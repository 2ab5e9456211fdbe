package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "persona-sim.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "models", cfg.Models.Dir)
	assert.Equal(t, 60, cfg.Models.RateWindowSecs)
	assert.Equal(t, "memory", cfg.Models.Limiter)
	assert.True(t, cfg.Models.OffPeakEnabled)
	assert.Equal(t, "00:30", cfg.Models.OffPeakStart)
	assert.Equal(t, "08:30", cfg.Models.OffPeakEnd)
	assert.Equal(t, 600, cfg.Completion.TimeoutSecs)
	assert.Equal(t, 4096, cfg.Completion.MaxTokens)
	assert.Equal(t, "https://api.bocha.cn/v1/web-search", cfg.Search.Endpoint)
	assert.Equal(t, 5, cfg.Search.Count)
	assert.Equal(t, "noLimit", cfg.Search.Freshness)
	assert.Equal(t, 3, cfg.Search.MaxQueries)
	assert.Equal(t, 3, cfg.Pipeline.StageRetries)
	assert.Equal(t, 40, cfg.Pipeline.MaxPersonas)
	assert.Equal(t, 2, cfg.Pipeline.MaxSimulations)
	assert.Equal(t, 5, cfg.Pipeline.SimulationWorkers)
	assert.Equal(t, 3, cfg.Pipeline.BatchRetries)
	assert.InDelta(t, 0.10, cfg.Pipeline.FormatErrorThreshold, 0.0001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/personas
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  format_error_threshold: 0.2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/personas", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 0.2, cfg.Pipeline.FormatErrorThreshold, 0.0001)
	// Defaults still apply for unset values
	assert.Equal(t, 40, cfg.Pipeline.MaxPersonas)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PERSONA_STORE_DRIVER", "sqlite")
	t.Setenv("PERSONA_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadBochaEnvAliases(t *testing.T) {
	chdirTemp(t)

	t.Setenv("BOCHA_API_KEY", "bocha-key")
	t.Setenv("BOCHA_WEB_SEARCH_ENDPOINT", "https://search.example.com/v1/web-search")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "bocha-key", cfg.Search.Key)
	assert.Equal(t, "https://search.example.com/v1/web-search", cfg.Search.Endpoint)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PERSONA_SERVER_PORT=3111\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("PERSONA_SERVER_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3111, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "test.db"
	cfg.Models.Dir = "models"
	cfg.Models.Limiter = "memory"
	cfg.Pipeline.FormatErrorThreshold = 0.1
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidate_UnsupportedDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateRun_RedisWithoutURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Models.Limiter = "redis"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models.redis_url is required")
}

func TestValidateRun_ThresholdOutOfRange(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.FormatErrorThreshold = 1.5

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format_error_threshold")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateTasks_OnlyStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Models.Dir = ""

	assert.NoError(t, cfg.Validate("tasks"))
}
