package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

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
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "clearverify.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"image", "stylesheet", "font"}, cfg.Browser.BlockResources)
	assert.Equal(t, 5, cfg.Automation.MaxSessions)
	assert.Equal(t, 30, cfg.Automation.ScriptTimeoutSecs)
	assert.Equal(t, 10, cfg.Automation.ElementTimeoutSecs)
	assert.Equal(t, 30, cfg.Automation.NavigationTimeoutSecs)
	assert.Equal(t, 15, cfg.Automation.ClickNavTimeoutSecs)
	assert.Equal(t, 50, cfg.Automation.MinTypeDelayMs)
	assert.Equal(t, 150, cfg.Automation.MaxTypeDelayMs)
	assert.Equal(t, 500, cfg.Automation.MinStepDelayMs)
	assert.Equal(t, 2000, cfg.Automation.MaxStepDelayMs)
	assert.Equal(t, 3, cfg.Automation.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.Consent.TTL())
	assert.InDelta(t, 1.0, cfg.Analysis.RequestsPerSecond, 0.001)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.InDelta(t, 0.5, cfg.Monitoring.MinSuccessRate, 0.001)

	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/clearverify
log:
  level: debug
  format: console
server:
  port: 9090
automation:
  max_sessions: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Automation.MaxSessions)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Automation.ScriptTimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CLEARVERIFY_STORE_DRIVER", "memory")
	t.Setenv("CLEARVERIFY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CLEARVERIFY_SERVER_PORT", "3000")
	t.Setenv("CLEARVERIFY_AUTOMATION_MAX_SESSIONS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Automation.MaxSessions)
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

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_MemoryNeedsNoURL(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Store.Driver = "memory"
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be one of [sqlite postgres memory]")
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidate_DelayRange(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Automation.MaxStepDelayMs = 100

	err := cfg.Validate("verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "automation.max_step_delay_ms")
}

func TestValidate_AdvisorNeedsKey(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Analysis.Advisor = true

	err := cfg.Validate("verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-test"
	assert.NoError(t, cfg.Validate("verify"))
}

func TestValidate_MistralNeedsKey(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.OCR.Provider = "mistral"

	err := cfg.Validate("scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.mistral_api_key")

	// Other modes do not care about OCR credentials.
	assert.NoError(t, cfg.Validate("serve"))
}
