package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BoweryJG/clearverify-patient/internal/browser/browsertest"
	"github.com/BoweryJG/clearverify-patient/internal/config"
	"github.com/BoweryJG/clearverify-patient/internal/scrape"
	"github.com/BoweryJG/clearverify-patient/internal/store"
)

func TestInitStore_SQLite(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NoError(t, st.Migrate(context.Background()))
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, "clearverify.db"))
	assert.NoError(t, statErr)
}

func TestInitStore_Memory(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "memory"}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitFetcher(t *testing.T) {
	cfg = &config.Config{Analysis: config.AnalysisConfig{FetchTimeoutSecs: 5, RequestsPerSecond: 1, Burst: 1}}

	f, err := initFetcher(&browsertest.Browser{})
	require.NoError(t, err)
	assert.IsType(t, &scrape.HTTPFetcher{}, f)

	cfg.Analysis.BrowserFallback = true
	f, err = initFetcher(&browsertest.Browser{})
	require.NoError(t, err)
	assert.IsType(t, &scrape.Chain{}, f)
}

func TestInitApp_MemoryStore(t *testing.T) {
	cfg = testConfig()

	env, err := initApp(context.Background(), "verify", nil)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Service)
	assert.NotEmpty(t, env.Catalog.Procedures)
	assert.Nil(t, env.Metrics)

	insurers, err := env.Service.SupportedInsurers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, insurers)
}

func TestInitApp_InvalidConfig(t *testing.T) {
	cfg = testConfig()
	cfg.Store.Driver = "mysql"

	_, err := initApp(context.Background(), "verify", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be one of")
}

func TestReadBatch(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`[
		{"insurance": {"insuranceName": "Delta Dental", "memberId": "DD1"}, "procedureCode": "D0120"},
		{"insurance": {"insuranceName": "Aetna"}, "credentials": {"username": "u", "password": "p"}}
	]`), 0o644))

	reqs, err := readBatch(good)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "Delta Dental", reqs[0].Insurance.InsuranceName)
	assert.Equal(t, "D0120", reqs[0].Procedure)
	assert.Equal(t, "u", reqs[1].Credentials.Username)

	missing := filepath.Join(dir, "missing.json")
	require.NoError(t, os.WriteFile(missing, []byte(`[{"insurance": {"memberId": "X"}}]`), 0o644))
	_, err = readBatch(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request 0")

	_, err = readBatch(filepath.Join(dir, "nope.json"))
	require.Error(t, err)
}

func testConfig() *config.Config {
	return &config.Config{
		Store:  config.StoreConfig{Driver: "memory"},
		Log:    config.LogConfig{Level: "info", Format: "json"},
		Server: config.ServerConfig{Port: 8080},
		Browser: config.BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		Automation: config.AutomationConfig{
			MaxSessions:           2,
			ScriptTimeoutSecs:     30,
			ElementTimeoutSecs:    10,
			NavigationTimeoutSecs: 30,
			ClickNavTimeoutSecs:   15,
		},
		Consent:    config.ConsentConfig{TTLHours: 1},
		Analysis:   config.AnalysisConfig{FetchTimeoutSecs: 5, RequestsPerSecond: 1, Burst: 1},
		Anthropic:  config.AnthropicConfig{MaxTokens: 1024},
		OCR:        config.OCRConfig{Provider: "local"},
		Monitoring: config.MonitoringConfig{CheckIntervalMin: 15, LookbackHours: 24, MinSamples: 5},
	}
}
