package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	Consent    ConsentConfig    `yaml:"consent" mapstructure:"consent"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres memory"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required_unless=Driver memory"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// BrowserConfig configures the headless browser shared by all sessions.
type BrowserConfig struct {
	ExecPath       string   `yaml:"exec_path" mapstructure:"exec_path"`
	Headless       bool     `yaml:"headless" mapstructure:"headless"`
	NoSandbox      bool     `yaml:"no_sandbox" mapstructure:"no_sandbox"`
	UserAgent      string   `yaml:"user_agent" mapstructure:"user_agent"`
	ViewportWidth  int      `yaml:"viewport_width" mapstructure:"viewport_width" validate:"min=320"`
	ViewportHeight int      `yaml:"viewport_height" mapstructure:"viewport_height" validate:"min=240"`
	BlockResources []string `yaml:"block_resources" mapstructure:"block_resources"`
}

// AutomationConfig configures session admission, deadlines and pacing.
type AutomationConfig struct {
	MaxSessions           int `yaml:"max_sessions" mapstructure:"max_sessions" validate:"min=1"`
	ScriptTimeoutSecs     int `yaml:"script_timeout_secs" mapstructure:"script_timeout_secs" validate:"min=1"`
	ElementTimeoutSecs    int `yaml:"element_timeout_secs" mapstructure:"element_timeout_secs" validate:"min=1"`
	NavigationTimeoutSecs int `yaml:"navigation_timeout_secs" mapstructure:"navigation_timeout_secs" validate:"min=1"`
	ClickNavTimeoutSecs   int `yaml:"click_nav_timeout_secs" mapstructure:"click_nav_timeout_secs" validate:"min=1"`
	SettleMs              int `yaml:"settle_ms" mapstructure:"settle_ms" validate:"gte=0"`
	ExtractSettleMs       int `yaml:"extract_settle_ms" mapstructure:"extract_settle_ms" validate:"gte=0"`
	MinTypeDelayMs        int `yaml:"min_type_delay_ms" mapstructure:"min_type_delay_ms" validate:"gte=0"`
	MaxTypeDelayMs        int `yaml:"max_type_delay_ms" mapstructure:"max_type_delay_ms" validate:"gtefield=MinTypeDelayMs"`
	MinStepDelayMs        int `yaml:"min_step_delay_ms" mapstructure:"min_step_delay_ms" validate:"gte=0"`
	MaxStepDelayMs        int `yaml:"max_step_delay_ms" mapstructure:"max_step_delay_ms" validate:"gtefield=MinStepDelayMs"`
	MaxRetries            int `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
}

// ConsentConfig configures consent token signing.
type ConsentConfig struct {
	Secret   string `yaml:"secret" mapstructure:"secret"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours" validate:"min=1,max=24"`
}

// TTL returns the token lifetime.
func (c ConsentConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// AnalysisConfig configures portal discovery fetches.
type AnalysisConfig struct {
	FetchTimeoutSecs  int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs" validate:"min=1"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" mapstructure:"burst" validate:"min=1"`
	Retries           int     `yaml:"retries" mapstructure:"retries" validate:"gte=0"`
	BrowserFallback   bool    `yaml:"browser_fallback" mapstructure:"browser_fallback"`
	Advisor           bool    `yaml:"advisor" mapstructure:"advisor"`
	// TemplatesPath and CatalogPath replace the built-in portal templates
	// and procedure/insurer catalog when set.
	TemplatesPath string `yaml:"templates_path" mapstructure:"templates_path"`
	CatalogPath   string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// AnthropicConfig holds Anthropic API settings for the selector advisor.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=1"`
}

// OCRConfig configures insurance card text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider" validate:"oneof=local mistral"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// MonitoringConfig configures the degraded-portal checker.
type MonitoringConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalMin int     `yaml:"check_interval_mins" mapstructure:"check_interval_mins" validate:"min=1"`
	LookbackHours    int     `yaml:"lookback_hours" mapstructure:"lookback_hours" validate:"min=1"`
	MinSamples       int     `yaml:"min_samples" mapstructure:"min_samples" validate:"min=1"`
	MinSuccessRate   float64 `yaml:"min_success_rate" mapstructure:"min_success_rate" validate:"gte=0,lte=1"`
	WebhookURL       string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLEARVERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "clearverify.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.block_resources", []string{"image", "stylesheet", "font"})
	v.SetDefault("automation.max_sessions", 5)
	v.SetDefault("automation.script_timeout_secs", 30)
	v.SetDefault("automation.element_timeout_secs", 10)
	v.SetDefault("automation.navigation_timeout_secs", 30)
	v.SetDefault("automation.click_nav_timeout_secs", 15)
	v.SetDefault("automation.settle_ms", 2000)
	v.SetDefault("automation.extract_settle_ms", 3000)
	v.SetDefault("automation.min_type_delay_ms", 50)
	v.SetDefault("automation.max_type_delay_ms", 150)
	v.SetDefault("automation.min_step_delay_ms", 500)
	v.SetDefault("automation.max_step_delay_ms", 2000)
	v.SetDefault("automation.max_retries", 3)
	v.SetDefault("consent.ttl_hours", 24)
	v.SetDefault("analysis.fetch_timeout_secs", 20)
	v.SetDefault("analysis.requests_per_second", 1.0)
	v.SetDefault("analysis.burst", 2)
	v.SetDefault("analysis.retries", 2)
	v.SetDefault("analysis.browser_fallback", true)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.mistral_ocr_model", "mistral-ocr-latest")
	v.SetDefault("monitoring.check_interval_mins", 15)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.min_samples", 5)
	v.SetDefault("monitoring.min_success_rate", 0.5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
