package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/analysis"
	"github.com/BoweryJG/clearverify-patient/internal/automator"
	"github.com/BoweryJG/clearverify-patient/internal/browser"
	"github.com/BoweryJG/clearverify-patient/internal/catalog"
	"github.com/BoweryJG/clearverify-patient/internal/consent"
	"github.com/BoweryJG/clearverify-patient/internal/learner"
	"github.com/BoweryJG/clearverify-patient/internal/monitoring"
	"github.com/BoweryJG/clearverify-patient/internal/resilience"
	"github.com/BoweryJG/clearverify-patient/internal/scrape"
	"github.com/BoweryJG/clearverify-patient/internal/store"
	"github.com/BoweryJG/clearverify-patient/internal/verification"
	anthropicpkg "github.com/BoweryJG/clearverify-patient/pkg/anthropic"
)

// appEnv holds everything the verify, portals, stats and serve commands
// share.
type appEnv struct {
	Store     store.Store
	Browser   *browser.Chrome
	Automator *automator.Automator
	Learner   *learner.Learner
	Service   *verification.Service
	Catalog   *catalog.Catalog
	Metrics   *monitoring.Metrics
}

// Close stops running sessions, then the browser, then the store.
func (e *appEnv) Close() {
	if e.Automator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.Automator.Shutdown(ctx); err != nil {
			zap.L().Warn("automator shutdown", zap.Error(err))
		}
		cancel()
	}
	if e.Browser != nil {
		if err := e.Browser.Close(); err != nil {
			zap.L().Warn("browser close", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates config for mode, opens and migrates the store and wires
// the verification stack. reg may be nil when metrics are not exported.
// Callers should defer env.Close().
func initApp(ctx context.Context, mode string, reg prometheus.Registerer) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.Analysis.CatalogPath)
	if err != nil {
		return nil, err
	}
	templates, err := learner.LoadTemplates(cfg.Analysis.TemplatesPath)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	issuer, err := consent.NewIssuer(cfg.Consent.Secret, cfg.Consent.TTL())
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var metrics *monitoring.Metrics
	if reg != nil {
		metrics = monitoring.NewMetrics(reg)
	}

	chrome := browser.NewChrome(browser.Options{
		ExecPath:       cfg.Browser.ExecPath,
		Headless:       cfg.Browser.Headless,
		NoSandbox:      cfg.Browser.NoSandbox,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		BlockResources: cfg.Browser.BlockResources,
	})

	fetcher, err := initFetcher(chrome)
	if err != nil {
		_ = chrome.Close()
		_ = st.Close()
		return nil, err
	}

	analysisOpts := analysis.Options{
		Catalog: analysis.DefaultCatalog().Merge(learner.ExtraSelectors(templates)),
	}
	if cfg.Analysis.Advisor {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		analysisOpts.Advisor = analysis.NewLLMAdvisor(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
		zap.L().Info("selector advisor enabled", zap.String("model", cfg.Anthropic.Model))
	}

	auto := automator.New(chrome, issuer, automator.FromConfig(cfg.Automation), metrics)
	l := learner.New(st, analysis.New(fetcher, analysisOpts), auto, templates, learner.Options{
		ScriptTimeout: time.Duration(cfg.Automation.ScriptTimeoutSecs) * time.Second,
		MaxRetries:    cfg.Automation.MaxRetries,
	}, metrics)
	svc := verification.New(l, auto, issuer, st, cat, verification.Options{}, metrics)

	zap.L().Info("verification stack ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("templates", len(templates)),
		zap.Int("procedures", len(cat.Procedures)),
		zap.Int("max_sessions", cfg.Automation.MaxSessions),
	)

	return &appEnv{
		Store:     st,
		Browser:   chrome,
		Automator: auto,
		Learner:   l,
		Service:   svc,
		Catalog:   cat,
		Metrics:   metrics,
	}, nil
}

// initFetcher builds the discovery fetch chain: plain HTTP first, then the
// headless browser when enabled.
func initFetcher(b browser.Browser) (scrape.Fetcher, error) {
	httpFetcher, err := scrape.NewHTTPFetcher(scrape.HTTPOptions{
		UserAgent:         cfg.Browser.UserAgent,
		Timeout:           time.Duration(cfg.Analysis.FetchTimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Analysis.RequestsPerSecond,
		Burst:             cfg.Analysis.Burst,
		Retry:             resilience.RetryPolicy{Attempts: cfg.Analysis.Retries + 1},
		Breakers:          resilience.NewHostBreakers(5, time.Minute),
	})
	if err != nil {
		return nil, err
	}
	if !cfg.Analysis.BrowserFallback {
		return httpFetcher, nil
	}
	settle := time.Duration(cfg.Automation.SettleMs) * time.Millisecond
	return scrape.NewChain(httpFetcher, scrape.NewBrowserFetcher(b, settle)), nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "clearverify.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
