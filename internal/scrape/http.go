package scrape

import (
	"context"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BoweryJG/clearverify-patient/internal/resilience"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond and Burst bound traffic to any single portal host.
	RequestsPerSecond float64
	Burst             int
	Retry             resilience.RetryPolicy
	Breakers          *resilience.HostBreakers
}

// HTTPFetcher loads pages with resty behind a cookie jar and a transport
// that mimics a desktop browser TLS fingerprint.
type HTTPFetcher struct {
	client   *resty.Client
	opts     HTTPOptions
	breakers *resilience.HostBreakers

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates an HTTP fetcher with per-host rate limiting.
func NewHTTPFetcher(opts HTTPOptions) (*HTTPFetcher, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = resilience.NewHostBreakers(0, 0)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: cookie jar")
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetHeader("accept", "text/html,application/xhtml+xml")
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(opts.Timeout)

	return &HTTPFetcher{
		client:   client,
		opts:     opts,
		breakers: breakers,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (f *HTTPFetcher) Name() string { return "http" }

func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.opts.RequestsPerSecond), f.opts.Burst)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch loads targetURL, retrying transient failures. A detected bot wall is
// returned as *BlockedError without retrying.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("scrape: invalid url %q", targetURL)
	}
	host := u.Hostname()

	if err := f.breakers.Allow(host); err != nil {
		return nil, err
	}

	page, err := resilience.Retry(ctx, f.opts.Retry, "scrape.http", func(ctx context.Context) (*Page, error) {
		if err := f.limiterFor(host).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "scrape: rate limit wait")
		}
		return f.fetchOnce(ctx, targetURL)
	})
	f.breakers.Record(host, err)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("scrape: fetched page",
		zap.String("url", targetURL),
		zap.String("final_url", page.FinalURL),
		zap.Int("status", page.StatusCode),
		zap.Int("bytes", len(page.HTML)),
	)
	return page, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, targetURL string) (*Page, error) {
	resp, err := f.client.R().SetContext(ctx).Get(targetURL)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: get %s", targetURL)
	}

	body := resp.Body()
	if blocked, kind := DetectBlock(resp.StatusCode(), resp.Header(), body); blocked {
		return nil, &BlockedError{URL: targetURL, Type: kind}
	}
	if resp.IsError() {
		return nil, resilience.StatusError(targetURL, resp.StatusCode())
	}

	finalURL := targetURL
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		finalURL = resp.RawResponse.Request.URL.String()
	}
	return &Page{
		URL:        targetURL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode(),
		HTML:       string(body),
		Source:     f.Name(),
	}, nil
}
