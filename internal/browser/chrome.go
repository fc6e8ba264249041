package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options configures the Chrome process and per-page emulation.
type Options struct {
	ExecPath       string
	Headless       bool
	NoSandbox      bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// BlockResources lists resource types (image, stylesheet, font, media)
	// failed at the network layer before they are requested.
	BlockResources []string
}

var resourceTypes = map[string]network.ResourceType{
	"image":      network.ResourceTypeImage,
	"stylesheet": network.ResourceTypeStylesheet,
	"font":       network.ResourceTypeFont,
	"media":      network.ResourceTypeMedia,
}

// blockPatterns converts resource names into fetch interception patterns.
// Unknown names are skipped.
func blockPatterns(names []string) []*fetch.RequestPattern {
	var patterns []*fetch.RequestPattern
	for _, name := range names {
		rt, ok := resourceTypes[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			zap.L().Warn("browser: unknown resource type to block", zap.String("type", name))
			continue
		}
		patterns = append(patterns, &fetch.RequestPattern{
			ResourceType: rt,
			RequestStage: fetch.RequestStageRequest,
		})
	}
	return patterns
}

// Chrome is a Browser backed by chromedp. The process starts on the first
// NewPage call and lives until Close.
type Chrome struct {
	opts Options

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewChrome creates a lazily started Chrome browser.
func NewChrome(opts Options) *Chrome {
	if opts.ViewportWidth == 0 {
		opts.ViewportWidth = 1280
	}
	if opts.ViewportHeight == 0 {
		opts.ViewportHeight = 720
	}
	return &Chrome{opts: opts}
}

func (c *Chrome) start() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx != nil {
		return c.browserCtx, nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.opts.Headless),
		chromedp.WindowSize(c.opts.ViewportWidth, c.opts.ViewportHeight),
	)
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}
	if c.opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	// The browser outlives any single request.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(zap.L().Sugar().Debugf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, eris.Wrap(err, "browser: launch chrome")
	}

	zap.L().Info("browser: chrome started", zap.Bool("headless", c.opts.Headless))
	c.browserCtx = browserCtx
	c.browserCancel = browserCancel
	c.allocCancel = allocCancel
	return browserCtx, nil
}

// NewPage opens an isolated tab with resource blocking and emulation applied.
func (c *Chrome) NewPage(ctx context.Context) (Page, error) {
	browserCtx, err := c.start()
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	p := &chromePage{ctx: tabCtx, cancel: cancel}

	patterns := blockPatterns(c.opts.BlockResources)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go p.failPaused(e.RequestID)
		case *runtime.EventConsoleAPICalled:
			if e.Type == runtime.APITypeError {
				zap.L().Debug("browser: page console error", zap.Int("args", len(e.Args)))
			}
		}
	})

	setup := []chromedp.Action{
		chromedp.EmulateViewport(int64(c.opts.ViewportWidth), int64(c.opts.ViewportHeight)),
	}
	if c.opts.UserAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(c.opts.UserAgent))
	}
	if len(patterns) > 0 {
		setup = append(setup, fetch.Enable().WithPatterns(patterns))
	}

	runCtx, done := p.bind(ctx)
	defer done()
	if err := chromedp.Run(runCtx, setup...); err != nil {
		p.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "browser: set up page")
	}
	return p, nil
}

// Close shuts the browser process down.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx == nil {
		return nil
	}
	c.browserCancel()
	c.allocCancel()
	c.browserCtx = nil
	zap.L().Info("browser: chrome stopped")
	return nil
}

type chromePage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// bind derives a context from the tab that also carries the caller's deadline
// and cancellation.
func (p *chromePage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDl context.CancelFunc
		runCtx, cancelDl = context.WithDeadline(runCtx, dl)
		prev := cancel
		cancel = func() { cancelDl(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, done := p.bind(ctx)
	defer done()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		// Report the caller's deadline or cancellation rather than the
		// derived context's.
		return eris.Wrap(ctx.Err(), err.Error())
	}
	return err
}

func (p *chromePage) failPaused(id fetch.RequestID) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(p.ctx, c.Target)
	if err := fetch.FailRequest(id, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
		zap.L().Debug("browser: fail blocked request", zap.Error(err))
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return eris.Wrapf(p.run(ctx, chromedp.Navigate(url)), "browser: navigate %s", url)
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", eris.Wrap(err, "browser: location")
	}
	return u, nil
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return eris.Wrapf(p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)), "browser: wait visible %s", selector)
}

func (p *chromePage) Clear(ctx context.Context, selector string) error {
	return eris.Wrapf(p.run(ctx, chromedp.Clear(selector, chromedp.ByQuery)), "browser: clear %s", selector)
}

func (p *chromePage) TypeChar(ctx context.Context, selector string, ch rune) error {
	return eris.Wrapf(p.run(ctx, chromedp.SendKeys(selector, string(ch), chromedp.ByQuery)), "browser: type into %s", selector)
}

func (p *chromePage) ScrollIntoView(ctx context.Context, selector string) error {
	return eris.Wrapf(p.run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery)), "browser: scroll to %s", selector)
}

func (p *chromePage) Click(ctx context.Context, selector string, waitNav bool) error {
	click := chromedp.Click(selector, chromedp.ByQuery)
	if !waitNav {
		return eris.Wrapf(p.run(ctx, click), "browser: click %s", selector)
	}

	runCtx, done := p.bind(ctx)
	defer done()
	if _, err := chromedp.RunResponse(runCtx, click); err != nil {
		if ctx.Err() != nil {
			err = eris.Wrap(ctx.Err(), err.Error())
		}
		return eris.Wrapf(err, "browser: click %s and wait for navigation", selector)
	}
	return nil
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", false, eris.Wrap(err, "browser: encode selector")
	}
	script := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.textContent : null; })()`, sel)

	var text *string
	if err := p.run(ctx, chromedp.Evaluate(script, &text)); err != nil {
		return "", false, eris.Wrapf(err, "browser: read text %s", selector)
	}
	if text == nil {
		return "", false, nil
	}
	return *text, true, nil
}

const linksScript = `Array.from(document.querySelectorAll('a[href]')).map(a => ({href: a.href, text: (a.textContent || '').trim()}))`

func (p *chromePage) Links(ctx context.Context) ([]Link, error) {
	var links []Link
	if err := p.run(ctx, chromedp.Evaluate(linksScript, &links)); err != nil {
		return nil, eris.Wrap(err, "browser: list links")
	}
	return links, nil
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", eris.Wrap(err, "browser: outer html")
	}
	return html, nil
}

func (p *chromePage) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
