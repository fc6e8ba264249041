package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/BoweryJG/clearverify-patient/internal/browser"
)

// BrowserFetcher renders a page in a fresh headless tab. It is the fallback
// for portals that block plain HTTP clients or build their login form in
// script.
type BrowserFetcher struct {
	browser browser.Browser
	settle  time.Duration
}

// NewBrowserFetcher creates a fetcher that waits settle after load before
// serializing the document.
func NewBrowserFetcher(b browser.Browser, settle time.Duration) *BrowserFetcher {
	return &BrowserFetcher{browser: b, settle: settle}
}

func (f *BrowserFetcher) Name() string { return "browser" }

func (f *BrowserFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	page, err := f.browser.NewPage(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: open browser page")
	}
	defer page.Close() //nolint:errcheck

	if err := page.Navigate(ctx, targetURL); err != nil {
		return nil, err
	}

	if f.settle > 0 {
		timer := time.NewTimer(f.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrap(ctx.Err(), "scrape: settle")
		case <-timer.C:
		}
	}

	finalURL, err := page.URL(ctx)
	if err != nil {
		return nil, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return &Page{
		URL:        targetURL,
		FinalURL:   finalURL,
		StatusCode: 200,
		HTML:       html,
		Source:     f.Name(),
	}, nil
}
