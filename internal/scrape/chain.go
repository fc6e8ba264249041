package scrape

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Chain tries fetchers in order and returns the first page fetched.
type Chain struct {
	fetchers []Fetcher
}

// NewChain creates a Chain. Nil fetchers are skipped.
func NewChain(fetchers ...Fetcher) *Chain {
	c := &Chain{}
	for _, f := range fetchers {
		if f != nil {
			c.fetchers = append(c.fetchers, f)
		}
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

// Fetch tries each fetcher for targetURL. The last error is returned when
// all fail; a cancelled context stops the chain.
func (c *Chain) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	var lastErr error
	for _, f := range c.fetchers {
		page, err := f.Fetch(ctx, targetURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		zap.L().Debug("scrape: fetcher failed, trying next",
			zap.String("fetcher", f.Name()),
			zap.String("url", targetURL),
			zap.String("block", string(BlockOf(err))),
			zap.Error(err),
		)
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all fetchers failed")
	}
	return nil, eris.Errorf("scrape: no fetchers configured for %s", targetURL)
}
