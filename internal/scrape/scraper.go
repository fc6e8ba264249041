// Package scrape fetches insurer portal pages for structural analysis. A
// plain HTTP fetch is tried first and a headless browser takes over when the
// page is blocked or rendered by script.
package scrape

import (
	"context"
	"errors"
	"fmt"
)

// Page is a fetched portal document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Source     string
}

// Fetcher loads a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Name() string
}

// BlockedError reports anti-bot protection in front of a page.
type BlockedError struct {
	URL  string
	Type BlockType
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("scrape: %s blocked (%s)", e.URL, e.Type)
}

// BlockOf returns the block type carried by err, or BlockNone.
func BlockOf(err error) BlockType {
	var be *BlockedError
	if errors.As(err, &be) {
		return be.Type
	}
	return BlockNone
}
