// Package browser drives a shared headless Chrome instance. Each verification
// session gets its own isolated tab behind the Page interface.
package browser

import (
	"context"
)

// Link is an anchor on the current page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Page is one isolated browser tab. Every call honors the deadline and
// cancellation of ctx.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// URL returns the current location.
	URL(ctx context.Context) (string, error)
	// WaitVisible blocks until selector matches a visible element.
	WaitVisible(ctx context.Context, selector string) error
	// Clear empties an input.
	Clear(ctx context.Context, selector string) error
	// TypeChar sends a single character to an input.
	TypeChar(ctx context.Context, selector string, ch rune) error
	ScrollIntoView(ctx context.Context, selector string) error
	// Click clicks selector. With waitNav it also waits for the navigation
	// the click starts to finish loading.
	Click(ctx context.Context, selector string, waitNav bool) error
	// Text reads the text content of the first match without waiting.
	// found is false when nothing matches.
	Text(ctx context.Context, selector string) (text string, found bool, err error)
	// Links lists anchors with an href, in document order.
	Links(ctx context.Context) ([]Link, error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Close tears the tab down. It is safe to call more than once.
	Close() error
}

// Browser hands out isolated pages from one shared browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}
