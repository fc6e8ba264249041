// Package browsertest provides in-memory Browser and Page fakes for tests
// that exercise step execution without a real Chrome.
package browsertest

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/BoweryJG/clearverify-patient/internal/browser"
)

// ErrNoElement is returned for selectors the fake page does not contain.
var ErrNoElement = eris.New("browsertest: no such element")

// Page is a scripted browser.Page. Elements maps selectors to their text;
// a selector missing from Elements fails immediately unless it is listed in
// Hang, in which case the call blocks until the context ends.
type Page struct {
	mu sync.Mutex

	CurrentURL  string
	Elements    map[string]string
	Hang        map[string]bool
	PageLinks   []browser.Link
	PageHTML    string
	NavigateErr error
	// OnNavigate, when set, is called after every successful navigation so
	// a test can swap page contents.
	OnNavigate func(p *Page, url string)

	Visited   []string
	Typed     map[string]string
	Clicked   []string
	TextReads []string
	closed    int
}

// NewPage creates an empty fake page.
func NewPage() *Page {
	return &Page{
		Elements: make(map[string]string),
		Hang:     make(map[string]bool),
		Typed:    make(map[string]string),
	}
}

func (p *Page) lookup(ctx context.Context, selector string) error {
	p.mu.Lock()
	_, ok := p.Elements[selector]
	hang := p.Hang[selector]
	p.mu.Unlock()

	if ok {
		return ctx.Err()
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return eris.Wrapf(ErrNoElement, "selector %s", selector)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.NavigateErr != nil {
		err := p.NavigateErr
		p.mu.Unlock()
		return err
	}
	p.CurrentURL = url
	p.Visited = append(p.Visited, url)
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, ctx.Err()
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	return p.lookup(ctx, selector)
}

func (p *Page) Clear(ctx context.Context, selector string) error {
	if err := p.lookup(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Typed, selector)
	return nil
}

func (p *Page) TypeChar(ctx context.Context, selector string, ch rune) error {
	if err := p.lookup(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Typed[selector] += string(ch)
	return nil
}

func (p *Page) ScrollIntoView(ctx context.Context, selector string) error {
	return p.lookup(ctx, selector)
}

func (p *Page) Click(ctx context.Context, selector string, _ bool) error {
	if err := p.lookup(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Clicked = append(p.Clicked, selector)
	return nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TextReads = append(p.TextReads, selector)
	text, ok := p.Elements[selector]
	return text, ok, nil
}

func (p *Page) Links(ctx context.Context) ([]browser.Link, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Link(nil), p.PageLinks...), ctx.Err()
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageHTML, ctx.Err()
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// Closed reports how many times Close was called.
func (p *Page) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// SetElement adds or replaces an element.
func (p *Page) SetElement(selector, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Elements[selector] = text
}

// Browser hands out pages built by NewPageFunc, or empty pages.
type Browser struct {
	mu          sync.Mutex
	NewPageFunc func() *Page
	NewPageErr  error
	Pages       []*Page
	closed      bool
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	var p *Page
	if b.NewPageFunc != nil {
		p = b.NewPageFunc()
	} else {
		p = NewPage()
	}
	b.Pages = append(b.Pages, p)
	return p, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (b *Browser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// OpenPages counts pages that were never closed.
func (b *Browser) OpenPages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.Pages {
		if p.Closed() == 0 {
			n++
		}
	}
	return n
}

// TypedInto returns the text typed into selector.
func (p *Page) TypedInto(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Typed[selector]
}

// HasVisited reports whether any navigation URL contains substr.
func (p *Page) HasVisited(substr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.Visited {
		if strings.Contains(u, substr) {
			return true
		}
	}
	return false
}
