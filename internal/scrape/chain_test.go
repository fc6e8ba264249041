package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BoweryJG/clearverify-patient/internal/browser/browsertest"
)

type stubFetcher struct {
	name  string
	page  *Page
	err   error
	calls int
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) Fetch(context.Context, string) (*Page, error) {
	s.calls++
	return s.page, s.err
}

func TestChain_FallsThroughOnBlock(t *testing.T) {
	httpF := &stubFetcher{name: "http", err: &BlockedError{URL: "u", Type: BlockCloudflare}}
	browserF := &stubFetcher{name: "browser", page: &Page{HTML: "<html></html>", Source: "browser"}}

	page, err := NewChain(httpF, nil, browserF).Fetch(context.Background(), "https://portal.example.com")
	require.NoError(t, err)
	assert.Equal(t, "browser", page.Source)
	assert.Equal(t, 1, httpF.calls)
	assert.Equal(t, 1, browserF.calls)
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &stubFetcher{name: "http", page: &Page{Source: "http"}}
	second := &stubFetcher{name: "browser", page: &Page{Source: "browser"}}

	page, err := NewChain(first, second).Fetch(context.Background(), "https://x.example.com")
	require.NoError(t, err)
	assert.Equal(t, "http", page.Source)
	assert.Equal(t, 0, second.calls)
}

func TestChain_AllFail(t *testing.T) {
	a := &stubFetcher{name: "a", err: errors.New("a failed")}
	b := &stubFetcher{name: "b", err: errors.New("b failed")}

	_, err := NewChain(a, b).Fetch(context.Background(), "https://x.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
}

func TestChain_Empty(t *testing.T) {
	_, err := NewChain().Fetch(context.Background(), "https://x.example.com")
	require.Error(t, err)
}

func TestBrowserFetcher_Fetch(t *testing.T) {
	b := &browsertest.Browser{NewPageFunc: func() *browsertest.Page {
		p := browsertest.NewPage()
		p.PageHTML = loginHTML
		return p
	}}

	page, err := NewBrowserFetcher(b, time.Millisecond).Fetch(context.Background(), "https://member.aetna.com")
	require.NoError(t, err)
	assert.Equal(t, "browser", page.Source)
	assert.Equal(t, "https://member.aetna.com", page.FinalURL)
	assert.Contains(t, page.HTML, "Member Login")
	assert.Equal(t, 0, b.OpenPages())
}

func TestBrowserFetcher_NavigateError(t *testing.T) {
	b := &browsertest.Browser{NewPageFunc: func() *browsertest.Page {
		p := browsertest.NewPage()
		p.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
		return p
	}}

	_, err := NewBrowserFetcher(b, 0).Fetch(context.Background(), "https://nowhere.example.com")
	require.Error(t, err)
	assert.Equal(t, 0, b.OpenPages())
}
