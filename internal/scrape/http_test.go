package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BoweryJG/clearverify-patient/internal/resilience"
)

const loginHTML = `<html><head><title>Member Login</title></head><body>
<form action="/login"><input id="username"><input id="password" type="password">
<button type="submit">Sign in</button></form></body></html>`

func newTestFetcher(t *testing.T) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(HTTPOptions{
		Timeout:           5 * time.Second,
		RequestsPerSecond: 100,
		Burst:             10,
		Retry:             resilience.RetryPolicy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	return f
}

func TestHTTPFetcher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/member" {
			http.Redirect(w, r, "/member/login", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(loginHTML))
	}))
	defer srv.Close()

	page, err := newTestFetcher(t).Fetch(context.Background(), srv.URL+"/member")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, srv.URL+"/member/login", page.FinalURL)
	assert.Contains(t, page.HTML, `id="username"`)
	assert.Equal(t, "http", page.Source)
}

func TestHTTPFetcher_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(loginHTML))
	}))
	defer srv.Close()

	page, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, page.HTML, "Member Login")
}

func TestHTTPFetcher_PermanentStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetcher_Blocked(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("cf-ray", "abc123")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Attention Required"))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, BlockCloudflare, BlockOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetcher_InvalidURL(t *testing.T) {
	_, err := newTestFetcher(t).Fetch(context.Background(), "not a url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid url")
}

func TestHTTPFetcher_CircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(HTTPOptions{
		RequestsPerSecond: 100,
		Burst:             10,
		Retry:             resilience.RetryPolicy{Attempts: 1},
		Breakers:          resilience.NewHostBreakers(1, time.Hour),
	})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestDetectBlock(t *testing.T) {
	cf := http.Header{}
	cf.Set("server", "cloudflare")

	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"login page", 200, http.Header{}, loginHTML, BlockNone},
		{"cloudflare header", 503, cf, "", BlockCloudflare},
		{"challenge body", 200, http.Header{}, "<html>Checking your browser before accessing</html>", BlockCloudflare},
		{"captcha wall", 200, http.Header{}, "<div class='g-recaptcha'>Please complete the captcha</div>", BlockCaptcha},
		{"captcha inside login form", 200, http.Header{}, "<form><input id='user'><div class='g-recaptcha'></div></form>", BlockNone},
		{"js shell", 200, http.Header{}, "<noscript>Please enable JavaScript</noscript>", BlockJSShell},
		{"meta refresh", 200, http.Header{}, `<meta http-equiv="refresh" content="0;url=/x">`, BlockJSShell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, kind := DetectBlock(tt.status, tt.header, []byte(tt.body))
			assert.Equal(t, tt.want != BlockNone, blocked)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestBlockedError_Message(t *testing.T) {
	err := &BlockedError{URL: "https://portal.example.com", Type: BlockCaptcha}
	assert.True(t, strings.Contains(err.Error(), "captcha"))
}
