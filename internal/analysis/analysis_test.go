package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/scrape"
)

const loginPage = `<html><body>
<form action="/member/login" method="post">
  <input type="hidden" id="username" name="csrf">
  <input type="text" id="memberid" name="memberid">
  <input type="password" id="password" name="password">
  <input type="text" id="dob" name="dob">
  <button type="submit" class="login-btn">Sign in</button>
</form>
<a href="/member/benefits">Benefits</a>
<a href="https://www.example.com/logout">Log out</a>
<a href="javascript:void(0)">Help</a>
</body></html>`

type stubFetcher struct {
	page *scrape.Page
	err  error
	urls []string
}

func (f *stubFetcher) Name() string { return "stub" }

func (f *stubFetcher) Fetch(_ context.Context, url string) (*scrape.Page, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	p := *f.page
	p.URL = url
	return &p, nil
}

type mockAdvisor struct {
	mock.Mock
}

func (m *mockAdvisor) SuggestSelectors(ctx context.Context, pageURL, formHTML string) (map[string]string, error) {
	args := m.Called(ctx, pageURL, formHTML)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestDetectLoginFields_FirstPlausibleWins(t *testing.T) {
	fields := DetectLoginFields(mustDoc(t, loginPage), DefaultCatalog())

	// #username is a hidden input, so the next candidate wins.
	assert.Equal(t, "#memberid", fields[FieldUsername])
	assert.Equal(t, "#password", fields[FieldPassword])
	assert.Equal(t, `[type="submit"]`, fields[FieldSubmit])
	assert.Equal(t, "#dob", fields[FieldDOB])
	assert.Equal(t, "#memberid", fields[FieldMemberID])
	assert.NotContains(t, fields, FieldSSN)
	assert.NotContains(t, fields, FieldZipCode)
}

func TestDetectLoginFields_SkipsDisabledAndHidden(t *testing.T) {
	doc := mustDoc(t, `<form>
		<input id="password" disabled>
		<input name="password" style="display: none">
		<input class="password-field">
	</form>`)
	fields := DetectLoginFields(doc, Catalog{{FieldPassword, []string{"#password", `[name="password"]`, ".password-field"}}})
	assert.Equal(t, ".password-field", fields[FieldPassword])
}

func TestDetectNavigation(t *testing.T) {
	nav := DetectNavigation(mustDoc(t, loginPage), "https://www.example.com/member/login")

	assert.Equal(t, "/member/login", nav[NavLogin])
	assert.Equal(t, "/member/benefits", nav[NavEligibility])
	assert.Equal(t, "/logout", nav[NavLogout])
}

func TestDetectNavigation_PatternPriority(t *testing.T) {
	doc := mustDoc(t, `<a href="/plan/coverage">Coverage</a><a href="/plan/eligibility">Eligibility</a>`)
	nav := DetectNavigation(doc, "https://portal.example.com/")

	// eligibility outranks coverage even though coverage comes first on the page
	assert.Equal(t, "/plan/eligibility", nav[NavEligibility])
	assert.NotContains(t, nav, NavLogout)
}

func TestDetectSecurity(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		captcha   bool
		twoFactor bool
	}{
		{"clean", loginPage, false, false},
		{"captcha field", `<div class="captcha-field"></div>`, true, false},
		{"recaptcha", `<div class="g-recaptcha" data-sitekey="x"></div>`, true, false},
		{"otp input", `<input autocomplete="one-time-code">`, false, true},
		{"2fa phrase", `<p>Enter the code we sent to your phone</p>`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf := DetectSecurity(mustDoc(t, tt.html))
			assert.Equal(t, tt.captcha, sf.Captcha)
			assert.Equal(t, tt.twoFactor, sf.TwoFactor)
		})
	}
}

func TestAnalyze(t *testing.T) {
	f := &stubFetcher{page: &scrape.Page{
		FinalURL: "https://www.example.com/member/login",
		HTML:     loginPage,
		Source:   "stub",
	}}
	a := New(f, Options{})

	res, err := a.Analyze(context.Background(), "https://www.example.com/member")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.com/member/login", res.URL)
	assert.Equal(t, "#password", res.Analysis.LoginFields[FieldPassword])
	assert.Equal(t, "/member/benefits", res.Analysis.Navigation[NavEligibility])
	assert.False(t, res.Analysis.Advised)
	assert.Equal(t, []string{"https://www.example.com/member"}, f.urls)
}

func TestAnalyze_Blocked(t *testing.T) {
	f := &stubFetcher{err: &scrape.BlockedError{URL: "https://x", Type: scrape.BlockCloudflare}}

	res, err := New(f, Options{}).Analyze(context.Background(), "https://x")
	require.NoError(t, err)
	assert.Empty(t, res.Analysis.LoginFields)
	assert.Equal(t, "cloudflare", res.Analysis.Security.BotProtection)
}

func TestAnalyze_FetchError(t *testing.T) {
	f := &stubFetcher{err: errors.New("connection refused")}

	_, err := New(f, Options{}).Analyze(context.Background(), "https://x")
	require.Error(t, err)
	assert.Equal(t, failure.KindPortalAnalysis, failure.KindOf(err))
}

func TestAnalyze_CancelledIsNotAnalysisFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &stubFetcher{err: context.Canceled}

	_, err := New(f, Options{}).Analyze(ctx, "https://x")
	require.Error(t, err)
	assert.Equal(t, failure.KindAborted, failure.KindOf(err))
}

func TestAnalyze_AdvisorFillsGaps(t *testing.T) {
	html := `<form><input id="ctl00_User"><input id="ctl00_Pass"><a id="go">Go</a></form>`
	f := &stubFetcher{page: &scrape.Page{HTML: html}}
	adv := new(mockAdvisor)
	adv.On("SuggestSelectors", mock.Anything, "https://x", mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "ctl00_User")
	})).Return(map[string]string{
		FieldUsername: "#ctl00_User",
		FieldPassword: "#ctl00_Pass",
		FieldSubmit:   "#missing",
		"favorite":    "#go",
	}, nil)

	res, err := New(f, Options{Advisor: adv}).Analyze(context.Background(), "https://x")
	require.NoError(t, err)
	assert.True(t, res.Analysis.Advised)
	assert.Equal(t, map[string]string{
		FieldUsername: "#ctl00_User",
		FieldPassword: "#ctl00_Pass",
	}, res.Analysis.LoginFields)
	adv.AssertExpectations(t)
}

func TestAnalyze_AdvisorSkippedWhenCatalogMatches(t *testing.T) {
	f := &stubFetcher{page: &scrape.Page{HTML: loginPage}}
	adv := new(mockAdvisor)

	_, err := New(f, Options{Advisor: adv}).Analyze(context.Background(), "https://x")
	require.NoError(t, err)
	adv.AssertNotCalled(t, "SuggestSelectors", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyze_AdvisorErrorIgnored(t *testing.T) {
	f := &stubFetcher{page: &scrape.Page{HTML: `<form><input id="x"></form>`}}
	adv := new(mockAdvisor)
	adv.On("SuggestSelectors", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

	res, err := New(f, Options{Advisor: adv}).Analyze(context.Background(), "https://x")
	require.NoError(t, err)
	assert.Empty(t, res.Analysis.LoginFields)
	assert.False(t, res.Analysis.Advised)
}

func TestCatalogMerge(t *testing.T) {
	c := DefaultCatalog().Merge(map[string][]string{
		FieldUsername: {"#ctl00_ContentPlaceHolder1_txtUserName", "#username"},
		"badge":       {"#badge"},
	})

	user := c.Selectors(FieldUsername)
	assert.Equal(t, "#username", user[0])
	assert.Equal(t, "#ctl00_ContentPlaceHolder1_txtUserName", user[len(user)-1])
	assert.Equal(t, []string{"#badge"}, c.Selectors("badge"))
	// the source catalog is untouched
	assert.NotContains(t, DefaultCatalog().Selectors(FieldUsername), "#ctl00_ContentPlaceHolder1_txtUserName")
}

func TestFormExcerpt(t *testing.T) {
	out, err := FormExcerpt(mustDoc(t, `<div>nav</div><form id="login"><input id="u"></form>`))
	require.NoError(t, err)
	assert.Contains(t, out, `<form id="login">`)
	assert.NotContains(t, out, "nav")

	long := "<body>" + strings.Repeat("<p>x</p>", 3000) + "</body>"
	out, err = FormExcerpt(mustDoc(t, long))
	require.NoError(t, err)
	assert.Len(t, out, maxExcerpt)
}
