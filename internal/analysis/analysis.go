// Package analysis reads the structure of an insurer portal's login page:
// which catalog selectors locate the login fields, which navigation paths the
// page links to and which anti-automation measures it shows.
package analysis

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
	"github.com/BoweryJG/clearverify-patient/internal/scrape"
)

// Result is the analysis of one portal page.
type Result struct {
	// URL is the page address after redirects.
	URL      string
	Analysis model.PortalAnalysis
}

// Options configures an Analyzer.
type Options struct {
	// Catalog defaults to DefaultCatalog.
	Catalog Catalog
	// Advisor is consulted when no login field matches the catalog. Optional.
	Advisor Advisor
}

// Analyzer fetches portal pages and inspects them for login structure.
type Analyzer struct {
	fetcher scrape.Fetcher
	catalog Catalog
	advisor Advisor
}

// New creates an Analyzer that loads pages through fetcher.
func New(fetcher scrape.Fetcher, opts Options) *Analyzer {
	if len(opts.Catalog) == 0 {
		opts.Catalog = DefaultCatalog()
	}
	return &Analyzer{fetcher: fetcher, catalog: opts.Catalog, advisor: opts.Advisor}
}

// Catalog returns the selectors the analyzer checks.
func (a *Analyzer) Catalog() Catalog { return a.catalog }

// Analyze fetches portalURL and reads its structure. A page that blocks the
// fetch with a bot wall is not an error: the block is reported in
// Security.BotProtection with no login fields. Other fetch failures are
// portal analysis failures.
func (a *Analyzer) Analyze(ctx context.Context, portalURL string) (*Result, error) {
	log := zap.L().With(zap.String("component", "analysis"), zap.String("url", portalURL))

	page, err := a.fetcher.Fetch(ctx, portalURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrapf(err, "analysis: fetch %s", portalURL)
		}
		if block := scrape.BlockOf(err); block != scrape.BlockNone {
			log.Warn("analysis: portal blocked the fetch", zap.String("block", string(block)))
			return &Result{
				URL: portalURL,
				Analysis: model.PortalAnalysis{
					LoginFields: map[string]string{},
					Navigation:  map[string]string{},
					Security:    model.SecurityFeatures{BotProtection: string(block)},
				},
			}, nil
		}
		return nil, failure.Wrap(failure.KindPortalAnalysis, eris.Wrapf(err, "analysis: fetch %s", portalURL))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, failure.Wrap(failure.KindPortalAnalysis, eris.Wrapf(err, "analysis: parse %s", portalURL))
	}

	finalURL := page.FinalURL
	if finalURL == "" {
		finalURL = portalURL
	}
	res := &Result{
		URL: finalURL,
		Analysis: model.PortalAnalysis{
			LoginFields: DetectLoginFields(doc, a.catalog),
			Navigation:  DetectNavigation(doc, finalURL),
			Security:    DetectSecurity(doc),
		},
	}

	if !hasCredentialField(res.Analysis.LoginFields) && a.advisor != nil {
		a.advise(ctx, doc, res, log)
	}

	log.Info("analysis: portal analyzed",
		zap.String("final_url", finalURL),
		zap.String("source", page.Source),
		zap.Int("login_fields", len(res.Analysis.LoginFields)),
		zap.Int("navigation", len(res.Analysis.Navigation)),
		zap.Bool("captcha", res.Analysis.Security.Captcha),
		zap.Bool("two_factor", res.Analysis.Security.TwoFactor),
		zap.Bool("advised", res.Analysis.Advised),
	)
	return res, nil
}

// advise asks the advisor for login selectors and keeps only those that
// match a usable element on the page. Advisor errors are logged and ignored.
func (a *Analyzer) advise(ctx context.Context, doc *goquery.Document, res *Result, log *zap.Logger) {
	form, err := FormExcerpt(doc)
	if err != nil || form == "" {
		return
	}
	suggested, err := a.advisor.SuggestSelectors(ctx, res.URL, form)
	if err != nil {
		log.Warn("analysis: advisor failed", zap.Error(err))
		return
	}
	for field, sel := range suggested {
		if _, known := res.Analysis.LoginFields[field]; known || a.catalog.Selectors(field) == nil {
			continue
		}
		if plausible(doc.Find(sel).First()) {
			res.Analysis.LoginFields[field] = sel
			res.Analysis.Advised = true
		} else {
			log.Debug("analysis: advisor selector rejected", zap.String("field", field), zap.String("selector", sel))
		}
	}
}

// DetectLoginFields returns, per catalog field, the first selector that
// matches a plausible element. Fields with no match are absent.
func DetectLoginFields(doc *goquery.Document, catalog Catalog) map[string]string {
	found := make(map[string]string, len(catalog))
	for _, fc := range catalog {
		for _, sel := range fc.Selectors {
			if plausible(doc.Find(sel).First()) {
				found[fc.Field] = sel
				break
			}
		}
	}
	return found
}

// plausible rejects empty selections and inputs a user could never fill.
func plausible(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	if t, _ := s.Attr("type"); strings.EqualFold(t, "hidden") {
		return false
	}
	if _, disabled := s.Attr("disabled"); disabled {
		return false
	}
	style, _ := s.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return !strings.Contains(style, "display:none")
}

func hasCredentialField(fields map[string]string) bool {
	for _, f := range []string{FieldUsername, FieldMemberID, FieldPassword} {
		if _, ok := fields[f]; ok {
			return true
		}
	}
	return false
}

// DetectNavigation maps each navigation pattern to the first path, taken
// from the page URL then from anchor hrefs, that contains one of its
// fragments. Fragments are tried in priority order.
func DetectNavigation(doc *goquery.Document, pageURL string) map[string]string {
	base, _ := url.Parse(pageURL)

	paths := make([]string, 0, 16)
	if base != nil {
		paths = append(paths, base.Path)
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || ref.Scheme == "javascript" || ref.Scheme == "mailto" {
			return
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if ref.Path != "" {
			paths = append(paths, ref.Path)
		}
	})

	found := make(map[string]string, len(navPatterns))
	for _, np := range navPatterns {
	patterns:
		for _, frag := range np.patterns {
			for _, p := range paths {
				if strings.Contains(strings.ToLower(p), frag) {
					found[np.name] = p
					break patterns
				}
			}
		}
	}
	return found
}

// DetectSecurity reports CAPTCHA widgets and second-factor prompts.
func DetectSecurity(doc *goquery.Document) model.SecurityFeatures {
	var sf model.SecurityFeatures
	for _, sel := range captchaSelectors {
		if doc.Find(sel).Length() > 0 {
			sf.Captcha = true
			break
		}
	}
	for _, sel := range twoFactorSelectors {
		if doc.Find(sel).Length() > 0 {
			sf.TwoFactor = true
			break
		}
	}
	if !sf.TwoFactor {
		text := strings.ToLower(doc.Find("body").Text())
		for _, phrase := range twoFactorPhrases {
			if strings.Contains(text, phrase) {
				sf.TwoFactor = true
				break
			}
		}
	}
	return sf
}

// maxExcerpt bounds the HTML sent to the advisor.
const maxExcerpt = 8000

// FormExcerpt returns the outer HTML of the page's forms, or of its body
// when it has none, truncated for an LLM prompt.
func FormExcerpt(doc *goquery.Document) (string, error) {
	var b strings.Builder
	forms := doc.Find("form")
	if forms.Length() == 0 {
		forms = doc.Find("body")
	}
	var err error
	forms.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var html string
		html, err = goquery.OuterHtml(s)
		if err != nil {
			return false
		}
		b.WriteString(html)
		b.WriteByte('\n')
		return b.Len() < maxExcerpt
	})
	if err != nil {
		return "", eris.Wrap(err, "analysis: render form")
	}
	out := b.String()
	if len(out) > maxExcerpt {
		out = out[:maxExcerpt]
	}
	return out, nil
}
