package automator

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/browser"
	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// stepExecutor runs steps against one session's page.
type stepExecutor struct {
	page   browser.Page
	portal *model.PortalConfig
	creds  model.PatientCredentials
	opts   Options
	log    *zap.Logger
}

var _ model.StepVisitor = (*stepExecutor)(nil)

// DefaultLoginURL is the guessed login page for an insurer without a
// learned portal URL.
func DefaultLoginURL(insurerName string) string {
	return "https://www." + model.InsurerSlug(insurerName) + ".com/member/login"
}

func (e *stepExecutor) VisitNavigate(ctx context.Context, s model.NavigateStep) (*model.StepResult, error) {
	target, err := e.resolveDestination(ctx, s)
	if err != nil {
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, e.opts.NavigationTimeout)
	defer cancel()
	if err := e.page.Navigate(navCtx, target); err != nil {
		return nil, err
	}
	if err := sleep(ctx, e.opts.Settle); err != nil {
		return nil, err
	}

	current, err := e.page.URL(ctx)
	if err != nil {
		return nil, err
	}
	e.log.Debug("automator: navigated",
		zap.String("target", s.Target),
		zap.String("url", current),
	)
	return &model.StepResult{Kind: s.Kind(), Success: true, URL: current}, nil
}

func (e *stepExecutor) resolveDestination(ctx context.Context, s model.NavigateStep) (string, error) {
	switch s.Destination {
	case model.DestinationLogin:
		if e.portal.PortalURL != "" {
			return e.portal.PortalURL, nil
		}
		return DefaultLoginURL(e.portal.InsurerName), nil
	case model.DestinationEligibility:
		return e.eligibilityURL(ctx)
	case model.DestinationURL, "":
		if s.URL == "" {
			return "", failure.New(failure.KindStepFailure, "navigate %s: no url", s.Target)
		}
		return s.URL, nil
	default:
		return "", failure.New(failure.KindStepFailure, "navigate %s: unknown destination %q", s.Target, s.Destination)
	}
}

var (
	eligibilityHrefPatterns = []string{"eligibility", "benefits", "coverage"}
	eligibilityTextPatterns = []string{"benefits", "eligibility", "coverage"}
)

// eligibilityURL picks the first link whose href mentions eligibility,
// benefits or coverage, then the first whose text does, else appends
// /benefits to the current URL.
func (e *stepExecutor) eligibilityURL(ctx context.Context) (string, error) {
	links, err := e.page.Links(ctx)
	if err != nil {
		return "", err
	}
	if href := matchLink(links, eligibilityHrefPatterns, func(l browser.Link) string { return l.Href }); href != "" {
		return href, nil
	}
	if href := matchLink(links, eligibilityTextPatterns, func(l browser.Link) string { return l.Text }); href != "" {
		return href, nil
	}

	current, err := e.page.URL(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(current, "/") + "/benefits", nil
}

func matchLink(links []browser.Link, patterns []string, field func(browser.Link) string) string {
	for _, p := range patterns {
		for _, l := range links {
			if l.Href != "" && strings.Contains(strings.ToLower(field(l)), p) {
				return l.Href
			}
		}
	}
	return ""
}

func (e *stepExecutor) VisitFillField(ctx context.Context, s model.FillFieldStep) (*model.StepResult, error) {
	value, ok := e.creds.Value(s.Field)
	if !ok {
		return nil, failure.New(failure.KindMissingCredential, "fill %s: no %s credential supplied", s.Target, s.Field)
	}

	if err := e.waitVisible(ctx, s.Selector); err != nil {
		return nil, err
	}
	if err := e.page.Clear(ctx, s.Selector); err != nil {
		return nil, err
	}
	for _, ch := range value {
		if err := e.page.TypeChar(ctx, s.Selector, ch); err != nil {
			return nil, err
		}
		if err := sleep(ctx, e.opts.Pacer.TypeDelay()); err != nil {
			return nil, err
		}
	}
	return &model.StepResult{Kind: s.Kind(), Success: true}, nil
}

func (e *stepExecutor) VisitClick(ctx context.Context, s model.ClickStep) (*model.StepResult, error) {
	if err := e.waitVisible(ctx, s.Selector); err != nil {
		return nil, err
	}
	if err := e.page.ScrollIntoView(ctx, s.Selector); err != nil {
		return nil, err
	}

	timeout := e.opts.ElementTimeout
	if s.WaitForNavigation {
		timeout = e.opts.ClickNavTimeout
	}
	clickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.page.Click(clickCtx, s.Selector, s.WaitForNavigation); err != nil {
		return nil, err
	}
	return &model.StepResult{Kind: s.Kind(), Success: true}, nil
}

func (e *stepExecutor) VisitWaitForElement(ctx context.Context, s model.WaitForElementStep) (*model.StepResult, error) {
	if err := e.waitVisible(ctx, s.Selector); err != nil {
		return nil, err
	}
	return &model.StepResult{Kind: s.Kind(), Success: true}, nil
}

// VisitExtractData reads each field's candidates in order without waiting
// for them. The first candidate with non-empty cleaned text wins and later
// candidates are never read. Fields with no match are nil.
func (e *stepExecutor) VisitExtractData(ctx context.Context, s model.ExtractDataStep) (*model.StepResult, error) {
	if err := sleep(ctx, e.opts.ExtractSettle); err != nil {
		return nil, err
	}

	fields := make(map[string]*string, len(s.Fields))
	for _, f := range s.Fields {
		fields[f.Name] = nil
		for _, sel := range f.Candidates {
			text, found, err := e.page.Text(ctx, sel)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				e.log.Debug("automator: candidate read failed",
					zap.String("field", f.Name),
					zap.String("selector", sel),
					zap.Error(err),
				)
				continue
			}
			if !found {
				continue
			}
			if cleaned := CleanText(text); cleaned != "" {
				fields[f.Name] = &cleaned
				break
			}
		}
	}
	return &model.StepResult{Kind: s.Kind(), Success: true, Fields: fields}, nil
}

func (e *stepExecutor) VisitCaptcha(_ context.Context, s model.CaptchaStep) (*model.StepResult, error) {
	return nil, failure.New(failure.KindCaptchaRequired, "%s: portal requires a captcha", s.Target)
}

func (e *stepExecutor) VisitTwoFactor(_ context.Context, s model.TwoFactorStep) (*model.StepResult, error) {
	return nil, failure.New(failure.KindTwoFactorRequired, "%s: portal requires two-factor authentication", s.Target)
}

func (e *stepExecutor) waitVisible(ctx context.Context, selector string) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.ElementTimeout)
	defer cancel()
	if err := e.page.WaitVisible(waitCtx, selector); err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return failure.Wrap(failure.KindTimeout, eris.Wrapf(err, "element %s not visible within %s", selector, e.opts.ElementTimeout))
		}
		return err
	}
	return nil
}

var (
	disallowedChars = regexp.MustCompile(`[^\w\s$.,%/-]`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// CleanText collapses whitespace and drops characters that never appear in
// benefit values.
func CleanText(s string) string {
	s = disallowedChars.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
