// Package learner maps insurer names to reusable portal automation
// configurations, inventing one by analyzing the insurer's portal when none
// is stored yet. Inferred URLs and selectors are best effort: the first
// candidate that looks right wins and nothing is verified until a consented
// test run.
package learner

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/analysis"
	"github.com/BoweryJG/clearverify-patient/internal/automator"
	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
	"github.com/BoweryJG/clearverify-patient/internal/monitoring"
	"github.com/BoweryJG/clearverify-patient/internal/store"
)

// Analyzer reads a portal's login structure.
type Analyzer interface {
	Analyze(ctx context.Context, portalURL string) (*analysis.Result, error)
	Catalog() analysis.Catalog
}

// Runner executes a portal configuration.
type Runner interface {
	Execute(ctx context.Context, cfg *model.PortalConfig, creds model.PatientCredentials, token string) (*automator.Result, error)
}

// Options tunes generated scripts.
type Options struct {
	ScriptTimeout time.Duration
	MaxRetries    int
}

// Learner owns the learned portal configurations.
type Learner struct {
	store     store.Store
	analyzer  Analyzer
	runner    Runner
	templates []Template
	opts      Options
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// New creates a Learner. templates defaults to the built-in set and metrics
// may be nil.
func New(st store.Store, an Analyzer, runner Runner, templates []Template, opts Options, metrics *monitoring.Metrics) *Learner {
	if len(templates) == 0 {
		templates = DefaultTemplates()
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Learner{
		store:     st,
		analyzer:  an,
		runner:    runner,
		templates: templates,
		opts:      opts,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CandidateURLs lists the name-derived portal URLs in priority order.
func CandidateURLs(insurerName string) []string {
	slug := model.InsurerSlug(insurerName)
	if slug == "" {
		return nil
	}
	return []string{
		"https://www." + slug + ".com/member",
		"https://member." + slug + ".com",
		"https://portal." + slug + ".com",
	}
}

// Status reports whether an insurer has a learned configuration.
func (l *Learner) Status(ctx context.Context, insurerName string) (model.PortalStatus, error) {
	cfg, err := l.store.GetPortal(ctx, model.InsurerKey(insurerName))
	if err != nil {
		return model.PortalStatus{}, eris.Wrapf(err, "learner: status %s", insurerName)
	}
	if cfg == nil {
		return model.PortalStatus{State: model.PortalUnknown}, nil
	}
	return model.PortalStatus{
		State:       model.PortalSupported,
		Confidence:  cfg.Confidence,
		SuccessRate: cfg.SuccessRate(),
		LastUsedAt:  cfg.LastUsedAt,
	}, nil
}

// Config returns the learned configuration for an insurer, or nil.
func (l *Learner) Config(ctx context.Context, insurerName string) (*model.PortalConfig, error) {
	cfg, err := l.store.GetPortal(ctx, model.InsurerKey(insurerName))
	if err != nil {
		return nil, eris.Wrapf(err, "learner: load %s", insurerName)
	}
	return cfg, nil
}

// Discover proposes a configuration for an unknown insurer. The first
// name-derived URL is analyzed; its reachability is not otherwise checked.
// A portal with no detectable login fields is a portal analysis failure.
// Every discovery requires patient consent before it is tested.
func (l *Learner) Discover(ctx context.Context, insurerName string, patient model.InsuranceInfo) (*model.Discovery, error) {
	key := model.InsurerKey(insurerName)
	log := zap.L().With(zap.String("component", "learner"), zap.String("insurer", key))

	candidates := CandidateURLs(insurerName)
	if len(candidates) == 0 {
		return nil, failure.New(failure.KindPortalAnalysis, "learner: no portal url can be derived from %q", insurerName)
	}
	portalURL := candidates[0]

	res, err := l.analyzer.Analyze(ctx, portalURL)
	if err != nil {
		if failure.KindOf(err) == failure.KindPortalAnalysis {
			l.recordLearning(ctx, key, portalURL, err, 0, nil, nil)
		}
		return nil, err
	}
	if len(res.Analysis.LoginFields) == 0 {
		err := failure.New(failure.KindPortalAnalysis, "learner: no login fields found at %s", res.URL)
		l.recordLearning(ctx, key, res.URL, err, 0, nil, &res.Analysis)
		return nil, err
	}

	tmpl, score := BestTemplate(l.templates, res.Analysis)
	var match *model.TemplateMatch
	if tmpl != nil {
		match = &model.TemplateMatch{Name: tmpl.Name, Score: score}
	}

	d := &model.Discovery{
		InsurerKey:             key,
		InsurerName:            insurerName,
		PortalURL:              res.URL,
		Template:               match,
		Script:                 BuildScript(res.Analysis, tmpl, l.analyzer.Catalog(), l.opts.ScriptTimeout, l.opts.MaxRetries),
		Confidence:             Confidence(score),
		Analysis:               res.Analysis,
		RequiresPatientConsent: true,
	}

	templateName := ""
	if tmpl != nil {
		templateName = tmpl.Name
	}
	log.Info("learner: portal discovered",
		zap.String("portal_url", d.PortalURL),
		zap.String("template", templateName),
		zap.Int("score", score),
		zap.Float64("confidence", d.Confidence),
		zap.Int("steps", len(d.Script.Steps)),
		zap.Bool("has_member_id", patient.MemberID != ""),
	)
	return d, nil
}

// Test runs a discovery once with the patient's consented credentials. On
// success the configuration is stored with zero counters and the insurer
// becomes known. On failure the cause is appended to the learning history
// and nothing is stored. Consent and capacity rejections are returned as is.
func (l *Learner) Test(ctx context.Context, d *model.Discovery, creds model.PatientCredentials, token string) (*model.PortalConfig, *automator.Result, error) {
	now := l.now()
	cfg := &model.PortalConfig{
		InsurerKey:  d.InsurerKey,
		InsurerName: d.InsurerName,
		PortalURL:   d.PortalURL,
		Template:    d.Template,
		Script:      d.Script,
		Confidence:  d.Confidence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := l.runner.Execute(ctx, cfg, creds, token)
	if err != nil {
		kind := failure.KindOf(err)
		if !kind.Gating() {
			l.recordLearning(ctx, d.InsurerKey, d.PortalURL, err, failure.StepOf(err), d.Script.Steps, &d.Analysis)
		}
		return nil, res, err
	}

	if err := l.store.SavePortal(ctx, cfg); err != nil {
		return nil, res, failure.Wrap(failure.KindSystem, eris.Wrapf(err, "learner: save %s", d.InsurerKey))
	}
	l.metrics.PortalLearned()
	zap.L().Info("learner: portal learned",
		zap.String("insurer", d.InsurerKey),
		zap.Float64("confidence", cfg.Confidence),
		zap.Duration("elapsed", res.ExecutionTime),
	)
	return cfg, res, nil
}

// FeedbackDetails describes the verification the feedback is about.
type FeedbackDetails struct {
	// Step is the 1-based failing step, 0 when unknown.
	Step          int
	ErrorKind     failure.Kind
	ExecutionTime time.Duration
}

// Feedback folds one verification outcome into the stored configuration.
// Success bumps the success counter and moves confidence 5% of the way to
// 1. Failure bumps the failure counter, marks the failing step suspect and
// decays confidence by 10%. Feedback for an unknown insurer is ignored.
func (l *Learner) Feedback(ctx context.Context, insurerName string, success bool, details FeedbackDetails) error {
	key := model.InsurerKey(insurerName)
	now := l.now()

	cfg, err := l.store.UpdatePortal(ctx, key, func(cfg *model.PortalConfig) error {
		cfg.UpdatedAt = now
		if success {
			cfg.SuccessCount++
			cfg.LastUsedAt = &now
			cfg.Confidence += (1 - cfg.Confidence) * 0.05
			return nil
		}
		cfg.FailureCount++
		cfg.Confidence *= 0.9
		if idx := details.Step - 1; idx >= 0 && idx < len(cfg.Script.Steps) && !slices.Contains(cfg.SuspectSteps, idx) {
			cfg.SuspectSteps = append(cfg.SuspectSteps, idx)
			slices.Sort(cfg.SuspectSteps)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "learner: feedback %s", key)
	}
	if cfg == nil {
		zap.L().Debug("learner: feedback for unknown insurer ignored", zap.String("insurer", key))
		return nil
	}

	zap.L().Debug("learner: feedback applied",
		zap.String("insurer", key),
		zap.Bool("success", success),
		zap.String("error_kind", string(details.ErrorKind)),
		zap.Float64("confidence", cfg.Confidence),
		zap.Float64("success_rate", cfg.SuccessRate()),
	)
	return nil
}

// SuccessRate is successes over recorded attempts, 0 when there are none.
func SuccessRate(cfg *model.PortalConfig) float64 {
	return cfg.SuccessRate()
}

// Supported lists the known insurers, best success rate first.
func (l *Learner) Supported(ctx context.Context) ([]model.SupportedInsurer, error) {
	cfgs, err := l.store.ListPortals(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "learner: list portals")
	}
	out := make([]model.SupportedInsurer, 0, len(cfgs))
	for _, c := range cfgs {
		level := "medium"
		if c.Confidence > 0.8 {
			level = "high"
		}
		name := c.InsurerName
		if name == "" {
			name = c.InsurerKey
		}
		out = append(out, model.SupportedInsurer{
			Name:         name,
			Key:          c.InsurerKey,
			Confidence:   c.Confidence,
			SuccessRate:  c.SuccessRate(),
			LastUsedAt:   c.LastUsedAt,
			SupportLevel: level,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SuccessRate > out[j].SuccessRate })
	return out, nil
}

// recordLearning appends a failed learning attempt to the history. Errors
// writing the history are logged, not returned.
func (l *Learner) recordLearning(ctx context.Context, key, portalURL string, cause error, step int, steps []model.Step, a *model.PortalAnalysis) {
	ev := model.LearningEvent{
		ID:         uuid.NewString(),
		InsurerKey: key,
		PortalURL:  portalURL,
		Timestamp:  l.now(),
		ErrorKind:  failure.KindOf(cause),
		Error:      cause.Error(),
		Step:       step,
		Points:     learningPoints(cause, step, steps, a),
	}
	if err := l.store.RecordLearningEvent(context.WithoutCancel(ctx), ev); err != nil {
		zap.L().Warn("learner: record learning event", zap.String("insurer", key), zap.Error(err))
	}
	zap.L().Info("learner: learning attempt failed",
		zap.String("insurer", key),
		zap.String("kind", string(ev.ErrorKind)),
		zap.Int("step", step),
	)
}

// learningPoints files a failure under selector, timing, security or
// structural issues according to its kind and the step it hit.
func learningPoints(cause error, step int, steps []model.Step, a *model.PortalAnalysis) model.LearningPoints {
	var p model.LearningPoints

	where := "portal"
	var failed model.Step
	if step > 0 && step <= len(steps) {
		failed = steps[step-1]
		where = fmt.Sprintf("step %d (%s %s)", step, failed.Kind(), failed.Key())
	}

	switch failure.KindOf(cause) {
	case failure.KindTimeout:
		p.TimingIssues = append(p.TimingIssues, where+" timed out")
	case failure.KindCaptchaRequired:
		p.SecurityBlocks = append(p.SecurityBlocks, where+" requires a captcha")
	case failure.KindTwoFactorRequired:
		p.SecurityBlocks = append(p.SecurityBlocks, where+" requires two-factor authentication")
	case failure.KindPortalAnalysis:
		p.StructuralChanges = append(p.StructuralChanges, "no usable login form found")
	case failure.KindStepFailure:
		if failed != nil && failed.Kind() == model.StepNavigate {
			p.StructuralChanges = append(p.StructuralChanges, where+" failed to load")
		} else {
			p.SelectorIssues = append(p.SelectorIssues, where+" selector did not match")
		}
	}
	if a != nil && a.Security.BotProtection != "" {
		p.SecurityBlocks = append(p.SecurityBlocks, "bot protection: "+a.Security.BotProtection)
	}
	return p
}
