package model

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// StepKind tags an automation step variant.
type StepKind string

const (
	StepNavigate       StepKind = "navigate"
	StepFillField      StepKind = "fillField"
	StepClick          StepKind = "click"
	StepWaitForElement StepKind = "waitForElement"
	StepExtractData    StepKind = "extractData"
	StepCaptcha        StepKind = "handleCaptcha"
	StepTwoFactor      StepKind = "handleTwoFactor"
)

// Destination selects where a navigate step goes.
type Destination string

const (
	DestinationURL         Destination = "url"
	DestinationLogin       Destination = "login_page"
	DestinationEligibility Destination = "eligibility_page"
)

// Step is one action in an automation script. The set of variants is closed:
// every implementation lives in this file and is dispatched through
// StepVisitor, so adding a variant breaks every visitor until it is handled.
type Step interface {
	Kind() StepKind
	// Key is the step's target name. It is unique within a script and keys
	// the step's result.
	Key() string
	Accept(ctx context.Context, v StepVisitor) (*StepResult, error)
	isStep()
}

// StepVisitor executes each step variant.
type StepVisitor interface {
	VisitNavigate(ctx context.Context, s NavigateStep) (*StepResult, error)
	VisitFillField(ctx context.Context, s FillFieldStep) (*StepResult, error)
	VisitClick(ctx context.Context, s ClickStep) (*StepResult, error)
	VisitWaitForElement(ctx context.Context, s WaitForElementStep) (*StepResult, error)
	VisitExtractData(ctx context.Context, s ExtractDataStep) (*StepResult, error)
	VisitCaptcha(ctx context.Context, s CaptchaStep) (*StepResult, error)
	VisitTwoFactor(ctx context.Context, s TwoFactorStep) (*StepResult, error)
}

// StepResult records what a step observed. Fields holds extracted values;
// a nil entry means no candidate selector produced text.
type StepResult struct {
	Kind    StepKind           `json:"kind"`
	Success bool               `json:"success"`
	URL     string             `json:"url,omitempty"`
	Fields  map[string]*string `json:"fields,omitempty"`
}

// NavigateStep loads a page. URL is only used with DestinationURL.
type NavigateStep struct {
	Target      string      `json:"target"`
	Destination Destination `json:"destination"`
	URL         string      `json:"url,omitempty"`
}

// FillFieldStep types a credential into an input.
type FillFieldStep struct {
	Target   string          `json:"target"`
	Field    CredentialField `json:"field"`
	Selector string          `json:"selector"`
}

// ClickStep clicks an element, optionally waiting for the resulting navigation.
type ClickStep struct {
	Target            string `json:"target"`
	Selector          string `json:"selector"`
	WaitForNavigation bool   `json:"waitForNavigation,omitempty"`
}

// WaitForElementStep blocks until an element is visible.
type WaitForElementStep struct {
	Target   string `json:"target"`
	Selector string `json:"selector"`
}

// FieldSelectors lists candidate selectors for one extracted field, in
// priority order.
type FieldSelectors struct {
	Name       string   `json:"name"`
	Candidates []string `json:"candidates"`
}

// ExtractDataStep reads named fields from the current page.
type ExtractDataStep struct {
	Target string           `json:"target"`
	Fields []FieldSelectors `json:"fields"`
}

// CaptchaStep marks a point where the portal presents a CAPTCHA.
type CaptchaStep struct {
	Target   string `json:"target"`
	Selector string `json:"selector,omitempty"`
}

// TwoFactorStep marks a point where the portal asks for a second factor.
type TwoFactorStep struct {
	Target   string `json:"target"`
	Selector string `json:"selector,omitempty"`
}

func (s NavigateStep) Kind() StepKind       { return StepNavigate }
func (s FillFieldStep) Kind() StepKind      { return StepFillField }
func (s ClickStep) Kind() StepKind          { return StepClick }
func (s WaitForElementStep) Kind() StepKind { return StepWaitForElement }
func (s ExtractDataStep) Kind() StepKind    { return StepExtractData }
func (s CaptchaStep) Kind() StepKind        { return StepCaptcha }
func (s TwoFactorStep) Kind() StepKind      { return StepTwoFactor }

func (s NavigateStep) Key() string       { return s.Target }
func (s FillFieldStep) Key() string      { return s.Target }
func (s ClickStep) Key() string          { return s.Target }
func (s WaitForElementStep) Key() string { return s.Target }
func (s ExtractDataStep) Key() string    { return s.Target }
func (s CaptchaStep) Key() string        { return s.Target }
func (s TwoFactorStep) Key() string      { return s.Target }

func (s NavigateStep) Accept(ctx context.Context, v StepVisitor) (*StepResult, error) {
	return v.VisitNavigate(ctx, s)
}

func (s FillFieldStep) Accept(ctx context.Context, v StepVisitor) (*StepResult, error) {
	return v.VisitFillField(ctx, s)
}

func (s ClickStep) Accept(ctx context.Context, v StepVisitor) (*StepResult, error) {
	return v.VisitClick(ctx, s)
}

func (s WaitForElementStep) Accept(ctx context.Context, v StepVisitor) (*StepResult, error) {
	return v.VisitWaitForElement(ctx, s)
}

func (s ExtractDataStep) Accept(ctx context.Context, v StepVisitor) (*StepResult, error) {
	return v.VisitExtractData(ctx, s)
}

func (s CaptchaStep) Accept(ctx context.Context, v StepVisitor) (*StepResult, error) {
	return v.VisitCaptcha(ctx, s)
}

func (s TwoFactorStep) Accept(ctx context.Context, v StepVisitor) (*StepResult, error) {
	return v.VisitTwoFactor(ctx, s)
}

func (NavigateStep) isStep()       {}
func (FillFieldStep) isStep()      {}
func (ClickStep) isStep()          {}
func (WaitForElementStep) isStep() {}
func (ExtractDataStep) isStep()    {}
func (CaptchaStep) isStep()        {}
func (TwoFactorStep) isStep()      {}

// stepEnvelope is the wire form of a Step.
type stepEnvelope struct {
	Kind StepKind        `json:"kind"`
	Step json.RawMessage `json:"step"`
}

func encodeStep(s Step) (stepEnvelope, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return stepEnvelope{}, eris.Wrapf(err, "model: marshal %s step", s.Kind())
	}
	return stepEnvelope{Kind: s.Kind(), Step: body}, nil
}

func decodeStep(env stepEnvelope) (Step, error) {
	var (
		s   Step
		err error
	)
	switch env.Kind {
	case StepNavigate:
		var v NavigateStep
		err = json.Unmarshal(env.Step, &v)
		s = v
	case StepFillField:
		var v FillFieldStep
		err = json.Unmarshal(env.Step, &v)
		s = v
	case StepClick:
		var v ClickStep
		err = json.Unmarshal(env.Step, &v)
		s = v
	case StepWaitForElement:
		var v WaitForElementStep
		err = json.Unmarshal(env.Step, &v)
		s = v
	case StepExtractData:
		var v ExtractDataStep
		err = json.Unmarshal(env.Step, &v)
		s = v
	case StepCaptcha:
		var v CaptchaStep
		err = json.Unmarshal(env.Step, &v)
		s = v
	case StepTwoFactor:
		var v TwoFactorStep
		err = json.Unmarshal(env.Step, &v)
		s = v
	default:
		return nil, eris.Errorf("model: unknown step kind %q", env.Kind)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "model: unmarshal %s step", env.Kind)
	}
	return s, nil
}
