package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// AutomationScript is the generated plan for one portal. It is immutable once
// generated; feedback never rewrites it.
type AutomationScript struct {
	Steps []Step
	// Fallbacks maps a 0-based step index to its single substitute.
	Fallbacks  map[int]Step
	Timeout    time.Duration
	MaxRetries int
}

type scriptJSON struct {
	Steps      []stepEnvelope       `json:"steps"`
	Fallbacks  map[int]stepEnvelope `json:"fallbacks,omitempty"`
	TimeoutMs  int64                `json:"timeoutMs"`
	MaxRetries int                  `json:"maxRetries"`
}

// MarshalJSON encodes steps as kind-tagged envelopes.
func (s AutomationScript) MarshalJSON() ([]byte, error) {
	out := scriptJSON{
		Steps:      make([]stepEnvelope, 0, len(s.Steps)),
		TimeoutMs:  s.Timeout.Milliseconds(),
		MaxRetries: s.MaxRetries,
	}
	for _, st := range s.Steps {
		env, err := encodeStep(st)
		if err != nil {
			return nil, err
		}
		out.Steps = append(out.Steps, env)
	}
	if len(s.Fallbacks) > 0 {
		out.Fallbacks = make(map[int]stepEnvelope, len(s.Fallbacks))
		for i, st := range s.Fallbacks {
			env, err := encodeStep(st)
			if err != nil {
				return nil, err
			}
			out.Fallbacks[i] = env
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes kind-tagged envelopes. An unknown kind is an error.
func (s *AutomationScript) UnmarshalJSON(data []byte) error {
	var in scriptJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return eris.Wrap(err, "model: unmarshal script")
	}
	steps := make([]Step, 0, len(in.Steps))
	for _, env := range in.Steps {
		st, err := decodeStep(env)
		if err != nil {
			return err
		}
		steps = append(steps, st)
	}
	var fallbacks map[int]Step
	if len(in.Fallbacks) > 0 {
		fallbacks = make(map[int]Step, len(in.Fallbacks))
		for i, env := range in.Fallbacks {
			st, err := decodeStep(env)
			if err != nil {
				return err
			}
			fallbacks[i] = st
		}
	}
	*s = AutomationScript{
		Steps:      steps,
		Fallbacks:  fallbacks,
		Timeout:    time.Duration(in.TimeoutMs) * time.Millisecond,
		MaxRetries: in.MaxRetries,
	}
	return nil
}

// TemplateMatch records which built-in portal template scored best.
type TemplateMatch struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// PortalConfig is a learned portal plan plus its usage statistics.
type PortalConfig struct {
	InsurerKey   string           `json:"insurerKey"`
	InsurerName  string           `json:"insurerName"`
	PortalURL    string           `json:"portalUrl"`
	Template     *TemplateMatch   `json:"template,omitempty"`
	Script       AutomationScript `json:"script"`
	Confidence   float64          `json:"confidence"`
	SuccessCount int              `json:"successCount"`
	FailureCount int              `json:"failureCount"`
	LastUsedAt   *time.Time       `json:"lastUsedAt,omitempty"`
	// SuspectSteps holds 0-based step indexes implicated by failure feedback.
	// Advisory only; the automator does not read it.
	SuspectSteps []int     `json:"suspectSteps,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SuccessRate is successes over all recorded attempts, 0 with no attempts.
func (c *PortalConfig) SuccessRate() float64 {
	total := c.SuccessCount + c.FailureCount
	if total == 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(total)
}

// PortalState is the learning state of an insurer.
type PortalState string

const (
	PortalUnknown   PortalState = "unknown"
	PortalSupported PortalState = "supported"
)

// PortalStatus is the result of a status lookup.
type PortalStatus struct {
	State       PortalState `json:"state"`
	Confidence  float64     `json:"confidence,omitempty"`
	SuccessRate float64     `json:"successRate,omitempty"`
	LastUsedAt  *time.Time  `json:"lastUsedAt,omitempty"`
}

// SecurityFeatures lists anti-automation measures seen during analysis.
type SecurityFeatures struct {
	Captcha       bool   `json:"captcha"`
	TwoFactor     bool   `json:"twoFactor"`
	BotProtection string `json:"botProtection,omitempty"`
}

// PortalAnalysis is the structural read of a portal's login page.
type PortalAnalysis struct {
	// LoginFields maps a login field name (username, password, submit, ...)
	// to the first catalog selector that matched.
	LoginFields map[string]string `json:"loginFields"`
	// Navigation maps a pattern name (loginUrl, eligibilityPath, logoutPath)
	// to the detected path.
	Navigation map[string]string `json:"navigation"`
	Security   SecurityFeatures  `json:"security"`
	// Advised is true when login selectors came from the LLM advisor.
	Advised bool `json:"advised,omitempty"`
}

// Discovery is a candidate portal configuration awaiting a consented test.
type Discovery struct {
	InsurerKey             string           `json:"insurerKey"`
	InsurerName            string           `json:"insurerName"`
	PortalURL              string           `json:"portalUrl"`
	Template               *TemplateMatch   `json:"template,omitempty"`
	Script                 AutomationScript `json:"script"`
	Confidence             float64          `json:"confidence"`
	Analysis               PortalAnalysis   `json:"analysis"`
	RequiresPatientConsent bool             `json:"requiresPatientConsent"`
}

// SupportedInsurer is one row of the supported-insurers listing.
type SupportedInsurer struct {
	Name         string     `json:"name"`
	Key          string     `json:"key"`
	Confidence   float64    `json:"confidence"`
	SuccessRate  float64    `json:"successRate"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
	SupportLevel string     `json:"supportLevel"`
}
