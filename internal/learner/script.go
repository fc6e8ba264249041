package learner

import (
	"time"

	"github.com/BoweryJG/clearverify-patient/internal/analysis"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// Extracted data field names.
const (
	DataEligibilityStatus = "eligibilityStatus"
	DataDeductible        = "deductible"
	DataMaxBenefit        = "maxBenefit"
	DataCopay             = "copay"
	DataCoinsurance       = "coinsurance"
	DataEffectiveDate     = "effectiveDate"
	DataPlanType          = "planType"
)

// dataSelectors are the generic benefit selectors, in extraction order.
var dataSelectors = []model.FieldSelectors{
	{Name: DataEligibilityStatus, Candidates: []string{".eligibility-status", ".plan-active", ".coverage-active"}},
	{Name: DataDeductible, Candidates: []string{".deductible", ".deductible-amount", ".annual-deductible"}},
	{Name: DataMaxBenefit, Candidates: []string{".max-benefit", ".annual-maximum", ".yearly-max"}},
	{Name: DataCopay, Candidates: []string{".copay", ".copayment", ".coinsurance"}},
	{Name: DataCoinsurance, Candidates: []string{".coinsurance", ".coinsurance-rate"}},
	{Name: DataEffectiveDate, Candidates: []string{".effective-date", ".start-date", ".plan-start"}},
	{Name: DataPlanType, Candidates: []string{".plan-type", ".plan-name", ".network-type"}},
}

// Step targets of generated scripts.
const (
	TargetLoginPage       = "loginPage"
	TargetUsername        = "username"
	TargetContinue        = "continue"
	TargetPasswordReady   = "passwordReady"
	TargetPassword        = "password"
	TargetCaptcha         = "captcha"
	TargetSubmit          = "submit"
	TargetTwoFactor       = "twoFactor"
	TargetEligibilityPage = "eligibilityPage"
	TargetEligibilityInfo = "eligibilityInfo"
)

// scriptBuilder assembles a script from an analysis. Each login step gets
// the detected selector, and a fallback built from the next candidate the
// template or catalog offers.
type scriptBuilder struct {
	analysis model.PortalAnalysis
	template *Template
	catalog  analysis.Catalog
	script   model.AutomationScript
}

// BuildScript synthesizes an automation script for a portal. tmpl may be nil.
func BuildScript(a model.PortalAnalysis, tmpl *Template, catalog analysis.Catalog, timeout time.Duration, maxRetries int) model.AutomationScript {
	b := &scriptBuilder{
		analysis: a,
		template: tmpl,
		catalog:  catalog,
		script: model.AutomationScript{
			Fallbacks:  make(map[int]model.Step),
			Timeout:    timeout,
			MaxRetries: maxRetries,
		},
	}
	b.build()
	if len(b.script.Fallbacks) == 0 {
		b.script.Fallbacks = nil
	}
	return b.script
}

func (b *scriptBuilder) build() {
	b.add(model.NavigateStep{Target: TargetLoginPage, Destination: model.DestinationLogin}, nil)

	// Portals without a username box log in with the member ID.
	userField, userCred := analysis.FieldUsername, model.CredentialUsername
	if _, ok := b.analysis.LoginFields[analysis.FieldUsername]; !ok {
		if _, ok := b.analysis.LoginFields[analysis.FieldMemberID]; ok {
			userField, userCred = analysis.FieldMemberID, model.CredentialMemberID
		}
	}
	b.fill(TargetUsername, userField, userCred)

	if b.template != nil && b.template.Flow == FlowMultiStep {
		if sel, alts := b.selectors(analysis.FieldContinue); sel != "" {
			b.add(model.ClickStep{Target: TargetContinue, Selector: sel}, clickFallback(TargetContinue, alts, false))
		}
		sel, alts := b.selectors(analysis.FieldPassword)
		b.add(model.WaitForElementStep{Target: TargetPasswordReady, Selector: sel}, waitFallback(TargetPasswordReady, alts))
	}
	b.fill(TargetPassword, analysis.FieldPassword, model.CredentialPassword)

	for _, extra := range []struct {
		field string
		cred  model.CredentialField
	}{
		{analysis.FieldDOB, model.CredentialDOB},
		{analysis.FieldSSN, model.CredentialSSN},
		{analysis.FieldZipCode, model.CredentialZipCode},
		{analysis.FieldMemberID, model.CredentialMemberID},
	} {
		sel, ok := b.analysis.LoginFields[extra.field]
		if !ok || extra.field == userField || sel == b.analysis.LoginFields[userField] {
			continue
		}
		b.fill(extra.field, extra.field, extra.cred)
	}

	if b.analysis.Security.Captcha {
		b.add(model.CaptchaStep{Target: TargetCaptcha, Selector: ".captcha-field"}, nil)
	}

	sel, alts := b.selectors(analysis.FieldSubmit)
	b.add(model.ClickStep{Target: TargetSubmit, Selector: sel, WaitForNavigation: true}, clickFallback(TargetSubmit, alts, true))

	if b.analysis.Security.TwoFactor {
		b.add(model.TwoFactorStep{Target: TargetTwoFactor}, nil)
	}

	b.add(model.NavigateStep{Target: TargetEligibilityPage, Destination: model.DestinationEligibility}, nil)
	b.add(model.ExtractDataStep{Target: TargetEligibilityInfo, Fields: b.dataFields()}, nil)
}

func (b *scriptBuilder) add(s model.Step, fallback model.Step) {
	if fallback != nil {
		b.script.Fallbacks[len(b.script.Steps)] = fallback
	}
	b.script.Steps = append(b.script.Steps, s)
}

func (b *scriptBuilder) fill(target, field string, cred model.CredentialField) {
	sel, alts := b.selectors(field)
	var fallback model.Step
	if len(alts) > 0 {
		fallback = model.FillFieldStep{Target: target, Field: cred, Selector: alts[0]}
	}
	b.add(model.FillFieldStep{Target: target, Field: cred, Selector: sel}, fallback)
}

// selectors returns the selector for a login field and its alternates. The
// detected selector comes first; the template's candidates and then the
// catalog's follow. An undetected field uses the first candidate.
func (b *scriptBuilder) selectors(field string) (string, []string) {
	var all []string
	seen := make(map[string]bool)
	push := func(sels ...string) {
		for _, s := range sels {
			if s != "" && !seen[s] {
				seen[s] = true
				all = append(all, s)
			}
		}
	}
	push(b.analysis.LoginFields[field])
	if b.template != nil {
		push(b.template.Selectors[field]...)
	}
	push(b.catalog.Selectors(field)...)

	if len(all) == 0 {
		return "", nil
	}
	return all[0], all[1:]
}

func clickFallback(target string, alts []string, waitNav bool) model.Step {
	if len(alts) == 0 {
		return nil
	}
	return model.ClickStep{Target: target, Selector: alts[0], WaitForNavigation: waitNav}
}

func waitFallback(target string, alts []string) model.Step {
	if len(alts) == 0 {
		return nil
	}
	return model.WaitForElementStep{Target: target, Selector: alts[0]}
}

// dataFields puts the template's extraction selectors ahead of the generic
// ones for each field.
func (b *scriptBuilder) dataFields() []model.FieldSelectors {
	out := make([]model.FieldSelectors, 0, len(dataSelectors))
	for _, fs := range dataSelectors {
		var candidates []string
		if b.template != nil {
			candidates = append(candidates, b.template.Extraction[fs.Name]...)
		}
		for _, c := range fs.Candidates {
			dup := false
			for _, have := range candidates {
				if have == c {
					dup = true
					break
				}
			}
			if !dup {
				candidates = append(candidates, c)
			}
		}
		out = append(out, model.FieldSelectors{Name: fs.Name, Candidates: candidates})
	}
	return out
}
