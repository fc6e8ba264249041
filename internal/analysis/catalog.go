package analysis

import "sort"

// Login field names. The credential fields share their names with
// model.CredentialField so a detected field maps directly onto a fill step.
const (
	FieldUsername = "username"
	FieldPassword = "password"
	FieldSubmit   = "submit"
	FieldDOB      = "dob"
	FieldMemberID = "memberId"
	FieldSSN      = "ssn"
	FieldZipCode  = "zipCode"
	// FieldContinue is the first-page button of a multi-step login.
	FieldContinue = "continueBtn"
)

// Navigation pattern names.
const (
	NavLogin       = "loginUrl"
	NavEligibility = "eligibilityPath"
	NavLogout      = "logoutPath"
)

// FieldCandidates is one login field and its selectors in priority order.
type FieldCandidates struct {
	Field     string
	Selectors []string
}

// Catalog is the ordered set of login fields looked for on a portal page.
type Catalog []FieldCandidates

// DefaultCatalog returns the selectors seen across common insurer portals.
func DefaultCatalog() Catalog {
	return Catalog{
		{FieldUsername, []string{"#username", "#memberid", `[name="username"]`, ".login-field", "#user"}},
		{FieldPassword, []string{"#password", `[name="password"]`, ".password-field", "#pass", `input[type="password"]`}},
		{FieldSubmit, []string{"#submit", `[type="submit"]`, ".login-btn", "#loginButton"}},
		{FieldDOB, []string{"#dob", "#dateofbirth", `[name="dob"]`, ".dob-field"}},
		{FieldMemberID, []string{"#memberid", "#member_id", `[name="memberid"]`, ".member-field"}},
		{FieldSSN, []string{"#ssn_last_four", `[name="ssn"]`}},
		{FieldZipCode, []string{"#zipcode", `[name="zipcode"]`, "#zip"}},
		{FieldContinue, []string{".continue-button", "#continue", `[name="continue"]`}},
	}
}

// Selectors returns the candidates for field, nil when the field is not in
// the catalog.
func (c Catalog) Selectors(field string) []string {
	for _, fc := range c {
		if fc.Field == field {
			return fc.Selectors
		}
	}
	return nil
}

// Merge returns a copy of c with extra selectors appended to each field's
// candidates. Duplicates are dropped and fields not in c are appended in name order.
func (c Catalog) Merge(extra map[string][]string) Catalog {
	out := make(Catalog, 0, len(c)+len(extra))
	seenField := make(map[string]bool, len(c))
	for _, fc := range c {
		seenField[fc.Field] = true
		out = append(out, FieldCandidates{
			Field:     fc.Field,
			Selectors: appendUnique(append([]string(nil), fc.Selectors...), extra[fc.Field]),
		})
	}
	added := make([]string, 0, len(extra))
	for field := range extra {
		if !seenField[field] {
			added = append(added, field)
		}
	}
	sort.Strings(added)
	for _, field := range added {
		out = append(out, FieldCandidates{Field: field, Selectors: appendUnique(nil, extra[field])})
	}
	return out
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		dup := false
		for _, d := range dst {
			if d == s {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}

// navPatterns lists path fragments per navigation pattern, in priority order.
var navPatterns = []struct {
	name     string
	patterns []string
}{
	{NavLogin, []string{"/login", "/signin", "/member", "/portal"}},
	{NavEligibility, []string{"/eligibility", "/benefits", "/coverage", "/verify"}},
	{NavLogout, []string{"/logout", "/signout", "/exit"}},
}

var (
	captchaSelectors = []string{
		".captcha-field",
		".g-recaptcha",
		".h-captcha",
		"[data-sitekey]",
		`iframe[src*="recaptcha"]`,
		`iframe[src*="hcaptcha"]`,
		`script[src*="recaptcha"]`,
		`script[src*="hcaptcha"]`,
	}
	twoFactorSelectors = []string{
		`input[autocomplete="one-time-code"]`,
		`[name*="otp"]`,
		"#otp",
		`[name*="verificationCode"]`,
		".two-factor",
		".mfa-field",
	}
	twoFactorPhrases = []string{
		"two-factor",
		"two factor",
		"2-step verification",
		"one-time passcode",
		"enter the code we sent",
	}
)
