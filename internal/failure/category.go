package failure

// Category is the coarse diagnostic bucket reported in statistics.
type Category string

const (
	CategoryCaptcha        Category = "captcha"
	CategoryTimeout        Category = "timeout"
	CategoryConsent        Category = "consent"
	CategoryAuthentication Category = "authentication"
	CategoryPortalChange   Category = "portal_change"
	CategoryCapacity       Category = "capacity"
	CategoryAborted        Category = "aborted"
	CategoryUnknown        Category = "unknown"
)

// CategoryOf maps a failure kind to its diagnostic category.
func CategoryOf(k Kind) Category {
	switch k {
	case KindCaptchaRequired:
		return CategoryCaptcha
	case KindTimeout:
		return CategoryTimeout
	case KindAuthorization:
		return CategoryConsent
	case KindMissingCredential, KindTwoFactorRequired:
		return CategoryAuthentication
	case KindStepFailure, KindPortalAnalysis:
		return CategoryPortalChange
	case KindCapacity:
		return CategoryCapacity
	case KindAborted:
		return CategoryAborted
	default:
		return CategoryUnknown
	}
}
