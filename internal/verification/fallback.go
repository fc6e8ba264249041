package verification

import (
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// Fallback option types.
const (
	FallbackManualPortal  = "manual_portal"
	FallbackPhone         = "phone_verification"
	FallbackScheduleLater = "schedule_later"
)

// PhoneDirectory resolves an insurer's provider phone line.
type PhoneDirectory interface {
	PhoneNumber(insurerName string) string
}

// FallbackOptions lists the manual paths offered when automation cannot
// finish, in the order they should be shown.
func FallbackOptions(insurerName string, phones PhoneDirectory) []model.FallbackOption {
	return []model.FallbackOption{
		{
			Method:        FallbackManualPortal,
			Title:         "Manual Portal Lookup",
			Description:   "Staff can log into the insurance portal manually",
			EstimatedTime: "3-5 minutes",
		},
		{
			Method:        FallbackPhone,
			Title:         "Phone Verification",
			Description:   "Call the insurance company directly",
			EstimatedTime: "10-15 minutes",
			PhoneNumber:   phones.PhoneNumber(insurerName),
		},
		{
			Method:      FallbackScheduleLater,
			Title:       "Verify Later",
			Description: "Proceed with treatment and verify benefits afterward",
			Risk:        "Patient may be responsible for costs if not covered",
		},
	}
}
