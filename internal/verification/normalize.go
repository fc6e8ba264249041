package verification

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BoweryJG/clearverify-patient/internal/learner"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// SourceAutomatedPortal marks data read from the insurer portal.
const SourceAutomatedPortal = "automated_portal"

// DefaultNetworkStatus is assumed since portals rarely state it.
const DefaultNetworkStatus = "in-network"

var (
	integerRe  = regexp.MustCompile(`\d[\d,]*`)
	costRe     = regexp.MustCompile(`\$\s*(\d[\d,]*)|(\d+)\s*%`)
	planTypeRe = regexp.MustCompile(`(?i)\b(HMO|PPO|EPO|POS)\b`)
	dateRe     = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|\d{1,2}-\d{1,2}-\d{4}|[A-Za-z]{3,9}\.? \d{1,2}, \d{4}`)
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
}

// inactive phrases are checked before active ones since "inactive" and
// "not eligible" contain their active counterparts.
var (
	inactivePhrases = []string{"inactive", "terminated", "ineligible", "not eligible", "not active", "cancelled"}
	activePhrases   = []string{"active", "eligible"}
)

// Normalize turns raw extracted text into eligibility data. Missing or
// unparseable values come out as nil or "unknown".
func Normalize(raw map[string]*string, confidence float64, verifiedAt time.Time) model.EligibilityData {
	text := func(field string) string {
		if v := raw[field]; v != nil {
			return strings.TrimSpace(*v)
		}
		return ""
	}

	coinsurance := ParseCostShare(text(learner.DataCoinsurance))
	if coinsurance == nil {
		if cs := ParseCostShare(text(learner.DataCopay)); cs != nil && cs.Type == CostPercentage {
			coinsurance = cs
		}
	}

	return model.EligibilityData{
		EligibilityStatus: ParseEligibility(text(learner.DataEligibilityStatus)),
		Benefits: model.Benefits{
			Deductible:  ParseAmount(text(learner.DataDeductible)),
			MaxBenefit:  ParseAmount(text(learner.DataMaxBenefit)),
			Copayment:   ParseCostShare(text(learner.DataCopay)),
			Coinsurance: coinsurance,
		},
		Coverage: model.Coverage{
			EffectiveDate: ParseDate(text(learner.DataEffectiveDate)),
			PlanType:      ParsePlanType(text(learner.DataPlanType), text(learner.DataEligibilityStatus)),
			NetworkStatus: DefaultNetworkStatus,
		},
		Verification: model.VerificationMeta{
			VerifiedAt: verifiedAt,
			Source:     SourceAutomatedPortal,
			Confidence: confidence,
		},
	}
}

// ParseEligibility classifies a status string as active, inactive or unknown.
func ParseEligibility(s string) string {
	lower := strings.ToLower(s)
	if lower == "" {
		return model.EligibilityUnknown
	}
	for _, p := range inactivePhrases {
		if strings.Contains(lower, p) {
			return model.EligibilityInactive
		}
	}
	for _, p := range activePhrases {
		if strings.Contains(lower, p) {
			return model.EligibilityActive
		}
	}
	return model.EligibilityUnknown
}

// ParseAmount returns the first integer in s with thousands separators
// removed: "$1,500 remaining" is 1500.
func ParseAmount(s string) *int {
	m := integerRe.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return nil
	}
	return &n
}

// Cost share types.
const (
	CostFixed      = "fixed"
	CostPercentage = "percentage"
)

// ParseCostShare reads the first "$N" or "N%" in s.
func ParseCostShare(s string) *model.CostShare {
	m := costRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	typ, digits := CostFixed, m[1]
	if digits == "" {
		typ, digits = CostPercentage, m[2]
	}
	n, err := strconv.Atoi(strings.ReplaceAll(digits, ",", ""))
	if err != nil {
		return nil
	}
	return &model.CostShare{Type: typ, Amount: n}
}

// ParseDate parses s, or the first date-looking part of it, as a UTC date.
func ParseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	candidates := []string{s}
	if m := dateRe.FindString(s); m != "" && m != s {
		candidates = append(candidates, m)
	}
	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

// ParsePlanType finds HMO, PPO, EPO or POS in the given texts, first text
// first, or returns "unknown".
func ParsePlanType(texts ...string) string {
	for _, t := range texts {
		if m := planTypeRe.FindString(t); m != "" {
			return strings.ToUpper(m)
		}
	}
	return "unknown"
}

// qualityFields is the number of benefit fields DataQuality scores.
const qualityFields = 5

// DataQuality is the share of the five expected fields present in d:
// eligibility status, deductible, maximum benefit, copayment and effective
// date.
func DataQuality(d *model.EligibilityData) float64 {
	if d == nil {
		return 0
	}
	present := 0
	if d.EligibilityStatus != "" && d.EligibilityStatus != model.EligibilityUnknown {
		present++
	}
	if d.Benefits.Deductible != nil {
		present++
	}
	if d.Benefits.MaxBenefit != nil {
		present++
	}
	if d.Benefits.Copayment != nil {
		present++
	}
	if d.Coverage.EffectiveDate != nil {
		present++
	}
	return float64(present) / qualityFields
}
