package model

import (
	"time"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
)

// Eligibility status values.
const (
	EligibilityActive   = "active"
	EligibilityInactive = "inactive"
	EligibilityUnknown  = "unknown"
)

// CostShare is a copayment or coinsurance term.
type CostShare struct {
	// Type is "fixed" for a dollar amount or "percentage".
	Type   string `json:"type"`
	Amount int    `json:"amount"`
}

// Benefits holds the normalized benefit amounts.
type Benefits struct {
	Deductible  *int       `json:"deductible"`
	MaxBenefit  *int       `json:"maxBenefit"`
	Copayment   *CostShare `json:"copayment"`
	Coinsurance *CostShare `json:"coinsurance"`
}

// Coverage holds the normalized plan terms.
type Coverage struct {
	EffectiveDate *time.Time `json:"effectiveDate"`
	PlanType      string     `json:"planType"`
	NetworkStatus string     `json:"networkStatus"`
}

// VerificationMeta describes how the data was obtained.
type VerificationMeta struct {
	VerifiedAt time.Time `json:"verifiedAt"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
}

// EligibilityData is the normalized verification payload.
type EligibilityData struct {
	EligibilityStatus string           `json:"eligibilityStatus"`
	Benefits          Benefits         `json:"benefits"`
	Coverage          Coverage         `json:"coverage"`
	Verification      VerificationMeta `json:"verification"`
}

// FallbackOption is a manual path offered when automation fails.
type FallbackOption struct {
	Method        string `json:"method"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	EstimatedTime string `json:"estimatedTime,omitempty"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	Risk          string `json:"risk,omitempty"`
}

// Procedure is a catalog entry for a dental procedure code.
type Procedure struct {
	Code        string `json:"code" yaml:"code"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Category    string `json:"category,omitempty" yaml:"category"`
	TypicalCost int    `json:"typicalCost" yaml:"typical_cost"`
	// TypicalCoverage is the usual percentage insurers pay for the category.
	TypicalCoverage int `json:"typicalCoverage,omitempty" yaml:"typical_coverage"`
}

// VerificationResponse is the structured outcome of every verification call.
type VerificationResponse struct {
	Success                bool             `json:"success"`
	VerificationID         string           `json:"verificationId"`
	Data                   *EligibilityData `json:"data,omitempty"`
	Error                  string           `json:"error,omitempty"`
	ErrorKind              failure.Kind     `json:"errorKind,omitempty"`
	FailedStep             int              `json:"failedStep,omitempty"`
	RequiresPatientConsent bool             `json:"requiresPatientConsent,omitempty"`
	ConsentMessage         string           `json:"consentMessage,omitempty"`
	Discovery              *Discovery       `json:"discovery,omitempty"`
	RequiresManualSetup    bool             `json:"requiresManualSetup,omitempty"`
	NewPortalLearned       bool             `json:"newPortalLearned,omitempty"`
	LearningFailed         bool             `json:"learningFailed,omitempty"`
	RetryAvailable         bool             `json:"retryAvailable,omitempty"`
	FallbackOptions        []FallbackOption `json:"fallbackOptions,omitempty"`
	Procedure              *Procedure       `json:"procedure,omitempty"`
	ExecutionTimeMs        int64            `json:"executionTimeMs"`
}
