package model

import (
	"time"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
)

// VerificationRecord is one append-only verification history entry.
type VerificationRecord struct {
	ID            string        `json:"id"`
	InsurerKey    string        `json:"insurerKey"`
	Timestamp     time.Time     `json:"timestamp"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"executionTime,omitempty"`
	ErrorKind     failure.Kind  `json:"errorKind,omitempty"`
	DataQuality   float64       `json:"dataQuality"`
}

// LearningPoints groups failed-test observations by cause.
type LearningPoints struct {
	SelectorIssues    []string `json:"selectorIssues,omitempty"`
	TimingIssues      []string `json:"timingIssues,omitempty"`
	SecurityBlocks    []string `json:"securityBlocks,omitempty"`
	StructuralChanges []string `json:"structuralChanges,omitempty"`
}

// LearningEvent is one append-only record of a failed learning test.
type LearningEvent struct {
	ID         string         `json:"id"`
	InsurerKey string         `json:"insurerKey"`
	PortalURL  string         `json:"portalUrl"`
	Timestamp  time.Time      `json:"timestamp"`
	ErrorKind  failure.Kind   `json:"errorKind"`
	Error      string         `json:"error"`
	Step       int            `json:"step,omitempty"`
	Points     LearningPoints `json:"points"`
}

// Stats summarizes verification history.
type Stats struct {
	TotalVerifications      int                      `json:"totalVerifications"`
	SuccessfulVerifications int                      `json:"successfulVerifications"`
	SuccessRate             float64                  `json:"successRate"`
	AverageExecutionTimeMs  int64                    `json:"averageExecutionTime"`
	SupportedInsurers       int                      `json:"supportedInsurers"`
	FailuresByCategory      map[failure.Category]int `json:"failuresByCategory,omitempty"`
}
