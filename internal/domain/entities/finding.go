package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// Severity represents finding severity
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// AnalysisMethod records which analyzer produced the finding
type AnalysisMethod string

const (
	AnalysisMethodStatic AnalysisMethod = "STATIC"
	AnalysisMethodAI     AnalysisMethod = "AI"
	AnalysisMethodHybrid AnalysisMethod = "HYBRID"
)

// FindingStatus represents finding validation status
type FindingStatus string

const (
	FindingStatusPending   FindingStatus = "PENDING"
	FindingStatusValidated FindingStatus = "VALIDATED"
	FindingStatusRejected  FindingStatus = "REJECTED"
	FindingStatusDuplicate FindingStatus = "DUPLICATE"
	FindingStatusConfirmed FindingStatus = "CONFIRMED"
)

// Finding represents a candidate vulnerability produced by a scan
type Finding struct {
	ID                    uuid.UUID      `json:"id"`
	ScanID                uuid.UUID      `json:"scanId"`
	VulnerabilityType     string         `json:"vulnerabilityType"`
	Severity              Severity       `json:"severity"`
	FilePath              string         `json:"filePath"`
	LineNumber            null.Int       `json:"lineNumber,omitempty"`
	Description           string         `json:"description"`
	Confidence            float64        `json:"confidence"`
	AnalysisMethod        AnalysisMethod `json:"analysisMethod"`
	AIConfidence          null.Float64   `json:"aiConfidence,omitempty"`
	Status                FindingStatus  `json:"status"`
	ValidatedAt           null.Time      `json:"validatedAt,omitempty"`
	CodeSnippet           null.String    `json:"codeSnippet,omitempty"`
	RemediationSuggestion null.String    `json:"remediationSuggestion,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
}
