package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// ScanState represents scan lifecycle state
type ScanState string

const (
	ScanStateQueued    ScanState = "QUEUED"
	ScanStateRunning   ScanState = "RUNNING"
	ScanStateSucceeded ScanState = "SUCCEEDED"
	ScanStateFailed    ScanState = "FAILED"
	ScanStateCanceled  ScanState = "CANCELED"
)

// Researcher pipeline steps, in execution order.
const (
	ScanStepClone       = "CLONE"
	ScanStepCompile     = "COMPILE"
	ScanStepDeploy      = "DEPLOY"
	ScanStepAnalyze     = "ANALYZE"
	ScanStepProofs      = "GENERATE_PROOFS"
	ScanStepPersist     = "PERSIST_FINDINGS_AND_PROOFS"
	ScanStepSubmit      = "SUBMIT_TO_VALIDATION"
	ScanStepCleanup     = "CLEANUP"
	ScanStepDone        = "DONE"
)

// ToolStatus distinguishes "analyzer ran" from "analyzer binary missing".
type ToolStatus string

const (
	ToolStatusOK          ToolStatus = "OK"
	ToolStatusUnavailable ToolStatus = "TOOL_UNAVAILABLE"
	ToolStatusError       ToolStatus = "ERROR"
)

// Scan represents one researcher pipeline execution over a protocol
type Scan struct {
	ID           uuid.UUID   `json:"id"`
	ProtocolID   uuid.UUID   `json:"protocolId"`
	State        ScanState   `json:"state"`
	CurrentStep  string      `json:"currentStep"`
	TargetBranch null.String `json:"targetBranch,omitempty"`
	TargetCommit null.String `json:"targetCommit,omitempty"`
	ToolStatus   ToolStatus  `json:"toolStatus,omitempty"`
	RetryCount   int         `json:"retryCount"`
	StartedAt    null.Time   `json:"startedAt,omitempty"`
	CompletedAt  null.Time   `json:"completedAt,omitempty"`
	ErrorCode    null.String `json:"errorCode,omitempty"`
	ErrorMessage null.String `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// ScanWithCounts pairs a scan with its finding tally for list views.
type ScanWithCounts struct {
	Scan
	FindingCount   int `json:"findingCount"`
	ConfirmedCount int `json:"confirmedCount"`
}

// CanTransitionTo reports whether the scan state machine allows the edge.
func (s ScanState) CanTransitionTo(next ScanState) bool {
	switch s {
	case ScanStateQueued:
		return next == ScanStateRunning || next == ScanStateCanceled || next == ScanStateFailed
	case ScanStateRunning:
		return next == ScanStateSucceeded || next == ScanStateFailed || next == ScanStateCanceled
	default:
		return false
	}
}
