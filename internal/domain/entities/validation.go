package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// ValidationResult represents a validation outcome
type ValidationResult string

const (
	ValidationResultTrue  ValidationResult = "TRUE"
	ValidationResultFalse ValidationResult = "FALSE"
	ValidationResultError ValidationResult = "ERROR"
)

// Validation represents one sandbox re-execution of a proof
type Validation struct {
	ID               uuid.UUID        `json:"id"`
	ProofID          uuid.UUID        `json:"proofId"`
	ScanID           uuid.UUID        `json:"scanId"`
	ProtocolID       uuid.UUID        `json:"protocolId"`
	ValidatorAgentID uuid.UUID        `json:"validatorAgentId"`
	Result           ValidationResult `json:"result"`
	ExecutionLog     string           `json:"executionLog"`
	StateChanges     null.String      `json:"stateChanges,omitempty"`
	TransactionHash  null.String      `json:"transactionHash,omitempty"`
	GasUsed          null.Int64       `json:"gasUsed,omitempty"`
	FailureReason    null.String      `json:"failureReason,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// ValidationDetail joins a validation with its proof and finding for the
// detail surface.
type ValidationDetail struct {
	Validation Validation `json:"validation"`
	Proof      Proof      `json:"proof"`
	Finding    Finding    `json:"finding"`
}
