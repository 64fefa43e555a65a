package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// ProofStatus represents proof lifecycle status. Transitions only move
// forward: SUBMITTED -> VALIDATING -> (CONFIRMED | REJECTED | FAILED).
type ProofStatus string

const (
	ProofStatusSubmitted  ProofStatus = "SUBMITTED"
	ProofStatusValidating ProofStatus = "VALIDATING"
	ProofStatusConfirmed  ProofStatus = "CONFIRMED"
	ProofStatusRejected   ProofStatus = "REJECTED"
	ProofStatusFailed     ProofStatus = "FAILED"
)

// CanTransitionTo reports whether the proof state machine allows the edge.
func (s ProofStatus) CanTransitionTo(next ProofStatus) bool {
	switch s {
	case ProofStatusSubmitted:
		return next == ProofStatusValidating
	case ProofStatusValidating:
		return next == ProofStatusConfirmed || next == ProofStatusRejected || next == ProofStatusFailed
	default:
		return false
	}
}

// Proof represents an encrypted, signed exploit artifact
type Proof struct {
	ID                  uuid.UUID   `json:"id"`
	FindingID           uuid.UUID   `json:"findingId"`
	ScanID              uuid.UUID   `json:"scanId"`
	EncryptedPayload    string      `json:"-"`
	EncryptionKeyID     string      `json:"encryptionKeyId"`
	ResearcherSignature string      `json:"researcherSignature"`
	Status              ProofStatus `json:"status"`
	SubmittedAt         time.Time   `json:"submittedAt"`
	ValidatedAt         null.Time   `json:"validatedAt,omitempty"`
	OnChainValidationID null.Int64  `json:"onChainValidationId,omitempty"`
	OnChainTxHash       null.String `json:"onChainTxHash,omitempty"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// ExploitStep is a single transaction the sandbox replays against the
// deployed target.
type ExploitStep struct {
	Description string `json:"description,omitempty"`
	CallData    string `json:"callData"` // 0x-prefixed hex
	Value       string `json:"value,omitempty"`
}

// ExploitCheck is an optional read-only call whose non-zero result marks the
// exploit as successful. Without a check, success means every step mined
// without revert.
type ExploitCheck struct {
	CallData     string `json:"callData"`
	ExpectNonZero bool  `json:"expectNonZero"`
}

// ExploitPayload is the decrypted proof body the validator executes.
type ExploitPayload struct {
	FindingID         uuid.UUID     `json:"findingId"`
	VulnerabilityType string        `json:"vulnerabilityType"`
	Severity          Severity      `json:"severity"`
	TargetCommit      string        `json:"targetCommit"`
	Steps             []ExploitStep `json:"steps"`
	SuccessCheck      *ExploitCheck `json:"successCheck,omitempty"`
}
