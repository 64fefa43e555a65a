package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// EscrowTransactionKind represents an escrow ledger movement
type EscrowTransactionKind string

const (
	EscrowKindDeposit       EscrowTransactionKind = "DEPOSIT"
	EscrowKindSubmissionFee EscrowTransactionKind = "SUBMISSION_FEE"
	EscrowKindWithdrawal    EscrowTransactionKind = "WITHDRAWAL"
)

// Escrow holds an agent's prepaid submission-fee balance
type Escrow struct {
	AgentIdentityID uuid.UUID `json:"agentIdentityId"`
	Balance         string    `json:"balance"`        // smallest units
	TotalDeposited  string    `json:"totalDeposited"` // smallest units
	TotalDeducted   string    `json:"totalDeducted"`  // smallest units
	UpdatedAt       time.Time `json:"updatedAt"`
}

// EscrowTransaction is one ledger entry against an escrow account
type EscrowTransaction struct {
	ID        uuid.UUID             `json:"id"`
	EscrowID  uuid.UUID             `json:"escrowId"` // agent identity id
	Kind      EscrowTransactionKind `json:"kind"`
	Amount    string                `json:"amount"` // smallest units
	TxHash    null.String           `json:"txHash,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
}
