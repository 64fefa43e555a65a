package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// ReconciliationStatus classifies a mismatch between persisted payments and
// observed on-chain settlement events.
type ReconciliationStatus string

const (
	ReconciliationStatusOrphaned       ReconciliationStatus = "ORPHANED"
	ReconciliationStatusAmountMismatch ReconciliationStatus = "AMOUNT_MISMATCH"
	ReconciliationStatusDiscrepancy    ReconciliationStatus = "DISCREPANCY"
	ReconciliationStatusMissingPayment ReconciliationStatus = "MISSING_PAYMENT"
	ReconciliationStatusUnconfirmed    ReconciliationStatus = "UNCONFIRMED"
	ReconciliationStatusResolved       ReconciliationStatus = "RESOLVED"
)

// PaymentReconciliation records one detected discrepancy. Integrity issues
// never modify upstream rows; they only produce these records.
type PaymentReconciliation struct {
	ID              uuid.UUID            `json:"id"`
	PaymentID       *uuid.UUID           `json:"paymentId,omitempty"`
	OnChainBountyID int64                `json:"onChainBountyId"`
	TxHash          string               `json:"txHash"`
	LogIndex        uint                 `json:"logIndex"`
	Amount          string               `json:"amount"` // smallest units
	Status          ReconciliationStatus `json:"status"`
	DiscoveredAt    time.Time            `json:"discoveredAt"`
	ResolvedAt      null.Time            `json:"resolvedAt,omitempty"`
	Notes           string               `json:"notes"`
}

// BountyReleasedEvent is the decoded on-chain settlement event the
// reconciler consumes.
type BountyReleasedEvent struct {
	BountyID          int64     `json:"bountyId"`
	ValidationID      int64     `json:"validationId"`
	ResearcherAddress string    `json:"researcherAddress"`
	Amount            string    `json:"amount"` // smallest units
	TxHash            string    `json:"txHash"`
	LogIndex          uint      `json:"logIndex"`
	BlockNumber       uint64    `json:"blockNumber"`
	BlockTime         time.Time `json:"blockTime"`
}

// EventListenerState tracks replay position per (contract, eventName).
type EventListenerState struct {
	ContractAddress    string    `json:"contractAddress"`
	EventName          string    `json:"eventName"`
	LastProcessedBlock uint64    `json:"lastProcessedBlock"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
