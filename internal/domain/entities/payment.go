package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// PaymentStatus represents payment status
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

// Payment represents a bounty settlement for a confirmed finding
type Payment struct {
	ID                uuid.UUID     `json:"id"`
	VulnerabilityID   uuid.UUID     `json:"vulnerabilityId"` // finding id
	ProtocolID        uuid.UUID     `json:"protocolId"`
	ValidationID      uuid.UUID     `json:"validationId"`
	ResearcherAddress string        `json:"researcherAddress"`
	Amount            string        `json:"amount"` // smallest units
	Currency          string        `json:"currency"`
	Severity          Severity      `json:"severity"`
	Status            PaymentStatus `json:"status"`
	TxHash            null.String   `json:"txHash,omitempty"`
	OnChainBountyID   null.Int64    `json:"onChainBountyId,omitempty"`
	FailureReason     null.String   `json:"failureReason,omitempty"`
	RetryCount        int           `json:"retryCount"`
	Reconciled        bool          `json:"reconciled"`
	ReconciledAt      null.Time     `json:"reconciledAt,omitempty"`
	QueuedAt          time.Time     `json:"queuedAt"`
	ProcessedAt       null.Time     `json:"processedAt,omitempty"`
	PaidAt            null.Time     `json:"paidAt,omitempty"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// EarningsBucket aggregates completed payments for one day.
type EarningsBucket struct {
	Day   time.Time `json:"day"`
	Total string    `json:"total"` // smallest units
	Count int       `json:"count"`
}

// LeaderboardEntry ranks researchers by completed earnings.
type LeaderboardEntry struct {
	ResearcherAddress string `json:"researcherAddress"`
	Total             string `json:"total"` // smallest units
	Payments          int    `json:"payments"`
}
