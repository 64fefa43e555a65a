package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// FeeRequestType represents what the fee pays for
type FeeRequestType string

const (
	FeeTypeProtocolRegistration FeeRequestType = "PROTOCOL_REGISTRATION"
	FeeTypeFindingSubmission    FeeRequestType = "FINDING_SUBMISSION"
	FeeTypeScanRequest          FeeRequestType = "SCAN_REQUEST_FEE"
)

// FeeRequestStatus represents fee request lifecycle
type FeeRequestStatus string

const (
	FeeStatusPending   FeeRequestStatus = "PENDING"
	FeeStatusCompleted FeeRequestStatus = "COMPLETED"
	FeeStatusExpired   FeeRequestStatus = "EXPIRED"
)

// FeeRequest is one x402 fee demand and its settlement state
type FeeRequest struct {
	ID               uuid.UUID        `json:"id"`
	RequestType      FeeRequestType   `json:"requestType"`
	RequesterAddress string           `json:"requesterAddress"`
	Amount           string           `json:"amount"` // smallest units
	Status           FeeRequestStatus `json:"status"`
	TxHash           null.String      `json:"txHash,omitempty"`
	Fingerprint      null.String      `json:"fingerprint,omitempty"`
	ProtocolID       *uuid.UUID       `json:"protocolId,omitempty"`
	ExpiresAt        time.Time        `json:"expiresAt"`
	CompletedAt      null.Time        `json:"completedAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// FeeDescriptor is the 402-style resource descriptor returned to callers
// who have not yet paid.
type FeeDescriptor struct {
	Scheme      string `json:"scheme"` // always "exact"
	Price       string `json:"price"`  // smallest units
	Network     string `json:"network"`
	PayTo       string `json:"payTo"`
	Description string `json:"description"`
}
