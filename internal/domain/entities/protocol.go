package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// ProtocolStatus represents protocol lifecycle status
type ProtocolStatus string

const (
	ProtocolStatusPending     ProtocolStatus = "PENDING"
	ProtocolStatusRegistered  ProtocolStatus = "REGISTERED"
	ProtocolStatusActive      ProtocolStatus = "ACTIVE"
	ProtocolStatusPaused      ProtocolStatus = "PAUSED"
	ProtocolStatusDeactivated ProtocolStatus = "DEACTIVATED"
)

// Protocol represents a registered target protocol
type Protocol struct {
	ID              uuid.UUID      `json:"id"`
	OwnerID         uuid.UUID      `json:"ownerId"`
	OwnerAddress    string         `json:"ownerAddress"`
	SourceURL       string         `json:"sourceUrl"`
	Branch          string         `json:"branch"`
	ContractPath    string         `json:"contractPath"`
	ContractName    string         `json:"contractName"`
	Status          ProtocolStatus `json:"status"`
	OnChainID       null.Int64     `json:"onChainId,omitempty"`
	TotalBountyPool string         `json:"totalBountyPool"` // smallest units
	AvailableBounty string         `json:"availableBounty"` // smallest units
	PaidBounty      string         `json:"paidBounty"`      // smallest units
	RiskScore       null.Int       `json:"riskScore,omitempty"`
	ErrorMessage    null.String    `json:"errorMessage,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// RegisterProtocolInput is the payload accepted by the registration surface.
type RegisterProtocolInput struct {
	OwnerID      uuid.UUID `json:"ownerId"`
	OwnerAddress string    `json:"ownerAddress"`
	SourceURL    string    `json:"sourceUrl"`
	Branch       string    `json:"branch"`
	ContractPath string    `json:"contractPath"`
	ContractName string    `json:"contractName"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
}
