package models

import (
	"time"

	"github.com/google/uuid"
)

type Payment struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	VulnerabilityID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	ProtocolID        uuid.UUID `gorm:"type:uuid;not null;index"`
	ValidationID      uuid.UUID `gorm:"type:uuid;not null"`
	ResearcherAddress string    `gorm:"type:varchar(64);not null;index"`
	Amount            string    `gorm:"type:varchar(100);not null"` // smallest units
	Currency          string    `gorm:"type:varchar(16);not null"`
	Severity          string    `gorm:"type:varchar(16);not null"`
	Status            string    `gorm:"type:varchar(32);not null;index"`
	TxHash            *string   `gorm:"type:varchar(255);index"`
	OnChainBountyID   *int64    `gorm:"index"`
	FailureReason     *string   `gorm:"type:text"`
	RetryCount        int       `gorm:"not null;default:0"`
	Reconciled        bool      `gorm:"not null;default:false;index"`
	ReconciledAt      *time.Time
	QueuedAt          time.Time `gorm:"not null"`
	ProcessedAt       *time.Time
	PaidAt            *time.Time
	UpdatedAt         time.Time
}

type PaymentReconciliation struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	PaymentID       *uuid.UUID `gorm:"type:uuid;index"`
	OnChainBountyID int64      `gorm:"not null;index"`
	TxHash          string     `gorm:"type:varchar(255);not null"`
	LogIndex        uint       `gorm:"not null"`
	Amount          string     `gorm:"type:varchar(100);not null"` // smallest units
	Status          string     `gorm:"type:varchar(32);not null;index"`
	DiscoveredAt    time.Time  `gorm:"not null"`
	ResolvedAt      *time.Time
	Notes           string `gorm:"type:text"`
}

type EventListenerState struct {
	ContractAddress    string `gorm:"type:varchar(64);primaryKey"`
	EventName          string `gorm:"type:varchar(64);primaryKey"`
	LastProcessedBlock uint64 `gorm:"not null"`
	UpdatedAt          time.Time
}
