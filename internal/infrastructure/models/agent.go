package models

import (
	"time"

	"github.com/google/uuid"
)

type AgentIdentity struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	WalletAddress  string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	AgentType      string    `gorm:"type:varchar(16);not null"`
	Active         bool      `gorm:"not null;default:true"`
	OnChainTokenID *int64
	RegisteredAt   time.Time `gorm:"not null"`
}

type AgentReputation struct {
	AgentIdentityID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConfirmedCount    int       `gorm:"not null;default:0"`
	RejectedCount     int       `gorm:"not null;default:0"`
	InconclusiveCount int       `gorm:"not null;default:0"`
	TotalSubmissions  int       `gorm:"not null;default:0"`
	Score             int       `gorm:"not null;default:50"`
	LastUpdated       time.Time
}

type AgentFeedback struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	ResearcherAgentID uuid.UUID  `gorm:"type:uuid;not null;index"`
	ValidatorAgentID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	FeedbackType      string     `gorm:"type:varchar(32);not null"`
	OnChainFeedbackID *int64
	FindingID         *uuid.UUID `gorm:"type:uuid"`
	ValidationID      *uuid.UUID `gorm:"type:uuid"`
	CreatedAt         time.Time
}

type Escrow struct {
	AgentIdentityID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Balance         string    `gorm:"type:varchar(100);not null;default:'0'"` // smallest units
	TotalDeposited  string    `gorm:"type:varchar(100);not null;default:'0'"`
	TotalDeducted   string    `gorm:"type:varchar(100);not null;default:'0'"`
	UpdatedAt       time.Time
}

type EscrowTransaction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	EscrowID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Kind      string    `gorm:"type:varchar(32);not null"`
	Amount    string    `gorm:"type:varchar(100);not null"` // smallest units
	TxHash    *string   `gorm:"type:varchar(255)"`
	CreatedAt time.Time
}
