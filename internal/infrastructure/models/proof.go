package models

import (
	"time"

	"github.com/google/uuid"
)

type Proof struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	FindingID           uuid.UUID `gorm:"type:uuid;not null;index"`
	ScanID              uuid.UUID `gorm:"type:uuid;not null;index"`
	EncryptedPayload    string    `gorm:"type:text;not null"`
	EncryptionKeyID     string    `gorm:"type:varchar(64);not null"`
	ResearcherSignature string    `gorm:"type:varchar(255);not null"`
	Status              string    `gorm:"type:varchar(32);not null;index"`
	SubmittedAt         time.Time `gorm:"not null"`
	ValidatedAt         *time.Time
	OnChainValidationID *int64
	OnChainTxHash       *string `gorm:"type:varchar(255)"`
	UpdatedAt           time.Time

	Finding Finding `gorm:"foreignKey:FindingID"`
}

type Validation struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	ProofID          uuid.UUID `gorm:"type:uuid;not null;index"`
	ScanID           uuid.UUID `gorm:"type:uuid;not null;index"`
	ProtocolID       uuid.UUID `gorm:"type:uuid;not null;index"`
	ValidatorAgentID uuid.UUID `gorm:"type:uuid;not null"`
	Result           string    `gorm:"type:varchar(16);not null"`
	ExecutionLog     string    `gorm:"type:text"`
	StateChanges     *string   `gorm:"type:text"`
	TransactionHash  *string   `gorm:"type:varchar(255)"`
	GasUsed          *int64
	FailureReason    *string `gorm:"type:text"`
	CreatedAt        time.Time

	Proof Proof `gorm:"foreignKey:ProofID"`
}
