package models

import (
	"time"

	"github.com/google/uuid"
)

type Protocol struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	OwnerID         uuid.UUID `gorm:"type:uuid;not null;index"`
	OwnerAddress    string    `gorm:"type:varchar(64);not null"`
	SourceURL       string    `gorm:"type:varchar(512);not null;uniqueIndex"`
	Branch          string    `gorm:"type:varchar(255);not null"`
	ContractPath    string    `gorm:"type:varchar(512);not null"`
	ContractName    string    `gorm:"type:varchar(255);not null"`
	Status          string    `gorm:"type:varchar(32);not null;index"`
	OnChainID       *int64    `gorm:"index"`
	TotalBountyPool string    `gorm:"type:varchar(100);not null;default:'0'"` // smallest units
	AvailableBounty string    `gorm:"type:varchar(100);not null;default:'0'"` // smallest units
	PaidBounty      string    `gorm:"type:varchar(100);not null;default:'0'"` // smallest units
	RiskScore       *int
	ErrorMessage    *string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
