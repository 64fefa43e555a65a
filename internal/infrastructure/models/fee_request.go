package models

import (
	"time"

	"github.com/google/uuid"
)

type FeeRequest struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	RequestType      string     `gorm:"type:varchar(32);not null"`
	RequesterAddress string     `gorm:"type:varchar(64);not null;index"`
	Amount           string     `gorm:"type:varchar(100);not null"` // smallest units
	Status           string     `gorm:"type:varchar(16);not null;index"`
	TxHash           *string    `gorm:"type:varchar(255)"`
	Fingerprint      *string    `gorm:"type:varchar(64);index"`
	ProtocolID       *uuid.UUID `gorm:"type:uuid"`
	ExpiresAt        time.Time  `gorm:"not null;index"`
	CompletedAt      *time.Time
	CreatedAt        time.Time
}
