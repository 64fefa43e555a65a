package models

import (
	"time"

	"github.com/google/uuid"
)

type Scan struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	ProtocolID   uuid.UUID `gorm:"type:uuid;not null;index"`
	State        string    `gorm:"type:varchar(32);not null;index"`
	CurrentStep  string    `gorm:"type:varchar(64)"`
	TargetBranch *string   `gorm:"type:varchar(255)"`
	TargetCommit *string   `gorm:"type:varchar(64)"`
	ToolStatus   string    `gorm:"type:varchar(32)"`
	RetryCount   int       `gorm:"not null;default:0"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorCode    *string `gorm:"type:varchar(64)"`
	ErrorMessage *string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Protocol Protocol `gorm:"foreignKey:ProtocolID"`
}

type Finding struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	ScanID                uuid.UUID `gorm:"type:uuid;not null;index"`
	VulnerabilityType     string    `gorm:"type:varchar(128);not null"`
	Severity              string    `gorm:"type:varchar(16);not null;index"`
	FilePath              string    `gorm:"type:varchar(512);not null"`
	LineNumber            *int
	Description           string  `gorm:"type:text;not null"`
	Confidence            float64 `gorm:"not null"`
	AnalysisMethod        string  `gorm:"type:varchar(16);not null"`
	AIConfidence          *float64
	Status                string `gorm:"type:varchar(32);not null;index"`
	ValidatedAt           *time.Time
	CodeSnippet           *string `gorm:"type:text"`
	RemediationSuggestion *string `gorm:"type:text"`
	CreatedAt             time.Time
	UpdatedAt             time.Time

	Scan Scan `gorm:"foreignKey:ScanID"`
}
