package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// AgentType distinguishes researcher and validator agents
type AgentType string

const (
	AgentTypeResearcher AgentType = "RESEARCHER"
	AgentTypeValidator  AgentType = "VALIDATOR"
)

// AgentIdentity represents a registered agent wallet
type AgentIdentity struct {
	ID             uuid.UUID  `json:"id"`
	WalletAddress  string     `json:"walletAddress"`
	AgentType      AgentType  `json:"agentType"`
	Active         bool       `json:"active"`
	OnChainTokenID null.Int64 `json:"onChainTokenId,omitempty"`
	RegisteredAt   time.Time  `json:"registeredAt"`
}

// AgentReputation aggregates validation outcomes per agent.
// TotalSubmissions always equals confirmed+rejected+inconclusive.
type AgentReputation struct {
	AgentIdentityID    uuid.UUID `json:"agentIdentityId"`
	ConfirmedCount     int       `json:"confirmedCount"`
	RejectedCount      int       `json:"rejectedCount"`
	InconclusiveCount  int       `json:"inconclusiveCount"`
	TotalSubmissions   int       `json:"totalSubmissions"`
	Score              int       `json:"score"` // 0..100
	LastUpdated        time.Time `json:"lastUpdated"`
}

// FeedbackType is the categorical judgement a validator records against a
// researcher after a validation completes.
type FeedbackType string

const (
	FeedbackConfirmedCritical      FeedbackType = "CONFIRMED_CRITICAL"
	FeedbackConfirmedHigh          FeedbackType = "CONFIRMED_HIGH"
	FeedbackConfirmedMedium        FeedbackType = "CONFIRMED_MEDIUM"
	FeedbackConfirmedLow           FeedbackType = "CONFIRMED_LOW"
	FeedbackConfirmedInformational FeedbackType = "CONFIRMED_INFORMATIONAL"
	FeedbackRejected               FeedbackType = "REJECTED"
)

// FeedbackForOutcome maps (severity, validated) to the feedback type.
func FeedbackForOutcome(severity Severity, validated bool) FeedbackType {
	if !validated {
		return FeedbackRejected
	}
	switch severity {
	case SeverityCritical:
		return FeedbackConfirmedCritical
	case SeverityHigh:
		return FeedbackConfirmedHigh
	case SeverityMedium:
		return FeedbackConfirmedMedium
	case SeverityLow:
		return FeedbackConfirmedLow
	default:
		return FeedbackConfirmedInformational
	}
}

// AgentFeedback is one recorded judgement.
type AgentFeedback struct {
	ID                uuid.UUID    `json:"id"`
	ResearcherAgentID uuid.UUID    `json:"researcherAgentId"`
	ValidatorAgentID  uuid.UUID    `json:"validatorAgentId"`
	FeedbackType      FeedbackType `json:"feedbackType"`
	OnChainFeedbackID null.Int64   `json:"onChainFeedbackId,omitempty"`
	FindingID         *uuid.UUID   `json:"findingId,omitempty"`
	ValidationID      *uuid.UUID   `json:"validationId,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
}
