package repositories

import (
	"context"

	"github.com/google/uuid"
	"bounty-chain.backend/internal/domain/entities"
)

// AgentRepository defines agent identity and reputation data operations
type AgentRepository interface {
	CreateIdentity(ctx context.Context, agent *entities.AgentIdentity) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.AgentIdentity, error)
	GetByWallet(ctx context.Context, walletAddress string) (*entities.AgentIdentity, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	GetReputation(ctx context.Context, agentID uuid.UUID) (*entities.AgentReputation, error)
	UpsertReputation(ctx context.Context, rep *entities.AgentReputation) error
	CreateFeedback(ctx context.Context, fb *entities.AgentFeedback) error
	ListFeedbackByResearcher(ctx context.Context, researcherAgentID uuid.UUID, limit, offset int) ([]*entities.AgentFeedback, int, error)
}

// EscrowRepository defines escrow ledger operations
type EscrowRepository interface {
	GetByAgent(ctx context.Context, agentID uuid.UUID) (*entities.Escrow, error)
	// Deposit credits the balance and records a DEPOSIT transaction.
	Deposit(ctx context.Context, agentID uuid.UUID, amount, txHash string) error
	// Deduct debits a submission fee; fails with ErrInsufficientPool when the
	// balance does not cover the amount.
	Deduct(ctx context.Context, agentID uuid.UUID, amount string) error
	ListTransactions(ctx context.Context, agentID uuid.UUID, limit, offset int) ([]*entities.EscrowTransaction, int, error)
}
