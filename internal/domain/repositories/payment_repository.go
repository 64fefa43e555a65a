package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"bounty-chain.backend/internal/domain/entities"
)

// PaymentFilters narrows payment listings.
type PaymentFilters struct {
	Status            entities.PaymentStatus
	ResearcherAddress string
	ProtocolID        *uuid.UUID
}

// PaymentRepository defines payment data operations
type PaymentRepository interface {
	Create(ctx context.Context, payment *entities.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Payment, error)
	GetByFindingID(ctx context.Context, findingID uuid.UUID) (*entities.Payment, error)
	GetByOnChainBountyID(ctx context.Context, bountyID int64) (*entities.Payment, error)
	List(ctx context.Context, filters PaymentFilters, limit, offset int) ([]*entities.Payment, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entities.PaymentStatus) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, txHash string, bountyID int64, paidAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
	// MarkReconciled stamps reconciled/reconciledAt and fills txHash/paidAt
	// from the observed event when they were missing.
	MarkReconciled(ctx context.Context, id uuid.UUID, txHash string, paidAt time.Time) error
	// AggregateEarningsByDay groups completed payments for one researcher.
	AggregateEarningsByDay(ctx context.Context, researcherAddress string, from, to time.Time) ([]*entities.EarningsBucket, error)
	Leaderboard(ctx context.Context, from, to time.Time, limit int) ([]*entities.LeaderboardEntry, error)
	// ListUnreconciledCompletedBefore feeds the UNCONFIRMED sweeper.
	ListUnreconciledCompletedBefore(ctx context.Context, cutoff time.Time) ([]*entities.Payment, error)
	ListFailed(ctx context.Context, limit int) ([]*entities.Payment, error)
}

// ReconciliationRepository defines payment reconciliation data operations
type ReconciliationRepository interface {
	Create(ctx context.Context, rec *entities.PaymentReconciliation) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentReconciliation, error)
	List(ctx context.Context, status entities.ReconciliationStatus, since *time.Time) ([]*entities.PaymentReconciliation, error)
	Resolve(ctx context.Context, id uuid.UUID, notes string) error
	// ExistsForEvent dedups reconciliation rows by (txHash, logIndex).
	ExistsForEvent(ctx context.Context, txHash string, logIndex uint) (bool, error)
}

// ListenerStateRepository tracks event replay positions
type ListenerStateRepository interface {
	Get(ctx context.Context, contractAddress, eventName string) (*entities.EventListenerState, error)
	Upsert(ctx context.Context, state *entities.EventListenerState) error
}
