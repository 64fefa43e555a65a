package repositories

import (
	"context"

	"github.com/google/uuid"
	"bounty-chain.backend/internal/domain/entities"
)

// ProtocolRepository defines protocol data operations
type ProtocolRepository interface {
	Create(ctx context.Context, protocol *entities.Protocol) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Protocol, error)
	GetBySourceURL(ctx context.Context, sourceURL string) (*entities.Protocol, error)
	List(ctx context.Context, status entities.ProtocolStatus, limit, offset int) ([]*entities.Protocol, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entities.ProtocolStatus) error
	SetOnChainID(ctx context.Context, id uuid.UUID, onChainID int64) error
	SetRiskScore(ctx context.Context, id uuid.UUID, score int) error
	SetError(ctx context.Context, id uuid.UUID, message string) error
	// DepositToPool adds amount (smallest units) to both total and available.
	DepositToPool(ctx context.Context, id uuid.UUID, amount string) error
	// TryDecrementAvailable performs a compare-and-set decrement of the
	// available bounty. Returns false when the observed available balance no
	// longer covers amount.
	TryDecrementAvailable(ctx context.Context, id uuid.UUID, amount string) (bool, error)
	// CreditPaid moves amount from in-flight to the paid tally.
	CreditPaid(ctx context.Context, id uuid.UUID, amount string) error
	// RestoreAvailable returns amount to the available pool after a failed
	// settlement.
	RestoreAvailable(ctx context.Context, id uuid.UUID, amount string) error
}
