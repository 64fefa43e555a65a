package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"bounty-chain.backend/internal/domain/entities"
)

// FeeRequestRepository defines x402 fee request data operations
type FeeRequestRepository interface {
	Create(ctx context.Context, req *entities.FeeRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.FeeRequest, error)
	Complete(ctx context.Context, id uuid.UUID, txHash string) error
	// FindCompletedByFingerprintSince backs the duplicate-charge guard: a
	// COMPLETED fee with the same fingerprint inside the retry window
	// bypasses re-charging.
	FindCompletedByFingerprintSince(ctx context.Context, fingerprint string, since time.Time) (*entities.FeeRequest, error)
	GetExpiredPending(ctx context.Context, limit int) ([]*entities.FeeRequest, error)
	ExpireRequests(ctx context.Context, ids []uuid.UUID) error
}
