package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"bounty-chain.backend/internal/domain/entities"
)

// ProofRepository defines proof data operations
type ProofRepository interface {
	Create(ctx context.Context, proof *entities.Proof) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Proof, error)
	ListByScan(ctx context.Context, scanID uuid.UUID) ([]*entities.Proof, error)
	// UpdateStatus enforces the forward-only proof state machine and stamps
	// validatedAt on terminal states.
	UpdateStatus(ctx context.Context, id uuid.UUID, status entities.ProofStatus) error
	// ResetToSubmitted is the stuck-proof recovery path; unlike UpdateStatus
	// it may move VALIDATING back to SUBMITTED.
	ResetToSubmitted(ctx context.Context, id uuid.UUID) error
	SetOnChainResult(ctx context.Context, id uuid.UUID, validationID int64, txHash string) error
	// FindStuck lists proofs sitting in SUBMITTED or VALIDATING since before
	// the cutoff.
	FindStuck(ctx context.Context, cutoff time.Time) ([]*entities.Proof, error)
}

// ValidationRepository defines validation data operations
type ValidationRepository interface {
	Create(ctx context.Context, validation *entities.Validation) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Validation, error)
	GetByProofID(ctx context.Context, proofID uuid.UUID) (*entities.Validation, error)
	ListByProtocol(ctx context.Context, protocolID uuid.UUID, limit, offset int) ([]*entities.Validation, int, error)
	GetDetailByFinding(ctx context.Context, findingID uuid.UUID) (*entities.ValidationDetail, error)
}
