package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"bounty-chain.backend/internal/domain/entities"
)

// ScanFilters narrows scan listings.
type ScanFilters struct {
	ProtocolID *uuid.UUID
	State      entities.ScanState
}

// ScanRepository defines scan data operations
type ScanRepository interface {
	Create(ctx context.Context, scan *entities.Scan) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Scan, error)
	List(ctx context.Context, filters ScanFilters, limit, offset int) ([]*entities.Scan, int, error)
	ListByProtocolWithCounts(ctx context.Context, protocolID uuid.UUID) ([]*entities.ScanWithCounts, error)
	// UpdateState persists a state transition; implementations stamp
	// startedAt on RUNNING and completedAt on any terminal state.
	UpdateState(ctx context.Context, id uuid.UUID, state entities.ScanState) error
	SetStep(ctx context.Context, id uuid.UUID, step string) error
	SetToolStatus(ctx context.Context, id uuid.UUID, status entities.ToolStatus) error
	SetError(ctx context.Context, id uuid.UUID, code, message string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
	SetTarget(ctx context.Context, id uuid.UUID, branch, commit string) error
}

// FindingRepository defines finding data operations
type FindingRepository interface {
	Create(ctx context.Context, finding *entities.Finding) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Finding, error)
	ListByScan(ctx context.Context, scanID uuid.UUID) ([]*entities.Finding, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entities.FindingStatus, validatedAt *time.Time) error
}
