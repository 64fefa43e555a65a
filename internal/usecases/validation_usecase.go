package usecases

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bounty-chain.backend/internal/domain/entities"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/pkg/utils"
)

// ValidationUsecase is the read surface over validations and proofs.
type ValidationUsecase struct {
	validationRepo repositories.ValidationRepository
	proofRepo      repositories.ProofRepository
}

func NewValidationUsecase(validationRepo repositories.ValidationRepository, proofRepo repositories.ProofRepository) *ValidationUsecase {
	return &ValidationUsecase{validationRepo: validationRepo, proofRepo: proofRepo}
}

func (u *ValidationUsecase) Get(ctx context.Context, id uuid.UUID) (*entities.Validation, error) {
	return u.validationRepo.GetByID(ctx, id)
}

func (u *ValidationUsecase) ListByProtocol(ctx context.Context, protocolID uuid.UUID, page, limit int) ([]*entities.Validation, int, error) {
	p := utils.GetPaginationParams(page, limit)
	return u.validationRepo.ListByProtocol(ctx, protocolID, p.Limit, p.CalculateOffset())
}

// GetDetail joins the validation with its proof and finding.
func (u *ValidationUsecase) GetDetail(ctx context.Context, findingID uuid.UUID) (*entities.ValidationDetail, error) {
	return u.validationRepo.GetDetailByFinding(ctx, findingID)
}

// ListActive returns proofs currently moving through validation, meaning
// anything in SUBMITTED or VALIDATING.
func (u *ValidationUsecase) ListActive(ctx context.Context) ([]*entities.Proof, error) {
	return u.proofRepo.FindStuck(ctx, time.Now())
}
