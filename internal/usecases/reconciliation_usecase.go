package usecases

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bounty-chain.backend/internal/domain/entities"
	"bounty-chain.backend/internal/domain/repositories"
)

// ReconciliationUsecase is the manual-resolution surface over reconciliation
// records.
type ReconciliationUsecase struct {
	reconRepo   repositories.ReconciliationRepository
	paymentRepo repositories.PaymentRepository
}

func NewReconciliationUsecase(reconRepo repositories.ReconciliationRepository, paymentRepo repositories.PaymentRepository) *ReconciliationUsecase {
	return &ReconciliationUsecase{reconRepo: reconRepo, paymentRepo: paymentRepo}
}

// Report lists every reconciliation discovered since the cutoff; a nil since
// returns everything.
func (u *ReconciliationUsecase) Report(ctx context.Context, since *time.Time) ([]*entities.PaymentReconciliation, error) {
	return u.reconRepo.List(ctx, "", since)
}

func (u *ReconciliationUsecase) ListDiscrepancies(ctx context.Context, status entities.ReconciliationStatus) ([]*entities.PaymentReconciliation, error) {
	return u.reconRepo.List(ctx, status, nil)
}

// Resolve closes a reconciliation record. When the record points at a
// payment, the payment is stamped reconciled as well.
func (u *ReconciliationUsecase) Resolve(ctx context.Context, id uuid.UUID, notes string) error {
	rec, err := u.reconRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := u.reconRepo.Resolve(ctx, id, notes); err != nil {
		return err
	}
	if rec.PaymentID != nil {
		payment, err := u.paymentRepo.GetByID(ctx, *rec.PaymentID)
		if err != nil {
			return err
		}
		if !payment.Reconciled {
			return u.paymentRepo.MarkReconciled(ctx, payment.ID, rec.TxHash, rec.DiscoveredAt)
		}
	}
	return nil
}
