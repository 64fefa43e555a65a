package jobs

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"bounty-chain.backend/internal/domain/entities"
)

// unconfirmedPaymentStore is the store surface the sweeper needs.
type unconfirmedPaymentStore interface {
	ListUnreconciledCompletedBefore(ctx context.Context, cutoff time.Time) ([]*entities.Payment, error)
}

type reconciliationRecorder interface {
	Create(ctx context.Context, rec *entities.PaymentReconciliation) error
	ExistsForEvent(ctx context.Context, txHash string, logIndex uint) (bool, error)
}

// UnconfirmedPaymentSweeper flags COMPLETED payments the reconciler has not
// matched to an on-chain event within the configured window. It only records
// discrepancies; payment rows are never touched.
type UnconfirmedPaymentSweeper struct {
	payments        unconfirmedPaymentStore
	reconciliations reconciliationRecorder
	maxAge          time.Duration
	interval        time.Duration
	stop            chan struct{}
}

func NewUnconfirmedPaymentSweeper(payments unconfirmedPaymentStore, reconciliations reconciliationRecorder, maxAge time.Duration) *UnconfirmedPaymentSweeper {
	return &UnconfirmedPaymentSweeper{
		payments:        payments,
		reconciliations: reconciliations,
		maxAge:          maxAge,
		interval:        5 * time.Minute,
		stop:            make(chan struct{}),
	}
}

func (j *UnconfirmedPaymentSweeper) Start(ctx context.Context) {
	log.Println("🕐 Starting unconfirmed payment sweeper...")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️ Unconfirmed payment sweeper stopped (context cancelled)")
			return
		case <-j.stop:
			log.Println("⏹️ Unconfirmed payment sweeper stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *UnconfirmedPaymentSweeper) Stop() {
	close(j.stop)
}

func (j *UnconfirmedPaymentSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.maxAge)
	stale, err := j.payments.ListUnreconciledCompletedBefore(ctx, cutoff)
	if err != nil {
		log.Printf("❌ Error fetching unreconciled payments: %v", err)
		return
	}

	flagged := 0
	for _, p := range stale {
		txHash := p.TxHash.String
		exists, err := j.reconciliations.ExistsForEvent(ctx, txHash, 0)
		if err != nil {
			log.Printf("❌ Error checking reconciliation for payment %s: %v", p.ID, err)
			continue
		}
		if exists {
			continue
		}
		paymentID := p.ID
		rec := &entities.PaymentReconciliation{
			ID:              uuid.New(),
			PaymentID:       &paymentID,
			OnChainBountyID: p.OnChainBountyID.Int64,
			TxHash:          txHash,
			Amount:          p.Amount,
			Status:          entities.ReconciliationStatusUnconfirmed,
			DiscoveredAt:    time.Now(),
			Notes:           "completed payment has no matching on-chain settlement event",
		}
		if err := j.reconciliations.Create(ctx, rec); err != nil {
			log.Printf("❌ Error recording unconfirmed payment %s: %v", p.ID, err)
			continue
		}
		flagged++
	}
	if flagged > 0 {
		log.Printf("⚠️ Flagged %d unconfirmed payments", flagged)
	}
}
