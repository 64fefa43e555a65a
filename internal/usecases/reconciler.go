package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/pkg/logger"
	"bounty-chain.backend/pkg/utils"
)

const bountyReleasedEventName = "BountyReleased"

// Reconciler replays BountyReleased events from the pool contract and matches
// them against persisted payments. Discrepancies never mutate the payment
// beyond the reconciled stamp; they produce PaymentReconciliation rows.
type Reconciler struct {
	chain           ChainReader
	paymentRepo     repositories.PaymentRepository
	reconRepo       repositories.ReconciliationRepository
	stateRepo       repositories.ListenerStateRepository
	contractAddress string
	tokenDecimals   int
	pollInterval    time.Duration
	stop            chan struct{}
}

func NewReconciler(
	chain ChainReader,
	paymentRepo repositories.PaymentRepository,
	reconRepo repositories.ReconciliationRepository,
	stateRepo repositories.ListenerStateRepository,
	contractAddress string,
	tokenDecimals int,
	pollInterval time.Duration,
) *Reconciler {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Reconciler{
		chain:           chain,
		paymentRepo:     paymentRepo,
		reconRepo:       reconRepo,
		stateRepo:       stateRepo,
		contractAddress: contractAddress,
		tokenDecimals:   tokenDecimals,
		pollInterval:    pollInterval,
		stop:            make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is done or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	logger.Info(ctx, "reconciler started",
		zap.String("contract", r.contractAddress),
		zap.Duration("interval", r.pollInterval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.Poll(ctx); err != nil {
				logger.Error(ctx, "reconciler poll failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) Stop() {
	close(r.stop)
}

// Poll processes one replay window: (lastProcessedBlock, head].
func (r *Reconciler) Poll(ctx context.Context) error {
	head, err := r.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}

	state, err := r.stateRepo.Get(ctx, r.contractAddress, bountyReleasedEventName)
	if err != nil && !errors.Is(err, domainerrors.ErrNotFound) {
		return err
	}
	if state == nil {
		// first run: start at the current head, do not replay history
		state = &entities.EventListenerState{
			ContractAddress:    r.contractAddress,
			EventName:          bountyReleasedEventName,
			LastProcessedBlock: head,
		}
		return r.stateRepo.Upsert(ctx, state)
	}
	if head <= state.LastProcessedBlock {
		return nil
	}

	events, err := r.chain.FilterBountyReleased(ctx, state.LastProcessedBlock+1, head)
	if err != nil {
		return fmt.Errorf("filter bounty released: %w", err)
	}
	for i := range events {
		if err := r.processEvent(ctx, &events[i]); err != nil {
			// stop before advancing past the failed event
			return err
		}
	}

	state.LastProcessedBlock = head
	return r.stateRepo.Upsert(ctx, state)
}

func (r *Reconciler) processEvent(ctx context.Context, ev *entities.BountyReleasedEvent) error {
	seen, err := r.reconRepo.ExistsForEvent(ctx, ev.TxHash, ev.LogIndex)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	payment, err := r.paymentRepo.GetByOnChainBountyID(ctx, ev.ValidationID)
	if errors.Is(err, domainerrors.ErrNotFound) {
		logger.Warn(ctx, "on-chain settlement has no matching payment",
			zap.Int64("validationId", ev.ValidationID), zap.String("txHash", ev.TxHash))
		return r.record(ctx, nil, ev, entities.ReconciliationStatusOrphaned,
			"no payment row matches this settlement event")
	}
	if err != nil {
		return err
	}

	discrepant := false
	if payment.TxHash.Valid && !strings.EqualFold(payment.TxHash.String, ev.TxHash) {
		discrepant = true
		if err := r.record(ctx, payment, ev, entities.ReconciliationStatusDiscrepancy,
			fmt.Sprintf("stored txHash %s differs from event txHash %s", payment.TxHash.String, ev.TxHash)); err != nil {
			return err
		}
	}
	if !strings.EqualFold(payment.ResearcherAddress, ev.ResearcherAddress) {
		discrepant = true
		if err := r.record(ctx, payment, ev, entities.ReconciliationStatusDiscrepancy,
			fmt.Sprintf("stored researcher %s differs from event recipient %s", payment.ResearcherAddress, ev.ResearcherAddress)); err != nil {
			return err
		}
	}
	mismatch, err := r.amountMismatch(payment.Amount, ev.Amount)
	if err != nil {
		return err
	}
	if mismatch {
		discrepant = true
		if err := r.record(ctx, payment, ev, entities.ReconciliationStatusAmountMismatch,
			fmt.Sprintf("stored amount %s differs from event amount %s", payment.Amount, ev.Amount)); err != nil {
			return err
		}
	}

	// the event hash backfills a missing stored hash only on a clean match;
	// a disputed row keeps whatever the pipeline stored, even nothing
	txHash := payment.TxHash.String
	if !payment.TxHash.Valid && !discrepant {
		txHash = ev.TxHash
	}
	return r.paymentRepo.MarkReconciled(ctx, payment.ID, txHash, ev.BlockTime)
}

// amountMismatch reports whether the difference exceeds 0.01 human units.
func (r *Reconciler) amountMismatch(stored, observed string) (bool, error) {
	diff, err := utils.SmallestUnitDiff(stored, observed)
	if err != nil {
		return false, fmt.Errorf("compare amounts: %w", err)
	}
	tolerance := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.tokenDecimals)), nil)
	tolerance.Div(tolerance, big.NewInt(100))
	return diff.Cmp(tolerance) > 0, nil
}

func (r *Reconciler) record(ctx context.Context, payment *entities.Payment, ev *entities.BountyReleasedEvent, status entities.ReconciliationStatus, notes string) error {
	rec := &entities.PaymentReconciliation{
		ID:              uuid.New(),
		OnChainBountyID: ev.BountyID,
		TxHash:          ev.TxHash,
		LogIndex:        ev.LogIndex,
		Amount:          ev.Amount,
		Status:          status,
		DiscoveredAt:    time.Now(),
		Notes:           notes,
	}
	if payment != nil {
		id := payment.ID
		rec.PaymentID = &id
	}
	return r.reconRepo.Create(ctx, rec)
}
