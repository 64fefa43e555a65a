package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/pkg/redis"
	"bounty-chain.backend/pkg/utils"
)

// PoolStatus is the per-protocol bounty pool snapshot.
type PoolStatus struct {
	ProtocolID      uuid.UUID `json:"protocolId"`
	TotalBountyPool string    `json:"totalBountyPool"`
	AvailableBounty string    `json:"availableBounty"`
	PaidBounty      string    `json:"paidBounty"`
}

// PaymentUsecase is the payment read surface plus the failed-payment retry
// path.
type PaymentUsecase struct {
	paymentRepo    repositories.PaymentRepository
	validationRepo repositories.ValidationRepository
	protocolRepo   repositories.ProtocolRepository
	queue          JobEnqueuer
}

func NewPaymentUsecase(paymentRepo repositories.PaymentRepository, validationRepo repositories.ValidationRepository, protocolRepo repositories.ProtocolRepository, q JobEnqueuer) *PaymentUsecase {
	return &PaymentUsecase{paymentRepo: paymentRepo, validationRepo: validationRepo, protocolRepo: protocolRepo, queue: q}
}

func (u *PaymentUsecase) Get(ctx context.Context, id uuid.UUID) (*entities.Payment, error) {
	return u.paymentRepo.GetByID(ctx, id)
}

func (u *PaymentUsecase) List(ctx context.Context, filters repositories.PaymentFilters, page, limit int) ([]*entities.Payment, int, error) {
	p := utils.GetPaginationParams(page, limit)
	return u.paymentRepo.List(ctx, filters, p.Limit, p.CalculateOffset())
}

// Earnings and Leaderboard are aggregation queries over the whole payments
// table, so both go through a short-TTL read cache.
const aggregateCacheTTL = 30 * time.Second

func (u *PaymentUsecase) Earnings(ctx context.Context, researcherAddress string, from, to time.Time) ([]*entities.EarningsBucket, error) {
	key := fmt.Sprintf("cache:earnings:%s:%d:%d", researcherAddress, from.Unix(), to.Unix())
	var cached []*entities.EarningsBucket
	if err := redis.GetJSON(ctx, key, &cached); err == nil {
		return cached, nil
	}
	buckets, err := u.paymentRepo.AggregateEarningsByDay(ctx, researcherAddress, from, to)
	if err != nil {
		return nil, err
	}
	_ = redis.SetJSON(ctx, key, buckets, aggregateCacheTTL)
	return buckets, nil
}

func (u *PaymentUsecase) Leaderboard(ctx context.Context, from, to time.Time, limit int) ([]*entities.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	key := fmt.Sprintf("cache:leaderboard:%d:%d:%d", from.Unix(), to.Unix(), limit)
	var cached []*entities.LeaderboardEntry
	if err := redis.GetJSON(ctx, key, &cached); err == nil {
		return cached, nil
	}
	entries, err := u.paymentRepo.Leaderboard(ctx, from, to, limit)
	if err != nil {
		return nil, err
	}
	_ = redis.SetJSON(ctx, key, entries, aggregateCacheTTL)
	return entries, nil
}

func (u *PaymentUsecase) PoolStatus(ctx context.Context, protocolID uuid.UUID) (*PoolStatus, error) {
	protocol, err := u.protocolRepo.GetByID(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	return &PoolStatus{
		ProtocolID:      protocol.ID,
		TotalBountyPool: protocol.TotalBountyPool,
		AvailableBounty: protocol.AvailableBounty,
		PaidBounty:      protocol.PaidBounty,
	}, nil
}

// Propose creates a payment for a finding outside the validator pipeline.
// Without adminOverride the finding's proof must be CONFIRMED; the override
// exists for settlements signed off out of band. The settlement pipeline
// still re-derives the amount from the contract.
func (u *PaymentUsecase) Propose(ctx context.Context, findingID uuid.UUID, researcherAddress, currency string, adminOverride bool) (*entities.Payment, error) {
	if !common.IsHexAddress(researcherAddress) {
		return nil, fmt.Errorf("%w: researcher address %q", domainerrors.ErrInvalidAddress, researcherAddress)
	}
	if existing, err := u.paymentRepo.GetByFindingID(ctx, findingID); err == nil {
		return nil, fmt.Errorf("%w: payment %s already covers finding %s", domainerrors.ErrAlreadyExists, existing.ID, findingID)
	} else if !errors.Is(err, domainerrors.ErrNotFound) {
		return nil, err
	}
	detail, err := u.validationRepo.GetDetailByFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}
	if !adminOverride && detail.Proof.Status != entities.ProofStatusConfirmed {
		return nil, fmt.Errorf("%w: proof for finding %s is %s", domainerrors.ErrInvalidInput, findingID, detail.Proof.Status)
	}

	payment := &entities.Payment{
		ID:                utils.GenerateUUIDv7(),
		VulnerabilityID:   findingID,
		ProtocolID:        detail.Validation.ProtocolID,
		ValidationID:      detail.Validation.ID,
		ResearcherAddress: researcherAddress,
		Amount:            "0",
		Currency:          currency,
		Severity:          detail.Finding.Severity,
		Status:            entities.PaymentStatusPending,
		QueuedAt:          time.Now(),
	}
	if err := u.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}
	if _, err := u.queue.Enqueue(ctx, queue.QueuePaymentProcessing,
		queue.PaymentJobID(findingID), queue.PaymentJobPayload{FindingID: findingID},
		queue.EnqueueOptions{}); err != nil {
		return nil, fmt.Errorf("enqueue proposed payment: %w", err)
	}
	return payment, nil
}

// RetryFailed requeues FAILED payments. The pipeline re-runs its checks, so a
// payment that failed for a permanent reason just fails again.
func (u *PaymentUsecase) RetryFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	failed, err := u.paymentRepo.ListFailed(ctx, limit)
	if err != nil {
		return 0, err
	}
	retried := 0
	for _, payment := range failed {
		if err := u.paymentRepo.UpdateStatus(ctx, payment.ID, entities.PaymentStatusPending); err != nil {
			return retried, err
		}
		if _, err := u.queue.Enqueue(ctx, queue.QueuePaymentProcessing,
			queue.PaymentJobID(payment.VulnerabilityID),
			queue.PaymentJobPayload{FindingID: payment.VulnerabilityID},
			queue.EnqueueOptions{}); err != nil {
			return retried, fmt.Errorf("enqueue payment retry: %w", err)
		}
		retried++
	}
	return retried, nil
}
