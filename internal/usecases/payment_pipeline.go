package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/internal/infrastructure/blockchain"
	"bounty-chain.backend/internal/infrastructure/bus"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/pkg/logger"
	"bounty-chain.backend/pkg/redis"
)

// PaymentPipeline settles confirmed findings: it releases the bounty
// on-chain and moves the payment row through PROCESSING to COMPLETED or
// FAILED. Only transient chain failures retry.
type PaymentPipeline struct {
	paymentRepo    repositories.PaymentRepository
	validationRepo repositories.ValidationRepository
	protocolRepo   repositories.ProtocolRepository
	chain          ChainWriter
	bus            EventPublisher

	// offChainMode skips the on-chain anchor requirement; used on networks
	// where the validation registry is not deployed
	offChainMode bool
}

func NewPaymentPipeline(
	paymentRepo repositories.PaymentRepository,
	validationRepo repositories.ValidationRepository,
	protocolRepo repositories.ProtocolRepository,
	chain ChainWriter,
	b EventPublisher,
	offChainMode bool,
) *PaymentPipeline {
	return &PaymentPipeline{
		paymentRepo:    paymentRepo,
		validationRepo: validationRepo,
		protocolRepo:   protocolRepo,
		chain:          chain,
		bus:            b,
		offChainMode:   offChainMode,
	}
}

// Handle is the queue worker entrypoint for payment jobs.
func (p *PaymentPipeline) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.PaymentJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode payment job: %w", err)
	}

	payment, err := p.paymentRepo.GetByFindingID(ctx, payload.FindingID)
	if err != nil {
		return err
	}
	// duplicate guard
	if payment.Status == entities.PaymentStatusCompleted {
		return nil
	}

	if !common.IsHexAddress(payment.ResearcherAddress) {
		return p.fail(ctx, payment, "invalid researcher address")
	}

	detail, err := p.validationRepo.GetDetailByFinding(ctx, payload.FindingID)
	if err != nil {
		return err
	}
	if detail.Proof.Status != entities.ProofStatusConfirmed {
		return p.fail(ctx, payment, "validation outcome is not CONFIRMED")
	}
	if !p.offChainMode && !detail.Proof.OnChainValidationID.Valid {
		return p.fail(ctx, payment, "validation not anchored on-chain")
	}

	protocol, err := p.protocolRepo.GetByID(ctx, payment.ProtocolID)
	if err != nil {
		return err
	}
	if !protocol.OnChainID.Valid {
		return p.fail(ctx, payment, "protocol not registered on-chain")
	}

	if err := p.paymentRepo.MarkProcessing(ctx, payment.ID); err != nil {
		return err
	}

	// the contract's severity mapping is the amount source of truth
	expected, err := p.chain.CalculateBountyAmount(ctx, protocol.OnChainID.Int64, payment.Severity)
	if err != nil {
		return p.settleErr(ctx, payment, err)
	}
	amount := expected.String()
	if amount != payment.Amount {
		logger.Warn(ctx, "stored payment amount diverges from contract",
			zap.String("paymentId", payment.ID.String()),
			zap.String("stored", payment.Amount),
			zap.String("calculated", amount))
	}

	// reserve from the off-chain ledger before touching the chain
	ok, err := p.protocolRepo.TryDecrementAvailable(ctx, payment.ProtocolID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return p.fail(ctx, payment, "Insufficient pool balance")
	}

	release, err := p.chain.ReleaseBounty(ctx,
		protocol.OnChainID.Int64,
		detail.Proof.OnChainValidationID.Int64,
		payment.ResearcherAddress,
		payment.Severity)
	if err != nil {
		if restoreErr := p.protocolRepo.RestoreAvailable(ctx, payment.ProtocolID, amount); restoreErr != nil {
			logger.Error(ctx, "restore available bounty failed",
				zap.String("protocolId", payment.ProtocolID.String()), zap.Error(restoreErr))
		}
		return p.settleErr(ctx, payment, err)
	}

	now := time.Now()
	if err := p.paymentRepo.MarkCompleted(ctx, payment.ID, release.TxHash, release.BountyID, now); err != nil {
		return err
	}
	if err := p.protocolRepo.CreditPaid(ctx, payment.ProtocolID, release.Amount.String()); err != nil {
		logger.Error(ctx, "credit paid tally failed", zap.Error(err))
	}
	// the payout shifts the aggregates served from cache
	_ = redis.InvalidateByPattern(ctx, "cache:leaderboard:*")
	_ = redis.InvalidateByPattern(ctx, "cache:earnings:"+payment.ResearcherAddress+":*")

	p.publish(ctx, payment.ID, "payment:released", map[string]interface{}{
		"findingId": payment.VulnerabilityID.String(),
		"amount":    release.Amount.String(),
		"txHash":    release.TxHash,
		"bountyId":  release.BountyID,
	})
	return nil
}

// settleErr routes a chain failure: insufficient balance is terminal,
// network trouble retries, everything else fails the payment.
func (p *PaymentPipeline) settleErr(ctx context.Context, payment *entities.Payment, err error) error {
	if ce, ok := blockchain.AsChainError(err); ok {
		switch {
		case ce.Kind == blockchain.KindInsufficientBalance:
			return p.fail(ctx, payment, "Insufficient pool balance")
		case ce.Retryable():
			if incErr := p.paymentRepo.IncrementRetry(ctx, payment.ID); incErr != nil {
				logger.Error(ctx, "increment payment retry failed", zap.Error(incErr))
			}
			return domainerrors.NewTransient(err)
		}
	}
	return p.fail(ctx, payment, err.Error())
}

// fail moves the payment to FAILED and acks the job; no retry.
func (p *PaymentPipeline) fail(ctx context.Context, payment *entities.Payment, reason string) error {
	if err := p.paymentRepo.MarkFailed(ctx, payment.ID, reason); err != nil {
		return err
	}
	p.publish(ctx, payment.ID, "payment:failed", map[string]interface{}{
		"findingId": payment.VulnerabilityID.String(),
		"reason":    reason,
	})
	return nil
}

func (p *PaymentPipeline) publish(ctx context.Context, paymentID uuid.UUID, eventType string, data map[string]interface{}) {
	if err := p.bus.Publish(ctx, bus.TopicPaymentEvents, bus.Envelope{
		EventType: eventType,
		Data:      mustJSON(data),
	}); err != nil {
		logger.Warn(ctx, "bus publish failed", zap.String("paymentId", paymentID.String()), zap.Error(err))
	}
}
