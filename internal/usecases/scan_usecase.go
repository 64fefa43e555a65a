package usecases

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/internal/infrastructure/bus"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/pkg/logger"
	"bounty-chain.backend/pkg/utils"
)

// ScanUsecase is the scan call surface: create, query, cancel.
type ScanUsecase struct {
	scanRepo     repositories.ScanRepository
	findingRepo  repositories.FindingRepository
	protocolRepo repositories.ProtocolRepository
	queue        JobEnqueuer
	bus          EventPublisher
}

func NewScanUsecase(
	scanRepo repositories.ScanRepository,
	findingRepo repositories.FindingRepository,
	protocolRepo repositories.ProtocolRepository,
	q JobEnqueuer,
	b EventPublisher,
) *ScanUsecase {
	return &ScanUsecase{
		scanRepo:     scanRepo,
		findingRepo:  findingRepo,
		protocolRepo: protocolRepo,
		queue:        q,
		bus:          b,
	}
}

// Create queues a new scan against a registered protocol. Branch defaults to
// the protocol's registered branch; commit pins the checkout when set.
func (u *ScanUsecase) Create(ctx context.Context, protocolID uuid.UUID, branch, commit string) (*entities.Scan, error) {
	protocol, err := u.protocolRepo.GetByID(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	if protocol.Status != entities.ProtocolStatusActive && protocol.Status != entities.ProtocolStatusRegistered {
		return nil, fmt.Errorf("%w: protocol %s is %s", domainerrors.ErrInvalidInput, protocolID, protocol.Status)
	}
	if branch == "" {
		branch = protocol.Branch
	}

	scan := &entities.Scan{
		ID:           uuid.New(),
		ProtocolID:   protocolID,
		State:        entities.ScanStateQueued,
		TargetBranch: null.StringFrom(branch),
	}
	if commit != "" {
		scan.TargetCommit = null.StringFrom(commit)
	}
	if err := u.scanRepo.Create(ctx, scan); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}

	ref := commit
	if ref == "" {
		ref = branch
	}
	enqueued, err := u.queue.Enqueue(ctx, queue.QueueScanJobs, queue.ScanJobID(protocolID, ref),
		queue.ScanJobPayload{ScanID: scan.ID, ProtocolID: protocolID, Commit: commit},
		queue.EnqueueOptions{})
	if err != nil {
		return nil, fmt.Errorf("enqueue scan: %w", err)
	}
	if !enqueued {
		logger.Info(ctx, "scan job already in flight",
			zap.String("protocolId", protocolID.String()), zap.String("ref", ref))
	}

	if err := u.bus.Publish(ctx, bus.TopicScanCreated, bus.Envelope{
		EventType: "scan:created",
		ScanID:    scan.ID.String(),
		Data: mustJSON(map[string]interface{}{
			"protocolId": protocolID.String(),
			"branch":     branch,
			"commit":     commit,
		}),
	}); err != nil {
		logger.Warn(ctx, "bus publish failed", zap.String("scanId", scan.ID.String()), zap.Error(err))
	}
	return scan, nil
}

func (u *ScanUsecase) Get(ctx context.Context, id uuid.UUID) (*entities.Scan, error) {
	return u.scanRepo.GetByID(ctx, id)
}

func (u *ScanUsecase) List(ctx context.Context, filters repositories.ScanFilters, page, perPage int) ([]*entities.Scan, int, error) {
	p := utils.GetPaginationParams(page, perPage)
	return u.scanRepo.List(ctx, filters, p.Limit, p.CalculateOffset())
}

func (u *ScanUsecase) ListByProtocolWithCounts(ctx context.Context, protocolID uuid.UUID) ([]*entities.ScanWithCounts, error) {
	return u.scanRepo.ListByProtocolWithCounts(ctx, protocolID)
}

func (u *ScanUsecase) Findings(ctx context.Context, scanID uuid.UUID) ([]*entities.Finding, error) {
	return u.findingRepo.ListByScan(ctx, scanID)
}

// Cancel flips the scan to CANCELED and broadcasts it. The running worker
// observes the state at its next step boundary and aborts cleanup-first.
func (u *ScanUsecase) Cancel(ctx context.Context, id uuid.UUID) error {
	scan, err := u.scanRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if scan.State == entities.ScanStateCanceled {
		return nil
	}
	if !scan.State.CanTransitionTo(entities.ScanStateCanceled) {
		return fmt.Errorf("%w: cannot cancel scan in state %s", domainerrors.ErrInvalidTransition, scan.State)
	}
	if err := u.scanRepo.UpdateState(ctx, id, entities.ScanStateCanceled); err != nil {
		return err
	}

	if err := u.bus.Publish(ctx, bus.TopicScanCanceled, bus.Envelope{
		EventType: "scan:canceled",
		ScanID:    id.String(),
		Data: mustJSON(map[string]interface{}{
			"state":       entities.ScanStateCanceled,
			"currentStep": scan.CurrentStep,
		}),
	}); err != nil {
		logger.Warn(ctx, "bus publish failed", zap.String("scanId", id.String()), zap.Error(err))
	}
	return nil
}
