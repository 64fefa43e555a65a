package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/internal/infrastructure/bus"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/internal/infrastructure/toolchain"
	"bounty-chain.backend/pkg/logger"
	"bounty-chain.backend/pkg/utils"
)

// Registration pipeline steps, in execution order.
const (
	ProtocolStepClone          = "CLONE"
	ProtocolStepVerifyContract = "VERIFY_CONTRACT_EXISTS"
	ProtocolStepCompile        = "COMPILE"
	ProtocolStepRiskScore      = "RISK_SCORE"
	ProtocolStepRegisterChain  = "REGISTER_ON_CHAIN"
	ProtocolStepTriggerScan    = "TRIGGER_SCAN"
	ProtocolStepDone           = "DONE"
)

// ProtocolPipeline turns a PENDING protocol into an ACTIVE one: verify the
// source compiles, score it, anchor it on-chain and kick off the first scan.
type ProtocolPipeline struct {
	protocolRepo repositories.ProtocolRepository
	scanRepo     repositories.ScanRepository
	tools        SourceToolchain
	chain        ChainWriter
	queue        JobEnqueuer
	bus          EventPublisher
}

func NewProtocolPipeline(
	protocolRepo repositories.ProtocolRepository,
	scanRepo repositories.ScanRepository,
	tools SourceToolchain,
	chain ChainWriter,
	q JobEnqueuer,
	b EventPublisher,
) *ProtocolPipeline {
	return &ProtocolPipeline{
		protocolRepo: protocolRepo,
		scanRepo:     scanRepo,
		tools:        tools,
		chain:        chain,
		queue:        q,
		bus:          b,
	}
}

// Handle is the queue worker entrypoint for protocol registration jobs.
func (p *ProtocolPipeline) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.ProtocolJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode protocol job: %w", err)
	}

	protocol, err := p.protocolRepo.GetByID(ctx, payload.ProtocolID)
	if err != nil {
		return err
	}
	if protocol.Status == entities.ProtocolStatusActive {
		return nil // already through; duplicate delivery
	}

	if err := p.run(ctx, protocol); err != nil {
		// every failure resets to PENDING with the message captured; the
		// queue retries transient ones
		_ = p.protocolRepo.UpdateStatus(ctx, protocol.ID, entities.ProtocolStatusPending)
		_ = p.protocolRepo.SetError(ctx, protocol.ID, err.Error())
		p.publish(ctx, protocol.ID, "registration:failed", map[string]string{"error": err.Error()})
		return err
	}
	return nil
}

func (p *ProtocolPipeline) run(ctx context.Context, protocol *entities.Protocol) error {
	jobID := "protocol-" + protocol.ID.String()

	p.publishStep(ctx, protocol.ID, ProtocolStepClone)
	dir, err := p.tools.Clone(ctx, jobID, protocol.SourceURL, protocol.Branch)
	if err != nil {
		return classifyToolErr(err)
	}
	defer p.tools.Cleanup(dir)
	p.tools.InitSubmodules(ctx, dir)

	p.publishStep(ctx, protocol.ID, ProtocolStepVerifyContract)
	if !p.tools.ContractFileExists(dir, protocol.ContractPath) {
		return fmt.Errorf("%w: contract file %s not found in repository", domainerrors.ErrInvalidInput, protocol.ContractPath)
	}

	p.publishStep(ctx, protocol.ID, ProtocolStepCompile)
	artifact, err := p.tools.Compile(ctx, dir, protocol.ContractPath, protocol.ContractName)
	if err != nil {
		return classifyToolErr(err)
	}

	p.publishStep(ctx, protocol.ID, ProtocolStepRiskScore)
	score := toolchain.RiskScore(artifact.Bytecode, artifact.ABI)
	if err := p.protocolRepo.SetRiskScore(ctx, protocol.ID, score); err != nil {
		return err
	}

	p.publishStep(ctx, protocol.ID, ProtocolStepRegisterChain)
	onChainID, err := p.registerOnChain(ctx, protocol)
	if err != nil {
		return err
	}
	if err := p.protocolRepo.SetOnChainID(ctx, protocol.ID, onChainID); err != nil {
		return err
	}
	if err := p.protocolRepo.UpdateStatus(ctx, protocol.ID, entities.ProtocolStatusRegistered); err != nil {
		return err
	}

	p.publishStep(ctx, protocol.ID, ProtocolStepTriggerScan)
	if err := p.triggerScan(ctx, protocol); err != nil {
		return err
	}

	if err := p.protocolRepo.UpdateStatus(ctx, protocol.ID, entities.ProtocolStatusActive); err != nil {
		return err
	}
	p.publishStep(ctx, protocol.ID, ProtocolStepDone)
	logger.Info(ctx, "protocol registered",
		zap.String("protocolId", protocol.ID.String()),
		zap.Int64("onChainId", onChainID),
		zap.Int("riskScore", score))
	return nil
}

// registerOnChain anchors the protocol in the registry. A source URL that is
// already registered adopts the existing on-chain id instead of re-registering.
func (p *ProtocolPipeline) registerOnChain(ctx context.Context, protocol *entities.Protocol) (int64, error) {
	registered, err := p.chain.IsGithubURLRegistered(ctx, protocol.SourceURL)
	if err != nil {
		return 0, wrapChainErr(err)
	}
	if registered {
		id, err := p.chain.GetProtocolIDByGithubURL(ctx, protocol.SourceURL)
		if err != nil {
			return 0, wrapChainErr(err)
		}
		logger.Info(ctx, "adopting existing on-chain registration",
			zap.String("protocolId", protocol.ID.String()), zap.Int64("onChainId", id))
		return id, nil
	}
	id, _, err := p.chain.RegisterProtocol(ctx, protocol.SourceURL, protocol.OwnerAddress)
	if err != nil {
		return 0, wrapChainErr(err)
	}
	return id, nil
}

func (p *ProtocolPipeline) triggerScan(ctx context.Context, protocol *entities.Protocol) error {
	scan := &entities.Scan{
		ID:         utils.GenerateUUIDv7(),
		ProtocolID: protocol.ID,
		State:      entities.ScanStateQueued,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := p.scanRepo.Create(ctx, scan); err != nil {
		return err
	}
	// idempotency key includes the branch: re-running registration for the
	// same target never double-scans
	_, err := p.queue.Enqueue(ctx, queue.QueueScanJobs,
		queue.ScanJobID(protocol.ID, protocol.Branch),
		queue.ScanJobPayload{ScanID: scan.ID, ProtocolID: protocol.ID, Commit: protocol.Branch},
		queue.EnqueueOptions{})
	return err
}

func (p *ProtocolPipeline) publishStep(ctx context.Context, protocolID uuid.UUID, step string) {
	p.publish(ctx, protocolID, "registration:progress", map[string]string{"currentStep": step})
}

func (p *ProtocolPipeline) publish(ctx context.Context, protocolID uuid.UUID, eventType string, data map[string]string) {
	if err := p.bus.Publish(ctx, bus.ProtocolRegistrationTopic(protocolID.String()), bus.Envelope{
		EventType:  eventType,
		ProtocolID: protocolID.String(),
		Data:       mustJSON(data),
	}); err != nil {
		logger.Warn(ctx, "bus publish failed", zap.String("eventType", eventType), zap.Error(err))
	}
}
