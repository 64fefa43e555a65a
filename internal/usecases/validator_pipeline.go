package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/domain/repositories"
	"bounty-chain.backend/internal/infrastructure/blockchain"
	"bounty-chain.backend/internal/infrastructure/bus"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/internal/infrastructure/sandbox"
	"bounty-chain.backend/pkg/cryptoutil"
	"bounty-chain.backend/pkg/logger"
	"bounty-chain.backend/pkg/redis"
	"bounty-chain.backend/pkg/utils"
)

// Validation pipeline steps, in execution order.
const (
	ValidationStepDecrypt    = "DECRYPT_PROOF"
	ValidationStepProtocol   = "FETCH_PROTOCOL"
	ValidationStepClone      = "CLONE_AT_COMMIT"
	ValidationStepCompile    = "COMPILE"
	ValidationStepSandbox    = "SPAWN_SANDBOX"
	ValidationStepDeploy     = "DEPLOY"
	ValidationStepExecute    = "EXECUTE_EXPLOIT"
	ValidationStepRecord     = "RECORD_VALIDATION"
	ValidationStepOnChain    = "RECORD_ONCHAIN"
	ValidationStepReputation = "RECORD_REPUTATION"
	ValidationStepCleanup    = "CLEANUP"
)

// ValidatorPipeline re-executes a submitted proof in a fresh sandbox and
// records the outcome off-chain, on-chain and against agent reputation.
type ValidatorPipeline struct {
	proofRepo      repositories.ProofRepository
	validationRepo repositories.ValidationRepository
	findingRepo    repositories.FindingRepository
	scanRepo       repositories.ScanRepository
	protocolRepo   repositories.ProtocolRepository
	paymentRepo    repositories.PaymentRepository
	agentRepo      repositories.AgentRepository
	uow            repositories.UnitOfWork
	tools          SourceToolchain
	sandboxes      SandboxManager
	chain          ChainWriter
	cipher         ProofCipher
	queue          JobEnqueuer
	bus            EventPublisher

	researcherWallet string
	validatorWallet  string
	currency         string
}

func NewValidatorPipeline(
	proofRepo repositories.ProofRepository,
	validationRepo repositories.ValidationRepository,
	findingRepo repositories.FindingRepository,
	scanRepo repositories.ScanRepository,
	protocolRepo repositories.ProtocolRepository,
	paymentRepo repositories.PaymentRepository,
	agentRepo repositories.AgentRepository,
	uow repositories.UnitOfWork,
	tools SourceToolchain,
	sandboxes SandboxManager,
	chain ChainWriter,
	cipher ProofCipher,
	q JobEnqueuer,
	b EventPublisher,
	researcherWallet, validatorWallet, currency string,
) *ValidatorPipeline {
	return &ValidatorPipeline{
		proofRepo:        proofRepo,
		validationRepo:   validationRepo,
		findingRepo:      findingRepo,
		scanRepo:         scanRepo,
		protocolRepo:     protocolRepo,
		paymentRepo:      paymentRepo,
		agentRepo:        agentRepo,
		uow:              uow,
		tools:            tools,
		sandboxes:        sandboxes,
		chain:            chain,
		cipher:           cipher,
		queue:            q,
		bus:              b,
		researcherWallet: researcherWallet,
		validatorWallet:  validatorWallet,
		currency:         currency,
	}
}

// Handle is the queue worker entrypoint for validation jobs.
func (p *ValidatorPipeline) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.ValidationJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode validation job: %w", err)
	}

	proof, err := p.proofRepo.GetByID(ctx, payload.ProofID)
	if err != nil {
		return err
	}
	switch proof.Status {
	case entities.ProofStatusConfirmed, entities.ProofStatusRejected, entities.ProofStatusFailed:
		return nil // terminal; duplicate delivery
	case entities.ProofStatusSubmitted:
		if err := p.proofRepo.UpdateStatus(ctx, proof.ID, entities.ProofStatusValidating); err != nil {
			return err
		}
	}

	if err := p.run(ctx, proof); err != nil {
		if !domainerrors.IsTransient(err) || job.Attempt >= job.MaxAttempts {
			_ = p.proofRepo.UpdateStatus(ctx, proof.ID, entities.ProofStatusFailed)
		}
		return err
	}
	return nil
}

func (p *ValidatorPipeline) run(ctx context.Context, proof *entities.Proof) error {
	var checkoutDir string
	var sb SandboxHandle
	defer func() {
		if sb != nil {
			sb.Kill()
		}
		if checkoutDir != "" {
			p.tools.Cleanup(checkoutDir)
		}
	}()

	// DECRYPT_PROOF
	p.progress(ctx, proof.ID, ValidationStepDecrypt)
	body, err := p.cipher.Decrypt(proof.EncryptionKeyID, proof.EncryptedPayload)
	if err != nil {
		return fmt.Errorf("decrypt proof: %w", err)
	}
	var payload entities.ExploitPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode proof payload: %w", err)
	}
	p.logEvent(ctx, proof.ID, bus.LogLevelInfo, "proof decrypted")

	// FETCH_PROTOCOL
	p.progress(ctx, proof.ID, ValidationStepProtocol)
	finding, err := p.findingRepo.GetByID(ctx, proof.FindingID)
	if err != nil {
		return err
	}
	scan, err := p.scanRepo.GetByID(ctx, proof.ScanID)
	if err != nil {
		return err
	}
	protocol, err := p.protocolRepo.GetByID(ctx, scan.ProtocolID)
	if err != nil {
		return err
	}

	// CLONE_AT_COMMIT
	p.progress(ctx, proof.ID, ValidationStepClone)
	dir, err := p.tools.Clone(ctx, "validate-"+proof.ID.String(), protocol.SourceURL, payload.TargetCommit)
	if err != nil {
		return classifyToolErr(err)
	}
	checkoutDir = dir
	p.tools.InitSubmodules(ctx, dir)

	// COMPILE
	p.progress(ctx, proof.ID, ValidationStepCompile)
	artifact, err := p.tools.Compile(ctx, dir, protocol.ContractPath, protocol.ContractName)
	if err != nil {
		return classifyToolErr(err)
	}

	// SPAWN_SANDBOX + DEPLOY
	p.progress(ctx, proof.ID, ValidationStepSandbox)
	handle, err := p.sandboxes.Spawn(ctx)
	if err != nil {
		return err
	}
	sb = handle
	p.progress(ctx, proof.ID, ValidationStepDeploy)
	target, _, err := sb.Deploy(ctx, artifact.Bytecode)
	if err != nil {
		return fmt.Errorf("sandbox deploy: %w", err)
	}

	// EXECUTE_EXPLOIT
	p.progress(ctx, proof.ID, ValidationStepExecute)
	p.logEvent(ctx, proof.ID, bus.LogLevelAnalysis,
		fmt.Sprintf("executing %d exploit steps against %s", len(payload.Steps), target))
	result, err := sb.ExecuteExploit(ctx, target, &payload)
	if err != nil {
		return fmt.Errorf("execute exploit: %w", err)
	}
	if result.Validated {
		p.logEvent(ctx, proof.ID, bus.LogLevelAlert, "exploit reproduced in sandbox")
	} else {
		p.logEvent(ctx, proof.ID, bus.LogLevelDefault, "exploit did not reproduce")
	}

	// RECORD_VALIDATION: the sandbox verdict is the decision; everything
	// after this point must not flip it
	p.progress(ctx, proof.ID, ValidationStepRecord)
	validation, err := p.recordValidation(ctx, proof, finding, protocol, result)
	if err != nil {
		return err
	}

	// RECORD_ONCHAIN: failures are logged, the off-chain result stands
	p.progress(ctx, proof.ID, ValidationStepOnChain)
	p.recordOnChain(ctx, proof, finding, protocol, result.Validated)

	// RECORD_REPUTATION
	p.progress(ctx, proof.ID, ValidationStepReputation)
	p.recordReputation(ctx, finding, validation, result.Validated)

	if result.Validated {
		if err := p.enqueuePayment(ctx, finding, validation, protocol); err != nil {
			return err
		}
	}
	p.progress(ctx, proof.ID, ValidationStepCleanup)
	return nil
}

// recordValidation persists the verdict: validation row, proof status and
// finding status move together.
func (p *ValidatorPipeline) recordValidation(ctx context.Context, proof *entities.Proof, finding *entities.Finding, protocol *entities.Protocol, result *sandbox.ExploitResult) (*entities.Validation, error) {
	verdict := entities.ValidationResultFalse
	if result.Validated {
		verdict = entities.ValidationResultTrue
	} else if result.Err != "" {
		verdict = entities.ValidationResultError
	}

	validatorAgentID := uuid.Nil
	if agent, err := p.agentRepo.GetByWallet(ctx, p.validatorWallet); err == nil {
		validatorAgentID = agent.ID
	}

	validation := &entities.Validation{
		ID:               utils.GenerateUUIDv7(),
		ProofID:          proof.ID,
		ScanID:           proof.ScanID,
		ProtocolID:       protocol.ID,
		ValidatorAgentID: validatorAgentID,
		Result:           verdict,
		ExecutionLog:     strings.Join(result.ExecutionLog, "\n"),
		CreatedAt:        time.Now(),
	}
	if result.StateChanges != "" {
		validation.StateChanges = null.StringFrom(result.StateChanges)
	}
	if result.TxHash != "" {
		validation.TransactionHash = null.StringFrom(result.TxHash)
	}
	if result.GasUsed > 0 {
		validation.GasUsed = null.Int64From(int64(result.GasUsed))
	}
	if result.Err != "" {
		validation.FailureReason = null.StringFrom(result.Err)
	}

	proofStatus := entities.ProofStatusRejected
	findingStatus := entities.FindingStatusRejected
	if result.Validated {
		proofStatus = entities.ProofStatusConfirmed
		findingStatus = entities.FindingStatusConfirmed
	}
	now := time.Now()

	err := p.uow.Do(ctx, func(txCtx context.Context) error {
		if err := p.validationRepo.Create(txCtx, validation); err != nil {
			return err
		}
		if err := p.proofRepo.UpdateStatus(txCtx, proof.ID, proofStatus); err != nil {
			return err
		}
		return p.findingRepo.UpdateStatus(txCtx, finding.ID, findingStatus, &now)
	})
	if err != nil {
		return nil, err
	}

	// the stream is keyed by proof id, same as the progress events
	p.publish(ctx, proof.ID, "validation:completed", map[string]interface{}{
		"validationId": validation.ID.String(),
		"findingId":    finding.ID.String(),
		"result":       verdict,
	})
	return validation, nil
}

func (p *ValidatorPipeline) recordOnChain(ctx context.Context, proof *entities.Proof, finding *entities.Finding, protocol *entities.Protocol, validated bool) {
	if !protocol.OnChainID.Valid {
		logger.Warn(ctx, "protocol has no on-chain id, skipping validation anchor",
			zap.String("protocolId", protocol.ID.String()))
		return
	}
	proofHash, err := cryptoutil.ProofHash(finding.ID.String(), finding.VulnerabilityType, string(finding.Severity), validated)
	if err != nil {
		logger.Error(ctx, "proof hash failed", zap.Error(err))
		return
	}
	var findingID [32]byte
	copy(findingID[:], finding.ID[:])

	onChainID, txHash, err := p.chain.RecordValidation(ctx, blockchain.RecordValidationInput{
		ProtocolOnChainID: protocol.OnChainID.Int64,
		Outcome:           validated,
		Severity:          finding.Severity,
		FindingID:         findingID,
		ProofHash:         proofHash,
	})
	if err != nil {
		logger.Error(ctx, "on-chain validation record failed",
			zap.String("proofId", proof.ID.String()), zap.Error(err))
		p.logEvent(ctx, proof.ID, bus.LogLevelWarn, "on-chain validation record failed")
		return
	}
	if err := p.proofRepo.SetOnChainResult(ctx, proof.ID, onChainID, txHash); err != nil {
		logger.Error(ctx, "persist on-chain validation id failed", zap.Error(err))
	}
}

// recordReputation maps the verdict to a feedback type and records it both
// on-chain and in the reputation ledger. Skipped when either wallet has no
// registered agent.
func (p *ValidatorPipeline) recordReputation(ctx context.Context, finding *entities.Finding, validation *entities.Validation, validated bool) {
	researcher, err := p.agentRepo.GetByWallet(ctx, p.researcherWallet)
	if err != nil {
		logger.Warn(ctx, "researcher agent unresolved, skipping reputation", zap.Error(err))
		return
	}
	validator, err := p.agentRepo.GetByWallet(ctx, p.validatorWallet)
	if err != nil {
		logger.Warn(ctx, "validator agent unresolved, skipping reputation", zap.Error(err))
		return
	}

	feedbackType := entities.FeedbackForOutcome(finding.Severity, validated)
	fb := &entities.AgentFeedback{
		ID:                utils.GenerateUUIDv7(),
		ResearcherAgentID: researcher.ID,
		ValidatorAgentID:  validator.ID,
		FeedbackType:      feedbackType,
		CreatedAt:         time.Now(),
	}
	findingID := finding.ID
	validationID := validation.ID
	fb.FindingID = &findingID
	fb.ValidationID = &validationID

	if onChainID, err := p.chain.RecordFeedback(ctx, researcher.WalletAddress, feedbackType); err != nil {
		logger.Warn(ctx, "on-chain feedback failed", zap.Error(err))
	} else {
		fb.OnChainFeedbackID = null.Int64From(onChainID)
	}
	if err := p.agentRepo.CreateFeedback(ctx, fb); err != nil {
		logger.Error(ctx, "persist feedback failed", zap.Error(err))
		return
	}
	p.bumpReputation(ctx, researcher.ID, validated)
}

func (p *ValidatorPipeline) bumpReputation(ctx context.Context, agentID uuid.UUID, validated bool) {
	rep, err := p.agentRepo.GetReputation(ctx, agentID)
	if err != nil {
		rep = &entities.AgentReputation{AgentIdentityID: agentID}
	}
	if validated {
		rep.ConfirmedCount++
	} else {
		rep.RejectedCount++
	}
	rep.TotalSubmissions = rep.ConfirmedCount + rep.RejectedCount + rep.InconclusiveCount
	if rep.TotalSubmissions > 0 {
		rep.Score = rep.ConfirmedCount * 100 / rep.TotalSubmissions
	}
	if err := p.agentRepo.UpsertReputation(ctx, rep); err != nil {
		logger.Error(ctx, "persist reputation failed", zap.Error(err))
		return
	}
	_ = redis.InvalidateByPattern(ctx, "cache:reputation:"+agentID.String())
}

// enqueuePayment creates the payment row for a confirmed finding and hands
// it to the payment queue. The amount is the contract's answer for the
// severity at this moment; the payment pipeline re-derives it at settlement.
func (p *ValidatorPipeline) enqueuePayment(ctx context.Context, finding *entities.Finding, validation *entities.Validation, protocol *entities.Protocol) error {
	amount := "0"
	if protocol.OnChainID.Valid {
		if v, err := p.chain.CalculateBountyAmount(ctx, protocol.OnChainID.Int64, finding.Severity); err == nil {
			amount = v.String()
		} else {
			logger.Warn(ctx, "bounty amount preview failed", zap.Error(err))
		}
	}

	// duplicate guard: one payment per finding, ever
	if existing, err := p.paymentRepo.GetByFindingID(ctx, finding.ID); err == nil && existing != nil {
		return nil
	} else if err != nil && !errors.Is(err, domainerrors.ErrNotFound) {
		return err
	}

	payment := &entities.Payment{
		ID:                utils.GenerateUUIDv7(),
		VulnerabilityID:   finding.ID,
		ProtocolID:        protocol.ID,
		ValidationID:      validation.ID,
		ResearcherAddress: p.researcherWallet,
		Amount:            amount,
		Currency:          p.currency,
		Severity:          finding.Severity,
		Status:            entities.PaymentStatusPending,
		QueuedAt:          time.Now(),
		UpdatedAt:         time.Now(),
	}
	if err := p.paymentRepo.Create(ctx, payment); err != nil {
		return err
	}

	_, err := p.queue.Enqueue(ctx, queue.QueuePaymentProcessing,
		queue.PaymentJobID(finding.ID),
		queue.PaymentJobPayload{FindingID: finding.ID},
		queue.EnqueueOptions{})
	return err
}

func (p *ValidatorPipeline) progress(ctx context.Context, proofID uuid.UUID, step string) {
	p.publish(ctx, proofID, "validation:progress", map[string]interface{}{"currentStep": step})
}

func (p *ValidatorPipeline) publish(ctx context.Context, id uuid.UUID, eventType string, data map[string]interface{}) {
	if err := p.bus.Publish(ctx, bus.ValidationProgressTopic(id.String()), bus.Envelope{
		EventType:    eventType,
		ValidationID: id.String(),
		Data:         mustJSON(data),
	}); err != nil {
		logger.Warn(ctx, "bus publish failed", zap.Error(err))
	}
}

func (p *ValidatorPipeline) logEvent(ctx context.Context, proofID uuid.UUID, level, message string) {
	if err := p.bus.Publish(ctx, bus.ValidationLogsTopic(proofID.String()), bus.Envelope{
		EventType:    "validation:log",
		ValidationID: proofID.String(),
		Data: mustJSON(map[string]interface{}{
			"level":   level,
			"message": message,
		}),
	}); err != nil {
		logger.Warn(ctx, "bus publish failed", zap.Error(err))
	}
}

