package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
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

// ResearcherPipeline executes one scan: clone, compile, deploy to a scratch
// sandbox, analyze, craft proofs and hand them to validation.
type ResearcherPipeline struct {
	scanRepo     repositories.ScanRepository
	protocolRepo repositories.ProtocolRepository
	findingRepo  repositories.FindingRepository
	proofRepo    repositories.ProofRepository
	uow          repositories.UnitOfWork
	tools        SourceToolchain
	sandboxes    SandboxManager
	ai           AIAnalyzer // nil disables the model pass
	cipher       ProofCipher
	proofKeyID   string
	queue        JobEnqueuer
	bus          EventPublisher
}

func NewResearcherPipeline(
	scanRepo repositories.ScanRepository,
	protocolRepo repositories.ProtocolRepository,
	findingRepo repositories.FindingRepository,
	proofRepo repositories.ProofRepository,
	uow repositories.UnitOfWork,
	tools SourceToolchain,
	sandboxes SandboxManager,
	ai AIAnalyzer,
	cipher ProofCipher,
	proofKeyID string,
	q JobEnqueuer,
	b EventPublisher,
) *ResearcherPipeline {
	return &ResearcherPipeline{
		scanRepo:     scanRepo,
		protocolRepo: protocolRepo,
		findingRepo:  findingRepo,
		proofRepo:    proofRepo,
		uow:          uow,
		tools:        tools,
		sandboxes:    sandboxes,
		ai:           ai,
		cipher:       cipher,
		proofKeyID:   proofKeyID,
		queue:        q,
		bus:          b,
	}
}

// Handle is the queue worker entrypoint for scan jobs.
func (p *ResearcherPipeline) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.ScanJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode scan job: %w", err)
	}

	scan, err := p.scanRepo.GetByID(ctx, payload.ScanID)
	if err != nil {
		return err
	}
	switch scan.State {
	case entities.ScanStateCanceled, entities.ScanStateSucceeded:
		return nil
	case entities.ScanStateQueued:
		if err := p.scanRepo.UpdateState(ctx, scan.ID, entities.ScanStateRunning); err != nil {
			return err
		}
	}

	protocol, err := p.protocolRepo.GetByID(ctx, scan.ProtocolID)
	if err != nil {
		return err
	}

	err = p.run(ctx, scan, protocol, payload.Commit)
	if errors.Is(err, domainerrors.ErrScanCanceled) {
		return nil // row already CANCELED by the cancel surface
	}
	if err != nil {
		_ = p.scanRepo.SetError(ctx, scan.ID, "SCAN_FAILED", err.Error())
		_ = p.scanRepo.IncrementRetry(ctx, scan.ID)
		if !domainerrors.IsTransient(err) || job.Attempt >= job.MaxAttempts {
			_ = p.scanRepo.UpdateState(ctx, scan.ID, entities.ScanStateFailed)
		}
		p.progress(ctx, scan.ID, entities.ScanStepCleanup, entities.ScanStateFailed, 100, err.Error())
		return err
	}
	return nil
}

func (p *ResearcherPipeline) run(ctx context.Context, scan *entities.Scan, protocol *entities.Protocol, commit string) error {
	jobID := "scan-" + scan.ID.String()

	var checkoutDir string
	var sb SandboxHandle
	defer func() {
		// CLEANUP runs on every exit path
		_ = p.scanRepo.SetStep(ctx, scan.ID, entities.ScanStepCleanup)
		if sb != nil {
			sb.Kill()
		}
		if checkoutDir != "" {
			p.tools.Cleanup(checkoutDir)
		}
	}()

	// CLONE
	if err := p.step(ctx, scan, entities.ScanStepClone, 10, "cloning repository"); err != nil {
		return err
	}
	ref := commit
	if ref == "" {
		ref = protocol.Branch
	}
	dir, err := p.tools.Clone(ctx, jobID, protocol.SourceURL, ref)
	if err != nil {
		return classifyToolErr(err)
	}
	checkoutDir = dir
	p.tools.InitSubmodules(ctx, dir)
	if err := p.scanRepo.SetTarget(ctx, scan.ID, protocol.Branch, ref); err != nil {
		return err
	}
	p.logEvent(ctx, scan.ID, bus.LogLevelInfo, "checked out "+ref)

	// COMPILE
	if err := p.step(ctx, scan, entities.ScanStepCompile, 25, "compiling contracts"); err != nil {
		return err
	}
	artifact, err := p.tools.Compile(ctx, dir, protocol.ContractPath, protocol.ContractName)
	if err != nil {
		return classifyToolErr(err)
	}
	p.logEvent(ctx, scan.ID, bus.LogLevelInfo, "compiled "+protocol.ContractName)

	// DEPLOY
	if err := p.step(ctx, scan, entities.ScanStepDeploy, 40, "deploying to sandbox"); err != nil {
		return err
	}
	handle, err := p.sandboxes.Spawn(ctx)
	if err != nil {
		return err
	}
	sb = handle
	if _, _, err := sb.Deploy(ctx, artifact.Bytecode); err != nil {
		return fmt.Errorf("sandbox deploy: %w", err)
	}

	// ANALYZE
	if err := p.step(ctx, scan, entities.ScanStepAnalyze, 60, "running analyzers"); err != nil {
		return err
	}
	findings, err := p.analyze(ctx, scan, dir, protocol)
	if err != nil {
		return err
	}
	if len(findings) == 0 {
		logger.Info(ctx, "scan found nothing", zap.String("scanId", scan.ID.String()))
		p.logEvent(ctx, scan.ID, bus.LogLevelDefault, "no findings")
		return p.finish(ctx, scan)
	}
	p.logEvent(ctx, scan.ID, bus.LogLevelAlert,
		fmt.Sprintf("%d potential vulnerabilities identified", len(findings)))

	// GENERATE_PROOFS
	if err := p.step(ctx, scan, entities.ScanStepProofs, 75, "crafting proofs"); err != nil {
		return err
	}
	proofs := make(map[uuid.UUID]*entities.ExploitPayload, len(findings))
	for _, f := range findings {
		proofs[f.ID] = synthesizeExploit(artifact, f, ref)
	}

	// PERSIST_FINDINGS_AND_PROOFS
	if err := p.step(ctx, scan, entities.ScanStepPersist, 85, "persisting findings"); err != nil {
		return err
	}
	proofRows := make([]*entities.Proof, 0, len(findings))
	err = p.uow.Do(ctx, func(txCtx context.Context) error {
		for _, f := range findings {
			if err := p.findingRepo.Create(txCtx, f); err != nil {
				return err
			}
			payload := proofs[f.ID]
			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			encrypted, err := p.cipher.Encrypt(p.proofKeyID, body)
			if err != nil {
				return fmt.Errorf("encrypt proof: %w", err)
			}
			proof := &entities.Proof{
				ID:               utils.GenerateUUIDv7(),
				FindingID:        f.ID,
				ScanID:           scan.ID,
				EncryptedPayload: encrypted,
				EncryptionKeyID:  p.proofKeyID,
				Status:           entities.ProofStatusSubmitted,
				SubmittedAt:      time.Now(),
			}
			if err := p.proofRepo.Create(txCtx, proof); err != nil {
				return err
			}
			proofRows = append(proofRows, proof)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// SUBMIT_TO_VALIDATION
	if err := p.step(ctx, scan, entities.ScanStepSubmit, 95, "submitting to validation"); err != nil {
		return err
	}
	for _, proof := range proofRows {
		if _, err := p.queue.Enqueue(ctx, queue.QueueValidation,
			queue.ValidationJobID(proof.ID),
			queue.ValidationJobPayload{ProofID: proof.ID, ScanID: scan.ID},
			queue.EnqueueOptions{}); err != nil {
			return fmt.Errorf("enqueue validation: %w", err)
		}
	}

	logger.Info(ctx, "scan complete",
		zap.String("scanId", scan.ID.String()), zap.Int("findings", len(findings)))
	return p.finish(ctx, scan)
}

func (p *ResearcherPipeline) finish(ctx context.Context, scan *entities.Scan) error {
	if err := p.scanRepo.UpdateState(ctx, scan.ID, entities.ScanStateSucceeded); err != nil {
		return err
	}
	p.progress(ctx, scan.ID, entities.ScanStepDone, entities.ScanStateSucceeded, 100, "scan complete")
	return nil
}

// analyze runs the static analyzer and the optional model pass, merging
// overlapping results into HYBRID findings.
func (p *ResearcherPipeline) analyze(ctx context.Context, scan *entities.Scan, dir string, protocol *entities.Protocol) ([]*entities.Finding, error) {
	var findings []*entities.Finding

	static, err := p.tools.RunStaticAnalyzer(ctx, dir, protocol.ContractPath)
	switch {
	case errors.Is(err, toolchain.ErrToolUnavailable):
		// the scan still succeeds on AI findings alone
		if err := p.scanRepo.SetToolStatus(ctx, scan.ID, entities.ToolStatusUnavailable); err != nil {
			return nil, err
		}
		p.logEvent(ctx, scan.ID, bus.LogLevelWarn, "static analyzer unavailable")
	case err != nil:
		if err := p.scanRepo.SetToolStatus(ctx, scan.ID, entities.ToolStatusError); err != nil {
			return nil, err
		}
		logger.Warn(ctx, "static analysis failed", zap.String("scanId", scan.ID.String()), zap.Error(err))
	default:
		if err := p.scanRepo.SetToolStatus(ctx, scan.ID, entities.ToolStatusOK); err != nil {
			return nil, err
		}
		p.logEvent(ctx, scan.ID, bus.LogLevelAnalysis,
			fmt.Sprintf("static analysis produced %d findings", len(static)))
		for _, sf := range static {
			findings = append(findings, &entities.Finding{
				ID:                utils.GenerateUUIDv7(),
				ScanID:            scan.ID,
				VulnerabilityType: sf.Type,
				Severity:          sf.Severity,
				FilePath:          sf.Location,
				Description:       sf.Description,
				Confidence:        sf.Confidence,
				AnalysisMethod:    entities.AnalysisMethodStatic,
				Status:            entities.FindingStatusPending,
				CreatedAt:         time.Now(),
				UpdatedAt:         time.Now(),
			})
		}
	}

	if p.ai == nil {
		return findings, nil
	}

	source, err := os.ReadFile(filepath.Join(dir, filepath.Clean(protocol.ContractPath)))
	if err != nil {
		logger.Warn(ctx, "contract source unreadable for model pass", zap.Error(err))
		return findings, nil
	}
	aiFindings, err := p.ai.Analyze(ctx, string(source), protocol.ContractName)
	if err != nil {
		// the model pass is additive; its failure never fails the scan
		logger.Warn(ctx, "model analysis failed", zap.String("scanId", scan.ID.String()), zap.Error(err))
		return findings, nil
	}
	p.logEvent(ctx, scan.ID, bus.LogLevelAnalysis,
		fmt.Sprintf("model pass produced %d findings", len(aiFindings)))

	for _, af := range aiFindings {
		if existing := matchFinding(findings, af.VulnerabilityType, af.FilePath); existing != nil {
			existing.AnalysisMethod = entities.AnalysisMethodHybrid
			existing.AIConfidence = null.Float64From(af.Confidence)
			continue
		}
		f := &entities.Finding{
			ID:                utils.GenerateUUIDv7(),
			ScanID:            scan.ID,
			VulnerabilityType: af.VulnerabilityType,
			Severity:          entities.Severity(strings.ToUpper(af.Severity)),
			FilePath:          af.FilePath,
			Description:       af.Description,
			Confidence:        af.Confidence,
			AnalysisMethod:    entities.AnalysisMethodAI,
			AIConfidence:      null.Float64From(af.Confidence),
			Status:            entities.FindingStatusPending,
			CreatedAt:         time.Now(),
			UpdatedAt:         time.Now(),
		}
		if af.LineNumber > 0 {
			f.LineNumber = null.IntFrom(af.LineNumber)
		}
		if af.Remediation != "" {
			f.RemediationSuggestion = null.StringFrom(af.Remediation)
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func matchFinding(findings []*entities.Finding, vulnType, filePath string) *entities.Finding {
	for _, f := range findings {
		if strings.EqualFold(f.VulnerabilityType, vulnType) && f.FilePath == filePath {
			return f
		}
	}
	return nil
}

// step checkpoints the scan row, re-checks for cancellation and publishes
// progress. The row write happens before the bus publish.
func (p *ResearcherPipeline) step(ctx context.Context, scan *entities.Scan, name string, percent int, message string) error {
	current, err := p.scanRepo.GetByID(ctx, scan.ID)
	if err != nil {
		return err
	}
	if current.State == entities.ScanStateCanceled {
		return domainerrors.ErrScanCanceled
	}
	if err := p.scanRepo.SetStep(ctx, scan.ID, name); err != nil {
		return err
	}
	p.progress(ctx, scan.ID, name, entities.ScanStateRunning, percent, message)
	return nil
}

func (p *ResearcherPipeline) progress(ctx context.Context, scanID uuid.UUID, step string, state entities.ScanState, percent int, message string) {
	if err := p.bus.Publish(ctx, bus.ScanProgressTopic(scanID.String()), bus.Envelope{
		EventType: "scan:progress",
		ScanID:    scanID.String(),
		Data: mustJSON(map[string]interface{}{
			"currentStep": step,
			"state":       state,
			"progress":    percent,
			"message":     message,
		}),
	}); err != nil {
		logger.Warn(ctx, "bus publish failed", zap.Error(err))
	}
}

func (p *ResearcherPipeline) logEvent(ctx context.Context, scanID uuid.UUID, level, message string) {
	if err := p.bus.Publish(ctx, bus.ScanLogsTopic(scanID.String()), bus.Envelope{
		EventType: "scan:log",
		ScanID:    scanID.String(),
		Data: mustJSON(map[string]interface{}{
			"level":   level,
			"message": message,
		}),
	}); err != nil {
		logger.Warn(ctx, "bus publish failed", zap.Error(err))
	}
}

// synthesizeExploit crafts the replayable call sequence for a finding from
// the compiled ABI: every zero-argument state-changing function is probed in
// declaration order. Findings whose surface has no such entry points produce
// a stepless payload, which validation rejects.
func synthesizeExploit(artifact *toolchain.CompileResult, finding *entities.Finding, commit string) *entities.ExploitPayload {
	payload := &entities.ExploitPayload{
		FindingID:         finding.ID,
		VulnerabilityType: finding.VulnerabilityType,
		Severity:          finding.Severity,
		TargetCommit:      commit,
	}

	var entries []struct {
		Type            string `json:"type"`
		Name            string `json:"name"`
		StateMutability string `json:"stateMutability"`
		Inputs          []struct {
			Type string `json:"type"`
		} `json:"inputs"`
	}
	if err := json.Unmarshal(artifact.ABI, &entries); err != nil {
		return payload
	}

	for _, e := range entries {
		if e.Type != "function" || len(e.Inputs) > 0 {
			continue
		}
		if e.StateMutability == "view" || e.StateMutability == "pure" {
			continue
		}
		selector := crypto.Keccak256([]byte(e.Name + "()"))[:4]
		payload.Steps = append(payload.Steps, entities.ExploitStep{
			Description: "probe " + e.Name,
			CallData:    fmt.Sprintf("0x%x", selector),
		})
		if len(payload.Steps) == 3 {
			break
		}
	}
	return payload
}
