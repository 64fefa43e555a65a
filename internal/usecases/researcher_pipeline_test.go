package usecases

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-chain.backend/internal/domain/entities"
	"bounty-chain.backend/internal/infrastructure/bus"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/internal/infrastructure/toolchain"
)

func newResearcherPipeline(env *testEnv, ai AIAnalyzer) *ResearcherPipeline {
	return NewResearcherPipeline(env.scans, env.protocols, env.findings, env.proofs, passUOW{},
		env.tools, env.sandboxes, ai, plainCipher{}, "key-1", env.queue, env.bus)
}

func TestResearcherPipeline_HappyPath(t *testing.T) {
	env := newTestEnv()
	protocol := env.seedProtocol(entities.ProtocolStatusActive, true)
	scan := env.seedScan(protocol.ID, entities.ScanStateQueued)
	pipeline := newResearcherPipeline(env, nil)

	job := makeJob(queue.QueueScanJobs, queue.ScanJobID(protocol.ID, "main"),
		queue.ScanJobPayload{ScanID: scan.ID, ProtocolID: protocol.ID})
	require.NoError(t, pipeline.Handle(context.Background(), job))

	stored := env.scans.rows[scan.ID]
	assert.Equal(t, entities.ScanStateSucceeded, stored.State)
	assert.Equal(t, entities.ToolStatusOK, stored.ToolStatus)

	require.Len(t, env.findings.rows, 1)
	require.Len(t, env.proofs.rows, 1)
	for _, proof := range env.proofs.rows {
		assert.Equal(t, entities.ProofStatusSubmitted, proof.Status)
		assert.Equal(t, "key-1", proof.EncryptionKeyID)

		// plainCipher passes the payload through, so the stored body is the
		// exploit JSON itself
		var payload entities.ExploitPayload
		require.NoError(t, json.Unmarshal([]byte(proof.EncryptedPayload), &payload))
		assert.Equal(t, "REENTRANCY_ETH", payload.VulnerabilityType)
		require.Len(t, payload.Steps, 1)
		assert.Equal(t, "probe withdraw", payload.Steps[0].Description)
	}

	assert.Len(t, env.queue.byQueue(queue.QueueValidation), 1)
	assert.Equal(t, 1, env.sandboxes.lastSpawn.killed)
	assert.NotEmpty(t, env.tools.cleaned)

	// progress and logs stream on this scan's own topics
	types := env.bus.eventTypes(bus.ScanProgressTopic(scan.ID.String()))
	assert.Contains(t, types, "scan:progress")
	assert.Contains(t, env.bus.eventTypes(bus.ScanLogsTopic(scan.ID.String())), "scan:log")
}

func TestResearcherPipeline_CanceledScanIsNoop(t *testing.T) {
	env := newTestEnv()
	protocol := env.seedProtocol(entities.ProtocolStatusActive, true)
	scan := env.seedScan(protocol.ID, entities.ScanStateCanceled)
	pipeline := newResearcherPipeline(env, nil)

	job := makeJob(queue.QueueScanJobs, queue.ScanJobID(protocol.ID, "main"),
		queue.ScanJobPayload{ScanID: scan.ID, ProtocolID: protocol.ID})
	require.NoError(t, pipeline.Handle(context.Background(), job))

	assert.Equal(t, entities.ScanStateCanceled, env.scans.rows[scan.ID].State)
	assert.Empty(t, env.findings.rows)
	assert.Empty(t, env.queue.jobs)
}

func TestResearcherPipeline_CancellationAtStepBoundary(t *testing.T) {
	env := newTestEnv()
	protocol := env.seedProtocol(entities.ProtocolStatusActive, true)
	scan := env.seedScan(protocol.ID, entities.ScanStateRunning)
	// cancel lands while the clone is in flight
	env.tools.cloneFn = func(context.Context, string, string, string) (string, error) {
		env.scans.rows[scan.ID].State = entities.ScanStateCanceled
		return "/tmp/checkout/x", nil
	}
	pipeline := newResearcherPipeline(env, nil)

	job := makeJob(queue.QueueScanJobs, queue.ScanJobID(protocol.ID, "main"),
		queue.ScanJobPayload{ScanID: scan.ID, ProtocolID: protocol.ID})
	require.NoError(t, pipeline.Handle(context.Background(), job))

	stored := env.scans.rows[scan.ID]
	assert.Equal(t, entities.ScanStateCanceled, stored.State)
	// cleanup still ran
	assert.Equal(t, entities.ScanStepCleanup, stored.CurrentStep)
	assert.Contains(t, env.tools.cleaned, "/tmp/checkout/x")
	assert.Empty(t, env.findings.rows)
}

func TestResearcherPipeline_AnalyzerUnavailableStillSucceeds(t *testing.T) {
	env := newTestEnv()
	protocol := env.seedProtocol(entities.ProtocolStatusActive, true)
	scan := env.seedScan(protocol.ID, entities.ScanStateQueued)
	env.tools.analyzerFn = func(context.Context, string, string) ([]toolchain.AnalyzerFinding, error) {
		return nil, toolchain.ErrToolUnavailable
	}
	pipeline := newResearcherPipeline(env, nil)

	job := makeJob(queue.QueueScanJobs, queue.ScanJobID(protocol.ID, "main"),
		queue.ScanJobPayload{ScanID: scan.ID, ProtocolID: protocol.ID})
	require.NoError(t, pipeline.Handle(context.Background(), job))

	stored := env.scans.rows[scan.ID]
	assert.Equal(t, entities.ScanStateSucceeded, stored.State)
	assert.Equal(t, entities.ToolStatusUnavailable, stored.ToolStatus)
	assert.Empty(t, env.findings.rows)
	assert.Empty(t, env.queue.byQueue(queue.QueueValidation))
}

type staticAI struct {
	findings []AIFinding
}

func (a staticAI) Analyze(context.Context, string, string) ([]AIFinding, error) {
	return a.findings, nil
}

func TestResearcherPipeline_ModelPassSkippedWhenSourceMissing(t *testing.T) {
	env := newTestEnv()
	protocol := env.seedProtocol(entities.ProtocolStatusActive, true)
	scan := env.seedScan(protocol.ID, entities.ScanStateQueued)
	ai := staticAI{findings: []AIFinding{
		{VulnerabilityType: "REENTRANCY_ETH", Severity: "CRITICAL", FilePath: "src/Vault.sol", Confidence: 0.8},
		{VulnerabilityType: "INTEGER_OVERFLOW", Severity: "HIGH", FilePath: "src/Vault.sol", Confidence: 0.6, LineNumber: 12},
	}}
	pipeline := newResearcherPipeline(env, ai)

	// the model pass reads the contract source from the checkout; a missing
	// file downgrades to static-only, so the hybrid merge is driven through
	// analyze directly
	findings, err := pipeline.analyze(context.Background(), env.scans.rows[scan.ID], t.TempDir(), env.protocols.rows[protocol.ID])
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, entities.AnalysisMethodStatic, findings[0].AnalysisMethod)
}

func TestResearcherPipeline_HybridMerge(t *testing.T) {
	env := newTestEnv()
	protocol := env.seedProtocol(entities.ProtocolStatusActive, true)
	scan := env.seedScan(protocol.ID, entities.ScanStateQueued)

	dir := t.TempDir()
	writeContractSource(t, dir, protocol.ContractPath)
	ai := staticAI{findings: []AIFinding{
		{VulnerabilityType: "reentrancy_eth", Severity: "CRITICAL", FilePath: "src/Vault.sol", Confidence: 0.8},
		{VulnerabilityType: "INTEGER_OVERFLOW", Severity: "HIGH", FilePath: "src/Vault.sol", Confidence: 0.6, LineNumber: 12},
	}}
	pipeline := newResearcherPipeline(env, ai)

	findings, err := pipeline.analyze(context.Background(), env.scans.rows[scan.ID], dir, env.protocols.rows[protocol.ID])
	require.NoError(t, err)
	require.Len(t, findings, 2)

	byType := map[string]*entities.Finding{}
	for _, f := range findings {
		byType[f.VulnerabilityType] = f
	}
	merged := byType["REENTRANCY_ETH"]
	require.NotNil(t, merged)
	assert.Equal(t, entities.AnalysisMethodHybrid, merged.AnalysisMethod)
	assert.InDelta(t, 0.8, merged.AIConfidence.Float64, 1e-9)

	fresh := byType["INTEGER_OVERFLOW"]
	require.NotNil(t, fresh)
	assert.Equal(t, entities.AnalysisMethodAI, fresh.AnalysisMethod)
	assert.Equal(t, 12, fresh.LineNumber.Int)
}

func writeContractSource(t *testing.T, dir, contractPath string) {
	t.Helper()
	full := filepath.Join(dir, contractPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("contract Vault {}"), 0o644))
}
