package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"bounty-chain.backend/internal/domain/entities"
	domainRepos "bounty-chain.backend/internal/domain/repositories"
)

func newScan(protocolID uuid.UUID) *entities.Scan {
	now := time.Now()
	return &entities.Scan{
		ID:          uuid.New(),
		ProtocolID:  protocolID,
		State:       entities.ScanStateQueued,
		CurrentStep: "",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestScanRepository_StateStamps(t *testing.T) {
	db := newTestDB(t)
	createScanTable(t, db)
	repo := NewScanRepository(db)
	ctx := context.Background()

	s := newScan(uuid.New())
	require.NoError(t, repo.Create(ctx, s))

	require.NoError(t, repo.UpdateState(ctx, s.ID, entities.ScanStateRunning))
	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ScanStateRunning, got.State)
	assert.True(t, got.StartedAt.Valid)
	assert.False(t, got.CompletedAt.Valid)

	require.NoError(t, repo.UpdateState(ctx, s.ID, entities.ScanStateSucceeded))
	got, err = repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.CompletedAt.Valid)
}

func TestScanRepository_StepAndTarget(t *testing.T) {
	db := newTestDB(t)
	createScanTable(t, db)
	repo := NewScanRepository(db)
	ctx := context.Background()

	s := newScan(uuid.New())
	require.NoError(t, repo.Create(ctx, s))

	require.NoError(t, repo.SetStep(ctx, s.ID, entities.ScanStepCompile))
	require.NoError(t, repo.SetTarget(ctx, s.ID, "main", "abc123def"))
	require.NoError(t, repo.SetToolStatus(ctx, s.ID, entities.ToolStatusUnavailable))
	require.NoError(t, repo.IncrementRetry(ctx, s.ID))
	require.NoError(t, repo.IncrementRetry(ctx, s.ID))
	require.NoError(t, repo.SetError(ctx, s.ID, "COMPILE_FAILED", "forge build exit 1"))

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ScanStepCompile, got.CurrentStep)
	assert.Equal(t, "abc123def", got.TargetCommit.String)
	assert.Equal(t, entities.ToolStatusUnavailable, got.ToolStatus)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "COMPILE_FAILED", got.ErrorCode.String)
}

func TestScanRepository_ListFilters(t *testing.T) {
	db := newTestDB(t)
	createScanTable(t, db)
	repo := NewScanRepository(db)
	ctx := context.Background()

	protoA := uuid.New()
	protoB := uuid.New()

	a := newScan(protoA)
	require.NoError(t, repo.Create(ctx, a))
	b := newScan(protoA)
	require.NoError(t, repo.Create(ctx, b))
	require.NoError(t, repo.UpdateState(ctx, b.ID, entities.ScanStateRunning))
	c := newScan(protoB)
	require.NoError(t, repo.Create(ctx, c))

	scans, total, err := repo.List(ctx, domainRepos.ScanFilters{ProtocolID: &protoA}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, scans, 2)

	running, total, err := repo.List(ctx, domainRepos.ScanFilters{State: entities.ScanStateRunning}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, running, 1)
	assert.Equal(t, b.ID, running[0].ID)
}

func TestScanRepository_ListByProtocolWithCounts(t *testing.T) {
	db := newTestDB(t)
	createScanTable(t, db)
	createFindingTable(t, db)
	scanRepo := NewScanRepository(db)
	findingRepo := NewFindingRepository(db)
	ctx := context.Background()

	protoID := uuid.New()
	s := newScan(protoID)
	require.NoError(t, scanRepo.Create(ctx, s))

	for i, status := range []entities.FindingStatus{
		entities.FindingStatusConfirmed,
		entities.FindingStatusRejected,
		entities.FindingStatusConfirmed,
	} {
		f := &entities.Finding{
			ID:                uuid.New(),
			ScanID:            s.ID,
			VulnerabilityType: "OVERFLOW",
			Severity:          entities.SeverityMedium,
			FilePath:          "src/Token.sol",
			LineNumber:        null.IntFrom(10 + i),
			Description:       "unchecked add",
			Confidence:        0.7,
			AnalysisMethod:    entities.AnalysisMethodStatic,
			Status:            status,
			CreatedAt:         time.Now(),
			UpdatedAt:         time.Now(),
		}
		require.NoError(t, findingRepo.Create(ctx, f))
	}

	withCounts, err := scanRepo.ListByProtocolWithCounts(ctx, protoID)
	require.NoError(t, err)
	require.Len(t, withCounts, 1)
	assert.Equal(t, 3, withCounts[0].FindingCount)
	assert.Equal(t, 2, withCounts[0].ConfirmedCount)
}
