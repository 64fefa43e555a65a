package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-chain.backend/internal/domain/entities"
	domainRepos "bounty-chain.backend/internal/domain/repositories"
)

func newPayment(addr, amount string) *entities.Payment {
	now := time.Now()
	return &entities.Payment{
		ID:                uuid.New(),
		VulnerabilityID:   uuid.New(),
		ProtocolID:        uuid.New(),
		ValidationID:      uuid.New(),
		ResearcherAddress: addr,
		Amount:            amount,
		Currency:          "USDC",
		Severity:          entities.SeverityHigh,
		Status:            entities.PaymentStatusPending,
		QueuedAt:          now,
		UpdatedAt:         now,
	}
}

func TestPaymentRepository_DuplicateFindingRejected(t *testing.T) {
	db := newTestDB(t)
	createPaymentTable(t, db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := newPayment("0xres", "100000")
	require.NoError(t, repo.Create(ctx, p))

	dup := newPayment("0xres", "100000")
	dup.VulnerabilityID = p.VulnerabilityID
	assert.Error(t, repo.Create(ctx, dup), "unique index on vulnerability_id")
}

func TestPaymentRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	createPaymentTable(t, db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := newPayment("0xres", "250000")
	require.NoError(t, repo.Create(ctx, p))

	require.NoError(t, repo.MarkProcessing(ctx, p.ID))
	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusProcessing, got.Status)
	assert.True(t, got.ProcessedAt.Valid)

	paidAt := time.Now()
	require.NoError(t, repo.MarkCompleted(ctx, p.ID, "0xtx1", 9, paidAt))
	got, err = repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusCompleted, got.Status)
	assert.Equal(t, "0xtx1", got.TxHash.String)
	assert.Equal(t, int64(9), got.OnChainBountyID.Int64)
	assert.False(t, got.Reconciled)

	byBounty, err := repo.GetByOnChainBountyID(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byBounty.ID)

	byFinding, err := repo.GetByFindingID(ctx, p.VulnerabilityID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byFinding.ID)
}

func TestPaymentRepository_MarkFailedAndRetry(t *testing.T) {
	db := newTestDB(t)
	createPaymentTable(t, db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := newPayment("0xres", "100")
	require.NoError(t, repo.Create(ctx, p))
	require.NoError(t, repo.IncrementRetry(ctx, p.ID))
	require.NoError(t, repo.MarkFailed(ctx, p.ID, "rpc timeout"))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusFailed, got.Status)
	assert.Equal(t, "rpc timeout", got.FailureReason.String)
	assert.Equal(t, 1, got.RetryCount)

	failed, err := repo.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, p.ID, failed[0].ID)
}

func TestPaymentRepository_MarkReconciledBackfills(t *testing.T) {
	db := newTestDB(t)
	createPaymentTable(t, db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := newPayment("0xres", "100")
	require.NoError(t, repo.Create(ctx, p))
	// completed without a tx hash (crash between send and persist)
	mustExec(t, db, `UPDATE payments SET status = 'COMPLETED' WHERE id = ?`, p.ID)

	observed := time.Now().Add(-time.Minute)
	require.NoError(t, repo.MarkReconciled(ctx, p.ID, "0xevent", observed))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Reconciled)
	assert.True(t, got.ReconciledAt.Valid)
	assert.Equal(t, "0xevent", got.TxHash.String, "missing tx hash backfilled from the event")
	assert.True(t, got.PaidAt.Valid)
}

func TestPaymentRepository_ListFilters(t *testing.T) {
	db := newTestDB(t)
	createPaymentTable(t, db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	a := newPayment("0xAAA", "100")
	require.NoError(t, repo.Create(ctx, a))
	b := newPayment("0xBBB", "200")
	require.NoError(t, repo.Create(ctx, b))
	require.NoError(t, repo.MarkCompleted(ctx, b.ID, "0xtx", 1, time.Now()))

	completed, total, err := repo.List(ctx, domainRepos.PaymentFilters{Status: entities.PaymentStatusCompleted}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, completed, 1)
	assert.Equal(t, b.ID, completed[0].ID)

	// address filter is case-insensitive
	byAddr, total, err := repo.List(ctx, domainRepos.PaymentFilters{ResearcherAddress: "0xaaa"}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byAddr, 1)
	assert.Equal(t, a.ID, byAddr[0].ID)
}

func TestPaymentRepository_AggregateEarningsByDay(t *testing.T) {
	db := newTestDB(t)
	createPaymentTable(t, db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 2, 15, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		amount string
		paidAt time.Time
	}{
		{"100", day1},
		{"250", day1.Add(3 * time.Hour)},
		{"40", day2},
	} {
		p := newPayment("0xres", tc.amount)
		require.NoError(t, repo.Create(ctx, p))
		require.NoError(t, repo.MarkCompleted(ctx, p.ID, "0xtx", 0, tc.paidAt))
	}

	// a different researcher's payment must not leak in
	other := newPayment("0xother", "999")
	require.NoError(t, repo.Create(ctx, other))
	require.NoError(t, repo.MarkCompleted(ctx, other.ID, "0xtx", 0, day1))

	buckets, err := repo.AggregateEarningsByDay(ctx, "0xRES",
		time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "350", buckets[0].Total)
	assert.Equal(t, 2, buckets[0].Count)
	assert.Equal(t, "40", buckets[1].Total)
}

func TestPaymentRepository_Leaderboard(t *testing.T) {
	db := newTestDB(t)
	createPaymentTable(t, db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	paidAt := time.Now().Add(-time.Hour)
	for _, tc := range []struct {
		addr   string
		amount string
	}{
		{"0xaaa", "100"},
		{"0xAAA", "50"}, // same researcher, different casing
		{"0xbbb", "500"},
		{"0xccc", "10"},
	} {
		p := newPayment(tc.addr, tc.amount)
		require.NoError(t, repo.Create(ctx, p))
		require.NoError(t, repo.MarkCompleted(ctx, p.ID, "0xtx", 0, paidAt))
	}

	entries, err := repo.Leaderboard(ctx, time.Now().Add(-24*time.Hour), time.Now(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "0xbbb", entries[0].ResearcherAddress)
	assert.Equal(t, "500", entries[0].Total)
	assert.Equal(t, "0xaaa", entries[1].ResearcherAddress)
	assert.Equal(t, "150", entries[1].Total)
	assert.Equal(t, 2, entries[1].Payments)
}

func TestPaymentRepository_ListUnreconciledCompletedBefore(t *testing.T) {
	db := newTestDB(t)
	createPaymentTable(t, db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	stale := newPayment("0xres", "100")
	require.NoError(t, repo.Create(ctx, stale))
	require.NoError(t, repo.MarkCompleted(ctx, stale.ID, "0xtx", 1, time.Now().Add(-2*time.Hour)))

	recent := newPayment("0xres", "200")
	require.NoError(t, repo.Create(ctx, recent))
	require.NoError(t, repo.MarkCompleted(ctx, recent.ID, "0xtx", 2, time.Now()))

	reconciled := newPayment("0xres", "300")
	require.NoError(t, repo.Create(ctx, reconciled))
	require.NoError(t, repo.MarkCompleted(ctx, reconciled.ID, "0xtx", 3, time.Now().Add(-3*time.Hour)))
	require.NoError(t, repo.MarkReconciled(ctx, reconciled.ID, "0xtx", time.Now().Add(-3*time.Hour)))

	out, err := repo.ListUnreconciledCompletedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, stale.ID, out[0].ID)
}
