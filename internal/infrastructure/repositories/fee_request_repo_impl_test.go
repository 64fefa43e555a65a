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
	domainerrors "bounty-chain.backend/internal/domain/errors"
)

func newFeeRequest(fingerprint string) *entities.FeeRequest {
	now := time.Now()
	req := &entities.FeeRequest{
		ID:               uuid.New(),
		RequestType:      entities.FeeTypeProtocolRegistration,
		RequesterAddress: "0xowner",
		Amount:           "1000000",
		Status:           entities.FeeStatusPending,
		ExpiresAt:        now.Add(15 * time.Minute),
		CreatedAt:        now,
	}
	if fingerprint != "" {
		req.Fingerprint = null.StringFrom(fingerprint)
	}
	return req
}

func TestFeeRequestRepository_CompleteOnlyPending(t *testing.T) {
	db := newTestDB(t)
	createFeeRequestTable(t, db)
	repo := NewFeeRequestRepository(db)
	ctx := context.Background()

	req := newFeeRequest("fp-1")
	require.NoError(t, repo.Create(ctx, req))
	require.NoError(t, repo.Complete(ctx, req.ID, "0xpaid"))

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.FeeStatusCompleted, got.Status)
	assert.Equal(t, "0xpaid", got.TxHash.String)
	assert.True(t, got.CompletedAt.Valid)

	// completing twice fails; the request already left PENDING
	err = repo.Complete(ctx, req.ID, "0xagain")
	assert.ErrorIs(t, err, domainerrors.ErrFeeExpired)
}

func TestFeeRequestRepository_FingerprintGuard(t *testing.T) {
	db := newTestDB(t)
	createFeeRequestTable(t, db)
	repo := NewFeeRequestRepository(db)
	ctx := context.Background()

	req := newFeeRequest("fp-dup")
	require.NoError(t, repo.Create(ctx, req))
	require.NoError(t, repo.Complete(ctx, req.ID, "0xpaid"))

	found, err := repo.FindCompletedByFingerprintSince(ctx, "fp-dup", time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, req.ID, found.ID)

	// outside the window nothing matches
	_, err = repo.FindCompletedByFingerprintSince(ctx, "fp-dup", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = repo.FindCompletedByFingerprintSince(ctx, "fp-other", time.Now().Add(-30*time.Minute))
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestFeeRequestRepository_ExpireSweep(t *testing.T) {
	db := newTestDB(t)
	createFeeRequestTable(t, db)
	repo := NewFeeRequestRepository(db)
	ctx := context.Background()

	expired := newFeeRequest("")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, expired))

	alive := newFeeRequest("")
	require.NoError(t, repo.Create(ctx, alive))

	pending, err := repo.GetExpiredPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, expired.ID, pending[0].ID)

	require.NoError(t, repo.ExpireRequests(ctx, []uuid.UUID{expired.ID}))

	got, err := repo.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.FeeStatusExpired, got.Status)

	// already-expired ids are skipped silently on a second sweep
	require.NoError(t, repo.ExpireRequests(ctx, []uuid.UUID{expired.ID}))
	require.NoError(t, repo.ExpireRequests(ctx, nil))
}
