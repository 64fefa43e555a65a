package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-chain.backend/internal/domain/entities"
	"bounty-chain.backend/pkg/utils"
)

func newReconciliationUsecase(env *testEnv) *ReconciliationUsecase {
	return NewReconciliationUsecase(env.recons, env.payments)
}

func addReconciliation(env *testEnv, status entities.ReconciliationStatus, paymentID *uuid.UUID) *entities.PaymentReconciliation {
	rec := &entities.PaymentReconciliation{
		ID:              utils.GenerateUUIDv7(),
		OnChainBountyID: 7,
		TxHash:          "0xrec",
		LogIndex:        1,
		Amount:          "5000000",
		Status:          status,
		PaymentID:       paymentID,
		DiscoveredAt:    time.Now().Add(-time.Hour),
	}
	env.recons.rows[rec.ID] = rec
	return rec
}

func TestReconciliationUsecase_ResolveStampsPayment(t *testing.T) {
	env := newTestEnv()
	payment := addCompletedPayment(env, testResearcherWallet, "5000000")
	rec := addReconciliation(env, entities.ReconciliationStatusAmountMismatch, &payment.ID)
	u := newReconciliationUsecase(env)

	require.NoError(t, u.Resolve(context.Background(), rec.ID, "paid out manually"))

	stored := env.recons.rows[rec.ID]
	assert.Equal(t, entities.ReconciliationStatusResolved, stored.Status)
	assert.Contains(t, stored.Notes, "paid out manually")
	assert.True(t, env.payments.rows[payment.ID].Reconciled)
}

func TestReconciliationUsecase_ResolveOrphanLeavesPaymentsAlone(t *testing.T) {
	env := newTestEnv()
	rec := addReconciliation(env, entities.ReconciliationStatusOrphaned, nil)
	u := newReconciliationUsecase(env)

	require.NoError(t, u.Resolve(context.Background(), rec.ID, "event from a retired deployment"))
	assert.Equal(t, entities.ReconciliationStatusResolved, env.recons.rows[rec.ID].Status)
}

func TestReconciliationUsecase_ReportFiltersBySince(t *testing.T) {
	env := newTestEnv()
	old := addReconciliation(env, entities.ReconciliationStatusOrphaned, nil)
	old.DiscoveredAt = time.Now().Add(-48 * time.Hour)
	recent := addReconciliation(env, entities.ReconciliationStatusDiscrepancy, nil)
	u := newReconciliationUsecase(env)

	since := time.Now().Add(-24 * time.Hour)
	recs, err := u.Report(context.Background(), &since)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, recent.ID, recs[0].ID)

	all, err := u.Report(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReconciliationUsecase_ListDiscrepancies(t *testing.T) {
	env := newTestEnv()
	addReconciliation(env, entities.ReconciliationStatusOrphaned, nil)
	mismatch := addReconciliation(env, entities.ReconciliationStatusAmountMismatch, nil)
	u := newReconciliationUsecase(env)

	recs, err := u.ListDiscrepancies(context.Background(), entities.ReconciliationStatusAmountMismatch)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, mismatch.ID, recs[0].ID)
}
