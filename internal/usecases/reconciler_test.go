package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"bounty-chain.backend/internal/domain/entities"
	"bounty-chain.backend/pkg/utils"
)

const testPoolContract = "0x00000000000000000000000000000000000000cc"

func newReconciler(env *testEnv) *Reconciler {
	return NewReconciler(env.chain, env.payments, env.recons, env.state, testPoolContract, 6, time.Second)
}

func releasedEvent(validationID int64, amount, txHash string, block uint64) entities.BountyReleasedEvent {
	return entities.BountyReleasedEvent{
		BountyID:          7,
		ValidationID:      validationID,
		ResearcherAddress: testResearcherWallet,
		Amount:            amount,
		TxHash:            txHash,
		LogIndex:          3,
		BlockNumber:       block,
		BlockTime:         time.Now().Add(-time.Minute),
	}
}

func seedCompletedPayment(t *testing.T, env *testEnv, onChainID int64, amount, txHash string) *entities.Payment {
	t.Helper()
	payment := &entities.Payment{
		ID:                utils.GenerateUUIDv7(),
		VulnerabilityID:   utils.GenerateUUIDv7(),
		ProtocolID:        utils.GenerateUUIDv7(),
		ResearcherAddress: testResearcherWallet,
		Amount:            amount,
		Currency:          "USDC",
		Severity:          entities.SeverityCritical,
		Status:            entities.PaymentStatusCompleted,
		OnChainBountyID:   null.Int64From(onChainID),
		QueuedAt:          time.Now(),
	}
	if txHash != "" {
		payment.TxHash = null.StringFrom(txHash)
	}
	require.NoError(t, env.payments.Create(context.Background(), payment))
	return payment
}

func TestReconciler_FirstRunStartsAtHead(t *testing.T) {
	env := newTestEnv()
	env.chain.filterFn = func(context.Context, uint64, uint64) ([]entities.BountyReleasedEvent, error) {
		t.Fatal("first run must not replay history")
		return nil, nil
	}
	r := newReconciler(env)

	require.NoError(t, r.Poll(context.Background()))
	st := env.state.rows[testPoolContract+"/BountyReleased"]
	require.NotNil(t, st)
	assert.Equal(t, uint64(100), st.LastProcessedBlock)
}

func TestReconciler_MatchedEventMarksReconciled(t *testing.T) {
	env := newTestEnv()
	payment := seedCompletedPayment(t, env, 99, "5000000", "0xrelease")
	env.state.rows[testPoolContract+"/BountyReleased"] = &entities.EventListenerState{
		ContractAddress: testPoolContract, EventName: "BountyReleased", LastProcessedBlock: 50,
	}
	env.chain.filterFn = func(_ context.Context, from, to uint64) ([]entities.BountyReleasedEvent, error) {
		assert.Equal(t, uint64(51), from)
		assert.Equal(t, uint64(100), to)
		return []entities.BountyReleasedEvent{releasedEvent(99, "5000000", "0xrelease", 60)}, nil
	}
	r := newReconciler(env)

	require.NoError(t, r.Poll(context.Background()))

	stored := env.payments.rows[payment.ID]
	assert.True(t, stored.Reconciled)
	assert.True(t, stored.ReconciledAt.Valid)
	assert.Empty(t, env.recons.rows)
	assert.Equal(t, uint64(100), env.state.rows[testPoolContract+"/BountyReleased"].LastProcessedBlock)
}

func TestReconciler_OrphanEvent(t *testing.T) {
	env := newTestEnv()
	env.state.rows[testPoolContract+"/BountyReleased"] = &entities.EventListenerState{
		ContractAddress: testPoolContract, EventName: "BountyReleased", LastProcessedBlock: 50,
	}
	env.chain.filterFn = func(context.Context, uint64, uint64) ([]entities.BountyReleasedEvent, error) {
		return []entities.BountyReleasedEvent{releasedEvent(555, "5000000", "0xorphan", 60)}, nil
	}
	r := newReconciler(env)

	require.NoError(t, r.Poll(context.Background()))
	require.Len(t, env.recons.rows, 1)
	for _, rec := range env.recons.rows {
		assert.Equal(t, entities.ReconciliationStatusOrphaned, rec.Status)
		assert.Nil(t, rec.PaymentID)
		assert.Equal(t, "0xorphan", rec.TxHash)
	}

	// replaying the same window is idempotent by (txHash, logIndex)
	env.state.rows[testPoolContract+"/BountyReleased"].LastProcessedBlock = 50
	require.NoError(t, r.Poll(context.Background()))
	assert.Len(t, env.recons.rows, 1)
}

func TestReconciler_AmountMismatch(t *testing.T) {
	env := newTestEnv()
	payment := seedCompletedPayment(t, env, 99, "5000000", "0xrelease")
	env.state.rows[testPoolContract+"/BountyReleased"] = &entities.EventListenerState{
		ContractAddress: testPoolContract, EventName: "BountyReleased", LastProcessedBlock: 50,
	}
	// 0.10 USDC over the stored amount; tolerance is 0.01
	env.chain.filterFn = func(context.Context, uint64, uint64) ([]entities.BountyReleasedEvent, error) {
		return []entities.BountyReleasedEvent{releasedEvent(99, "5100000", "0xrelease", 60)}, nil
	}
	r := newReconciler(env)

	require.NoError(t, r.Poll(context.Background()))
	require.Len(t, env.recons.rows, 1)
	for _, rec := range env.recons.rows {
		assert.Equal(t, entities.ReconciliationStatusAmountMismatch, rec.Status)
		require.NotNil(t, rec.PaymentID)
		assert.Equal(t, payment.ID, *rec.PaymentID)
	}
	// the payment is still stamped reconciled; the record carries the dispute
	assert.True(t, env.payments.rows[payment.ID].Reconciled)
}

func TestReconciler_WithinToleranceIsClean(t *testing.T) {
	env := newTestEnv()
	seedCompletedPayment(t, env, 99, "5000000", "0xrelease")
	env.state.rows[testPoolContract+"/BountyReleased"] = &entities.EventListenerState{
		ContractAddress: testPoolContract, EventName: "BountyReleased", LastProcessedBlock: 50,
	}
	// 0.005 USDC off: inside the 0.01 tolerance
	env.chain.filterFn = func(context.Context, uint64, uint64) ([]entities.BountyReleasedEvent, error) {
		return []entities.BountyReleasedEvent{releasedEvent(99, "5005000", "0xrelease", 60)}, nil
	}
	r := newReconciler(env)

	require.NoError(t, r.Poll(context.Background()))
	assert.Empty(t, env.recons.rows)
}

func TestReconciler_DiscrepancySkipsTxHashBackfill(t *testing.T) {
	env := newTestEnv()
	// completed without a stored hash, and the event amount disputes the row
	payment := seedCompletedPayment(t, env, 99, "5000000", "")
	env.state.rows[testPoolContract+"/BountyReleased"] = &entities.EventListenerState{
		ContractAddress: testPoolContract, EventName: "BountyReleased", LastProcessedBlock: 50,
	}
	env.chain.filterFn = func(context.Context, uint64, uint64) ([]entities.BountyReleasedEvent, error) {
		return []entities.BountyReleasedEvent{releasedEvent(99, "9900000", "0xdisputed", 60)}, nil
	}
	r := newReconciler(env)

	require.NoError(t, r.Poll(context.Background()))
	require.Len(t, env.recons.rows, 1)

	// the disputed event's hash never lands on the payment row
	stored := env.payments.rows[payment.ID]
	assert.True(t, stored.Reconciled)
	assert.False(t, stored.TxHash.Valid)
}

func TestReconciler_TxHashDiscrepancyKeepsStoredHash(t *testing.T) {
	env := newTestEnv()
	payment := seedCompletedPayment(t, env, 99, "5000000", "0xstored")
	env.state.rows[testPoolContract+"/BountyReleased"] = &entities.EventListenerState{
		ContractAddress: testPoolContract, EventName: "BountyReleased", LastProcessedBlock: 50,
	}
	env.chain.filterFn = func(context.Context, uint64, uint64) ([]entities.BountyReleasedEvent, error) {
		return []entities.BountyReleasedEvent{releasedEvent(99, "5000000", "0xobserved", 60)}, nil
	}
	r := newReconciler(env)

	require.NoError(t, r.Poll(context.Background()))
	require.Len(t, env.recons.rows, 1)
	for _, rec := range env.recons.rows {
		assert.Equal(t, entities.ReconciliationStatusDiscrepancy, rec.Status)
	}
	assert.Equal(t, "0xstored", env.payments.rows[payment.ID].TxHash.String)
}
