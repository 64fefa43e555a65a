package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"bounty-chain.backend/internal/domain/entities"
	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/internal/infrastructure/queue"
	"bounty-chain.backend/pkg/redis"
	"bounty-chain.backend/pkg/utils"
)

func newPaymentUsecase(env *testEnv) *PaymentUsecase {
	return NewPaymentUsecase(env.payments, env.valids, env.protocols, env.queue)
}

func withMiniredis(t *testing.T) {
	t.Helper()
	mr := miniredis.RunT(t)
	redis.SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { redis.SetClient(nil) })
}

func addCompletedPayment(env *testEnv, wallet, amount string) *entities.Payment {
	p := &entities.Payment{
		ID:                utils.GenerateUUIDv7(),
		VulnerabilityID:   utils.GenerateUUIDv7(),
		ProtocolID:        utils.GenerateUUIDv7(),
		ResearcherAddress: wallet,
		Amount:            amount,
		Currency:          "USDC",
		Severity:          entities.SeverityHigh,
		Status:            entities.PaymentStatusCompleted,
		PaidAt:            null.TimeFrom(time.Now()),
		QueuedAt:          time.Now(),
	}
	env.payments.rows[p.ID] = p
	return p
}

func TestPaymentUsecase_LeaderboardServedFromCache(t *testing.T) {
	env := newTestEnv()
	withMiniredis(t)
	addCompletedPayment(env, testResearcherWallet, "5000000")
	u := newPaymentUsecase(env)

	from, to := time.Now().Add(-24*time.Hour), time.Now()
	first, err := u.Leaderboard(context.Background(), from, to, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "5000000", first[0].Total)

	// second read hits the cache, not the repository
	second, err := u.Leaderboard(context.Background(), from, to, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, env.payments.leaderboardCalls)
}

func TestPaymentUsecase_EarningsCacheMissWithoutRedis(t *testing.T) {
	env := newTestEnv()
	addCompletedPayment(env, testResearcherWallet, "3000000")
	u := newPaymentUsecase(env)

	from, to := time.Now().Add(-24*time.Hour), time.Now()
	for i := 0; i < 2; i++ {
		buckets, err := u.Earnings(context.Background(), testResearcherWallet, from, to)
		require.NoError(t, err)
		require.Len(t, buckets, 1)
		assert.Equal(t, "3000000", buckets[0].Total)
	}
	// no cache available: every read goes to the repository
	assert.Equal(t, 2, env.payments.earningsCalls)
}

func TestPaymentUsecase_PoolStatus(t *testing.T) {
	env := newTestEnv()
	protocol := env.seedProtocol(entities.ProtocolStatusActive, true)
	protocol.TotalBountyPool = "10000000"
	protocol.AvailableBounty = "7000000"
	protocol.PaidBounty = "3000000"
	u := newPaymentUsecase(env)

	status, err := u.PoolStatus(context.Background(), protocol.ID)
	require.NoError(t, err)
	assert.Equal(t, "10000000", status.TotalBountyPool)
	assert.Equal(t, "7000000", status.AvailableBounty)
	assert.Equal(t, "3000000", status.PaidBounty)
}

func TestPaymentUsecase_ProposeRequiresConfirmedProof(t *testing.T) {
	env := newTestEnv()
	finding, proof := seedProofChain(t, env, entities.SeverityHigh)
	u := newPaymentUsecase(env)

	_, err := u.Propose(context.Background(), finding.ID, testResearcherWallet, "USDC", false)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	proof.Status = entities.ProofStatusConfirmed
	payment, err := u.Propose(context.Background(), finding.ID, testResearcherWallet, "USDC", false)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusPending, payment.Status)
	assert.Equal(t, finding.ID, payment.VulnerabilityID)

	jobs := env.queue.byQueue(queue.QueuePaymentProcessing)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.PaymentJobID(finding.ID), jobs[0].JobID)
}

func TestPaymentUsecase_ProposeOverrideSkipsProofCheck(t *testing.T) {
	env := newTestEnv()
	finding, _ := seedProofChain(t, env, entities.SeverityMedium)
	u := newPaymentUsecase(env)

	payment, err := u.Propose(context.Background(), finding.ID, testResearcherWallet, "USDC", true)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusPending, payment.Status)

	// a second proposal for the same finding is rejected, override or not
	_, err = u.Propose(context.Background(), finding.ID, testResearcherWallet, "USDC", true)
	assert.ErrorIs(t, err, domainerrors.ErrAlreadyExists)
}

func TestPaymentUsecase_ProposeRejectsBadAddress(t *testing.T) {
	env := newTestEnv()
	u := newPaymentUsecase(env)

	_, err := u.Propose(context.Background(), utils.GenerateUUIDv7(), "not-an-address", "USDC", false)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidAddress)
}

func TestPaymentUsecase_RetryFailedRequeues(t *testing.T) {
	env := newTestEnv()
	p := addCompletedPayment(env, testResearcherWallet, "5000000")
	p.Status = entities.PaymentStatusFailed
	p.FailureReason = null.StringFrom("RPC timeout")
	u := newPaymentUsecase(env)

	retried, err := u.RetryFailed(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, retried)
	assert.Equal(t, entities.PaymentStatusPending, env.payments.rows[p.ID].Status)

	jobs := env.queue.byQueue(queue.QueuePaymentProcessing)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.PaymentJobID(p.VulnerabilityID), jobs[0].JobID)
}
