package jobs

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"bounty-chain.backend/internal/domain/entities"
)

// feeRequestExpirer is the store surface the expiry job needs.
type feeRequestExpirer interface {
	GetExpiredPending(ctx context.Context, limit int) ([]*entities.FeeRequest, error)
	ExpireRequests(ctx context.Context, ids []uuid.UUID) error
}

// FeeRequestExpiryJob moves PENDING fee requests past their expiry to
// EXPIRED so stale x402 challenges cannot be completed.
type FeeRequestExpiryJob struct {
	repo     feeRequestExpirer
	interval time.Duration
	stop     chan struct{}
}

func NewFeeRequestExpiryJob(repo feeRequestExpirer) *FeeRequestExpiryJob {
	return &FeeRequestExpiryJob{
		repo:     repo,
		interval: 30 * time.Second,
		stop:     make(chan struct{}),
	}
}

func (j *FeeRequestExpiryJob) Start(ctx context.Context) {
	log.Println("🕐 Starting fee request expiry job...")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️ Fee request expiry job stopped (context cancelled)")
			return
		case <-j.stop:
			log.Println("⏹️ Fee request expiry job stopped")
			return
		case <-ticker.C:
			j.processExpiredRequests(ctx)
		}
	}
}

func (j *FeeRequestExpiryJob) Stop() {
	close(j.stop)
}

func (j *FeeRequestExpiryJob) processExpiredRequests(ctx context.Context) {
	expired, err := j.repo.GetExpiredPending(ctx, 100)
	if err != nil {
		log.Printf("❌ Error fetching expired fee requests: %v", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	var ids []uuid.UUID
	for _, req := range expired {
		ids = append(ids, req.ID)
	}

	if err := j.repo.ExpireRequests(ctx, ids); err != nil {
		log.Printf("❌ Error expiring fee requests: %v", err)
		return
	}

	log.Printf("✅ Expired %d fee requests", len(expired))
}
