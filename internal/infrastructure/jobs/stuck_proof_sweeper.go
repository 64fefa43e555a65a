package jobs

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"bounty-chain.backend/internal/domain/entities"
	"bounty-chain.backend/internal/infrastructure/queue"
)

// stuckProofStore is the store surface the sweeper needs.
type stuckProofStore interface {
	FindStuck(ctx context.Context, cutoff time.Time) ([]*entities.Proof, error)
	ResetToSubmitted(ctx context.Context, id uuid.UUID) error
}

// StuckProofSweeper recovers proofs abandoned mid-validation: a worker crash
// after the SETNX guard leaves the proof in VALIDATING with a dead job id
// blocking re-enqueue. The sweeper removes the stale job, resets the proof
// and enqueues a fresh validation.
type StuckProofSweeper struct {
	proofs   stuckProofStore
	queue    *queue.Queue
	maxAge   time.Duration
	interval time.Duration
	stop     chan struct{}
}

func NewStuckProofSweeper(proofs stuckProofStore, q *queue.Queue, maxAge time.Duration) *StuckProofSweeper {
	return &StuckProofSweeper{
		proofs:   proofs,
		queue:    q,
		maxAge:   maxAge,
		interval: time.Minute,
		stop:     make(chan struct{}),
	}
}

func (j *StuckProofSweeper) Start(ctx context.Context) {
	log.Println("🕐 Starting stuck proof sweeper...")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️ Stuck proof sweeper stopped (context cancelled)")
			return
		case <-j.stop:
			log.Println("⏹️ Stuck proof sweeper stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *StuckProofSweeper) Stop() {
	close(j.stop)
}

func (j *StuckProofSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.maxAge)
	stuck, err := j.proofs.FindStuck(ctx, cutoff)
	if err != nil {
		log.Printf("❌ Error fetching stuck proofs: %v", err)
		return
	}

	for _, proof := range stuck {
		jobID := queue.ValidationJobID(proof.ID)
		if err := j.queue.Remove(ctx, queue.QueueValidation, jobID); err != nil {
			log.Printf("❌ Error removing stale validation job %s: %v", jobID, err)
			continue
		}
		if proof.Status == entities.ProofStatusValidating {
			if err := j.proofs.ResetToSubmitted(ctx, proof.ID); err != nil {
				log.Printf("❌ Error resetting proof %s: %v", proof.ID, err)
				continue
			}
		}
		accepted, err := j.queue.Enqueue(ctx, queue.QueueValidation, jobID,
			queue.ValidationJobPayload{ProofID: proof.ID, ScanID: proof.ScanID},
			queue.EnqueueOptions{})
		if err != nil {
			log.Printf("❌ Error re-enqueueing validation for proof %s: %v", proof.ID, err)
			continue
		}
		if accepted {
			log.Printf("✅ Re-enqueued stuck proof %s", proof.ID)
		}
	}
}
