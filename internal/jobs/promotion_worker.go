package jobs

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"lens0/internal/services"
)

const (
	// promotionBatchSize caps how many jobs one worker tick may process
	promotionBatchSize = 10

	// workerLockKey serializes queue draining across replicas
	workerLockKey = "lens0:promotion:worker:lock"
	workerLockTTL = 2 * time.Minute
)

// PromotionWorker drains the promotion job queue. It is the only thing
// in the system that writes expert profiles. With Redis available, a
// distributed lock keeps replicas from draining the queue concurrently;
// without it the queue's atomic claim still prevents double-processing.
type PromotionWorker struct {
	promotions *services.PromotionService
	redis      *services.RedisService
	workerID   string
}

// NewPromotionWorker creates a new promotion queue worker. redis may be nil.
func NewPromotionWorker(promotions *services.PromotionService, redis *services.RedisService) *PromotionWorker {
	return &PromotionWorker{
		promotions: promotions,
		redis:      redis,
		workerID:   uuid.New().String(),
	}
}

// Run processes one batch of pending promotion jobs
func (w *PromotionWorker) Run(ctx context.Context) error {
	if w.redis != nil {
		acquired, err := w.redis.AcquireLock(ctx, workerLockKey, w.workerID, workerLockTTL)
		if err != nil {
			log.Printf("⚠️ [PROMOTION-WORKER] Lock check failed, proceeding unlocked: %v", err)
		} else if !acquired {
			return nil
		} else {
			defer func() {
				if _, err := w.redis.ReleaseLock(ctx, workerLockKey, w.workerID); err != nil {
					log.Printf("⚠️ [PROMOTION-WORKER] Failed to release worker lock: %v", err)
				}
			}()
		}
	}

	processed, err := w.promotions.ProcessPending(ctx, promotionBatchSize)
	if err != nil {
		return err
	}
	if processed > 0 {
		log.Printf("⚙️ [PROMOTION-WORKER] Processed %d jobs", processed)
	}
	return nil
}
