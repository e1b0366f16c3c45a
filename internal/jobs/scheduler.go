package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is the interface all background jobs implement
type Job interface {
	Run(ctx context.Context) error
}

// JobScheduler runs registered jobs on fixed intervals
type JobScheduler struct {
	scheduler gocron.Scheduler
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler() (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &JobScheduler{scheduler: scheduler}, nil
}

// Register adds a job to the scheduler with the given interval
func (s *JobScheduler) Register(name string, interval time.Duration, job Job) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", name, err)
				return
			}
			log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", name, time.Since(start))
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}

	log.Printf("✅ [SCHEDULER] Registered job: %s (every %v)", name, interval)
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.scheduler.Jobs()))
	s.scheduler.Start()
}

// Stop gracefully stops all jobs
func (s *JobScheduler) Stop() error {
	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	return s.scheduler.Shutdown()
}
