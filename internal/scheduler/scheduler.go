package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/metrics"
	"nextplace/validator/internal/synapse"
)

// JobType represents the periodic jobs of the validator
type JobType int

const (
	JobTypeRefill JobType = iota
	JobTypeSales
	JobTypeScoring
	JobTypeWeights
	JobTypeMiners
	JobTypePipeline
)

// String returns the string representation of a JobType
func (j JobType) String() string {
	switch j {
	case JobTypeRefill:
		return "refill"
	case JobTypeSales:
		return "sales"
	case JobTypeScoring:
		return "scoring"
	case JobTypeWeights:
		return "weights"
	case JobTypeMiners:
		return "miners"
	case JobTypePipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// JobFunc runs one tick of a job.
type JobFunc func(ctx context.Context) error

type job struct {
	jobType  JobType
	interval time.Duration
	run      JobFunc
}

// Scheduler runs each registered job on its own ticker. Jobs share nothing
// but the store, whose lock serializes them. The first fatal job error stops
// every job and is delivered on Fatal.
type Scheduler struct {
	logger   *logrus.Logger
	jobs     []job
	stopChan chan struct{}
	fatal    chan error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Scheduler{
		logger:   logger,
		stopChan: make(chan struct{}),
		fatal:    make(chan error, 1),
	}
}

// Add registers a job. It must be called before Start.
func (s *Scheduler) Add(jobType JobType, interval time.Duration, run JobFunc) {
	if interval <= 0 {
		s.logger.WithField("job", jobType.String()).Warn("Ignoring job without an interval")
		return
	}
	s.jobs = append(s.jobs, job{jobType: jobType, interval: interval, run: run})
}

// Start begins the scheduled tasks. Every job runs once immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
	s.logger.WithField("count", len(s.jobs)).Info("Scheduler started")
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	defer s.wg.Done()

	if !s.execute(ctx, j) {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.execute(ctx, j) {
				return
			}
		}
	}
}

// execute runs one tick and classifies its outcome. A busy store or an
// empty pool skips the tick. It returns false after a fatal error.
func (s *Scheduler) execute(ctx context.Context, j job) bool {
	start := time.Now()
	err := j.run(ctx)
	fields := logrus.Fields{
		"job":      j.jobType.String(),
		"duration": time.Since(start).String(),
	}

	switch {
	case err == nil:
		s.logger.WithFields(fields).Debug("Job completed")
	case errors.Is(err, database.ErrBusy):
		metrics.StoreBusy.WithLabelValues(j.jobType.String()).Inc()
		s.logger.WithFields(fields).Warn("Store busy, skipping tick")
	case errors.Is(err, synapse.ErrNotReady):
		s.logger.WithFields(fields).Debug("Nothing to send, skipping tick")
	case errors.Is(err, context.Canceled), errors.Is(err, database.ErrClosed):
		s.logger.WithFields(fields).Debug("Job stopped")
	case database.IsFatal(err):
		s.logger.WithError(err).WithFields(fields).Error("Job hit a fatal error, stopping scheduler")
		select {
		case s.fatal <- fmt.Errorf("%s job: %w", j.jobType, err):
		default:
		}
		s.cancel()
		return false
	default:
		s.logger.WithError(err).WithFields(fields).Error("Job failed")
	}
	return true
}

// Fatal delivers the first fatal job error. Nothing is sent when every job
// only fails transiently.
func (s *Scheduler) Fatal() <-chan error {
	return s.fatal
}

// Stop gracefully stops the scheduler and waits for running ticks.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
