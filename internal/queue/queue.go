package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"nextplace/validator/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Sink delivers one batch of prediction events.
type Sink func([]models.PredictionEvent) error

// ReportQueue hands scored prediction batches to a single sink on its own
// goroutine, so scoring never waits on the dashboard.
type ReportQueue struct {
	batches  chan []models.PredictionEvent
	sink     Sink
	logger   *logrus.Logger
	mu       sync.Mutex
	closed   bool
	abandon  chan struct{}
	finished chan struct{}
	failures atomic.Int64
}

// NewReportQueue starts a queue holding at most capacity batches.
func NewReportQueue(capacity int, sink Sink, logger *logrus.Logger) *ReportQueue {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	q := &ReportQueue{
		batches:  make(chan []models.PredictionEvent, capacity),
		sink:     sink,
		logger:   logger,
		abandon:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	go q.drain()
	return q
}

// Offer enqueues events without blocking.
func (q *ReportQueue) Offer(events []models.PredictionEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.batches <- events:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *ReportQueue) drain() {
	defer close(q.finished)
	for batch := range q.batches {
		select {
		case <-q.abandon:
			return
		default:
		}

		if err := q.sink(batch); err != nil {
			q.failures.Add(1)
			q.logger.WithError(err).WithField("count", len(batch)).Warn("Failed to deliver report batch")
		}
	}
}

// Close stops accepting batches and delivers the ones already queued. When
// ctx ends first the rest are dropped and ctx.Err() is returned.
func (q *ReportQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.finished
		return nil
	}
	q.closed = true
	close(q.batches)
	q.mu.Unlock()

	select {
	case <-q.finished:
		return nil
	case <-ctx.Done():
		close(q.abandon)
		<-q.finished
		q.logger.WithField("dropped", len(q.batches)).Warn("Dropped queued report batches on close")
		return ctx.Err()
	}
}

// Len returns the number of batches waiting for the sink.
func (q *ReportQueue) Len() int {
	return len(q.batches)
}

// Failures returns how many batches the sink rejected.
func (q *ReportQueue) Failures() int64 {
	return q.failures.Load()
}
