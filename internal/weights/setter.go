package weights

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
	"nextplace/validator/internal/scoring"
)

// Markets predicted within this many days count towards diversity
const DiversityWindowDays = 5

// Submitter publishes a weight vector. On-chain submission lives outside
// this process.
type Submitter interface {
	Submit(ctx context.Context, weights map[string]float64) error
}

// LogSubmitter logs the vector instead of submitting it.
type LogSubmitter struct {
	logger *logrus.Logger
}

func NewLogSubmitter(logger *logrus.Logger) *LogSubmitter {
	return &LogSubmitter{logger: logger}
}

func (l *LogSubmitter) Submit(ctx context.Context, weights map[string]float64) error {
	l.logger.WithField("count", len(weights)).Info("Weights ready for submission")
	for id, w := range weights {
		l.logger.WithFields(logrus.Fields{"miner": id, "weight": w}).Debug("Miner weight")
	}
	return nil
}

// Result is one computed weight vector and the scores it came from.
type Result struct {
	Scores     map[string]float64 `json:"scores"`
	Weights    map[string]float64 `json:"weights"`
	ComputedAt time.Time          `json:"computed_at"`
}

type Setter struct {
	db        *database.Database
	submitter Submitter
	logger    *logrus.Logger
	now       func() time.Time

	mu   sync.RWMutex
	last *Result
}

func NewSetter(db *database.Database, submitter Submitter, logger *logrus.Logger) *Setter {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if submitter == nil {
		submitter = NewLogSubmitter(logger)
	}
	return &Setter{
		db:        db,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
	}
}

// DiversityPenalty scales down miners that predict on fewer markets than
// the average miner.
func DiversityPenalty(distinct int, average float64) float64 {
	switch {
	case distinct < int(average*0.5):
		return 0.5
	case distinct < int(average*0.75):
		return 0.6
	case distinct < int(average*0.9):
		return 0.75
	default:
		return 1
	}
}

// Compute scores every active miner inside one critical section and
// allocates the weight vector.
func (s *Setter) Compute(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	scores := make(map[string]float64)

	err := s.db.WithLock(ctx, func(sess *database.Session) error {
		miners, err := sess.ActiveMiners()
		if err != nil {
			return err
		}

		markets, err := distinctMarkets(sess, miners, now.AddDate(0, 0, -DiversityWindowDays))
		if err != nil {
			return err
		}
		average := averageMarkets(markets)

		for _, id := range miners {
			score, err := scoring.MinerTimeGatedScore(sess, id, now)
			if err != nil {
				return err
			}
			if n, ok := markets[id]; ok && average > 0 {
				score *= DiversityPenalty(n, average)
			}
			scores[id] = score
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Scores:     scores,
		Weights:    Allocate(scores),
		ComputedAt: now,
	}, nil
}

// Run computes the weight vector, remembers it and hands it to the submitter.
func (s *Setter) Run(ctx context.Context) (Result, error) {
	result, err := s.Compute(ctx)
	if err != nil {
		return result, err
	}

	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()

	metrics.MinerWeight.Reset()
	for id, w := range result.Weights {
		metrics.MinerWeight.WithLabelValues(id).Set(w)
	}

	if err := s.submitter.Submit(ctx, result.Weights); err != nil {
		return result, fmt.Errorf("failed to submit weights: %w", err)
	}

	s.logger.WithField("count", len(result.Weights)).Info("Computed miner weights")
	return result, nil
}

// Last returns the most recently computed vector.
func (s *Setter) Last() (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

func distinctMarkets(sess *database.Session, miners []string, since time.Time) (map[string]int, error) {
	markets := make(map[string]int, len(miners))
	for _, id := range miners {
		table, err := database.PredictionTableFor(id)
		if err != nil {
			continue
		}
		n, err := sess.DistinctMarketsSince(table, since)
		if errors.Is(err, database.ErrTableMissing) {
			continue
		}
		if err != nil {
			return nil, err
		}
		markets[id] = n
	}
	return markets, nil
}

// averageMarkets is the mean over miners that predicted on at least one market.
func averageMarkets(markets map[string]int) float64 {
	total, n := 0, 0
	for _, m := range markets {
		if m > 0 {
			total += m
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(total) / float64(n)
}
