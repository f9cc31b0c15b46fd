package scoring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/metrics"
	"nextplace/validator/internal/models"
	"nextplace/validator/internal/reporting"
)

const DefaultRetentionDays = 21

// MinerResult is the outcome of scoring one miner.
type MinerResult struct {
	MinerID string
	Scored  int
	// Joined rows whose dates could not be parsed; they are deleted unscored
	Unparsed int
	Evicted  int
	Daily    models.DailyScore
	Lifetime models.MinerScore
}

// SweepSummary aggregates one pass over the active-miner registry.
type SweepSummary struct {
	Miners  int
	Skipped int
	Scored  int
	Evicted int
}

// Engine scores stored predictions against the sales table.
type Engine struct {
	db            *database.Database
	reporter      reporting.Reporter
	retentionDays int
	logger        *logrus.Logger
	now           func() time.Time
}

func NewEngine(db *database.Database, reporter reporting.Reporter, retentionDays int, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if reporter == nil {
		reporter = reporting.Nop{}
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Engine{
		db:            db,
		reporter:      reporter,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// Sweep scores every registered miner. A busy store abandons the rest of the
// sweep and returns ErrBusy; miners whose table is gone are skipped.
func (e *Engine) Sweep(ctx context.Context) (SweepSummary, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var summary SweepSummary
	var miners []string
	err := e.db.WithLock(ctx, func(s *database.Session) error {
		var err error
		miners, err = s.ActiveMiners()
		return err
	})
	if err != nil {
		return summary, err
	}

	for _, minerID := range miners {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := e.ScoreMiner(ctx, minerID)
		switch {
		case errors.Is(err, database.ErrBusy):
			e.logger.WithField("miner", minerID).Warn("Store busy, abandoning scoring sweep")
			return summary, err
		case errors.Is(err, database.ErrTableMissing), errors.Is(err, database.ErrInvalidMinerID):
			e.logger.WithError(err).WithField("miner", minerID).Debug("Skipping miner without a prediction table")
			summary.Skipped++
			continue
		case err != nil:
			return summary, err
		}

		summary.Miners++
		summary.Scored += result.Scored
		summary.Evicted += result.Evicted
	}

	e.logger.WithFields(logrus.Fields{
		"miners":  summary.Miners,
		"skipped": summary.Skipped,
		"scored":  summary.Scored,
		"evicted": summary.Evicted,
	}).Info("Completed scoring sweep")
	return summary, nil
}

// ScoreMiner joins the miner's predictions against sales, merges the scores
// into today's daily row and the lifetime aggregate, deletes every joined
// row and evicts predictions past the retention horizon. All of it happens
// in one critical section and one transaction.
func (e *Engine) ScoreMiner(ctx context.Context, minerID string) (MinerResult, error) {
	result := MinerResult{MinerID: minerID}
	table, err := database.PredictionTableFor(minerID)
	if err != nil {
		return result, err
	}

	now := e.now().UTC()
	today := now.Format(database.DateLayout)
	cutoff := now.AddDate(0, 0, -e.retentionDays)
	var events []models.PredictionEvent

	err = e.db.WithLock(ctx, func(s *database.Session) error {
		exists, err := s.PredictionTableExists(table)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("predictions for %s: %w", minerID, database.ErrTableMissing)
		}

		return s.Transaction(func(tx *database.Session) error {
			joined, err := tx.JoinSales(table)
			if err != nil {
				return err
			}

			sum := 0.0
			ids := make([]string, 0, len(joined))
			for _, j := range joined {
				ids = append(ids, j.PropertyID)

				score, ok := scoreJoined(j)
				if !ok {
					result.Unparsed++
					continue
				}
				sum += score
				result.Scored++
				events = append(events, scoredEvent(minerID, j, score))
			}

			if result.Scored > 0 {
				if result.Daily, err = tx.MergeDailyScore(minerID, today, sum, result.Scored); err != nil {
					return err
				}
				if result.Lifetime, err = tx.MergeMinerScore(minerID, sum, result.Scored, now); err != nil {
					return err
				}
			}

			if _, err := tx.DeletePredictions(table, ids); err != nil {
				return err
			}
			result.Evicted, err = tx.EvictPredictionsBefore(table, cutoff)
			return err
		})
	})
	if err != nil {
		return MinerResult{MinerID: minerID}, err
	}

	metrics.PredictionsScored.Add(float64(result.Scored))
	metrics.PredictionsEvicted.Add(float64(result.Evicted))
	if len(events) > 0 {
		e.reporter.Report(events)
	}

	e.logger.WithFields(logrus.Fields{
		"miner":    minerID,
		"scored":   result.Scored,
		"unparsed": result.Unparsed,
		"evicted":  result.Evicted,
	}).Debug("Scored miner predictions")
	return result, nil
}

func scoreJoined(j models.JoinedPrediction) (float64, bool) {
	predicted, err := ParseDate(j.PredictedDate)
	if err != nil {
		return 0, false
	}
	sold, err := ParseDate(j.SaleDate)
	if err != nil {
		return 0, false
	}
	return Score(j.SalePrice, j.PredictedPrice, sold, predicted), true
}

func scoredEvent(minerID string, j models.JoinedPrediction, score float64) models.PredictionEvent {
	return models.PredictionEvent{
		NextplaceID:        j.PropertyID,
		MinerHotKey:        minerID,
		PredictionScore:    &score,
		PredictionDate:     j.SubmittedAt,
		PredictedSalePrice: j.PredictedPrice,
		PredictedSaleDate:  j.PredictedDate,
	}
}
