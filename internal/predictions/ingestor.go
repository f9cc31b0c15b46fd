package predictions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/metrics"
	"nextplace/validator/internal/models"
	"nextplace/validator/internal/reporting"
	"nextplace/validator/internal/synapse"
)

// Rejection reasons
const (
	ReasonInvalidMiner    = "invalid_miner"
	ReasonUnknownProperty = "unknown_property"
	ReasonIncomplete      = "incomplete"
)

type Options struct {
	// Number of concurrent per-miner workers
	Workers int

	// Retries when the store is busy, with RetryDelay between attempts
	MaxRetries int
	RetryDelay time.Duration

	// Clock stamps submitted_at; time.Now when nil
	Clock func() time.Time
}

// IngestSummary describes the outcome of one ingestion call.
type IngestSummary struct {
	Miners   int            `json:"miners"`
	Accepted int            `json:"accepted"`
	Rejected map[string]int `json:"rejected"`
	// Miners whose predictions could not be committed
	Failed []string `json:"failed,omitempty"`
}

type Ingestor struct {
	db       *database.Database
	reporter reporting.Reporter
	opts     Options
	logger   *logrus.Logger
	now      func() time.Time
}

func NewIngestor(db *database.Database, reporter reporting.Reporter, opts Options, logger *logrus.Logger) *Ingestor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if reporter == nil {
		reporter = reporting.Nop{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Ingestor{
		db:       db,
		reporter: reporter,
		opts:     opts,
		logger:   logger,
		now:      opts.Clock,
	}
}

// minerBatch is the validated, bucketed form of one miner response.
type minerBatch struct {
	table     database.PredictionTable
	coldKey   string
	keepFirst []models.Prediction
	overwrite []models.Prediction
	rejected  map[string]int
}

type minerResult struct {
	minerID  string
	accepted int
	rejected map[string]int
	events   []models.PredictionEvent
	err      error
}

// Ingest validates each miner's response against the batch and persists the
// surviving predictions into that miner's table. Miners are processed
// independently; the active-miner registry is updated once at the end.
func (in *Ingestor) Ingest(ctx context.Context, batch *synapse.Batch, responses []models.MinerResponse) (IngestSummary, error) {
	summary := IngestSummary{Rejected: make(map[string]int)}
	if len(responses) == 0 {
		return summary, nil
	}

	markets := make(map[string]string, len(batch.Properties))
	for _, p := range batch.Properties {
		markets[p.ID] = p.Market
	}
	submittedAt := in.now().UTC()

	jobs := make(chan models.MinerResponse)
	results := make(chan minerResult, len(responses))

	var wg sync.WaitGroup
	for i := 0; i < in.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for resp := range jobs {
				results <- in.ingestMiner(ctx, resp, markets, submittedAt)
			}
		}()
	}
	for _, resp := range responses {
		jobs <- resp
	}
	close(jobs)
	wg.Wait()
	close(results)

	var registered []string
	var events []models.PredictionEvent
	var fatal []error
	for r := range results {
		for reason, n := range r.rejected {
			summary.Rejected[reason] += n
			metrics.PredictionsRejected.WithLabelValues(reason).Add(float64(n))
		}
		if r.minerID == "" {
			continue
		}
		summary.Miners++
		if r.err != nil {
			summary.Failed = append(summary.Failed, r.minerID)
			if !errors.Is(r.err, database.ErrBusy) {
				fatal = append(fatal, r.err)
			}
			continue
		}
		summary.Accepted += r.accepted
		registered = append(registered, r.minerID)
		events = append(events, r.events...)
	}
	metrics.PredictionsIngested.Add(float64(summary.Accepted))

	if len(registered) > 0 {
		err := in.withRetry(ctx, "register", func(s *database.Session) error {
			return s.AddActiveMiners(registered, submittedAt)
		})
		if err != nil {
			in.logger.WithError(err).WithField("count", len(registered)).Error("Failed to update active miner registry")
			fatal = append(fatal, err)
		}
	}

	in.reporter.Report(events)

	in.logger.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"miners":   summary.Miners,
		"accepted": summary.Accepted,
		"rejected": summary.Rejected,
	}).Info("Ingested miner responses")

	return summary, errors.Join(fatal...)
}

func (in *Ingestor) ingestMiner(ctx context.Context, resp models.MinerResponse, markets map[string]string, submittedAt time.Time) minerResult {
	mb, err := prepare(resp, markets, submittedAt)
	if err != nil {
		in.logger.WithError(err).WithField("miner", resp.MinerID).Warn("Rejected miner response")
		return minerResult{rejected: map[string]int{ReasonInvalidMiner: 1}}
	}

	result := minerResult{minerID: mb.table.MinerID(), rejected: mb.rejected}
	if len(mb.keepFirst)+len(mb.overwrite) == 0 {
		// Nothing to store but the miner still answered
		result.err = in.withRetry(ctx, mb.table.MinerID(), func(s *database.Session) error {
			return s.EnsurePredictionTable(mb.table)
		})
		return result
	}

	result.err = in.withRetry(ctx, mb.table.MinerID(), func(s *database.Session) error {
		return s.Transaction(func(tx *database.Session) error {
			if err := tx.EnsurePredictionTable(mb.table); err != nil {
				return err
			}
			if _, err := tx.InsertPredictions(mb.table, mb.keepFirst, database.KeepFirst); err != nil {
				return err
			}
			_, err := tx.InsertPredictions(mb.table, mb.overwrite, database.Overwrite)
			return err
		})
	})
	if result.err != nil {
		in.logger.WithError(result.err).WithField("miner", result.minerID).Error("Failed to store miner predictions")
		return result
	}

	result.accepted = len(mb.keepFirst) + len(mb.overwrite)
	result.events = make([]models.PredictionEvent, 0, result.accepted)
	for _, bucket := range [][]models.Prediction{mb.keepFirst, mb.overwrite} {
		for _, p := range bucket {
			result.events = append(result.events, models.PredictionEvent{
				NextplaceID:        p.PropertyID,
				MinerHotKey:        result.minerID,
				MinerColdKey:       mb.coldKey,
				PredictionDate:     p.SubmittedAt.Format(database.TimestampLayout),
				PredictedSalePrice: p.PredictedPrice,
				PredictedSaleDate:  p.PredictedDate,
			})
		}
	}

	in.logger.WithFields(logrus.Fields{
		"miner":     result.minerID,
		"accepted":  result.accepted,
		"overwrite": len(mb.overwrite),
	}).Debug("Stored miner predictions")
	return result
}

// prepare resolves the miner and routes each valid prediction into its
// conflict bucket.
func prepare(resp models.MinerResponse, markets map[string]string, submittedAt time.Time) (minerBatch, error) {
	table, err := database.PredictionTableFor(strings.TrimSpace(resp.MinerID))
	if err != nil {
		return minerBatch{}, err
	}

	mb := minerBatch{table: table, coldKey: resp.ColdKey, rejected: make(map[string]int)}
	for _, in := range resp.Predictions {
		market, ok := markets[in.PropertyID]
		if !ok {
			mb.rejected[ReasonUnknownProperty]++
			continue
		}
		if in.PredictedPrice == nil || in.PredictedDate == nil || strings.TrimSpace(*in.PredictedDate) == "" {
			mb.rejected[ReasonIncomplete]++
			continue
		}

		p := models.Prediction{
			PropertyID:     in.PropertyID,
			MinerID:        table.MinerID(),
			PredictedPrice: *in.PredictedPrice,
			PredictedDate:  strings.TrimSpace(*in.PredictedDate),
			SubmittedAt:    submittedAt,
			Market:         market,
			Overwrite:      in.Overwrite,
		}
		if in.Overwrite {
			mb.overwrite = append(mb.overwrite, p)
		} else {
			mb.keepFirst = append(mb.keepFirst, p)
		}
	}
	return mb, nil
}

// withRetry runs fn under the store lock, retrying while the store is busy.
func (in *Ingestor) withRetry(ctx context.Context, job string, fn func(*database.Session) error) error {
	var err error
	for attempt := 0; attempt <= in.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			in.logger.WithFields(logrus.Fields{
				"job":     job,
				"attempt": attempt,
			}).Infof("Store busy, retrying attempt %d of %d", attempt, in.opts.MaxRetries)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(in.opts.RetryDelay):
			}
		}

		err = in.db.WithLock(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, database.ErrBusy) {
			return err
		}
		metrics.StoreBusy.WithLabelValues("ingest").Inc()
	}
	return fmt.Errorf("failed to ingest after %d attempts: %w", in.opts.MaxRetries+1, err)
}
