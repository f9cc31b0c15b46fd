package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/models"
)

type recordingReporter struct {
	mu     sync.Mutex
	events []models.PredictionEvent
}

func (r *recordingReporter) Report(events []models.PredictionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

var (
	submitted = time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC)
	scoredAt  = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
)

func newTestEngine(t *testing.T) (*Engine, *database.Database, *recordingReporter) {
	t.Helper()
	db := database.NewTestDatabase(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	reporter := &recordingReporter{}
	e := NewEngine(db, reporter, 21, logger)
	e.now = func() time.Time { return scoredAt }
	return e, db, reporter
}

func seed(t *testing.T, db *database.Database, minerID string, preds []models.Prediction, sales []models.Sale) database.PredictionTable {
	t.Helper()
	table, err := database.PredictionTableFor(minerID)
	require.NoError(t, err)
	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		require.NoError(t, s.EnsurePredictionTable(table))
		_, err := s.InsertPredictions(table, preds, database.KeepFirst)
		require.NoError(t, err)
		require.NoError(t, s.AddActiveMiners([]string{minerID}, submitted))
		_, err = s.InsertSales(sales)
		return err
	}))
	return table
}

func prediction(id string, price float64, date string, at time.Time) models.Prediction {
	return models.Prediction{PropertyID: id, PredictedPrice: price, PredictedDate: date, SubmittedAt: at, Market: "Columbus"}
}

func TestScoreMiner_EndToEnd(t *testing.T) {
	e, db, reporter := newTestEngine(t)
	table := seed(t, db, "M1",
		[]models.Prediction{
			prediction("P1", 290000, "2024-03-01", submitted),
			prediction("P2", 100000, "soon", submitted),
			prediction("P3", 500000, "2024-03-20", submitted),
		},
		[]models.Sale{
			{PropertyID: "P1", SalePrice: 300000, SaleDate: "2024-03-05"},
			{PropertyID: "P2", SalePrice: 120000, SaleDate: "2024-03-04"},
		},
	)

	result, err := e.ScoreMiner(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scored)
	assert.Equal(t, 1, result.Unparsed)
	assert.Equal(t, "2024-03-10", result.Daily.Date)
	assert.Equal(t, 1, result.Daily.Count)
	assert.InDelta(t, 93.1333, result.Daily.MeanScore, 0.001)
	assert.Equal(t, 1, result.Lifetime.TotalCount)

	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		remaining, err := s.ListPredictions(table, 10)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, "P3", remaining[0].PropertyID)

		scores, err := s.DailyScores("M1", "")
		require.NoError(t, err)
		require.Len(t, scores, 1)
		return nil
	}))

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.events, 1)
	require.NotNil(t, reporter.events[0].PredictionScore)
	assert.InDelta(t, 93.1333, *reporter.events[0].PredictionScore, 0.001)
}

func TestScoreMiner_LatePredictionIsNotScored(t *testing.T) {
	e, db, _ := newTestEngine(t)
	table := seed(t, db, "M1",
		[]models.Prediction{prediction("P1", 300000, "2024-03-05", time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC))},
		[]models.Sale{{PropertyID: "P1", SalePrice: 300000, SaleDate: "2024-03-05"}},
	)

	result, err := e.ScoreMiner(context.Background(), "M1")
	require.NoError(t, err)
	assert.Zero(t, result.Scored)

	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		count, err := s.CountPredictions(table)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		score, err := s.MinerScore("M1")
		require.NoError(t, err)
		assert.Nil(t, score)
		return nil
	}))
}

func TestScoreMiner_EvictsPastRetention(t *testing.T) {
	e, db, _ := newTestEngine(t)
	table := seed(t, db, "M1",
		[]models.Prediction{
			prediction("OLD", 1, "2024-04-01", scoredAt.AddDate(0, 0, -22)),
			prediction("NEW", 1, "2024-04-01", scoredAt.AddDate(0, 0, -1)),
		},
		nil,
	)

	result, err := e.ScoreMiner(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evicted)

	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		p, err := s.GetPrediction(table, "OLD")
		require.NoError(t, err)
		assert.Nil(t, p)
		return nil
	}))
}

func TestScoreMiner_MergesIntoSameDay(t *testing.T) {
	e, db, _ := newTestEngine(t)
	seed(t, db, "M1",
		[]models.Prediction{prediction("P1", 300000, "2024-03-05", submitted)},
		[]models.Sale{{PropertyID: "P1", SalePrice: 300000, SaleDate: "2024-03-05"}},
	)
	_, err := e.ScoreMiner(context.Background(), "M1")
	require.NoError(t, err)

	seed(t, db, "M1",
		[]models.Prediction{prediction("P2", 0, "2024-01-01", submitted)},
		[]models.Sale{{PropertyID: "P2", SalePrice: 300000, SaleDate: "2024-03-05"}},
	)
	result, err := e.ScoreMiner(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Daily.Count)
	assert.InDelta(t, 50, result.Daily.MeanScore, 1e-9)
	assert.Equal(t, 2, result.Lifetime.TotalCount)
}

func TestSweep_SkipsMissingTables(t *testing.T) {
	e, db, _ := newTestEngine(t)
	seed(t, db, "M1",
		[]models.Prediction{prediction("P1", 290000, "2024-03-01", submitted)},
		[]models.Sale{{PropertyID: "P1", SalePrice: 300000, SaleDate: "2024-03-05"}},
	)
	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		return s.AddActiveMiners([]string{"GONE"}, submitted)
	}))

	summary, err := e.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Miners)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Scored)
}

func TestSweep_BusyStoreAbandons(t *testing.T) {
	e, db, _ := newTestEngine(t)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = db.WithLock(context.Background(), func(*database.Session) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := e.Sweep(context.Background())
	assert.ErrorIs(t, err, database.ErrBusy)
}
