package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextplace/validator/config"
	"nextplace/validator/internal/database"
	"nextplace/validator/internal/models"
	"nextplace/validator/internal/predictions"
	"nextplace/validator/internal/sales"
	"nextplace/validator/internal/synapse"
)

type staticSold struct {
	homes []models.SoldHome
}

func (s staticSold) PageSize() int { return 100 }

func (s staticSold) FetchSold(ctx context.Context, market config.Market, page int) ([]models.SoldHome, error) {
	if page > 1 {
		return nil, nil
	}
	return s.homes, nil
}

func soldHome(id string, price int64, date string) models.SoldHome {
	return models.SoldHome{ID: id, SalePrice: &price, SaleDate: date}
}

func predictionInput(id string, price float64, date string) models.PredictionInput {
	return models.PredictionInput{PropertyID: id, PredictedPrice: &price, PredictedDate: &date}
}

func TestIngestRefreshSweep(t *testing.T) {
	ctx := context.Background()
	db := database.NewTestDatabase(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	ids := []string{
		models.NextplaceID("1 Oak Ave", "43004"),
		models.NextplaceID("2 Oak Ave", "43004"),
		models.NextplaceID("3 Oak Ave", "43004"),
	}
	pool := make([]models.Property, len(ids))
	for i, id := range ids {
		price := int64(280000)
		pool[i] = models.Property{ID: id, Price: &price, Market: "Columbus", ObservedAt: submitted}
	}
	require.NoError(t, db.WithLock(ctx, func(s *database.Session) error {
		_, err := s.InsertProperties(pool)
		return err
	}))

	batch, err := synapse.NewBuilder(db, 10, logger).Build(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Properties, 3)

	clock := submitted
	ingestor := predictions.NewIngestor(db, nil, predictions.Options{
		Workers: 2,
		Clock:   func() time.Time { return clock },
	}, logger)

	summary, err := ingestor.Ingest(ctx, batch, []models.MinerResponse{{
		MinerID: "M1",
		Predictions: []models.PredictionInput{
			predictionInput(ids[0], 290000, "2024-03-01"),
			predictionInput(ids[1], 100000, "soon"),
			predictionInput(ids[2], 500000, "2024-03-20"),
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Accepted)

	// Submitted on the sale date, so it must never be scored
	clock = time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	summary, err = ingestor.Ingest(ctx, batch, []models.MinerResponse{{
		MinerID:     "M2",
		Predictions: []models.PredictionInput{predictionInput(ids[0], 300000, "2024-03-05")},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)

	refresher := sales.NewRefresher(db, staticSold{homes: []models.SoldHome{
		soldHome(ids[0], 300000, "2024-03-05T00:00:00Z"),
		soldHome(ids[1], 120000, "2024-03-04"),
		soldHome(ids[2], 510000, "2024-03-20"),
	}}, []config.Market{{Name: "Columbus", ID: "6_4664"}}, time.Hour, logger)
	refresher.SetClock(func() time.Time { return time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC) })
	inserted, err := refresher.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	reporter := &recordingReporter{}
	engine := NewEngine(db, reporter, 21, logger)
	engine.now = func() time.Time { return scoredAt }

	sweep, err := engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sweep.Miners)
	assert.Equal(t, 1, sweep.Scored)
	assert.Zero(t, sweep.Skipped)
	assert.Zero(t, sweep.Evicted)

	m1, err := database.PredictionTableFor("M1")
	require.NoError(t, err)
	m2, err := database.PredictionTableFor("M2")
	require.NoError(t, err)

	require.NoError(t, db.WithLock(ctx, func(s *database.Session) error {
		daily, err := s.DailyScores("M1", "")
		require.NoError(t, err)
		require.Len(t, daily, 1)
		assert.Equal(t, "2024-03-10", daily[0].Date)
		assert.Equal(t, 1, daily[0].Count)
		assert.InDelta(t, 93.1333, daily[0].MeanScore, 0.001)

		remaining, err := s.ListPredictions(m1, 10)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, ids[2], remaining[0].PropertyID)

		late, err := s.CountPredictions(m2)
		require.NoError(t, err)
		assert.Equal(t, 1, late)
		score, err := s.MinerScore("M2")
		require.NoError(t, err)
		assert.Nil(t, score)
		return nil
	}))

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.events, 1)
	assert.Equal(t, ids[0], reporter.events[0].NextplaceID)
}
