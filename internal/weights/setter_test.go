package weights

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/models"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, weights map[string]float64) error {
	args := m.Called(ctx, weights)
	return args.Error(0)
}

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestDiversityPenalty(t *testing.T) {
	tests := []struct {
		distinct int
		average  float64
		want     float64
	}{
		{10, 10, 1},
		{9, 10, 1},
		{8, 10, 0.75},
		{7, 10, 0.75},
		{6, 10, 0.6},
		{4, 10, 0.5},
		{1, 2.5, 0.75},
		{0, 1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DiversityPenalty(tt.distinct, tt.average), "distinct=%d average=%v", tt.distinct, tt.average)
	}
}

func seedMiner(t *testing.T, s *database.Session, minerID string, mean float64, markets ...string) {
	t.Helper()
	table, err := database.PredictionTableFor(minerID)
	require.NoError(t, err)
	require.NoError(t, s.EnsurePredictionTable(table))

	preds := make([]models.Prediction, len(markets))
	for i, market := range markets {
		preds[i] = models.Prediction{
			PropertyID:     minerID + market,
			PredictedPrice: 1,
			PredictedDate:  "2024-04-01",
			SubmittedAt:    now.AddDate(0, 0, -1),
			Market:         market,
		}
	}
	_, err = s.InsertPredictions(table, preds, database.KeepFirst)
	require.NoError(t, err)

	_, err = s.MergeDailyScore(minerID, now.Format(database.DateLayout), mean*30, 30)
	require.NoError(t, err)
	require.NoError(t, s.AddActiveMiners([]string{minerID}, now))
}

func newTestSetter(t *testing.T, submitter Submitter) (*Setter, *database.Database) {
	t.Helper()
	db := database.NewTestDatabase(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	setter := NewSetter(db, submitter, logger)
	setter.now = func() time.Time { return now }
	return setter, db
}

func TestSetter_Run(t *testing.T) {
	submitter := &mockSubmitter{}
	setter, db := newTestSetter(t, submitter)

	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		seedMiner(t, s, "M1", 90, "Columbus", "Houston", "Denver", "Austin")
		seedMiner(t, s, "M2", 60, "Columbus")
		return nil
	}))

	submitter.On("Submit", mock.Anything, mock.MatchedBy(func(w map[string]float64) bool {
		return len(w) == 2
	})).Return(nil).Once()

	_, ok := setter.Last()
	assert.False(t, ok)

	result, err := setter.Run(context.Background())
	require.NoError(t, err)
	submitter.AssertExpectations(t)

	assert.InDelta(t, 90, result.Scores["M1"], 1e-9)
	// Average of 2.5 markets puts a single-market miner below 90%
	assert.InDelta(t, 45, result.Scores["M2"], 1e-9)
	assert.InDelta(t, 0.7/0.9, result.Weights["M1"], 1e-9)
	assert.InDelta(t, 0.2/0.9, result.Weights["M2"], 1e-9)

	last, ok := setter.Last()
	require.True(t, ok)
	assert.Equal(t, result.Weights, last.Weights)
}

func TestSetter_MinerWithoutScores(t *testing.T) {
	setter, db := newTestSetter(t, &mockSubmitter{})
	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		return s.AddActiveMiners([]string{"NEW"}, now)
	}))

	result, err := setter.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Scores["NEW"])
	assert.InDelta(t, 1.0, result.Weights["NEW"], 1e-9)
}

func TestSetter_BusyStoreSkips(t *testing.T) {
	submitter := &mockSubmitter{}
	setter, db := newTestSetter(t, submitter)

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

	_, err := setter.Run(context.Background())
	assert.ErrorIs(t, err, database.ErrBusy)
	submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	_, ok := setter.Last()
	assert.False(t, ok)
}
