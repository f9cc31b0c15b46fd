package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/models"
)

var today = time.Date(2024, 3, 30, 15, 0, 0, 0, time.UTC)

func daysAgo(n int) string {
	return today.AddDate(0, 0, -n).Format(database.DateLayout)
}

func TestConsistencyPercent(t *testing.T) {
	assert.Equal(t, 100.0, ConsistencyPercent(0))
	assert.Equal(t, 100.0, ConsistencyPercent(5))
	assert.InDelta(t, 75.5, ConsistencyPercent(13), 1e-9)
	assert.Equal(t, 51.0, ConsistencyPercent(21))
	assert.Equal(t, 51.0, ConsistencyPercent(90))
}

func TestHistoryWindowSize(t *testing.T) {
	assert.Equal(t, 0, HistoryWindowSize(3))
	assert.Equal(t, 0, HistoryWindowSize(5))
	assert.Equal(t, 1, HistoryWindowSize(6))
	assert.Equal(t, 16, HistoryWindowSize(21))
	assert.Equal(t, 16, HistoryWindowSize(40))
}

func TestDayWeight(t *testing.T) {
	assert.Equal(t, 100, DayWeight(16, 1))
	assert.Equal(t, 5, DayWeight(16, 16))
	assert.Equal(t, 0, DayWeight(16, 17))
	assert.Equal(t, 0, DayWeight(16, 0))
	assert.Equal(t, 100, DayWeight(1, 1))
	assert.Equal(t, 86, DayWeight(8, 2))
}

func TestVolumeScalar(t *testing.T) {
	for n, want := range map[int]float64{0: 0.7, 4: 0.7, 5: 0.725, 12: 0.75, 19: 0.8, 24: 0.9, 25: 1, 1000: 1} {
		assert.Equal(t, want, VolumeScalar(n), "predictions=%d", n)
	}
}

func TestTimeGatedScore(t *testing.T) {
	tests := []struct {
		name    string
		history []models.DailyScore
		want    float64
	}{
		{
			name: "no history",
			want: 0,
		},
		{
			name:    "new miner with volume",
			history: []models.DailyScore{{Date: daysAgo(0), MeanScore: 80, Count: 30}},
			want:    80,
		},
		{
			name:    "new miner with few predictions",
			history: []models.DailyScore{{Date: daysAgo(0), MeanScore: 80, Count: 3}},
			want:    56,
		},
		{
			name: "consistency window is count weighted",
			history: []models.DailyScore{
				{Date: daysAgo(5), MeanScore: 60, Count: 10},
				{Date: daysAgo(1), MeanScore: 90, Count: 20},
			},
			want: 80,
		},
		{
			name: "partial history",
			history: []models.DailyScore{
				{Date: daysAgo(13), MeanScore: 60, Count: 50},
				{Date: daysAgo(0), MeanScore: 80, Count: 30},
			},
			want: 80*0.755 + 60*0.245,
		},
		{
			name: "history without recent scores",
			history: []models.DailyScore{
				{Date: daysAgo(21), MeanScore: 70, Count: 50},
				{Date: daysAgo(6), MeanScore: 70, Count: 50},
			},
			want: 70 * 0.49,
		},
		{
			name: "rows past the cutoff are ignored",
			history: []models.DailyScore{
				{Date: daysAgo(40), MeanScore: 10, Count: 50},
				{Date: daysAgo(0), MeanScore: 80, Count: 30},
			},
			want: 80 * 0.51,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TimeGatedScore(tt.history, today), 1e-6)
		})
	}
}

func TestTimeGatedScore_HistoryWeighting(t *testing.T) {
	// Full window: day 6 weighs 100, day 21 weighs 5
	history := []models.DailyScore{
		{Date: daysAgo(21), MeanScore: 0, Count: 1},
		{Date: daysAgo(6), MeanScore: 100, Count: 1},
	}
	want := 100.0 * 100 / 105 * 0.49
	assert.InDelta(t, want, TimeGatedScore(history, today), 1e-6)
}
