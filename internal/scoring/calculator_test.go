package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestPriceScore(t *testing.T) {
	tests := []struct {
		name      string
		actual    float64
		predicted float64
		want      float64
	}{
		{"exact", 300000, 300000, 100},
		{"under", 300000, 290000, 96.6667},
		{"over", 300000, 330000, 90},
		{"double is worthless", 300000, 600000, 0},
		{"far over clamps at zero", 300000, 900000, 0},
		{"no actual price", 0, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PriceScore(tt.actual, tt.predicted), 0.001)
		})
	}
}

func TestDateScore(t *testing.T) {
	tests := []struct {
		name      string
		actual    string
		predicted string
		want      float64
	}{
		{"same day", "2024-03-05", "2024-03-05", 100},
		{"four days early", "2024-03-05", "2024-03-01", 71.4286},
		{"seven days late", "2024-03-05", "2024-03-12", 50},
		{"at tolerance", "2024-03-15", "2024-03-01", 0},
		{"beyond tolerance", "2024-06-01", "2024-03-01", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DateScore(date(t, tt.actual), date(t, tt.predicted)), 0.001)
		})
	}
}

func TestScore_Bounds(t *testing.T) {
	sold := date(t, "2024-03-05")
	assert.InDelta(t, 100, Score(300000, 300000, sold, sold), 1e-9)
	assert.InDelta(t, 93.1333, Score(300000, 290000, sold, date(t, "2024-03-01")), 0.001)
	assert.Equal(t, 0.0, Score(300000, 0, sold, date(t, "2023-01-01")))
}

func TestParseDate_Strict(t *testing.T) {
	_, err := ParseDate("2024-03-01T00:00:00Z")
	assert.Error(t, err)
	_, err = ParseDate("03/01/2024")
	assert.Error(t, err)
	_, err = ParseDate("2024-03-01")
	assert.NoError(t, err)
}
