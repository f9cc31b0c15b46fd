package scoring

import (
	"fmt"
	"time"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/models"
)

const (
	ConsistencyWindow     = 5
	HistoryCutoff         = 21
	MinConsistencyPercent = 51.0

	maxDayWeight = 100
	minDayWeight = 5
)

// TimeGatedScore blends the recent consistency window with the decayed
// history window of a miner's daily scores.
func TimeGatedScore(history []models.DailyScore, today time.Time) float64 {
	today = truncateDay(today)

	oldest, ok := oldestDate(history)
	if !ok {
		return 0
	}
	age := daysBetween(oldest, today)

	percent := ConsistencyPercent(age)
	consistency := consistencyScore(history, today)
	historical := historyScore(history, today, HistoryWindowSize(age))

	return consistency*percent/100 + historical*(100-percent)/100
}

// ConsistencyPercent is the share of the final score given to the
// consistency window for a miner whose oldest score is age days old.
func ConsistencyPercent(age int) float64 {
	switch {
	case age <= ConsistencyWindow:
		return 100
	case age >= HistoryCutoff:
		return MinConsistencyPercent
	default:
		span := float64(HistoryCutoff - ConsistencyWindow)
		return 100 + (MinConsistencyPercent-100)*float64(age-ConsistencyWindow)/span
	}
}

// HistoryWindowSize is the number of days of history before the
// consistency window that count for the miner.
func HistoryWindowSize(age int) int {
	if age <= ConsistencyWindow {
		return 0
	}
	size := age - ConsistencyWindow
	if limit := HistoryCutoff - ConsistencyWindow; size > limit {
		size = limit
	}
	return size
}

// VolumeScalar discounts consistency scores backed by few predictions.
func VolumeScalar(predictions int) float64 {
	switch {
	case predictions < 5:
		return 0.7
	case predictions < 10:
		return 0.725
	case predictions < 15:
		return 0.75
	case predictions < 20:
		return 0.8
	case predictions < 25:
		return 0.9
	default:
		return 1
	}
}

// DayWeight maps days_back in [1, size] linearly onto [100, 5]. Values
// outside the window weigh 0.
func DayWeight(size, daysBack int) int {
	if daysBack < 1 || daysBack > size {
		return 0
	}
	if size == 1 {
		return maxDayWeight
	}
	step := float64(maxDayWeight-minDayWeight) / float64(size-1)
	return int(float64(maxDayWeight) - float64(daysBack-1)*step + 1e-9)
}

func consistencyScore(history []models.DailyScore, today time.Time) float64 {
	start := today.AddDate(0, 0, -ConsistencyWindow).Format(database.DateLayout)

	total := 0.0
	count := 0
	for _, d := range history {
		if d.Date < start || d.Count <= 0 {
			continue
		}
		total += d.MeanScore * float64(d.Count)
		count += d.Count
	}
	if count == 0 {
		return 0
	}
	return total / float64(count) * VolumeScalar(count)
}

// historyScore is the mean of each day's score replicated by its day weight.
func historyScore(history []models.DailyScore, today time.Time, size int) float64 {
	start := today.AddDate(0, 0, -HistoryCutoff).Format(database.DateLayout)
	end := today.AddDate(0, 0, -ConsistencyWindow).Format(database.DateLayout)

	weighted := 0.0
	weights := 0
	for _, d := range history {
		if d.Date < start || d.Date >= end {
			continue
		}
		date, err := ParseDate(d.Date)
		if err != nil {
			continue
		}
		w := DayWeight(size, daysBetween(date, today)-ConsistencyWindow)
		weighted += d.MeanScore * float64(w)
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return weighted / float64(weights)
}

// MinerTimeGatedScore loads the miner's history and scores it.
func MinerTimeGatedScore(s *database.Session, minerID string, today time.Time) (float64, error) {
	history, err := s.DailyScores(minerID, "")
	if err != nil {
		return 0, fmt.Errorf("failed to load score history for %s: %w", minerID, err)
	}
	return TimeGatedScore(history, today), nil
}

func oldestDate(history []models.DailyScore) (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, d := range history {
		date, err := ParseDate(d.Date)
		if err != nil {
			continue
		}
		if !found || date.Before(oldest) {
			oldest = date
			found = true
		}
	}
	return oldest, found
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(truncateDay(to).Sub(truncateDay(from)).Hours() / 24)
}
