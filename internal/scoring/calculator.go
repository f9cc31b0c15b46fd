package scoring

import (
	"math"
	"time"

	"nextplace/validator/internal/database"
)

const (
	PriceWeight = 0.86
	DateWeight  = 0.14

	// Predictions off by this many days or more get no date credit
	DateToleranceDays = 14.0
)

// Score is the per-prediction score in [0, 100].
func Score(actualPrice, predictedPrice float64, actualDate, predictedDate time.Time) float64 {
	return PriceWeight*PriceScore(actualPrice, predictedPrice) + DateWeight*DateScore(actualDate, predictedDate)
}

func PriceScore(actualPrice, predictedPrice float64) float64 {
	if actualPrice <= 0 {
		return 0
	}
	diff := math.Abs(actualPrice-predictedPrice) / actualPrice
	return math.Max(0, 100-100*diff)
}

func DateScore(actualDate, predictedDate time.Time) float64 {
	days := math.Abs(dayNumber(actualDate) - dayNumber(predictedDate))
	return math.Max(0, 100*(DateToleranceDays-days)/DateToleranceDays)
}

// ParseDate parses a date-only value as stored for predictions and sales.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(database.DateLayout, s)
}

func dayNumber(t time.Time) float64 {
	y, m, d := t.Date()
	return float64(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}
