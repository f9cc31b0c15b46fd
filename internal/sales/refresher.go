package sales

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nextplace/validator/config"
	"nextplace/validator/internal/database"
	"nextplace/validator/internal/metrics"
	"nextplace/validator/internal/models"
)

const maxPages = 100

// SoldSource pages the recently sold homes of a market.
type SoldSource interface {
	FetchSold(ctx context.Context, market config.Market, page int) ([]models.SoldHome, error)
	PageSize() int
}

// Refresher rebuilds the transient sales table from the sold-homes source.
type Refresher struct {
	db       *database.Database
	source   SoldSource
	markets  []config.Market
	interval time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	mu          sync.Mutex
	lastRefresh time.Time
}

func NewRefresher(db *database.Database, source SoldSource, markets []config.Market, interval time.Duration, logger *logrus.Logger) *Refresher {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	return &Refresher{
		db:       db,
		source:   source,
		markets:  markets,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the clock that decides future sale dates and refresh
// age. It must be called before the refresher runs.
func (r *Refresher) SetClock(now func() time.Time) {
	r.now = now
}

// RefreshIfDue refreshes when the sales table is empty or the refresh
// interval elapsed since the last successful refresh.
func (r *Refresher) RefreshIfDue(ctx context.Context) (bool, error) {
	r.mu.Lock()
	last := r.lastRefresh
	r.mu.Unlock()

	if !last.IsZero() && r.now().Sub(last) < r.interval {
		var count int
		err := r.db.WithLock(ctx, func(s *database.Session) error {
			var err error
			count, err = s.CountSales()
			return err
		})
		if err != nil {
			return false, err
		}
		if count > 0 {
			return false, nil
		}
	}

	if _, err := r.Refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Refresh fetches every market first and then swaps the sales table in one
// transaction, so a source outage never leaves the table empty.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	today := r.now().UTC()

	var batch []models.Sale
	rejected := make(map[string]int)
	failures := 0
	for _, market := range r.markets {
		homes, err := r.fetch(ctx, market)
		if err != nil {
			failures++
			r.logger.WithError(err).WithField("market", market.Name).Error("Failed to fetch sold homes")
		}
		sales, dropped := filterSold(homes, today)
		for reason, n := range dropped {
			rejected[reason] += n
		}
		batch = append(batch, sales...)
	}

	if failures == len(r.markets) {
		return 0, errors.New("failed to fetch sold homes for every market")
	}

	var inserted int
	err := r.db.WithLock(ctx, func(s *database.Session) error {
		var err error
		inserted, err = s.ReplaceSales(batch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replace sales: %w", err)
	}

	r.mu.Lock()
	r.lastRefresh = r.now()
	r.mu.Unlock()

	metrics.SalesRows.Set(float64(inserted))
	r.logger.WithFields(logrus.Fields{
		"count":    inserted,
		"markets":  len(r.markets),
		"failed":   failures,
		"rejected": rejected,
	}).Info("Refreshed sales table")
	return inserted, nil
}

// fetch pages one market until an empty or short page. Rows fetched before
// an error are returned along with it.
func (r *Refresher) fetch(ctx context.Context, market config.Market) ([]models.SoldHome, error) {
	pageSize := r.source.PageSize()
	var homes []models.SoldHome
	for page := 1; page <= maxPages; page++ {
		sold, err := r.source.FetchSold(ctx, market, page)
		if err != nil {
			return homes, err
		}
		if len(sold) == 0 {
			break
		}
		homes = append(homes, sold...)
		if len(sold) < pageSize {
			break
		}
	}
	return homes, nil
}

// filterSold keeps homes with an id, a positive price and a sale date that
// parses and is not after today.
func filterSold(homes []models.SoldHome, today time.Time) ([]models.Sale, map[string]int) {
	todayStr := today.UTC().Format(database.DateLayout)
	rejected := make(map[string]int)
	sales := make([]models.Sale, 0, len(homes))

	for _, h := range homes {
		if h.ID == "" {
			rejected["missing_id"]++
			continue
		}
		if h.SalePrice == nil || *h.SalePrice <= 0 {
			rejected["price"]++
			continue
		}
		date, ok := parseSaleDate(h.SaleDate)
		if !ok {
			rejected["date"]++
			continue
		}
		if date > todayStr {
			rejected["future_date"]++
			continue
		}
		sales = append(sales, models.Sale{
			PropertyID: h.ID,
			SalePrice:  float64(*h.SalePrice),
			SaleDate:   date,
		})
	}
	return sales, rejected
}

func parseSaleDate(raw string) (string, bool) {
	for _, layout := range []string{database.TimestampLayout, time.RFC3339, database.DateLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(database.DateLayout), true
		}
	}
	return "", false
}
