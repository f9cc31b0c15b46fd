package market

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"nextplace/validator/config"
	"nextplace/validator/internal/database"
	"nextplace/validator/internal/metrics"
	"nextplace/validator/internal/models"
)

// maxPages bounds a single refill when the source never returns a short page.
const maxPages = 100

// ListingsSource pages the for-sale listings of a market.
type ListingsSource interface {
	FetchListings(ctx context.Context, market config.Market, page int) ([]models.Property, error)
	PageSize() int
}

// State of the market cycle
type State int

const (
	StateIdle State = iota
	StateRefilling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefilling:
		return "refilling"
	default:
		return "unknown"
	}
}

// Manager walks the ordered market list and refills the property pool from
// the listings source whenever the pool runs low.
type Manager struct {
	db        *database.Database
	source    ListingsSource
	markets   []config.Market
	threshold int
	logger    *logrus.Logger

	// mu guards state and marketIndex. It is always taken before the store
	// lock, never while holding it.
	mu          sync.Mutex
	state       State
	marketIndex int

	wg sync.WaitGroup
}

// NewManager builds a manager and recovers the market index from the store.
// threshold is the pool size, in properties, below which a refill starts.
func NewManager(ctx context.Context, db *database.Database, source ListingsSource, markets []config.Market, threshold int, logger *logrus.Logger) (*Manager, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if len(markets) == 0 {
		return nil, errors.New("market list is empty")
	}

	m := &Manager{
		db:        db,
		source:    source,
		markets:   markets,
		threshold: threshold,
		logger:    logger,
	}

	if err := m.recoverIndex(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) recoverIndex(ctx context.Context) error {
	var market string
	var found bool
	err := m.db.WithLock(ctx, func(s *database.Session) error {
		var err error
		market, found, err = s.LatestPropertyMarket()
		if err != nil || found {
			return err
		}
		market, found, err = s.LatestPredictionMarket()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to recover market index: %w", err)
	}

	m.marketIndex = 0
	if found {
		if i := config.MarketIndex(m.markets, market); i >= 0 {
			m.marketIndex = (i + 1) % len(m.markets)
		}
	}

	m.logger.WithFields(logrus.Fields{
		"market":       m.markets[m.marketIndex].Name,
		"market_index": m.marketIndex,
		"last_market":  market,
	}).Info("Recovered market index")
	return nil
}

// MaybeRefill starts a background refill of the current market when the pool
// is below the threshold and no refill is in flight. It reports whether a
// refill was started. A busy store returns database.ErrBusy.
func (m *Manager) MaybeRefill(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRefilling {
		return false, nil
	}

	var count int
	err := m.db.WithLock(ctx, func(s *database.Session) error {
		var err error
		count, err = s.CountProperties()
		return err
	})
	if err != nil {
		return false, err
	}
	metrics.PoolSize.Set(float64(count))

	if count >= m.threshold {
		return false, nil
	}

	market := m.markets[m.marketIndex]
	m.state = StateRefilling
	m.logger.WithFields(logrus.Fields{
		"market":    market.Name,
		"pool_size": count,
		"threshold": m.threshold,
	}).Info("Property pool is low, starting refill")

	m.wg.Add(1)
	go m.refill(ctx, market)
	return true, nil
}

func (m *Manager) refill(ctx context.Context, market config.Market) {
	defer m.wg.Done()
	defer m.advance()

	properties := m.fetch(ctx, market)
	if len(properties) == 0 {
		m.logger.WithField("market", market.Name).Warn("Refill found no priced properties")
		return
	}

	var inserted int
	err := m.db.WithLock(ctx, func(s *database.Session) error {
		var err error
		inserted, err = s.InsertProperties(properties)
		return err
	})
	if err != nil {
		m.logger.WithError(err).WithField("market", market.Name).Error("Failed to store refilled properties")
		return
	}

	metrics.MarketRefills.WithLabelValues(market.Name).Inc()
	m.logger.WithFields(logrus.Fields{
		"market":   market.Name,
		"fetched":  len(properties),
		"inserted": inserted,
	}).Info("Refill completed")
}

// fetch pages the source until an empty or short page and keeps rows that
// have an id and a listing price.
func (m *Manager) fetch(ctx context.Context, market config.Market) []models.Property {
	pageSize := m.source.PageSize()
	var valid []models.Property

	for page := 1; page <= maxPages; page++ {
		properties, err := m.source.FetchListings(ctx, market, page)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"market": market.Name,
				"page":   page,
			}).Error("Failed to fetch listings page")
			break
		}
		if len(properties) == 0 {
			break
		}

		for _, p := range properties {
			if p.ID == "" || p.Price == nil {
				continue
			}
			valid = append(valid, p)
		}

		if len(properties) < pageSize {
			break
		}
	}
	return valid
}

// advance moves to the next market and returns to idle. The index moves even
// when the refill failed so one broken market cannot stall the cycle.
func (m *Manager) advance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketIndex = (m.marketIndex + 1) % len(m.markets)
	m.state = StateIdle
}

// Wait blocks until an in-flight refill finishes.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) MarketIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marketIndex
}

func (m *Manager) CurrentMarket() config.Market {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markets[m.marketIndex]
}

func (m *Manager) Markets() []config.Market {
	return m.markets
}
