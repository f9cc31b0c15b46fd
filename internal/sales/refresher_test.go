package sales

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextplace/validator/config"
	"nextplace/validator/internal/database"
	"nextplace/validator/internal/models"
)

type fakeSold struct {
	pageSize int
	pages    map[string][][]models.SoldHome
	fail     map[string]bool
	calls    int
}

func (f *fakeSold) PageSize() int { return f.pageSize }

func (f *fakeSold) FetchSold(ctx context.Context, market config.Market, page int) ([]models.SoldHome, error) {
	f.calls++
	if f.fail[market.Name] {
		return nil, errors.New("quota exceeded")
	}
	pages := f.pages[market.Name]
	if page > len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

func sold(id string, price int64, date string) models.SoldHome {
	return models.SoldHome{ID: id, SalePrice: &price, SaleDate: date}
}

var markets = []config.Market{{Name: "Columbus", ID: "1"}, {Name: "Houston", ID: "2"}}

func newRefresher(t *testing.T, source *fakeSold) (*Refresher, *database.Database) {
	t.Helper()
	db := database.NewTestDatabase(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	r := NewRefresher(db, source, markets, 12*time.Hour, logger)
	r.now = func() time.Time { return time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC) }
	return r, db
}

func countSales(t *testing.T, db *database.Database) int {
	t.Helper()
	var count int
	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		var err error
		count, err = s.CountSales()
		return err
	}))
	return count
}

func TestFilterSold(t *testing.T) {
	today := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	sales, rejected := filterSold([]models.SoldHome{
		sold("ok", 300000, "2024-03-05T00:00:00Z"),
		sold("today", 1, "2024-03-06T23:00:00Z"),
		sold("zero", 0, "2024-03-05T00:00:00Z"),
		{ID: "noprice", SaleDate: "2024-03-05T00:00:00Z"},
		sold("future", 1, "2024-03-07T00:00:00Z"),
		sold("garbage", 1, "last tuesday"),
		sold("", 1, "2024-03-05T00:00:00Z"),
	}, today)

	require.Len(t, sales, 2)
	assert.Equal(t, models.Sale{PropertyID: "ok", SalePrice: 300000, SaleDate: "2024-03-05"}, sales[0])
	assert.Equal(t, "today", sales[1].PropertyID)
	assert.Equal(t, 2, rejected["price"])
	assert.Equal(t, 1, rejected["future_date"])
	assert.Equal(t, 1, rejected["date"])
	assert.Equal(t, 1, rejected["missing_id"])
}

func TestRefresh_PagesAndReplaces(t *testing.T) {
	source := &fakeSold{
		pageSize: 2,
		pages: map[string][][]models.SoldHome{
			"Columbus": {
				{sold("a", 1, "2024-03-01T00:00:00Z"), sold("b", 1, "2024-03-01T00:00:00Z")},
				{sold("c", 1, "2024-03-01T00:00:00Z")},
			},
			"Houston": {
				{sold("d", 1, "2024-03-01T00:00:00Z"), sold("a", 2, "2024-03-02T00:00:00Z")},
			},
		},
	}
	r, db := newRefresher(t, source)

	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		_, err := s.InsertSales([]models.Sale{{PropertyID: "stale", SalePrice: 1, SaleDate: "2024-01-01"}})
		return err
	}))

	n, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, countSales(t, db))
}

func TestRefresh_OutageKeepsPreviousTable(t *testing.T) {
	source := &fakeSold{pageSize: 2, fail: map[string]bool{"Columbus": true, "Houston": true}}
	r, db := newRefresher(t, source)

	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		_, err := s.InsertSales([]models.Sale{{PropertyID: "kept", SalePrice: 1, SaleDate: "2024-01-01"}})
		return err
	}))

	_, err := r.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, countSales(t, db))
}

func TestRefreshIfDue(t *testing.T) {
	source := &fakeSold{
		pageSize: 2,
		pages: map[string][][]models.SoldHome{
			"Columbus": {{sold("a", 1, "2024-03-01T00:00:00Z")}},
		},
	}
	r, _ := newRefresher(t, source)
	current := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return current }

	refreshed, err := r.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	calls := source.calls

	current = current.Add(time.Hour)
	refreshed, err = r.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, calls, source.calls)

	current = current.Add(12 * time.Hour)
	refreshed, err = r.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
}
