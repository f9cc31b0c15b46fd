package synapse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/models"
)

func seedPool(t *testing.T, db *database.Database, n int) {
	t.Helper()
	var props []models.Property
	for i := 0; i < n; i++ {
		price := int64(100000 + i)
		props = append(props, models.Property{
			ID:         fmt.Sprintf("p%03d", i),
			Price:      &price,
			Market:     "Columbus",
			ObservedAt: time.Now().UTC(),
		})
	}
	require.NoError(t, db.WithLock(context.Background(), func(s *database.Session) error {
		_, err := s.InsertProperties(props)
		return err
	}))
}

func TestBuild_NoReoffer(t *testing.T) {
	db := database.NewTestDatabase(t)
	seedPool(t, db, 5)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	builder := NewBuilder(db, 3, logger)

	first, err := builder.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Properties, 3)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "Columbus", first.Market)

	second, err := builder.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Properties, 2)
	assert.NotEqual(t, first.ID, second.ID)

	for id := range second.ValidIDs() {
		_, overlap := first.ValidIDs()[id]
		assert.False(t, overlap, "property %s offered twice", id)
	}

	_, err = builder.Build(context.Background())
	assert.True(t, errors.Is(err, ErrNotReady))
}

func TestDominantMarket(t *testing.T) {
	props := []models.Property{{Market: "Miami"}, {Market: "Houston"}, {Market: "Miami"}}
	assert.Equal(t, "Miami", dominantMarket(props))
	assert.Equal(t, "", dominantMarket(nil))
}
