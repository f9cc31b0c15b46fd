package synapse

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/models"
)

// ErrNotReady means the pool is empty and the tick should be skipped.
var ErrNotReady = errors.New("no properties available for a batch")

const DefaultBatchSize = 1200

// Batch is one outbound unit of work sent to miners.
type Batch struct {
	ID         string            `json:"id"`
	Market     string            `json:"market"`
	Properties []models.Property `json:"properties"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ValidIDs returns the set of property ids a response may refer to.
func (b *Batch) ValidIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(b.Properties))
	for _, p := range b.Properties {
		ids[p.ID] = struct{}{}
	}
	return ids
}

type Builder struct {
	db        *database.Database
	batchSize int
	logger    *logrus.Logger
	now       func() time.Time
}

func NewBuilder(db *database.Database, batchSize int, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Builder{
		db:        db,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Build removes up to the batch size of properties from the pool and wraps
// them in a batch. It returns ErrNotReady when the pool is empty and
// database.ErrBusy when the store is locked.
func (b *Builder) Build(ctx context.Context) (*Batch, error) {
	var properties []models.Property
	err := b.db.WithLock(ctx, func(s *database.Session) error {
		var err error
		properties, err = s.TakeProperties(b.batchSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(properties) == 0 {
		return nil, ErrNotReady
	}

	batch := &Batch{
		ID:         uuid.NewString(),
		Market:     dominantMarket(properties),
		Properties: properties,
		CreatedAt:  b.now().UTC(),
	}

	b.logger.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"market":   batch.Market,
		"count":    len(properties),
	}).Info("Built outbound batch")
	return batch, nil
}

func dominantMarket(properties []models.Property) string {
	counts := make(map[string]int)
	best := ""
	for _, p := range properties {
		counts[p.Market]++
		if counts[p.Market] > counts[best] || (counts[p.Market] == counts[best] && p.Market < best) {
			best = p.Market
		}
	}
	return best
}
