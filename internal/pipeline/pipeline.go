package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"nextplace/validator/internal/models"
	"nextplace/validator/internal/predictions"
	"nextplace/validator/internal/synapse"
)

var ErrUnknownBatch = errors.New("unknown or expired batch")

// Transport sends a batch to the miners and collects their responses.
type Transport interface {
	Query(ctx context.Context, batch *synapse.Batch) ([]models.MinerResponse, error)
}

// Pipeline moves one batch out to miners and their predictions back in.
type Pipeline struct {
	builder   *synapse.Builder
	ingestor  *predictions.Ingestor
	transport Transport
	pending   *Pending
	logger    *logrus.Logger
}

// New builds a pipeline. With a nil transport batches are only dispatched
// to the pending set and responses arrive through Submit.
func New(builder *synapse.Builder, ingestor *predictions.Ingestor, transport Transport, pending *Pending, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if pending == nil {
		pending = NewPending(DefaultPendingTTL)
	}
	return &Pipeline{
		builder:   builder,
		ingestor:  ingestor,
		transport: transport,
		pending:   pending,
		logger:    logger,
	}
}

// Dispatch builds a batch and holds it until responses are submitted.
func (p *Pipeline) Dispatch(ctx context.Context) (*synapse.Batch, error) {
	batch, err := p.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	p.pending.Add(batch)
	return batch, nil
}

// Submit ingests responses for a dispatched batch.
func (p *Pipeline) Submit(ctx context.Context, batchID string, responses []models.MinerResponse) (predictions.IngestSummary, error) {
	batch, ok := p.pending.Get(batchID)
	if !ok {
		return predictions.IngestSummary{}, fmt.Errorf("%w: %s", ErrUnknownBatch, batchID)
	}
	return p.ingestor.Ingest(ctx, batch, responses)
}

// Tick runs one batch-out, query, ingest-in cycle. It returns
// synapse.ErrNotReady or database.ErrBusy when there is nothing to send.
func (p *Pipeline) Tick(ctx context.Context) (predictions.IngestSummary, error) {
	if n := p.pending.Expire(); n > 0 {
		p.logger.WithField("count", n).Info("Expired pending batches")
	}

	if p.transport == nil {
		_, err := p.Dispatch(ctx)
		return predictions.IngestSummary{}, err
	}

	batch, err := p.builder.Build(ctx)
	if err != nil {
		return predictions.IngestSummary{}, err
	}

	responses, err := p.transport.Query(ctx, batch)
	if err != nil {
		return predictions.IngestSummary{}, fmt.Errorf("failed to query miners for batch %s: %w", batch.ID, err)
	}
	return p.ingestor.Ingest(ctx, batch, responses)
}

// Step is the scheduled pipeline job. With a transport it runs a full Tick.
// Without one the relay API dispatches batches, so Step only expires the
// ones nobody answered.
func (p *Pipeline) Step(ctx context.Context) error {
	if p.transport == nil {
		if n := p.pending.Expire(); n > 0 {
			p.logger.WithField("count", n).Info("Expired pending batches")
		}
		return nil
	}

	summary, err := p.Tick(ctx)
	if err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"miners":   summary.Miners,
		"accepted": summary.Accepted,
	}).Info("Pipeline tick completed")
	return nil
}

func (p *Pipeline) Pending() *Pending {
	return p.pending
}
