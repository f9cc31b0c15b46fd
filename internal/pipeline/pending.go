package pipeline

import (
	"sync"
	"time"

	"nextplace/validator/internal/synapse"
)

const DefaultPendingTTL = 10 * time.Minute

type pendingBatch struct {
	batch   *synapse.Batch
	expires time.Time
}

// Pending holds dispatched batches until their responses arrive or the TTL
// passes.
type Pending struct {
	mu      sync.Mutex
	ttl     time.Duration
	batches map[string]pendingBatch
	now     func() time.Time
}

func NewPending(ttl time.Duration) *Pending {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Pending{
		ttl:     ttl,
		batches: make(map[string]pendingBatch),
		now:     time.Now,
	}
}

func (p *Pending) Add(batch *synapse.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches[batch.ID] = pendingBatch{batch: batch, expires: p.now().Add(p.ttl)}
}

// Get returns a live batch; expired batches are dropped on access.
func (p *Pending) Get(id string) (*synapse.Batch, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.batches[id]
	if !ok {
		return nil, false
	}
	if !p.now().Before(entry.expires) {
		delete(p.batches, id)
		return nil, false
	}
	return entry.batch, true
}

func (p *Pending) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.batches, id)
}

// Expire drops every batch past its TTL and returns how many were removed.
func (p *Pending) Expire() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	removed := 0
	for id, entry := range p.batches {
		if !now.Before(entry.expires) {
			delete(p.batches, id)
			removed++
		}
	}
	return removed
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}
