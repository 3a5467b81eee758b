package pipeline

import (
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
)

// ResultSet is the ordered, link-unique collection of items a crawl has
// gathered so far. It is safe for concurrent use.
type ResultSet struct {
	mu    sync.Mutex
	items []*models.Item
	seen  map[string]struct{}

	metrics metrics
}

// NewResultSet returns an empty result set.
func NewResultSet() *ResultSet {
	return &ResultSet{
		seen:    make(map[string]struct{}),
		metrics: newMetrics(),
	}
}

// Add appends item unless its link is already present or it fails
// validation. Rejections are reported as ErrDuplicate or ErrInvalidItem.
func (r *ResultSet) Add(item *models.Item) error {
	if err := parser.ValidateItem(item); err != nil {
		r.metrics.addRejected("invalid_record")
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[item.Link]; ok {
		r.metrics.addRejected("duplicate_link")
		return ErrDuplicate
	}
	r.seen[item.Link] = struct{}{}
	r.items = append(r.items, item)
	r.metrics.incrementAccepted()
	return nil
}

// Contains reports whether an item with link has been added.
func (r *ResultSet) Contains(link string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[link]
	return ok
}

// Items returns a copy of the items in insertion order.
func (r *ResultSet) Items() []*models.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Item, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of items.
func (r *ResultSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// SetMetrics counts what Add accepted and rejected. Rejected is keyed by
// reason: "invalid_record" or "duplicate_link".
type SetMetrics struct {
	Accepted int64
	Rejected map[string]int
}

// GetMetrics returns a snapshot of the accept/reject counters.
func (r *ResultSet) GetMetrics() SetMetrics {
	return r.metrics.snapshot()
}

type metrics struct {
	mu       sync.Mutex
	accepted int64
	rejected map[string]int
}

func newMetrics() metrics {
	return metrics{
		rejected: make(map[string]int),
	}
}

func (m *metrics) incrementAccepted() {
	m.mu.Lock()
	m.accepted++
	m.mu.Unlock()
}

func (m *metrics) addRejected(kind string) {
	m.mu.Lock()
	m.rejected[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() SetMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	rejected := make(map[string]int, len(m.rejected))
	for k, v := range m.rejected {
		rejected[k] = v
	}
	return SetMetrics{Accepted: m.accepted, Rejected: rejected}
}
