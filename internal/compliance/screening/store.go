package screening

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veridex/screening/pkg/metrics"
)

// Store holds the current watchlist generation for each configured source.
// Reads are lock-free once the snapshot is taken: generations are immutable
// after publication and a refresh replaces the whole slice, so the only
// critical section is the pointer swap itself.
type Store struct {
	mu          sync.RWMutex
	order       []string
	lists       map[string]*SourceList
	lastRefresh time.Time

	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewStore creates a store for the given sources. The slice order is the
// fixed screening priority (e.g. OFAC before UN).
func NewStore(sources []string, logger *zap.SugaredLogger) *Store {
	s := &Store{
		order:  append([]string(nil), sources...),
		lists:  make(map[string]*SourceList, len(sources)),
		logger: logger,
		now:    time.Now,
	}
	for _, src := range s.order {
		s.lists[src] = &SourceList{Source: src}
	}
	return s
}

// Snapshot returns every source's current generation in priority order,
// together with the global last-refresh time. The returned entity slices are
// the live generations; they are never mutated after publication, so callers
// may iterate them without holding any lock.
func (s *Store) Snapshot() ([]SourceList, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lists := make([]SourceList, 0, len(s.order))
	for _, src := range s.order {
		lists = append(lists, *s.lists[src])
	}
	return lists, s.lastRefresh
}

// Replace atomically swaps one source's entity sequence for a new generation.
// Entity addresses are lowercased here so address screening is
// case-insensitive by contract; they are normalized into fresh slices so a
// source that handed over entities still aliasing its own data is never
// mutated. Replace takes ownership of entities; the caller must not retain or
// mutate the slice.
func (s *Store) Replace(source string, entities []SanctionedEntity) {
	for i := range entities {
		if len(entities[i].Addresses) == 0 {
			continue
		}
		addrs := make([]string, len(entities[i].Addresses))
		for j, addr := range entities[i].Addresses {
			addrs[j] = NormalizeAddress(addr)
		}
		entities[i].Addresses = addrs
	}

	gen := &SourceList{
		Source:     source,
		Generation: uuid.New(),
		Entities:   entities,
		UpdatedAt:  s.now(),
	}

	s.mu.Lock()
	if _, known := s.lists[source]; !known {
		s.order = append(s.order, source)
	}
	s.lists[source] = gen
	s.mu.Unlock()

	metrics.WatchlistEntities.WithLabelValues(source).Set(float64(len(entities)))
	s.logger.Infow("watchlist generation replaced",
		"source", source,
		"generation", gen.Generation.String(),
		"entities", len(entities),
	)
}

// MarkRefreshed bumps the global last-refresh timestamp. The scheduler calls
// this after every completed refresh cycle regardless of per-source outcomes,
// which keeps a persistently failing source from triggering an on-demand
// refresh on every request. Per-source staleness remains visible via Status.
func (s *Store) MarkRefreshed() {
	s.mu.Lock()
	s.lastRefresh = s.now()
	s.mu.Unlock()
}

// LastRefreshAge returns the time since the last completed refresh cycle. A
// store that has never refreshed reports a very large age.
func (s *Store) LastRefreshAge() time.Duration {
	s.mu.RLock()
	last := s.lastRefresh
	s.mu.RUnlock()

	if last.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return s.now().Sub(last)
}

// Loaded reports whether any source has ever been successfully loaded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, list := range s.lists {
		if list.Generation != uuid.Nil {
			return true
		}
	}
	return false
}

// Status reports per-source refresh state in priority order.
func (s *Store) Status() []SourceStatus {
	lists, _ := s.Snapshot()

	statuses := make([]SourceStatus, 0, len(lists))
	for _, list := range lists {
		st := SourceStatus{
			Source:   list.Source,
			Entities: len(list.Entities),
		}
		if list.Generation != uuid.Nil {
			st.Generation = list.Generation.String()
			st.LastSuccess = list.UpdatedAt
		}
		statuses = append(statuses, st)
	}
	return statuses
}
