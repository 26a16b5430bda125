package screening

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veridex/screening/pkg/metrics"
)

// Scheduler keeps watchlists current: one asynchronous refresh at startup, a
// periodic cycle on a fixed interval, and synchronous on-demand cycles
// requested by the engine when a screening finds the store stale. Only one
// cycle runs at a time per process; on-demand callers that arrive while a
// cycle is in flight wait for it and piggyback on its outcome.
type Scheduler struct {
	store        *Store
	sources      []Source
	interval     time.Duration
	fetchTimeout time.Duration
	logger       *zap.SugaredLogger

	mu sync.Mutex // serializes refresh cycles
}

// NewScheduler creates a refresh scheduler over the given sources. Sources
// failing to fetch keep their previous generation; a cycle is never aborted
// by a single source.
func NewScheduler(store *Store, sources []Source, interval, fetchTimeout time.Duration, logger *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	return &Scheduler{
		store:        store,
		sources:      sources,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// Run drives the startup and periodic refreshes until ctx is cancelled. The
// startup refresh is asynchronous so service readiness is not blocked on
// upstream feeds.
func (s *Scheduler) Run(ctx context.Context) {
	go s.RefreshNow(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping watchlist refresh loop")
			return
		case <-ticker.C:
			s.RefreshNow(ctx)
		}
	}
}

// RefreshNow runs one refresh cycle synchronously. A caller that blocked
// behind an in-flight cycle returns without running another one: the cycle
// that just finished already satisfied its staleness complaint.
func (s *Scheduler) RefreshNow(ctx context.Context) {
	requested := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, lastRefresh := s.store.Snapshot(); lastRefresh.After(requested) {
		return
	}
	s.refresh(ctx)
}

// refresh attempts every source independently. The global last-refresh clock
// is bumped even on partial failure, trading possible staleness on a downed
// source against on-demand refresh storms; per-source last-success stays
// accurate in the store.
func (s *Scheduler) refresh(ctx context.Context) {
	start := time.Now()
	failed := 0

	for _, src := range s.sources {
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		entities, err := src.FetchEntities(fetchCtx)
		cancel()

		if err != nil {
			failed++
			metrics.Refreshes.WithLabelValues(src.ID(), "failure").Inc()
			s.logger.Errorw("watchlist fetch failed, keeping previous generation",
				"source", src.ID(),
				"error", err,
			)
			continue
		}

		s.store.Replace(src.ID(), entities)
		metrics.Refreshes.WithLabelValues(src.ID(), "success").Inc()
	}

	s.store.MarkRefreshed()
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	s.logger.Infow("watchlist refresh cycle completed",
		"sources", len(s.sources),
		"failed", failed,
		"elapsed", time.Since(start),
	)
}
