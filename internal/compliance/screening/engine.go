package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veridex/screening/pkg/metrics"
)

// Cache key layout. Address keys carry the canonical lowercased address,
// name keys the normalized query.
const (
	addressKeyPrefix = "sanctions:"
	nameKeyPrefix    = "sanctions:name:"
)

// FailureMode selects how the engine behaves when no watchlist data is
// available. Open favors availability (a screening always returns a result,
// defaulting to not-sanctioned); closed refuses to screen until at least one
// source has been loaded.
type FailureMode string

const (
	FailOpen   FailureMode = "open"
	FailClosed FailureMode = "closed"
)

// ErrNoWatchlistData is returned in fail-closed mode when screening is
// attempted before any source has ever been loaded.
var ErrNoWatchlistData = errors.New("screening: no watchlist data loaded")

// Config holds the engine's screening parameters.
type Config struct {
	// MatchThreshold is the similarity score a best candidate must strictly
	// exceed for a name match to be declared.
	MatchThreshold float64
	// ReviewThreshold flags declared matches below it as potential false
	// positives needing manual review. Side effect only; the result is
	// unchanged.
	ReviewThreshold float64
	// CacheTTL is the write-through expiry for screening results.
	CacheTTL time.Duration
	// MaxStaleness is the watchlist age past which a cache miss triggers a
	// synchronous refresh before screening.
	MaxStaleness time.Duration
	FailureMode  FailureMode
}

// DefaultConfig mirrors the production screening policy: strict >85 match
// threshold, 95 manual-review line, 24h result TTL and 24h staleness bound.
func DefaultConfig() Config {
	return Config{
		MatchThreshold:  85.0,
		ReviewThreshold: 95.0,
		CacheTTL:        24 * time.Hour,
		MaxStaleness:    24 * time.Hour,
		FailureMode:     FailOpen,
	}
}

// Refresher triggers a watchlist refresh cycle. RefreshNow must coalesce with
// any cycle already in flight rather than start a second one.
type Refresher interface {
	RefreshNow(ctx context.Context)
}

// Engine executes sanctions screenings against the watchlist store, with a
// write-through result cache in front. Screenings run concurrently; there is
// no engine-level lock.
type Engine struct {
	cfg      Config
	store    *Store
	cache    ResultCache
	logger   *zap.SugaredLogger
	now      func() time.Time
	refresh  Refresher
	recorder EventRecorder

	// consecutive cache failures; at two or more the engine reports
	// degraded operation on returned results.
	cacheFailures atomic.Int64
}

// NewEngine creates a screening engine. cache may be nil to run uncached.
func NewEngine(cfg Config, store *Store, cache ResultCache, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// SetRefresher wires the on-demand refresh path. Without one, stale
// watchlists are screened as-is.
func (e *Engine) SetRefresher(r Refresher) { e.refresh = r }

// SetRecorder wires the audit journal. Without one, screenings are not
// journaled.
func (e *Engine) SetRecorder(r EventRecorder) { e.recorder = r }

// ScreenAddress checks a blockchain address against all watchlists by exact
// string match on the lowercased form. Sources are scanned in priority order
// and the first hit wins; multiple list hits are not aggregated.
func (e *Engine) ScreenAddress(ctx context.Context, address string) (ScreeningResult, error) {
	addr := NormalizeAddress(address)
	key := addressKeyPrefix + addr

	if res, ok := e.cacheGet(ctx, key); ok {
		metrics.Screenings.WithLabelValues(KindAddress, "cached").Inc()
		e.record(ctx, KindAddress, addr, res, nil, true)
		return res, nil
	}

	e.ensureFresh(ctx)
	if err := e.checkLoaded(); err != nil {
		return ScreeningResult{}, err
	}

	lists, _ := e.store.Snapshot()
	res := ScreeningResult{ScreenedAt: e.now().UTC()}

	for _, list := range lists {
		for i := range list.Entities {
			entity := &list.Entities[i]
			if entity.HasAddress(addr) {
				res.IsSanctioned = true
				res.MatchScore = 100.0
				res.Lists = []string{list.Source}
				res.Details = fmt.Sprintf("address match against %s (%s)", entity.Name, entity.ID)
				break
			}
		}
		if res.IsSanctioned {
			break
		}
	}

	e.cacheSet(ctx, key, res)
	e.finish(KindAddress, &res)
	e.record(ctx, KindAddress, addr, res, lists, false)
	return res, nil
}

// ScreenName fuzzy-matches a free-text name against every entity name and
// alias on every watchlist and declares a match only when the single best
// similarity strictly exceeds the match threshold. Negative results are
// cached just like positives.
func (e *Engine) ScreenName(ctx context.Context, name string) (ScreeningResult, error) {
	normalized := NormalizeName(name)
	key := nameKeyPrefix + normalized

	if res, ok := e.cacheGet(ctx, key); ok {
		metrics.Screenings.WithLabelValues(KindName, "cached").Inc()
		e.record(ctx, KindName, normalized, res, nil, true)
		return res, nil
	}

	e.ensureFresh(ctx)
	if err := e.checkLoaded(); err != nil {
		return ScreeningResult{}, err
	}

	lists, _ := e.store.Snapshot()
	res := ScreeningResult{ScreenedAt: e.now().UTC()}

	if best, ok := bestNameMatch(normalized, lists); ok && best.score > e.cfg.MatchThreshold {
		res.IsSanctioned = true
		res.MatchScore = best.score
		res.Lists = []string{best.source}
		res.Details = fmt.Sprintf("fuzzy match %.2f%% against %q (%s)", best.score, best.entityName, best.entityID)

		if best.score < e.cfg.ReviewThreshold {
			metrics.PotentialFalsePositives.Inc()
			e.logger.Warnw("potential false positive, manual review recommended",
				"query", normalized,
				"matched_name", best.matchedName,
				"entity_id", best.entityID,
				"source", best.source,
				"score", best.score,
			)
		}
	}

	e.cacheSet(ctx, key, res)
	e.finish(KindName, &res)
	e.record(ctx, KindName, normalized, res, lists, false)
	return res, nil
}

// checkLoaded enforces fail-closed mode. In fail-open mode a bare store just
// screens against nothing and returns a negative result.
func (e *Engine) checkLoaded() error {
	if e.cfg.FailureMode == FailClosed && !e.store.Loaded() {
		return ErrNoWatchlistData
	}
	return nil
}

// ensureFresh triggers a synchronous refresh when the watchlists have aged
// past the staleness bound. This is the only path where refresh latency is
// visible to a caller.
func (e *Engine) ensureFresh(ctx context.Context) {
	if e.refresh == nil {
		return
	}
	if e.store.LastRefreshAge() > e.cfg.MaxStaleness {
		e.refresh.RefreshNow(ctx)
	}
}

func (e *Engine) cacheGet(ctx context.Context, key string) (ScreeningResult, bool) {
	if e.cache == nil {
		return ScreeningResult{}, false
	}

	val, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.noteCacheFailure("get", key, err)
		return ScreeningResult{}, false
	}
	e.cacheFailures.Store(0)
	metrics.CacheOps.WithLabelValues("get", cacheResult(ok)).Inc()
	if !ok {
		return ScreeningResult{}, false
	}

	var res ScreeningResult
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		e.logger.Warnw("discarding undecodable cached screening result", "key", key, "error", err)
		return ScreeningResult{}, false
	}
	return res, true
}

// cacheSet writes the result through unconditionally, hit or miss. Failures
// are soft: logged, counted, never surfaced as screening errors.
func (e *Engine) cacheSet(ctx context.Context, key string, res ScreeningResult) {
	if e.cache == nil {
		return
	}

	payload, err := json.Marshal(res)
	if err != nil {
		e.logger.Errorw("failed to encode screening result for cache", "key", key, "error", err)
		return
	}
	if err := e.cache.SetEx(ctx, key, string(payload), e.cfg.CacheTTL); err != nil {
		e.noteCacheFailure("set", key, err)
		return
	}
	e.cacheFailures.Store(0)
	metrics.CacheOps.WithLabelValues("set", "ok").Inc()
}

func (e *Engine) noteCacheFailure(op, key string, err error) {
	failures := e.cacheFailures.Add(1)
	metrics.CacheOps.WithLabelValues(op, "error").Inc()
	e.logger.Warnw("result cache unavailable, continuing without it",
		"op", op,
		"key", key,
		"consecutive_failures", failures,
		"error", err,
	)
}

// finish applies the degraded marker and outcome metrics to a freshly
// computed result. The marker is set after the write-through so the cached
// copy never carries it.
func (e *Engine) finish(kind string, res *ScreeningResult) {
	if e.cacheFailures.Load() >= 2 {
		res.Degraded = true
	}
	outcome := "clear"
	if res.IsSanctioned {
		outcome = "sanctioned"
	}
	metrics.Screenings.WithLabelValues(kind, outcome).Inc()
}

// record journals the screening best-effort. lists is nil for cache hits.
func (e *Engine) record(ctx context.Context, kind, subject string, res ScreeningResult, lists []SourceList, fromCache bool) {
	if e.recorder == nil {
		return
	}

	ev := Event{
		ID:        uuid.New(),
		Kind:      kind,
		Subject:   subject,
		Result:    res,
		FromCache: fromCache,
	}
	for _, list := range lists {
		if list.Generation != uuid.Nil {
			ev.Generations = append(ev.Generations, list.Generation.String())
		}
	}

	if err := e.recorder.Record(ctx, ev); err != nil {
		e.logger.Warnw("failed to journal screening event",
			"kind", kind,
			"event_id", ev.ID.String(),
			"error", err,
		)
	}
}

func cacheResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
