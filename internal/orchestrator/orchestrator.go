// Package orchestrator is the control center of the engine: every data
// request walks memory, then the persistent store, then the provider
// adapter, with freshness policy applied at each step and results written
// back up the chain. No cache lock is ever held across a provider round
// trip, and concurrent requests for the same missing key coalesce into one
// upstream call.
package orchestrator

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tgrady/market-risk-service/internal/cache"
	"github.com/tgrady/market-risk-service/internal/database"
	"github.com/tgrady/market-risk-service/internal/models"
)

// Coverage mirrors the store's per-symbol contiguous covered interval.
type Coverage = database.Coverage

// PriceStore is the persistent bar store (Postgres in production).
type PriceStore interface {
	GetCoverage(symbol string) (*database.Coverage, error)
	ExtendCoverage(symbol string, start, end, fetchedAt time.Time) error
	ClearCoverage(symbol string) (int64, error)
	ClearAllCoverage() (int64, error)
	GetSeries(symbol string, start, end time.Time) ([]models.PriceBar, error)
	UpsertBars(bars []models.PriceBar, overwrite bool) error
	GetLatestBar(symbol string) (*models.PriceBar, error)
}

// Fetcher is the provider adapter.
type Fetcher interface {
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error)
	FetchQuote(ctx context.Context, symbol string) (models.PriceBar, error)
}

// AnalysisCache is the persistent analysis-result tier (Redis in
// production).
type AnalysisCache interface {
	Get(ctx context.Context, fingerprint string) (*models.AnalysisResult, error)
	Put(ctx context.Context, result *models.AnalysisResult, symbols []string) error
	InvalidateSymbol(ctx context.Context, symbol string) (int, error)
	InvalidateAll(ctx context.Context) (int, error)
}

// Auditor publishes data-path audit events. Best effort: failures are
// logged, never propagated into the data path.
type Auditor interface {
	Publish(ctx context.Context, event models.DataEvent) error
}

// Options tunes the orchestrator.
type Options struct {
	TTLs TTLs
	// Overwrite selects the merge policy on conflicting bar values for the
	// same date: true means the freshest fetch wins, false keeps stored.
	Overwrite bool
	// FetchTimeout bounds a shared provider fetch once detached from its
	// originating request.
	FetchTimeout time.Duration
	RiskFreeRate float64
	Confidence   float64
}

// TTLs are the freshness windows per class.
type TTLs = cache.TTLConfig

// Orchestrator implements the engine contract.
type Orchestrator struct {
	store    PriceStore
	fetcher  Fetcher
	memory   *cache.Memory
	analysis AnalysisCache
	audit    Auditor

	opts  Options
	group singleflight.Group
	now   func() time.Time

	staleServes   int64
	providerCalls int64
}

// New wires the orchestrator. audit may be nil.
func New(store PriceStore, fetcher Fetcher, memory *cache.Memory, analysis AnalysisCache, audit Auditor, opts Options) *Orchestrator {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 60 * time.Second
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = 0.95
	}
	return &Orchestrator{
		store:    store,
		fetcher:  fetcher,
		memory:   memory,
		analysis: analysis,
		audit:    audit,
		opts:     opts,
		now:      time.Now,
	}
}

func (o *Orchestrator) publish(event models.DataEvent) {
	if o.audit == nil {
		return
	}
	event.Timestamp = o.now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.audit.Publish(ctx, event); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

// Stats reports cumulative counters: memory hits/misses, stale serves and
// provider calls.
func (o *Orchestrator) Stats() map[string]int64 {
	hits, misses := o.memory.Stats()
	return map[string]int64{
		"memory_hits":    hits,
		"memory_misses":  misses,
		"stale_serves":   atomic.LoadInt64(&o.staleServes),
		"provider_calls": atomic.LoadInt64(&o.providerCalls),
	}
}

// dropAnalysis removes cached analysis results after a symbol's backing bars
// change. Memory fingerprints are opaque, so the whole analysis prefix goes.
func (o *Orchestrator) dropAnalysis(ctx context.Context, symbol string) {
	o.memory.DeletePrefix("analysis:")
	if o.analysis != nil {
		if _, err := o.analysis.InvalidateSymbol(ctx, symbol); err != nil {
			log.Printf("analysis invalidation for %s failed: %v", symbol, err)
		}
	}
}

// InvalidateSymbol clears every cache tier for one symbol and returns the
// number of entries cleared. Stored bars are cache-backing data, not cache
// entries: they stay.
func (o *Orchestrator) InvalidateSymbol(ctx context.Context, symbol string) (int, error) {
	count := o.memory.DeletePrefix(seriesKey(symbol))
	count += o.memory.DeletePrefix(quoteKey(symbol))
	// Analysis fingerprints are opaque in memory; drop them all rather than
	// risk serving a result backed by the invalidated symbol.
	count += o.memory.DeletePrefix("analysis:")

	n, err := o.store.ClearCoverage(symbol)
	if err != nil {
		return count, err
	}
	count += int(n)

	if o.analysis != nil {
		removed, err := o.analysis.InvalidateSymbol(ctx, symbol)
		if err != nil {
			return count, err
		}
		count += removed
	}

	o.publish(models.DataEvent{EventType: models.EventCacheInvalidated, Symbol: symbol, Count: count})
	return count, nil
}

// InvalidateAll clears every cache tier.
func (o *Orchestrator) InvalidateAll(ctx context.Context) (int, error) {
	count := o.memory.Purge()

	n, err := o.store.ClearAllCoverage()
	if err != nil {
		return count, err
	}
	count += int(n)

	if o.analysis != nil {
		removed, err := o.analysis.InvalidateAll(ctx)
		if err != nil {
			return count, err
		}
		count += removed
	}

	o.publish(models.DataEvent{EventType: models.EventCacheInvalidated, Detail: "all", Count: count})
	return count, nil
}

func seriesKey(symbol string) string { return "series:" + symbol }
func quoteKey(symbol string) string  { return "quote:" + symbol }
func analysisKey(fp string) string   { return "analysis:" + fp }
