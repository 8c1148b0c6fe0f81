package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/tgrady/market-risk-service/internal/analytics"
	"github.com/tgrady/market-risk-service/internal/models"
	"github.com/tgrady/market-risk-service/internal/provider"
)

// GetLiveQuote returns the most recent bar for a symbol. A memory hit inside
// the live TTL is served directly; otherwise the provider is asked. When the
// provider fails and a stored bar exists, that bar is returned with stale set.
func (o *Orchestrator) GetLiveQuote(ctx context.Context, symbol string) (models.PriceBar, bool, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return models.PriceBar{}, false, err
	}

	if v, ok := o.memory.Get(quoteKey(sym)); ok {
		return v.(models.PriceBar), false, nil
	}

	ch := o.group.DoChan(quoteKey(sym), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.FetchTimeout)
		defer cancel()

		bar, err := o.fetcher.FetchQuote(fctx, sym)
		atomic.AddInt64(&o.providerCalls, 1)
		if err == nil {
			o.memory.Set(quoteKey(sym), bar, models.TTLLive)
			o.publish(models.DataEvent{EventType: models.EventProviderFetch, Symbol: sym, Detail: "quote", Count: 1})
			return quoteResult{bar: bar}, nil
		}

		latest, storeErr := o.store.GetLatestBar(sym)
		if storeErr != nil || latest == nil {
			return quoteResult{}, err
		}
		atomic.AddInt64(&o.staleServes, 1)
		o.publish(models.DataEvent{EventType: models.EventStaleServed, Symbol: sym, Detail: err.Error(), Count: 1})
		return quoteResult{bar: *latest, stale: true}, nil
	})

	select {
	case <-ctx.Done():
		return models.PriceBar{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.PriceBar{}, false, res.Err
		}
		qr := res.Val.(quoteResult)
		return qr.bar, qr.stale, nil
	}
}

type quoteResult struct {
	bar   models.PriceBar
	stale bool
}

// GetSymbolMetrics computes (or returns cached) risk metrics for one symbol
// over a date range.
func (o *Orchestrator) GetSymbolMetrics(ctx context.Context, symbol string, start, end time.Time) (*models.AnalysisResult, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	req := models.AnalysisRequest{
		Symbols:      []string{sym},
		Range:        models.DateRange{Start: dayOf(start), End: dayOf(end)},
		RiskFreeRate: o.opts.RiskFreeRate,
		Confidence:   o.opts.Confidence,
	}
	return o.resolveAnalysis(ctx, req, nil)
}

// GetPortfolioMetrics computes (or returns cached) weighted portfolio risk
// metrics for an allocation set over a date range.
func (o *Orchestrator) GetPortfolioMetrics(ctx context.Context, allocs []models.Allocation, start, end time.Time) (*models.AnalysisResult, error) {
	normalized := make([]models.Allocation, len(allocs))
	for i, a := range allocs {
		sym, err := provider.NormalizeSymbol(a.Symbol)
		if err != nil {
			return nil, err
		}
		a.Symbol = sym
		normalized[i] = a
	}
	weights, err := models.Weights(normalized)
	if err != nil {
		return nil, err
	}

	req := models.AnalysisRequest{
		Range:        models.DateRange{Start: dayOf(start), End: dayOf(end)},
		RiskFreeRate: o.opts.RiskFreeRate,
		Confidence:   o.opts.Confidence,
	}
	for _, a := range normalized {
		req.Symbols = append(req.Symbols, a.Symbol)
		d, _ := a.Dollars.Float64()
		req.Dollars = append(req.Dollars, d)
	}
	return o.resolveAnalysis(ctx, req, weights)
}

// resolveAnalysis walks memory, the persistent analysis tier and finally a
// fresh computation over resolved series. Results backed by stale series are
// returned but never persisted, so a later request can recover fresh data.
func (o *Orchestrator) resolveAnalysis(ctx context.Context, req models.AnalysisRequest, weights map[string]float64) (*models.AnalysisResult, error) {
	fp := req.Fingerprint()

	if v, ok := o.memory.Get(analysisKey(fp)); ok {
		return v.(*models.AnalysisResult), nil
	}
	if o.analysis != nil {
		cached, err := o.analysis.Get(ctx, fp)
		if err != nil {
			log.Printf("analysis cache read failed for %s: %v", fp, err)
		} else if cached != nil {
			o.memory.Set(analysisKey(fp), cached, models.TTLAnalysis)
			return cached, nil
		}
	}

	ch := o.group.DoChan(analysisKey(fp), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.FetchTimeout)
		defer cancel()
		return o.computeAnalysis(fctx, req, fp, weights)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.AnalysisResult), nil
	}
}

func (o *Orchestrator) computeAnalysis(ctx context.Context, req models.AnalysisRequest, fp string, weights map[string]float64) (*models.AnalysisResult, error) {
	series := make([]models.PriceSeries, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		s, err := o.GetHistoricalSeries(ctx, sym, req.Range.Start, req.Range.End)
		if err != nil {
			return nil, fmt.Errorf("resolving series for %s: %w", sym, err)
		}
		series = append(series, s)
	}

	result := analytics.Run(series, weights, req.RiskFreeRate, req.Confidence)
	result.Key = fp
	result.ComputedAt = o.now().UTC()

	// Stale-backed results are served but never cached: the next request
	// should get a chance to recover fresh data.
	if !result.Stale {
		o.memory.Set(analysisKey(fp), result, models.TTLAnalysis)
		if o.analysis != nil {
			if err := o.analysis.Put(ctx, result, req.Symbols); err != nil {
				log.Printf("analysis cache write failed for %s: %v", fp, err)
			}
		}
	}
	return result, nil
}

// GetPortfolioPL returns the unrealized profit and loss per allocation at the
// current quote. Quotes resolve through the live-quote path, so a provider
// outage degrades to the latest stored bar per symbol.
func (o *Orchestrator) GetPortfolioPL(ctx context.Context, allocs []models.Allocation) ([]models.PositionPL, bool, error) {
	positions := make([]models.PositionPL, 0, len(allocs))
	anyStale := false
	for _, a := range allocs {
		quote, stale, err := o.GetLiveQuote(ctx, a.Symbol)
		if err != nil {
			return nil, false, fmt.Errorf("quoting %s: %w", a.Symbol, err)
		}
		anyStale = anyStale || stale
		positions = append(positions, analytics.UnrealizedPL(quote, a))
	}
	return positions, anyStale, nil
}
