package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tgrady/market-risk-service/internal/errs"
	"github.com/tgrady/market-risk-service/internal/models"
	"github.com/tgrady/market-risk-service/internal/provider"
)

// recentBarWindow is how far back from today a coverage end still counts as
// "recent": within it the latest bar may be a partial trading day and is
// refetched once its TTL lapses. Three days spans a weekend. Anything older
// is a closed bar and is never refetched.
const recentBarWindow = 3 * 24 * time.Hour

// cachedSeries is the memory-tier value for a symbol's bars. Start/End
// record the resolved range, which can be wider than the bars themselves
// (weekends and holidays produce no bars).
type cachedSeries struct {
	Series models.PriceSeries
	Start  time.Time
	End    time.Time
}

// GetHistoricalSeries returns daily bars for [start, end] inclusive, walking
// memory, the persistent store and the provider adapter in that order. A
// partial store hit fetches only the missing sub-ranges. When the provider
// fails and stored bars exist, the stored bars are served annotated as
// stale rather than failing the request.
func (o *Orchestrator) GetHistoricalSeries(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return models.PriceSeries{}, err
	}
	start = dayOf(start)
	end = dayOf(end)
	if err := provider.ValidateRange(start, end); err != nil {
		return models.PriceSeries{}, err
	}
	if today := dayOf(o.now()); end.After(today) {
		end = today
	}

	if v, ok := o.memory.Get(seriesKey(sym)); ok {
		cs := v.(cachedSeries)
		if !cs.Start.After(start) && !cs.End.Before(end) {
			return cs.Series.Slice(start, end), nil
		}
	}

	gkey := fmt.Sprintf("series:%s:%s:%s", sym, start.Format("2006-01-02"), end.Format("2006-01-02"))
	ch := o.group.DoChan(gkey, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.FetchTimeout)
		defer cancel()
		return o.resolveSeries(fctx, sym, start, end)
	})

	select {
	case <-ctx.Done():
		return models.PriceSeries{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.PriceSeries{}, res.Err
		}
		return res.Val.(models.PriceSeries), nil
	}
}

// resolveSeries runs under singleflight: exactly one goroutine per
// symbol/range executes it at a time. It holds no cache lock while the
// provider call is in flight.
func (o *Orchestrator) resolveSeries(ctx context.Context, sym string, start, end time.Time) (models.PriceSeries, error) {
	cov, err := o.store.GetCoverage(sym)
	if err != nil {
		return models.PriceSeries{}, fmt.Errorf("loading coverage for %s: %w", sym, err)
	}

	gaps := o.planGaps(cov, start, end)
	if len(gaps) == 0 {
		series, err := o.loadStored(sym, start, end)
		if err != nil {
			return models.PriceSeries{}, err
		}
		o.memory.Set(seriesKey(sym), cachedSeries{Series: series, Start: start, End: end}, models.TTLHistorical)
		return series, nil
	}

	var fetchErr error
	var fetched []models.PriceBar
	for _, g := range gaps {
		s, err := o.fetcher.FetchHistory(ctx, sym, g.Start, g.End)
		atomic.AddInt64(&o.providerCalls, 1)
		if err != nil {
			fetchErr = err
			break
		}
		fetched = append(fetched, s.Bars...)
	}

	if fetchErr != nil {
		return o.staleFallback(sym, start, end, fetchErr)
	}

	now := o.now().UTC()
	for i := range fetched {
		fetched[i].FetchedAt = now
	}
	if len(fetched) > 0 {
		if err := o.store.UpsertBars(fetched, o.opts.Overwrite); err != nil {
			return models.PriceSeries{}, fmt.Errorf("storing %d bars for %s: %w", len(fetched), sym, err)
		}
		// The backing bars changed; analysis results computed over the old
		// values must not outlive them.
		o.dropAnalysis(ctx, sym)
	}
	// Coverage extends over the requested range even when the provider
	// returned fewer bars: non-trading days are legitimately empty.
	covStart, covEnd := start, end
	if cov != nil {
		if cov.Start.Before(covStart) {
			covStart = dayOf(cov.Start)
		}
		if cov.End.After(covEnd) {
			covEnd = dayOf(cov.End)
		}
	}
	if err := o.store.ExtendCoverage(sym, covStart, covEnd, now); err != nil {
		return models.PriceSeries{}, fmt.Errorf("extending coverage for %s: %w", sym, err)
	}

	o.publish(models.DataEvent{EventType: models.EventProviderFetch, Symbol: sym, Count: len(fetched)})

	series, err := o.loadStored(sym, start, end)
	if err != nil {
		return models.PriceSeries{}, err
	}
	o.memory.Set(seriesKey(sym), cachedSeries{Series: series, Start: start, End: end}, models.TTLHistorical)
	return series, nil
}

func (o *Orchestrator) loadStored(sym string, start, end time.Time) (models.PriceSeries, error) {
	bars, err := o.store.GetSeries(sym, start, end)
	if err != nil {
		return models.PriceSeries{}, fmt.Errorf("reading stored bars for %s: %w", sym, err)
	}
	if len(bars) == 0 {
		return models.PriceSeries{}, &errs.NotFoundError{Symbol: sym}
	}
	series := models.PriceSeries{Symbol: sym, Bars: bars}
	series.Normalize()
	return series, nil
}

func (o *Orchestrator) staleFallback(sym string, start, end time.Time, fetchErr error) (models.PriceSeries, error) {
	bars, err := o.store.GetSeries(sym, start, end)
	if err != nil || len(bars) == 0 {
		return models.PriceSeries{}, fetchErr
	}
	series := models.PriceSeries{
		Symbol:       sym,
		Bars:         bars,
		Stale:        true,
		StaleWarning: fmt.Sprintf("refresh failed, serving stored data: %v", fetchErr),
	}
	series.Normalize()
	atomic.AddInt64(&o.staleServes, 1)
	o.publish(models.DataEvent{EventType: models.EventStaleServed, Symbol: sym, Detail: fetchErr.Error(), Count: len(bars)})
	return series, nil
}

// planGaps returns the date ranges that must be fetched to satisfy
// [start, end] given current coverage. Gaps bridge to the coverage edges so
// coverage stays a single contiguous interval. A covered range whose end is
// recent and whose last fetch has outlived the historical TTL gets its tail
// day refetched; closed bars further back never do.
func (o *Orchestrator) planGaps(cov *Coverage, start, end time.Time) []models.DateRange {
	if cov == nil {
		return []models.DateRange{{Start: start, End: end}}
	}
	covStart := dayOf(cov.Start)
	covEnd := dayOf(cov.End)

	var gaps []models.DateRange
	if start.Before(covStart) {
		gaps = append(gaps, models.DateRange{Start: start, End: covStart.AddDate(0, 0, -1)})
	}
	if end.After(covEnd) {
		gaps = append(gaps, models.DateRange{Start: covEnd.AddDate(0, 0, 1), End: end})
	}

	now := o.now()
	tailStale := now.Sub(cov.LastFetchedAt) > o.opts.TTLs.TTL(models.TTLHistorical)
	tailRecent := now.Sub(covEnd) < recentBarWindow
	tailRequested := !end.Before(covEnd)
	if tailStale && tailRecent && tailRequested {
		gaps = append(gaps, models.DateRange{Start: covEnd, End: covEnd})
	}

	return mergeRanges(gaps)
}

// mergeRanges collapses overlapping or adjacent day ranges.
func mergeRanges(ranges []models.DateRange) []models.DateRange {
	if len(ranges) < 2 {
		return ranges
	}
	sortRanges(ranges)
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if !r.Start.After(last.End.AddDate(0, 0, 1)) {
			if r.End.After(last.End) {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func sortRanges(ranges []models.DateRange) {
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0 && ranges[j].Start.Before(ranges[j-1].Start); j-- {
			ranges[j], ranges[j-1] = ranges[j-1], ranges[j]
		}
	}
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
