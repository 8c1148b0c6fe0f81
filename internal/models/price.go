package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar represents one daily OHLCV bar for a symbol. Bars are immutable
// once stored and uniquely identified by (symbol, date).
type PriceBar struct {
	Symbol    string          `json:"symbol"`
	Date      time.Time       `json:"date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	FetchedAt time.Time       `json:"fetched_at,omitempty"`
}

// Day returns the bar's date truncated to midnight UTC. Bars are daily; any
// intraday component from a provider is noise.
func (b PriceBar) Day() time.Time {
	return time.Date(b.Date.Year(), b.Date.Month(), b.Date.Day(), 0, 0, 0, 0, time.UTC)
}

// PriceSeries is an ordered view over stored bars for one symbol. Bars are
// ascending by date with no duplicate dates. Stale is set when the series is
// served past its freshness window because a refresh failed; callers must
// surface it, never drop it.
type PriceSeries struct {
	Symbol       string     `json:"symbol"`
	Bars         []PriceBar `json:"bars"`
	Stale        bool       `json:"stale,omitempty"`
	StaleWarning string     `json:"stale_warning,omitempty"`
}

// Normalize sorts bars ascending by date and drops duplicate dates, keeping
// the last occurrence (later entries are fresher fetches).
func (s *PriceSeries) Normalize() {
	sort.SliceStable(s.Bars, func(i, j int) bool {
		return s.Bars[i].Day().Before(s.Bars[j].Day())
	})
	out := s.Bars[:0]
	for _, b := range s.Bars {
		if n := len(out); n > 0 && out[n-1].Day().Equal(b.Day()) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	s.Bars = out
}

// Start returns the date of the first bar, zero if empty.
func (s *PriceSeries) Start() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[0].Day()
}

// End returns the date of the last bar, zero if empty.
func (s *PriceSeries) End() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[len(s.Bars)-1].Day()
}

// Closes returns the close prices as float64 for analytics.
func (s *PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

// Slice returns the bars within [start, end] as a new series sharing the
// underlying bars.
func (s *PriceSeries) Slice(start, end time.Time) PriceSeries {
	var bars []PriceBar
	for _, b := range s.Bars {
		d := b.Day()
		if d.Before(start) || d.After(end) {
			continue
		}
		bars = append(bars, b)
	}
	return PriceSeries{Symbol: s.Symbol, Bars: bars, Stale: s.Stale, StaleWarning: s.StaleWarning}
}

// DateRange is an inclusive day-granular range.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the number of calendar days the range spans, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}
