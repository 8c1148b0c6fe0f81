// Package provider fetches quotes and historical bars from external market
// data sources behind one interface. The adapter composes a primary and a
// fallback provider, classifies failures, and keeps per-provider token
// buckets so an exhausted quota reroutes instead of burning calls.
package provider

import (
	"context"
	"time"

	"github.com/tgrady/market-risk-service/internal/models"
)

// Provider is one external market-data source. Implementations normalize
// their wire format into PriceBar/PriceSeries and translate provider-specific
// failure signals into the errs taxonomy.
type Provider interface {
	// FetchHistory returns daily bars for the inclusive date range, ascending
	// by date.
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error)
	// FetchQuote returns the most recent daily bar for the symbol.
	FetchQuote(ctx context.Context, symbol string) (models.PriceBar, error)
	Name() string
}
