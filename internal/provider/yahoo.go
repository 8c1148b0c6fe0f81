package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tgrady/market-risk-service/internal/errs"
	"github.com/tgrady/market-risk-service/internal/models"
)

// Yahoo is the consumer-grade fallback provider, backed by the public
// v8 chart API.
type Yahoo struct {
	client  *http.Client
	baseURL string
}

// NewYahoo creates a Yahoo Finance client.
func NewYahoo(timeout time.Duration) *Yahoo {
	return &Yahoo{
		client:  &http.Client{Timeout: timeout},
		baseURL: "https://query1.finance.yahoo.com/v8/finance/chart",
	}
}

func (p *Yahoo) Name() string { return "yahoo" }

// yahooChart is the chart API response shape.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *Yahoo) fetchChart(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", fmt.Sprintf("%d", start.Unix()))
	// period2 is exclusive; push it past the end day to include it.
	params.Set("period2", fmt.Sprintf("%d", end.Add(24*time.Hour).Unix()))

	u := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(symbol), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("yahoo build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &errs.TransientError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.TransientError{Provider: p.Name(), Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &errs.RateLimitedError{Provider: p.Name()}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &errs.NotFoundError{Symbol: symbol}
	case resp.StatusCode >= 500:
		return nil, &errs.TransientError{Provider: p.Name(), Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("yahoo: status %d: %s", resp.StatusCode, body)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, &errs.TransientError{Provider: p.Name(), Err: fmt.Errorf("decode: %w", err)}
	}
	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return nil, &errs.NotFoundError{Symbol: symbol}
		}
		return nil, &errs.TransientError{Provider: p.Name(), Err: fmt.Errorf("api error: %s", chart.Chart.Error.Description)}
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, &errs.NotFoundError{Symbol: symbol}
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, &errs.NotFoundError{Symbol: symbol}
	}
	quote := result.Indicators.Quote[0]

	now := time.Now().UTC()
	bars := make([]models.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o := deref(quote.Open, i)
		h := deref(quote.High, i)
		l := deref(quote.Low, i)
		c := deref(quote.Close, i)
		if o == 0 && h == 0 && l == 0 && c == 0 {
			continue // null bars on holidays
		}
		var vol int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		bars = append(bars, models.PriceBar{
			Symbol:    symbol,
			Date:      time.Unix(ts, 0).UTC(),
			Open:      decimal.NewFromFloat(o),
			High:      decimal.NewFromFloat(h),
			Low:       decimal.NewFromFloat(l),
			Close:     decimal.NewFromFloat(c),
			Volume:    vol,
			FetchedAt: now,
		})
	}
	return bars, nil
}

func deref(xs []*float64, i int) float64 {
	if i >= len(xs) || xs[i] == nil {
		return 0
	}
	return *xs[i]
}

// FetchHistory fetches daily bars for the inclusive range.
func (p *Yahoo) FetchHistory(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error) {
	bars, err := p.fetchChart(ctx, symbol, start, end)
	if err != nil {
		return models.PriceSeries{}, err
	}
	series := models.PriceSeries{Symbol: symbol, Bars: bars}
	series.Normalize()
	// The chart API rounds period boundaries to whole sessions; trim strictly.
	series = series.Slice(
		time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC),
	)
	return series, nil
}

// FetchQuote fetches the latest available daily bar.
func (p *Yahoo) FetchQuote(ctx context.Context, symbol string) (models.PriceBar, error) {
	end := time.Now().UTC()
	bars, err := p.fetchChart(ctx, symbol, end.AddDate(0, 0, -7), end)
	if err != nil {
		return models.PriceBar{}, err
	}
	if len(bars) == 0 {
		return models.PriceBar{}, &errs.NotFoundError{Symbol: symbol}
	}
	return bars[len(bars)-1], nil
}
