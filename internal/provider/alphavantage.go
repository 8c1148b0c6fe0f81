package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tgrady/market-risk-service/internal/errs"
	"github.com/tgrady/market-risk-service/internal/models"
)

// AlphaVantage is the professional primary provider. Free-tier quota is tiny
// (25 requests/day), which is exactly why the adapter's token bucket and
// fallback routing exist.
type AlphaVantage struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewAlphaVantage creates an Alpha Vantage client.
func NewAlphaVantage(apiKey string, timeout time.Duration) *AlphaVantage {
	return &AlphaVantage{
		client:  &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: "https://www.alphavantage.co/query",
	}
}

func (p *AlphaVantage) Name() string { return "alphavantage" }

// avDaily is the TIME_SERIES_DAILY response shape.
type avDaily struct {
	ErrorMessage string                       `json:"Error Message"`
	Note         string                       `json:"Note"`
	Information  string                       `json:"Information"`
	Series       map[string]map[string]string `json:"Time Series (Daily)"`
}

// avQuote is the GLOBAL_QUOTE response shape.
type avQuote struct {
	ErrorMessage string            `json:"Error Message"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
	Quote        map[string]string `json:"Global Quote"`
}

func (p *AlphaVantage) get(ctx context.Context, params url.Values, out interface{}) error {
	params.Set("apikey", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("alphavantage build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &errs.TransientError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.TransientError{Provider: p.Name(), Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &errs.RateLimitedError{Provider: p.Name()}
	case resp.StatusCode >= 500:
		return &errs.TransientError{Provider: p.Name(), Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("alphavantage: status %d: %s", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		// Garbled payload from an otherwise healthy endpoint; retryable.
		return &errs.TransientError{Provider: p.Name(), Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// classifyAPIError maps Alpha Vantage in-band error fields to the taxonomy.
// "Note"/"Information" carry the quota message; "Error Message" means the
// symbol is unknown.
func (p *AlphaVantage) classifyAPIError(errorMessage, note, information, symbol string) error {
	if errorMessage != "" {
		return &errs.NotFoundError{Symbol: symbol}
	}
	if msg := note + information; msg != "" {
		if strings.Contains(strings.ToLower(msg), "rate limit") || strings.Contains(msg, "25 requests per day") {
			return &errs.RateLimitedError{Provider: p.Name(), RetryAfter: 24 * time.Hour}
		}
		return &errs.TransientError{Provider: p.Name(), Err: fmt.Errorf("api note: %s", msg)}
	}
	return nil
}

// FetchHistory fetches daily bars via TIME_SERIES_DAILY and trims to the
// requested range. outputsize compact covers only the latest ~100 trading
// days, so both a wide span and a start reaching further back than that
// window need full, or the range filter would trim every returned row.
func (p *AlphaVantage) FetchHistory(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error) {
	outputSize := "compact"
	if end.Sub(start) > 120*24*time.Hour || time.Since(start) > 140*24*time.Hour {
		outputSize = "full"
	}
	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY")
	params.Set("symbol", symbol)
	params.Set("outputsize", outputSize)

	var payload avDaily
	if err := p.get(ctx, params, &payload); err != nil {
		return models.PriceSeries{}, err
	}
	if err := p.classifyAPIError(payload.ErrorMessage, payload.Note, payload.Information, symbol); err != nil {
		return models.PriceSeries{}, err
	}
	if len(payload.Series) == 0 {
		return models.PriceSeries{}, &errs.NotFoundError{Symbol: symbol}
	}

	now := time.Now().UTC()
	series := models.PriceSeries{Symbol: symbol}
	for dateStr, fields := range payload.Series {
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if date.Before(start) || date.After(end) {
			continue
		}
		bar, err := parseAVBar(symbol, date, fields)
		if err != nil {
			return models.PriceSeries{}, &errs.TransientError{Provider: p.Name(), Err: err}
		}
		bar.FetchedAt = now
		series.Bars = append(series.Bars, bar)
	}
	series.Normalize()
	return series, nil
}

// FetchQuote fetches the latest trading day's bar via GLOBAL_QUOTE.
func (p *AlphaVantage) FetchQuote(ctx context.Context, symbol string) (models.PriceBar, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	var payload avQuote
	if err := p.get(ctx, params, &payload); err != nil {
		return models.PriceBar{}, err
	}
	if err := p.classifyAPIError(payload.ErrorMessage, payload.Note, payload.Information, symbol); err != nil {
		return models.PriceBar{}, err
	}
	if len(payload.Quote) == 0 {
		return models.PriceBar{}, &errs.NotFoundError{Symbol: symbol}
	}

	q := payload.Quote
	date, err := time.Parse("2006-01-02", q["07. latest trading day"])
	if err != nil {
		date = time.Now().UTC()
	}
	bar := models.PriceBar{Symbol: symbol, Date: date, FetchedAt: time.Now().UTC()}
	for field, dst := range map[string]*decimal.Decimal{
		"02. open":  &bar.Open,
		"03. high":  &bar.High,
		"04. low":   &bar.Low,
		"05. price": &bar.Close,
	} {
		v, err := decimal.NewFromString(q[field])
		if err != nil {
			return models.PriceBar{}, &errs.TransientError{Provider: p.Name(), Err: fmt.Errorf("bad %q: %w", field, err)}
		}
		*dst = v
	}
	if vol, err := decimal.NewFromString(q["06. volume"]); err == nil {
		bar.Volume = vol.IntPart()
	}
	return bar, nil
}

func parseAVBar(symbol string, date time.Time, fields map[string]string) (models.PriceBar, error) {
	bar := models.PriceBar{Symbol: symbol, Date: date}
	for field, dst := range map[string]*decimal.Decimal{
		"1. open":  &bar.Open,
		"2. high":  &bar.High,
		"3. low":   &bar.Low,
		"4. close": &bar.Close,
	} {
		v, err := decimal.NewFromString(fields[field])
		if err != nil {
			return bar, fmt.Errorf("bad %q on %s: %w", field, date.Format("2006-01-02"), err)
		}
		*dst = v
	}
	if vol, err := decimal.NewFromString(fields["5. volume"]); err == nil {
		bar.Volume = vol.IntPart()
	}
	return bar, nil
}
