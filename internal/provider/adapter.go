package provider

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tgrady/market-risk-service/internal/errs"
	"github.com/tgrady/market-risk-service/internal/models"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.^-]{1,10}$`)

// NormalizeSymbol uppercases and validates a ticker symbol. Invalid input
// fails fast and never reaches a provider.
func NormalizeSymbol(symbol string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return "", &errs.ValidationError{Field: "symbol", Reason: "empty"}
	}
	if !symbolPattern.MatchString(sym) {
		return "", &errs.ValidationError{Field: "symbol", Reason: "malformed symbol " + symbol}
	}
	return sym, nil
}

// ValidateRange checks date-range ordering and sanity.
func ValidateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return &errs.ValidationError{Field: "range", Reason: "start and end are required"}
	}
	if end.Before(start) {
		return &errs.ValidationError{Field: "range", Reason: "end before start"}
	}
	return nil
}

// Adapter fronts a primary and a fallback provider. Transient and
// rate-limited primary failures fall through to the fallback within the same
// logical request; an empty primary token bucket reroutes proactively so no
// quota is wasted on a call that would fail anyway.
type Adapter struct {
	primary  Provider
	fallback Provider
	limiters map[string]*rate.Limiter

	// OnFetch, when set, observes every provider attempt. Used for audit
	// events; must not block.
	OnFetch func(providerName, operation, symbol string, err error)
}

// NewAdapter builds the fallback chain. Limits are per provider name.
func NewAdapter(primary, fallback Provider, limits map[string]*rate.Limiter) *Adapter {
	if limits == nil {
		limits = map[string]*rate.Limiter{}
	}
	return &Adapter{primary: primary, fallback: fallback, limiters: limits}
}

// candidates returns providers in attempt order plus the names of providers
// skipped for an empty bucket. A skipped provider was never asked about the
// symbol, which matters when deciding whether a miss is permanent.
func (a *Adapter) candidates() ([]Provider, []string) {
	order := []Provider{a.primary, a.fallback}
	out := make([]Provider, 0, len(order))
	var skipped []string
	for _, p := range order {
		if p == nil {
			continue
		}
		if lim, ok := a.limiters[p.Name()]; ok && !lim.Allow() {
			log.Printf("provider %s bucket empty, rerouting", p.Name())
			skipped = append(skipped, p.Name())
			continue
		}
		out = append(out, p)
	}
	return out, skipped
}

func (a *Adapter) observe(p Provider, op, symbol string, err error) {
	if a.OnFetch != nil {
		a.OnFetch(p.Name(), op, symbol, err)
	}
}

// retryable reports whether the next provider should be tried. NotFound is
// retried on the other provider (permanent only when both miss); validation
// errors never are.
func retryable(err error) bool {
	return errs.IsTransient(err) || errs.IsRateLimited(err) || errs.IsNotFound(err)
}

// surface translates the terminal error of the chain into the taxonomy so no
// raw provider failure escapes. NotFound is permanent and is declared only
// when every configured provider was actually asked; a miss with a throttled
// provider still unconsulted stays retryable.
func surface(symbol string, lastErr error, allNotFound bool, attempts int, skipped []string) error {
	if attempts == 0 {
		// Every bucket was empty.
		return &errs.RateLimitedError{Provider: "all"}
	}
	if allNotFound {
		if len(skipped) > 0 {
			return &errs.RateLimitedError{Provider: strings.Join(skipped, ",")}
		}
		return &errs.NotFoundError{Symbol: symbol}
	}
	if errs.IsTransient(lastErr) || errs.IsRateLimited(lastErr) || errs.IsNotFound(lastErr) {
		return lastErr
	}
	return &errs.TransientError{Provider: "adapter", Err: lastErr}
}

func (a *Adapter) Name() string { return "adapter" }

// FetchHistory resolves daily bars through the fallback chain.
func (a *Adapter) FetchHistory(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return models.PriceSeries{}, err
	}
	if err := ValidateRange(start, end); err != nil {
		return models.PriceSeries{}, err
	}

	var lastErr error
	allNotFound := true
	providers, skipped := a.candidates()
	for _, p := range providers {
		series, err := p.FetchHistory(ctx, sym, start, end)
		a.observe(p, "history", sym, err)
		if err == nil {
			return series, nil
		}
		log.Printf("provider %s history %s failed: %v", p.Name(), sym, err)
		if !errs.IsNotFound(err) {
			allNotFound = false
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		if ctx.Err() != nil {
			return models.PriceSeries{}, ctx.Err()
		}
	}
	return models.PriceSeries{}, surface(sym, lastErr, allNotFound, len(providers), skipped)
}

// FetchQuote resolves the latest bar through the fallback chain.
func (a *Adapter) FetchQuote(ctx context.Context, symbol string) (models.PriceBar, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return models.PriceBar{}, err
	}

	var lastErr error
	allNotFound := true
	providers, skipped := a.candidates()
	for _, p := range providers {
		bar, err := p.FetchQuote(ctx, sym)
		a.observe(p, "quote", sym, err)
		if err == nil {
			return bar, nil
		}
		log.Printf("provider %s quote %s failed: %v", p.Name(), sym, err)
		if !errs.IsNotFound(err) {
			allNotFound = false
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		if ctx.Err() != nil {
			return models.PriceBar{}, ctx.Err()
		}
	}
	return models.PriceBar{}, surface(sym, lastErr, allNotFound, len(providers), skipped)
}
