package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// TTLClass governs the freshness rule the orchestrator applies to a cached
// value.
type TTLClass int

const (
	TTLLive       TTLClass = iota // seconds-to-minutes scale quotes
	TTLHistorical                 // daily bars, most recent trading day only
	TTLAnalysis                   // computed risk metrics
)

func (c TTLClass) String() string {
	switch c {
	case TTLLive:
		return "live"
	case TTLHistorical:
		return "historical"
	case TTLAnalysis:
		return "analysis"
	}
	return "unknown"
}

// Metric is a float64 that marshals NaN and ±Inf as JSON null. The analytics
// engine uses NaN as its undefined sentinel (zero-volatility Sharpe, short
// correlation overlaps); null is the only honest wire encoding for it.
type Metric float64

// Defined reports whether the metric carries a real value.
func (m Metric) Defined() bool {
	v := float64(m)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Defined() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(m))
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Metric(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Metric(v)
	return nil
}

// SymbolMetrics holds the per-series risk statistics.
type SymbolMetrics struct {
	MeanDailyReturn  Metric `json:"mean_daily_return"`
	AnnualizedReturn Metric `json:"annualized_return"`
	Volatility       Metric `json:"volatility"`
	SharpeRatio      Metric `json:"sharpe_ratio"`
	SortinoRatio     Metric `json:"sortino_ratio"`
	MaxDrawdown      Metric `json:"max_drawdown"`
	ValueAtRisk      Metric `json:"value_at_risk"`
	ExpectedShortfall Metric `json:"expected_shortfall"`
	SampleSize       int    `json:"sample_size"`
}

// CorrelationMatrix is a symmetric pairwise Pearson correlation matrix with
// unit diagonal. Values is indexed [i][j] following Symbols order.
type CorrelationMatrix struct {
	Symbols []string   `json:"symbols"`
	Values  [][]Metric `json:"values"`
}

// AnalysisRequest identifies one metrics computation. Identical requests
// fingerprint to the same cache key.
type AnalysisRequest struct {
	Symbols      []string  `json:"symbols"`
	Range        DateRange `json:"range"`
	RiskFreeRate float64   `json:"risk_free_rate"`
	Confidence   float64   `json:"confidence"`
	// Dollars holds the allocation per symbol for portfolio requests,
	// aligned with Symbols. Empty for single-symbol requests.
	Dollars []float64 `json:"dollars,omitempty"`
}

// Fingerprint returns a deterministic key for the request: same symbol set,
// range, allocation and parameters collapse to the same cache row.
func (r AnalysisRequest) Fingerprint() string {
	type pair struct {
		sym string
		amt float64
	}
	pairs := make([]pair, len(r.Symbols))
	for i, s := range r.Symbols {
		p := pair{sym: strings.ToUpper(s)}
		if i < len(r.Dollars) {
			p.amt = r.Dollars[i]
		}
		pairs[i] = p
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].sym < pairs[j].sym })

	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s=%.6f;", p.sym, p.amt)
	}
	fmt.Fprintf(&b, "start=%s;end=%s;rf=%.6f;cl=%.4f",
		r.Range.Start.Format("2006-01-02"), r.Range.End.Format("2006-01-02"),
		r.RiskFreeRate, r.Confidence)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// AnalysisResult is a cached metrics computation. Valid only while the
// backing series sits inside the same TTL window; superseded, never appended,
// on refresh.
type AnalysisResult struct {
	Key          string                   `json:"key"`
	ComputedAt   time.Time                `json:"computed_at"`
	Portfolio    *SymbolMetrics           `json:"portfolio,omitempty"`
	PerSymbol    map[string]SymbolMetrics `json:"per_symbol,omitempty"`
	Correlation  *CorrelationMatrix       `json:"correlation,omitempty"`
	Weights      map[string]float64       `json:"weights,omitempty"`
	Stale        bool                     `json:"stale,omitempty"`
	StaleWarning string                   `json:"stale_warning,omitempty"`
}
