package analytics

import (
	"sort"
	"time"

	"github.com/tgrady/market-risk-service/internal/models"
)

// PortfolioReturns aligns every series on the common date set, computes each
// symbol's daily returns over those dates, and sums them per date weighted by
// allocation. This is the weighted-series volatility input, which is not the
// same thing as averaging per-asset volatilities.
func PortfolioReturns(series []models.PriceSeries, weights map[string]float64) []float64 {
	if len(series) == 0 {
		return nil
	}

	closesBySymbol := make([]map[time.Time]float64, len(series))
	for i, s := range series {
		closesBySymbol[i] = datedCloses(s)
	}

	var common []time.Time
	for d := range closesBySymbol[0] {
		shared := true
		for _, closes := range closesBySymbol[1:] {
			if _, ok := closes[d]; !ok {
				shared = false
				break
			}
		}
		if shared {
			common = append(common, d)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Before(common[j]) })
	if len(common) < 2 {
		return nil
	}

	portfolio := make([]float64, len(common)-1)
	for i, s := range series {
		closes := make([]float64, len(common))
		for j, d := range common {
			closes[j] = closesBySymbol[i][d]
		}
		w := weights[s.Symbol]
		for j, r := range DailyReturns(closes) {
			// DailyReturns only drops observations on a zero close, which
			// cannot shift alignment mid-series for real price data; guard
			// anyway so a short return slice cannot panic.
			if j >= len(portfolio) {
				break
			}
			portfolio[j] += w * r
		}
	}
	return portfolio
}

// metricsFromReturns computes the metric set for a pre-built return series,
// reconstructing a unit-base price path for the drawdown.
func metricsFromReturns(returns []float64, riskFreeRate, confidence float64) models.SymbolMetrics {
	path := make([]float64, len(returns)+1)
	path[0] = 1
	for i, r := range returns {
		path[i+1] = path[i] * (1 + r)
	}
	return models.SymbolMetrics{
		MeanDailyReturn:   models.Metric(mean(returns)),
		AnnualizedReturn:  models.Metric(mean(returns) * TradingDaysPerYear),
		Volatility:        models.Metric(AnnualizedVolatility(returns)),
		SharpeRatio:       models.Metric(SharpeRatio(returns, riskFreeRate)),
		SortinoRatio:      models.Metric(SortinoRatio(returns, riskFreeRate)),
		MaxDrawdown:       models.Metric(MaxDrawdown(path)),
		ValueAtRisk:       models.Metric(ValueAtRisk(returns, confidence)),
		ExpectedShortfall: models.Metric(ExpectedShortfall(returns, confidence)),
		SampleSize:        len(returns),
	}
}

// Run produces the full analysis for a set of resolved series. weights is nil
// for single-symbol analysis; when present the portfolio aggregate is
// computed over the weighted return series.
func Run(series []models.PriceSeries, weights map[string]float64, riskFreeRate, confidence float64) *models.AnalysisResult {
	result := &models.AnalysisResult{
		ComputedAt: time.Now().UTC(),
		PerSymbol:  make(map[string]models.SymbolMetrics, len(series)),
	}
	for _, s := range series {
		result.PerSymbol[s.Symbol] = ComputeMetrics(s.Closes(), riskFreeRate, confidence)
		if s.Stale {
			result.Stale = true
			result.StaleWarning = s.StaleWarning
		}
	}
	if len(series) > 1 {
		result.Correlation = Correlation(series)
	}
	if weights != nil {
		portfolio := metricsFromReturns(PortfolioReturns(series, weights), riskFreeRate, confidence)
		result.Portfolio = &portfolio
		result.Weights = weights
	}
	return result
}

// UnrealizedPL computes current_price * quantity - cost_basis for one
// allocation at the given quote.
func UnrealizedPL(quote models.PriceBar, alloc models.Allocation) models.PositionPL {
	market := quote.Close.Mul(alloc.Quantity)
	return models.PositionPL{
		Symbol:       alloc.Symbol,
		Quantity:     alloc.Quantity,
		CostBasis:    alloc.CostBasis,
		CurrentPrice: quote.Close,
		MarketValue:  market,
		ProfitLoss:   market.Sub(alloc.CostBasis),
		AsOf:         quote.Date,
	}
}
