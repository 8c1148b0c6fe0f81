package analytics

import (
	"math"
	"sort"

	"github.com/tgrady/market-risk-service/internal/models"
)

// AnnualizedVolatility is the sample standard deviation of daily returns
// scaled by sqrt(252). NaN for fewer than two returns.
func AnnualizedVolatility(returns []float64) float64 {
	return sampleStdDev(returns) * math.Sqrt(TradingDaysPerYear)
}

// SharpeRatio is (mean(returns)*252 - riskFreeRate) / volatility. A constant
// price series has zero volatility and an undefined Sharpe: NaN, never a
// division by zero.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	vol := AnnualizedVolatility(returns)
	if math.IsNaN(vol) || vol == 0 {
		return math.NaN()
	}
	return (mean(returns)*TradingDaysPerYear - riskFreeRate) / vol
}

// SortinoRatio is the Sharpe variant penalizing only downside volatility.
// With no negative returns the downside deviation is zero and the ratio is
// undefined.
func SortinoRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	vol := AnnualizedVolatility(downside)
	if math.IsNaN(vol) || vol == 0 {
		return math.NaN()
	}
	return (mean(returns)*TradingDaysPerYear - riskFreeRate) / vol
}

// MaxDrawdown is the most negative peak-to-trough decline of a close series,
// expressed as a negative fraction.
func MaxDrawdown(closes []float64) float64 {
	if len(closes) == 0 {
		return math.NaN()
	}
	peak := closes[0]
	worst := 0.0
	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak > 0 {
			if dd := (c - peak) / peak; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// ValueAtRisk is the historical VaR at the given confidence level: the loss
// not exceeded with that probability, as a positive fraction.
func ValueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) == 0 || confidence <= 0 || confidence >= 1 {
		return math.NaN()
	}
	return -quantile(returns, 1-confidence)
}

// ExpectedShortfall is the mean loss in the tail beyond VaR. NaN when the
// tail is empty.
func ExpectedShortfall(returns []float64, confidence float64) float64 {
	v := ValueAtRisk(returns, confidence)
	if math.IsNaN(v) {
		return math.NaN()
	}
	var tail []float64
	for _, r := range returns {
		if r < -v {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return math.NaN()
	}
	return -mean(tail)
}

// quantile computes the q-th quantile with linear interpolation between
// order statistics.
func quantile(xs []float64, q float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeMetrics assembles the full metric set for one return series.
func ComputeMetrics(closes []float64, riskFreeRate, confidence float64) models.SymbolMetrics {
	returns := DailyReturns(closes)
	return models.SymbolMetrics{
		MeanDailyReturn:   models.Metric(mean(returns)),
		AnnualizedReturn:  models.Metric(mean(returns) * TradingDaysPerYear),
		Volatility:        models.Metric(AnnualizedVolatility(returns)),
		SharpeRatio:       models.Metric(SharpeRatio(returns, riskFreeRate)),
		SortinoRatio:      models.Metric(SortinoRatio(returns, riskFreeRate)),
		MaxDrawdown:       models.Metric(MaxDrawdown(closes)),
		ValueAtRisk:       models.Metric(ValueAtRisk(returns, confidence)),
		ExpectedShortfall: models.Metric(ExpectedShortfall(returns, confidence)),
		SampleSize:        len(returns),
	}
}
