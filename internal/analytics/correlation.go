package analytics

import (
	"math"

	"github.com/tgrady/market-risk-service/internal/models"
)

// MinCorrelationOverlap is the minimum number of overlapping daily returns
// required before a pairwise correlation is reported. Shorter overlaps are
// statistically meaningless and come back as NaN.
const MinCorrelationOverlap = 30

// Pearson computes the Pearson correlation coefficient of two equal-length
// series. NaN when either side has zero variance or fewer than two points.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return math.NaN()
	}
	meanA, meanB := mean(a), mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varA*varB)
}

// Correlation builds the pairwise correlation matrix for the given series,
// inner-joining each pair on date before computing returns. The matrix is
// symmetric with a unit diagonal by construction; pairs with fewer than
// MinCorrelationOverlap common returns are NaN.
func Correlation(series []models.PriceSeries) *models.CorrelationMatrix {
	n := len(series)
	if n < 2 {
		return nil
	}
	symbols := make([]string, n)
	for i, s := range series {
		symbols[i] = s.Symbol
	}

	values := make([][]models.Metric, n)
	for i := range values {
		values[i] = make([]models.Metric, n)
		values[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			retI, retJ := alignedReturns(series[i], series[j])
			corr := math.NaN()
			if len(retI) >= MinCorrelationOverlap {
				corr = Pearson(retI, retJ)
			}
			values[i][j] = models.Metric(corr)
			values[j][i] = models.Metric(corr)
		}
	}
	return &models.CorrelationMatrix{Symbols: symbols, Values: values}
}
