// Package analytics computes risk statistics over price series. Everything
// here is pure: no I/O, deterministic for identical inputs. Undefined values
// are reported as NaN, never as a silent zero or a panic.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/tgrady/market-risk-service/internal/models"
)

// TradingDaysPerYear is the annualization factor for daily bars.
const TradingDaysPerYear = 252

// DailyReturns computes (close[t] - close[t-1]) / close[t-1] over a close
// series. A zero previous close makes that return undefined; it is excluded,
// not emitted as zero, so n bars yield at most n-1 returns.
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, (closes[i]-prev)/prev)
	}
	return returns
}

// datedCloses maps each bar day to its close price.
func datedCloses(s models.PriceSeries) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(s.Bars))
	for _, b := range s.Bars {
		c, _ := b.Close.Float64()
		out[b.Day()] = c
	}
	return out
}

// alignedReturns inner-joins two series on date and returns their daily
// return series over the common dates only.
func alignedReturns(a, b models.PriceSeries) ([]float64, []float64) {
	closesA := datedCloses(a)
	closesB := datedCloses(b)

	var common []time.Time
	for d := range closesA {
		if _, ok := closesB[d]; ok {
			common = append(common, d)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Before(common[j]) })

	seqA := make([]float64, len(common))
	seqB := make([]float64, len(common))
	for i, d := range common {
		seqA[i] = closesA[d]
		seqB[i] = closesB[d]
	}
	return DailyReturns(seqA), DailyReturns(seqB)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev is the n-1 denominator standard deviation.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
