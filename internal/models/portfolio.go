package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tgrady/market-risk-service/internal/errs"
)

// WeightTolerance is the floating-point slack allowed when checking that
// derived weights sum to 1.0.
const WeightTolerance = 1e-6

// Allocation is one (symbol, dollar amount) pair of a portfolio. The engine
// does not own portfolio metadata; allocations arrive from the caller.
type Allocation struct {
	Symbol  string          `json:"symbol"`
	Dollars decimal.Decimal `json:"dollars"`
	// Quantity and CostBasis are optional and only used for P&L.
	Quantity  decimal.Decimal `json:"quantity,omitempty"`
	CostBasis decimal.Decimal `json:"cost_basis,omitempty"`
}

// Weights derives weight_i = dollars_i / sum(dollars) for an allocation set.
// A zero or negative total is a validation failure, not a division by zero.
// Each symbol may appear once: a duplicate row is rejected rather than
// merged, since downstream aggregation keys series by symbol and a merged
// weight applied per row would double-count.
func Weights(allocs []Allocation) (map[string]float64, error) {
	if len(allocs) == 0 {
		return nil, &errs.ValidationError{Field: "allocations", Reason: "empty allocation set"}
	}
	total := decimal.Zero
	seen := make(map[string]bool, len(allocs))
	for _, a := range allocs {
		if a.Symbol == "" {
			return nil, &errs.ValidationError{Field: "allocations", Reason: "allocation with empty symbol"}
		}
		if seen[a.Symbol] {
			return nil, &errs.ValidationError{Field: "allocations", Reason: "duplicate symbol " + a.Symbol}
		}
		seen[a.Symbol] = true
		if a.Dollars.IsNegative() {
			return nil, &errs.ValidationError{Field: "allocations", Reason: "negative dollar amount for " + a.Symbol}
		}
		total = total.Add(a.Dollars)
	}
	if !total.IsPositive() {
		return nil, &errs.ValidationError{Field: "allocations", Reason: "dollar amounts sum to zero"}
	}

	weights := make(map[string]float64, len(allocs))
	sum := 0.0
	for _, a := range allocs {
		w, _ := a.Dollars.Div(total).Float64()
		weights[a.Symbol] = w
		sum += w
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return nil, &errs.ValidationError{Field: "allocations", Reason: "weights do not sum to 1.0"}
	}
	return weights, nil
}

// PositionPL is the unrealized P&L for one allocation at the current quote.
type PositionPL struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	ProfitLoss   decimal.Decimal `json:"profit_loss"`
	AsOf         time.Time       `json:"as_of"`
}
