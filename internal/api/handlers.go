package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tgrady/market-risk-service/internal/errs"
	"github.com/tgrady/market-risk-service/internal/models"
)

// Engine is the orchestrator surface the handlers call.
type Engine interface {
	GetHistoricalSeries(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error)
	GetLiveQuote(ctx context.Context, symbol string) (models.PriceBar, bool, error)
	GetSymbolMetrics(ctx context.Context, symbol string, start, end time.Time) (*models.AnalysisResult, error)
	GetPortfolioMetrics(ctx context.Context, allocs []models.Allocation, start, end time.Time) (*models.AnalysisResult, error)
	GetPortfolioPL(ctx context.Context, allocs []models.Allocation) ([]models.PositionPL, bool, error)
	InvalidateSymbol(ctx context.Context, symbol string) (int, error)
	InvalidateAll(ctx context.Context) (int, error)
	Stats() map[string]int64
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	engine Engine
}

// NewHandler creates a new Handler
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// GetHistory handles GET /api/v1/history/{symbol}?start=&end=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	start, end, err := parseRange(r)
	if err != nil {
		respondError(w, err)
		return
	}

	series, err := h.engine.GetHistoricalSeries(r.Context(), symbol, start, end)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, series)
}

// GetQuote handles GET /api/v1/quote/{symbol}
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	quote, stale, err := h.engine.GetLiveQuote(r.Context(), symbol)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, quoteResponse{Quote: quote, Stale: stale})
}

type quoteResponse struct {
	Quote models.PriceBar `json:"quote"`
	Stale bool            `json:"stale,omitempty"`
}

// GetSymbolMetrics handles GET /api/v1/metrics/{symbol}?start=&end=
func (h *Handler) GetSymbolMetrics(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	start, end, err := parseRange(r)
	if err != nil {
		respondError(w, err)
		return
	}

	result, err := h.engine.GetSymbolMetrics(r.Context(), symbol, start, end)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type portfolioRequest struct {
	Allocations []models.Allocation `json:"allocations"`
	Start       string              `json:"start"`
	End         string              `json:"end"`
}

// GetPortfolioMetrics handles POST /api/v1/metrics/portfolio
func (h *Handler) GetPortfolioMetrics(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, &errs.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	start, err := parseDate(req.Start, "start")
	if err != nil {
		respondError(w, err)
		return
	}
	end, err := parseDate(req.End, "end")
	if err != nil {
		respondError(w, err)
		return
	}

	result, err := h.engine.GetPortfolioMetrics(r.Context(), req.Allocations, start, end)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetPortfolioPL handles POST /api/v1/portfolio/pnl
func (h *Handler) GetPortfolioPL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Allocations []models.Allocation `json:"allocations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, &errs.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if len(req.Allocations) == 0 {
		respondError(w, &errs.ValidationError{Field: "allocations", Reason: "empty allocation set"})
		return
	}

	positions, stale, err := h.engine.GetPortfolioPL(r.Context(), req.Allocations)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plResponse{Positions: positions, Stale: stale})
}

type plResponse struct {
	Positions []models.PositionPL `json:"positions"`
	Stale     bool                `json:"stale,omitempty"`
}

// InvalidateCache handles DELETE /api/v1/cache?symbol=
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var (
		count int
		err   error
	)
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		count, err = h.engine.InvalidateSymbol(r.Context(), symbol)
	} else {
		count, err = h.engine.InvalidateAll(r.Context())
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"invalidated": count})
}

// GetStats handles GET /api/v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Stats())
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	start, err := parseDate(r.URL.Query().Get("start"), "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDate(r.URL.Query().Get("end"), "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func parseDate(value, field string) (time.Time, error) {
	if value == "" {
		return time.Time{}, &errs.ValidationError{Field: field, Reason: "required, format 2006-01-02"}
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, &errs.ValidationError{Field: field, Reason: fmt.Sprintf("bad date %q, format 2006-01-02", value)}
	}
	return t, nil
}

// respondError maps the error taxonomy onto HTTP status codes. Stale data is
// never an error; it travels as a soft flag on a 200.
func respondError(w http.ResponseWriter, err error) {
	var (
		ve *errs.ValidationError
		nf *errs.NotFoundError
		rl *errs.RateLimitedError
		te *errs.TransientError
	)
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusBadRequest, errorBody(err))
	case errors.As(err, &nf):
		respondJSON(w, http.StatusNotFound, errorBody(err))
	case errors.As(err, &rl):
		if rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		}
		respondJSON(w, http.StatusTooManyRequests, errorBody(err))
	case errors.As(err, &te):
		respondJSON(w, http.StatusBadGateway, errorBody(err))
	case errors.Is(err, context.DeadlineExceeded):
		respondJSON(w, http.StatusGatewayTimeout, errorBody(err))
	default:
		respondJSON(w, http.StatusInternalServerError, errorBody(err))
	}
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
