package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/history/{symbol}", handler.GetHistory).Methods("GET")
	api.HandleFunc("/quote/{symbol}", handler.GetQuote).Methods("GET")
	api.HandleFunc("/metrics/{symbol}", handler.GetSymbolMetrics).Methods("GET")
	api.HandleFunc("/metrics/portfolio", handler.GetPortfolioMetrics).Methods("POST")
	api.HandleFunc("/portfolio/pnl", handler.GetPortfolioPL).Methods("POST")
	api.HandleFunc("/cache", handler.InvalidateCache).Methods("DELETE")
	api.HandleFunc("/stats", handler.GetStats).Methods("GET")

	return r
}
