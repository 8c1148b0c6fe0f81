package models

import "time"

// Audit event types published on the data-path topic.
const (
	EventProviderFetch     = "PROVIDER_FETCH"
	EventStaleServed       = "STALE_SERVED"
	EventCacheInvalidated  = "CACHE_INVALIDATED"
	EventCorrectionApplied = "CORRECTION_APPLIED"
)

// DataEvent is the audit record for a data-path action: a provider fetch, a
// stale serve, or a cache invalidation.
type DataEvent struct {
	EventType string    `json:"event_type"`
	Symbol    string    `json:"symbol,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Count     int       `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CorrectionEvent carries corrected OHLCV bars published upstream when a
// provider revises historical data. Numeric fields travel as strings; the
// consumer parses them into decimals.
type CorrectionEvent struct {
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Symbol    string          `json:"symbol"`
	Bars      []CorrectionBar `json:"bars"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventBarCorrection is the only event type the corrections consumer acts on.
const EventBarCorrection = "BAR_CORRECTION"

// CorrectionBar is one corrected bar in wire form.
type CorrectionBar struct {
	Date   string `json:"date"` // 2006-01-02
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume int64  `json:"volume"`
}
