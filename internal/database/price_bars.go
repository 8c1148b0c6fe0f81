package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tgrady/market-risk-service/internal/models"
)

// Coverage records the contiguous date interval held for a symbol plus when
// it was last refreshed. It is cache metadata: clearing it invalidates the
// cached view without deleting any bars.
type Coverage struct {
	Symbol        string
	Start         time.Time
	End           time.Time
	LastFetchedAt time.Time
}

// GetCoverage returns the coverage row for a symbol, or nil when the store
// holds nothing for it.
func (db *DB) GetCoverage(symbol string) (*Coverage, error) {
	query := `
		SELECT symbol, covered_start, covered_end, last_fetched_at
		FROM symbol_coverage
		WHERE symbol = $1
	`
	var c Coverage
	err := db.conn.QueryRow(query, symbol).Scan(&c.Symbol, &c.Start, &c.End, &c.LastFetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coverage for %s: %w", symbol, err)
	}
	return &c, nil
}

// ExtendCoverage widens a symbol's coverage interval to include [start, end]
// and stamps the refresh time.
func (db *DB) ExtendCoverage(symbol string, start, end, fetchedAt time.Time) error {
	query := `
		INSERT INTO symbol_coverage (symbol, covered_start, covered_end, last_fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET
			covered_start = LEAST(symbol_coverage.covered_start, EXCLUDED.covered_start),
			covered_end = GREATEST(symbol_coverage.covered_end, EXCLUDED.covered_end),
			last_fetched_at = EXCLUDED.last_fetched_at
	`
	if _, err := db.conn.Exec(query, symbol, start, end, fetchedAt); err != nil {
		return fmt.Errorf("failed to extend coverage for %s: %w", symbol, err)
	}
	return nil
}

// ClearCoverage drops the coverage row for a symbol, logically invalidating
// its cached series. Bars themselves are never deleted here. Returns the
// number of rows cleared.
func (db *DB) ClearCoverage(symbol string) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM symbol_coverage WHERE symbol = $1`, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to clear coverage for %s: %w", symbol, err)
	}
	return result.RowsAffected()
}

// ClearAllCoverage drops every coverage row.
func (db *DB) ClearAllCoverage() (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM symbol_coverage`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear coverage: %w", err)
	}
	return result.RowsAffected()
}

// GetSeries retrieves bars for a symbol within [start, end], ascending by
// date.
func (db *DB) GetSeries(symbol string, start, end time.Time) ([]models.PriceBar, error) {
	query := `
		SELECT symbol, date, open, high, low, close, volume, fetched_at
		FROM price_bars
		WHERE symbol = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := db.conn.Query(query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get series for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []models.PriceBar
	for rows.Next() {
		var b models.PriceBar
		err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.FetchedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read series for %s: %w", symbol, err)
	}
	return bars, nil
}

// UpsertBars writes a batch of bars in one transaction. Re-inserting an
// identical bar is a no-op; on a (symbol, date) collision with different
// values the overwrite flag decides: true lets the new fetch win, false
// keeps the stored bar.
func (db *DB) UpsertBars(bars []models.PriceBar, overwrite bool) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conflict := `ON CONFLICT (symbol, date) DO NOTHING`
	if overwrite {
		conflict = `ON CONFLICT (symbol, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			fetched_at = EXCLUDED.fetched_at`
	}
	stmt, err := tx.Prepare(`
		INSERT INTO price_bars (symbol, date, open, high, low, close, volume, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ` + conflict)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, b := range bars {
		fetchedAt := b.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = now
		}
		_, err := stmt.Exec(b.Symbol, b.Day(), b.Open, b.High, b.Low, b.Close, b.Volume, fetchedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert bar for %s on %s: %w",
				b.Symbol, b.Day().Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetLatestBar retrieves the most recent bar for a symbol.
func (db *DB) GetLatestBar(symbol string) (*models.PriceBar, error) {
	query := `
		SELECT symbol, date, open, high, low, close, volume, fetched_at
		FROM price_bars
		WHERE symbol = $1
		ORDER BY date DESC
		LIMIT 1
	`
	var b models.PriceBar
	err := db.conn.QueryRow(query, symbol).Scan(
		&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.FetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest bar for %s: %w", symbol, err)
	}
	return &b, nil
}
