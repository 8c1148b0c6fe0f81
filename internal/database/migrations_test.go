package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)

	t.Run("all tables exist", func(t *testing.T) {
		expectedTables := []string{
			"price_bars",
			"symbol_coverage",
		}

		for _, tableName := range expectedTables {
			var exists bool
			err := testDB.GetRawConn().QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.tables
					WHERE table_schema = 'public'
					AND table_name = $1
				)
			`, tableName).Scan(&exists)

			require.NoError(t, err, "failed to check table existence for %s", tableName)
			assert.True(t, exists, "table %s should exist", tableName)
		}
	})

	t.Run("price_bars table has correct columns", func(t *testing.T) {
		expectedColumns := map[string]string{
			"symbol":     "character varying",
			"date":       "date",
			"open":       "numeric",
			"high":       "numeric",
			"low":        "numeric",
			"close":      "numeric",
			"volume":     "bigint",
			"fetched_at": "timestamp with time zone",
		}

		for colName, expectedType := range expectedColumns {
			var actualType string
			err := testDB.GetRawConn().QueryRow(`
				SELECT data_type
				FROM information_schema.columns
				WHERE table_name = 'price_bars' AND column_name = $1
			`, colName).Scan(&actualType)

			require.NoError(t, err, "column %s should exist in price_bars table", colName)
			assert.Equal(t, expectedType, actualType, "column %s should have type %s", colName, expectedType)
		}
	})

	t.Run("symbol_coverage table has correct columns", func(t *testing.T) {
		expectedColumns := []string{
			"symbol", "covered_start", "covered_end", "last_fetched_at",
		}

		for _, colName := range expectedColumns {
			var exists bool
			err := testDB.GetRawConn().QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.columns
					WHERE table_name = 'symbol_coverage' AND column_name = $1
				)
			`, colName).Scan(&exists)

			require.NoError(t, err)
			assert.True(t, exists, "column %s should exist in symbol_coverage table", colName)
		}
	})

	t.Run("primary keys exist", func(t *testing.T) {
		// price_bars is keyed by (symbol, date): the upsert conflict target.
		var barsPK bool
		err := testDB.GetRawConn().QueryRow(`
			SELECT EXISTS (
				SELECT FROM pg_constraint c
				JOIN pg_class t ON c.conrelid = t.oid
				WHERE t.relname = 'price_bars'
				AND c.contype = 'p'
			)
		`).Scan(&barsPK)
		require.NoError(t, err)
		assert.True(t, barsPK, "price_bars should have a primary key on (symbol, date)")

		var coveragePK bool
		err = testDB.GetRawConn().QueryRow(`
			SELECT EXISTS (
				SELECT FROM pg_constraint c
				JOIN pg_class t ON c.conrelid = t.oid
				WHERE t.relname = 'symbol_coverage'
				AND c.contype = 'p'
			)
		`).Scan(&coveragePK)
		require.NoError(t, err)
		assert.True(t, coveragePK, "symbol_coverage should have a primary key on symbol")
	})
}
