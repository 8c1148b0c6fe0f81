package database

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgrady/market-risk-service/internal/models"
)

func bar(symbol string, date time.Time, close float64) models.PriceBar {
	return models.PriceBar{
		Symbol: symbol,
		Date:   date,
		Open:   decimal.NewFromFloat(close - 1),
		High:   decimal.NewFromFloat(close + 1),
		Low:    decimal.NewFromFloat(close - 2),
		Close:  decimal.NewFromFloat(close),
		Volume: 1000,
	}
}

func TestPriceBarStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)

	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	t.Run("UpsertBars then GetSeries returns ascending bars", func(t *testing.T) {
		testDB.TruncateAll(t)

		bars := []models.PriceBar{
			bar("AAPL", day(17), 181),
			bar("AAPL", day(15), 177),
			bar("AAPL", day(16), 179),
		}
		require.NoError(t, testDB.UpsertBars(bars, true))

		got, err := testDB.GetSeries("AAPL", day(15), day(17))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, day(15), got[0].Day())
		assert.Equal(t, day(16), got[1].Day())
		assert.Equal(t, day(17), got[2].Day())
		assert.True(t, decimal.NewFromInt(177).Equal(got[0].Close))
	})

	t.Run("identical re-insert is a no-op", func(t *testing.T) {
		testDB.TruncateAll(t)

		b := bar("AAPL", day(15), 177)
		require.NoError(t, testDB.UpsertBars([]models.PriceBar{b}, true))
		require.NoError(t, testDB.UpsertBars([]models.PriceBar{b}, true))

		got, err := testDB.GetSeries("AAPL", day(15), day(15))
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("overwrite lets the fresh fetch win", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertBars([]models.PriceBar{bar("AAPL", day(15), 177)}, true))
		require.NoError(t, testDB.UpsertBars([]models.PriceBar{bar("AAPL", day(15), 179)}, true))

		got, err := testDB.GetSeries("AAPL", day(15), day(15))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, decimal.NewFromInt(179).Equal(got[0].Close))
	})

	t.Run("stored policy keeps the existing bar", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertBars([]models.PriceBar{bar("AAPL", day(15), 177)}, true))
		require.NoError(t, testDB.UpsertBars([]models.PriceBar{bar("AAPL", day(15), 179)}, false))

		got, err := testDB.GetSeries("AAPL", day(15), day(15))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, decimal.NewFromInt(177).Equal(got[0].Close))
	})

	t.Run("GetSeries is range scoped", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertBars([]models.PriceBar{
			bar("AAPL", day(10), 170),
			bar("AAPL", day(15), 177),
			bar("AAPL", day(20), 185),
			bar("GOOGL", day(15), 140),
		}, true))

		got, err := testDB.GetSeries("AAPL", day(12), day(18))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, day(15), got[0].Day())
	})

	t.Run("GetLatestBar", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertBars([]models.PriceBar{
			bar("AAPL", day(10), 170),
			bar("AAPL", day(20), 185),
		}, true))

		latest, err := testDB.GetLatestBar("AAPL")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, day(20), latest.Day())

		missing, err := testDB.GetLatestBar("NOPE")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestCoverage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)

	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	fetched := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

	t.Run("missing coverage is nil", func(t *testing.T) {
		testDB.TruncateAll(t)

		c, err := testDB.GetCoverage("AAPL")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("extend widens the interval", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.ExtendCoverage("AAPL", day(10), day(15), fetched))
		require.NoError(t, testDB.ExtendCoverage("AAPL", day(5), day(12), fetched.Add(time.Hour)))

		c, err := testDB.GetCoverage("AAPL")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, day(5), c.Start.UTC())
		assert.Equal(t, day(15), c.End.UTC())
		assert.Equal(t, fetched.Add(time.Hour).Unix(), c.LastFetchedAt.Unix())
	})

	t.Run("clear coverage leaves bars intact", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertBars([]models.PriceBar{bar("AAPL", day(10), 170)}, true))
		require.NoError(t, testDB.ExtendCoverage("AAPL", day(10), day(10), fetched))

		n, err := testDB.ClearCoverage("AAPL")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		bars, err := testDB.GetSeries("AAPL", day(1), day(28))
		require.NoError(t, err)
		assert.Len(t, bars, 1, "invalidation must not delete bars")
	})

	t.Run("clear all", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.ExtendCoverage("AAPL", day(1), day(5), fetched))
		require.NoError(t, testDB.ExtendCoverage("GOOGL", day(1), day(5), fetched))

		n, err := testDB.ClearAllCoverage()
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}
