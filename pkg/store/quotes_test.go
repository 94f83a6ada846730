package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/models"
	testdb "github.com/quantflow/argus/test/database"
)

func f64(v float64) *float64 { return &v }

func bar(symbol, tradeDate, source string, close float64) *models.Quote {
	return &models.Quote{
		Symbol:     symbol,
		FullSymbol: symbol + ".SZ",
		TradeDate:  tradeDate,
		DataSource: source,
		Open:       f64(close - 0.5),
		High:       f64(close + 0.8),
		Low:        f64(close - 1.1),
		Close:      f64(close),
		Volume:     f64(1_250_000),
		Payload:    map[string]any{"close": close},
	}
}

func TestQuoteStore_UpsertDailyQuotes(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewQuoteStore(client.DB())
	ctx := context.Background()

	t.Run("writes bars and fills defaults", func(t *testing.T) {
		n, err := store.UpsertDailyQuotes(ctx, []*models.Quote{
			bar("000001", "20260820", "tushare", 11.25),
			bar("000001", "20260821", "tushare", 11.40),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		quotes, err := store.DailyQuotes(ctx, QuoteQuery{Symbol: "000001"})
		require.NoError(t, err)
		require.Len(t, quotes, 2)
		assert.Equal(t, "daily", quotes[0].Period)
		assert.Equal(t, "CN", quotes[0].Market)
	})

	t.Run("replaces row sharing the cache key", func(t *testing.T) {
		updated := bar("000001", "20260821", "tushare", 12.01)
		n, err := store.UpsertDailyQuotes(ctx, []*models.Quote{updated})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		quotes, err := store.DailyQuotes(ctx, QuoteQuery{Symbol: "000001", DataSource: "tushare"})
		require.NoError(t, err)
		require.Len(t, quotes, 2)
		last := quotes[len(quotes)-1]
		assert.Equal(t, "20260821", last.TradeDate)
		require.NotNil(t, last.Close)
		assert.Equal(t, 12.01, *last.Close)
	})

	t.Run("same date from another provider is a separate row", func(t *testing.T) {
		n, err := store.UpsertDailyQuotes(ctx, []*models.Quote{bar("000001", "20260821", "akshare", 11.99)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		all, err := store.DailyQuotes(ctx, QuoteQuery{Symbol: "000001", StartDate: "20260821", EndDate: "20260821"})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("skips rows missing key fields", func(t *testing.T) {
		n, err := store.UpsertDailyQuotes(ctx, []*models.Quote{
			{Symbol: "", TradeDate: "20260822", DataSource: "tushare"},
			{Symbol: "000002", TradeDate: "", DataSource: "tushare"},
			bar("000002", "20260822", "tushare", 8.88),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestQuoteStore_DailyQuotes(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewQuoteStore(client.DB())
	ctx := context.Background()

	dates := []string{"20260817", "20260818", "20260819", "20260820", "20260821"}
	for i, d := range dates {
		_, err := store.UpsertDailyQuotes(ctx, []*models.Quote{bar("600519", d, "tushare", 1700+float64(i))})
		require.NoError(t, err)
	}

	t.Run("chronological order", func(t *testing.T) {
		quotes, err := store.DailyQuotes(ctx, QuoteQuery{Symbol: "600519"})
		require.NoError(t, err)
		require.Len(t, quotes, 5)
		assert.Equal(t, "20260817", quotes[0].TradeDate)
		assert.Equal(t, "20260821", quotes[4].TradeDate)
	})

	t.Run("limit keeps the most recent bars", func(t *testing.T) {
		quotes, err := store.DailyQuotes(ctx, QuoteQuery{Symbol: "600519", Limit: 2})
		require.NoError(t, err)
		require.Len(t, quotes, 2)
		assert.Equal(t, "20260820", quotes[0].TradeDate)
		assert.Equal(t, "20260821", quotes[1].TradeDate)
	})

	t.Run("date range filter", func(t *testing.T) {
		quotes, err := store.DailyQuotes(ctx, QuoteQuery{Symbol: "600519", StartDate: "20260818", EndDate: "20260819"})
		require.NoError(t, err)
		require.Len(t, quotes, 2)
		assert.Equal(t, "20260818", quotes[0].TradeDate)
	})

	t.Run("requires symbol", func(t *testing.T) {
		_, err := store.DailyQuotes(ctx, QuoteQuery{})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}

func TestQuoteStore_LatestTradeDate(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewQuoteStore(client.DB())
	ctx := context.Background()

	_, err := store.LatestTradeDate(ctx, "688111")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.UpsertDailyQuotes(ctx, []*models.Quote{
		bar("688111", "20260819", "baostock", 99.1),
		bar("688111", "20260821", "baostock", 101.3),
	})
	require.NoError(t, err)

	latest, err := store.LatestTradeDate(ctx, "688111")
	require.NoError(t, err)
	assert.Equal(t, "20260821", latest)
}

func TestGroupingStore_Priorities(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewGroupingStore(client.DB())
	ctx := context.Background()

	t.Run("empty market has no overrides", func(t *testing.T) {
		priorities, err := store.PrioritiesForMarket(ctx, "cn_stock")
		require.NoError(t, err)
		assert.Empty(t, priorities)
	})

	t.Run("returns enabled rows only", func(t *testing.T) {
		require.NoError(t, store.UpsertGrouping(ctx, "cn_stock", "akshare", 9, true))
		require.NoError(t, store.UpsertGrouping(ctx, "cn_stock", "tushare", 5, true))
		require.NoError(t, store.UpsertGrouping(ctx, "cn_stock", "baostock", 7, false))

		priorities, err := store.PrioritiesForMarket(ctx, "cn_stock")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"akshare": 9, "tushare": 5}, priorities)
	})

	t.Run("upsert updates existing row", func(t *testing.T) {
		require.NoError(t, store.UpsertGrouping(ctx, "cn_stock", "akshare", 2, true))

		priorities, err := store.PrioritiesForMarket(ctx, "cn_stock")
		require.NoError(t, err)
		assert.Equal(t, 2, priorities["akshare"])
	})

	t.Run("validates key fields", func(t *testing.T) {
		assert.True(t, IsValidationError(store.UpsertGrouping(ctx, "", "tushare", 1, true)))
		assert.True(t, IsValidationError(store.UpsertGrouping(ctx, "cn_stock", "", 1, true)))
	})
}
