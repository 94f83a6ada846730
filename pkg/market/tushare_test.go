package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTushareServer records every request body and answers via respond,
// which returns an HTTP status and a raw JSON body.
func newTushareServer(t *testing.T, respond func(req tushareRequest) (int, string)) (*TushareAdapter, *[]tushareRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []tushareRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req tushareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
		status, body := respond(req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewTushareAdapter("test-token", srv.URL, 6000, 0), &requests
}

func tushareBody(fields []string, items ...[]any) string {
	body, _ := json.Marshal(map[string]any{
		"code": 0,
		"msg":  "",
		"data": map[string]any{"fields": fields, "items": items},
	})
	return string(body)
}

func TestTushareAdapter_Kline(t *testing.T) {
	adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody(
			[]string{"ts_code", "trade_date", "open", "high", "low", "close", "vol", "amount"},
			[]any{"000001.SZ", "20260822", 11.5, 11.9, 11.3, 11.8, 1200.0, 1500.0},
			[]any{"000001.SZ", "20260821", 11.2, 11.6, 11.1, 11.5, 1000.0, 1200.0},
		)
	})

	bars, err := adapter.Kline(context.Background(), "000001", PeriodDay, 10, "")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	req := (*requests)[0]
	assert.Equal(t, "daily", req.APIName)
	assert.Equal(t, "test-token", req.Token)
	assert.Equal(t, "000001.SZ", req.Params["ts_code"])

	// Rows arrive newest-first and come out chronological.
	assert.Equal(t, "20260821", bars[0].Time)
	assert.Equal(t, "20260822", bars[1].Time)

	// Volume 手 → 股, amount 千元 → 元.
	require.NotNil(t, bars[0].Volume)
	assert.Equal(t, 100000.0, *bars[0].Volume)
	require.NotNil(t, bars[0].Amount)
	assert.Equal(t, 1200000.0, *bars[0].Amount)
	assert.Equal(t, 11.5, *bars[0].Close)
}

func TestTushareAdapter_Kline_MinutePeriod(t *testing.T) {
	adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody(
			[]string{"ts_code", "trade_time", "open", "close", "vol", "amount"},
			[]any{"000001.SZ", "2026-08-22 10:35:00", 11.5, 11.6, 90.0, 100.0},
		)
	})

	bars, err := adapter.Kline(context.Background(), "000001", "5m", 10, "")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "2026-08-22 10:35:00", bars[0].Time)

	req := (*requests)[0]
	assert.Equal(t, "stk_mins", req.APIName)
	assert.Equal(t, "5min", req.Params["freq"])
}

func TestTushareAdapter_Kline_UnknownPeriod(t *testing.T) {
	adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody([]string{"trade_date"})
	})

	bars, err := adapter.Kline(context.Background(), "000001", "2h", 10, "")
	require.NoError(t, err)
	assert.Nil(t, bars)
	assert.Empty(t, *requests, "unknown periods never hit the upstream")
}

func TestTushareAdapter_Kline_LimitKeepsRecentBars(t *testing.T) {
	adapter, _ := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody(
			[]string{"trade_date", "close"},
			[]any{"20260823", 12.0},
			[]any{"20260822", 11.8},
			[]any{"20260821", 11.5},
		)
	})

	bars, err := adapter.Kline(context.Background(), "000001", PeriodDay, 2, "")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "20260822", bars[0].Time)
	assert.Equal(t, "20260823", bars[1].Time)
}

func TestTushareAdapter_UpstreamError(t *testing.T) {
	adapter, _ := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, `{"code":40203,"msg":"积分不足","data":null}`
	})

	_, err := adapter.Kline(context.Background(), "000001", PeriodDay, 10, "")
	require.Error(t, err)
	assert.ErrorContains(t, err, "积分不足")

	_, err = adapter.Query(context.Background(), "daily_basic", nil)
	assert.ErrorContains(t, err, "daily_basic")
}

func TestTushareAdapter_HTTPError(t *testing.T) {
	adapter, _ := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusBadGateway, "upstream broke"
	})

	_, err := adapter.Kline(context.Background(), "000001", PeriodDay, 10, "")
	assert.ErrorContains(t, err, "HTTP 502")
}

func TestTushareAdapter_DailyBasic(t *testing.T) {
	adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody(
			[]string{"ts_code", "trade_date", "close", "pe", "pb", "total_mv", "circ_mv"},
			[]any{"600519.SH", "20260822", 1700.0, 28.5, 9.1, 21360000.0, 21360000.0},
			[]any{"000001.SZ", "20260822", 11.5, 8.2, "", 2230000.0, 1930000.0},
			[]any{"600036.SH", "20260821", 35.0, 6.1, 1.0, 8800000.0, 8700000.0},
		)
	})

	rows, err := adapter.DailyBasic(context.Background(), "2026-08-22")
	require.NoError(t, err)
	assert.Equal(t, "20260822", (*requests)[0].Params["trade_date"])

	// The stale 20260821 row is dropped, not served as the requested date.
	require.Len(t, rows, 2)
	assert.Equal(t, "600519", rows[0].Symbol)
	assert.Equal(t, "20260822", rows[0].TradeDate)

	// Market caps 万元 → 亿元; empty strings coerce to nil, not zero.
	assert.Equal(t, 2136.0, *rows[0].TotalMktCap)
	assert.Nil(t, rows[1].PB)
	assert.Equal(t, 8.2, *rows[1].PE)
}

func TestTushareAdapter_DailyBasic_AllStale(t *testing.T) {
	adapter, _ := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody(
			[]string{"ts_code", "trade_date", "close"},
			[]any{"600519.SH", "20260821", 1700.0},
		)
	})

	rows, err := adapter.DailyBasic(context.Background(), "20260822")
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestTushareAdapter_Available(t *testing.T) {
	t.Run("no token means unavailable without a probe", func(t *testing.T) {
		adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
			return http.StatusOK, tushareBody([]string{"cal_date"})
		})
		adapter.token = ""
		assert.False(t, adapter.Available(context.Background()))
		assert.Empty(t, *requests)
	})

	t.Run("probe result is memoized", func(t *testing.T) {
		adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
			return http.StatusOK, tushareBody([]string{"cal_date"}, []any{"20260822"})
		})
		assert.True(t, adapter.Available(context.Background()))
		assert.True(t, adapter.Available(context.Background()))
		assert.Len(t, *requests, 1)
		assert.Equal(t, "trade_cal", (*requests)[0].APIName)
	})

	t.Run("failing probe reports unavailable", func(t *testing.T) {
		adapter, _ := newTushareServer(t, func(req tushareRequest) (int, string) {
			return http.StatusOK, `{"code":2002,"msg":"token invalid","data":null}`
		})
		assert.False(t, adapter.Available(context.Background()))
	})
}

func TestTushareAdapter_LatestTradeDate(t *testing.T) {
	now := time.Now()
	newest := now.AddDate(0, 0, -1).Format("20060102")
	older := now.AddDate(0, 0, -3).Format("20060102")
	future := now.AddDate(0, 0, 1).Format("20060102")

	adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody([]string{"cal_date"},
			[]any{older}, []any{newest}, []any{future})
	})

	date, err := adapter.LatestTradeDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newest, date, "future calendar rows are ignored")

	req := (*requests)[0]
	assert.Equal(t, "trade_cal", req.APIName)
	assert.Equal(t, "1", req.Params["is_open"])
	assert.Equal(t, "SSE", req.Params["exchange"])
}

func TestTushareAdapter_LatestTradeDate_EmptyCalendar(t *testing.T) {
	adapter, _ := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody([]string{"cal_date"})
	})

	_, err := adapter.LatestTradeDate(context.Background())
	assert.ErrorContains(t, err, "no open days")
}

func TestTushareAdapter_News(t *testing.T) {
	adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
		switch req.APIName {
		case "news":
			return http.StatusOK, tushareBody(
				[]string{"title", "content", "datetime"},
				[]any{"午间要闻", "市场综述", "2026-08-22 12:00:00"},
			)
		case "anns_d":
			return http.StatusOK, tushareBody(
				[]string{"title", "url", "ann_date"},
				[]any{"年度报告", "https://example.com/a.pdf", "20260822"},
			)
		default:
			return http.StatusOK, tushareBody(nil)
		}
	})

	items, err := adapter.News(context.Background(), "000001", 2, 50, true)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "午间要闻", items[0].Title)
	assert.Equal(t, "sina", items[0].Source)
	assert.False(t, items[0].IsAnnounce)

	assert.True(t, items[1].IsAnnounce)
	assert.Equal(t, "https://example.com/a.pdf", items[1].URL)

	require.Len(t, *requests, 2)
	assert.Equal(t, "000001.SZ", (*requests)[1].Params["ts_code"])
}

func TestTushareAdapter_News_LimitSkipsAnnouncements(t *testing.T) {
	adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody(
			[]string{"title", "content", "datetime"},
			[]any{"第一条", "", "2026-08-22 12:00:00"},
			[]any{"第二条", "", "2026-08-22 12:01:00"},
		)
	})

	items, err := adapter.News(context.Background(), "000001", 1, 1, true)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Len(t, *requests, 1, "a full result never triggers the announcement call")
}

func TestTushareAdapter_StockList(t *testing.T) {
	adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
		return http.StatusOK, tushareBody(
			[]string{"ts_code", "symbol", "name", "area", "industry", "market", "list_date"},
			[]any{"000001.SZ", "000001", "平安银行", "深圳", "银行", "主板", "19910403"},
		)
	})

	stocks, err := adapter.StockList(context.Background())
	require.NoError(t, err)
	require.Len(t, stocks, 1)
	assert.Equal(t, "000001", stocks[0].Symbol)
	assert.Equal(t, "000001.SZ", stocks[0].FullSymbol)
	assert.Equal(t, "平安银行", stocks[0].Name)
	assert.Equal(t, "银行", stocks[0].Industry)

	req := (*requests)[0]
	assert.Equal(t, "stock_basic", req.APIName)
	assert.Equal(t, "L", req.Params["list_status"])
}

func TestTushareAdapter_Query(t *testing.T) {
	adapter, requests := newTushareServer(t, func(req tushareRequest) (int, string) {
		// Short rows must not panic the zip.
		return http.StatusOK, tushareBody(
			[]string{"ts_code", "ann_date", "eps"},
			[]any{"600519.SH", "20260630", 32.5},
			[]any{"600519.SH"},
		)
	})

	rows, err := adapter.Query(context.Background(), "fina_indicator", map[string]string{"ts_code": "600519.SH"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 32.5, rows[0]["eps"])
	assert.NotContains(t, rows[1], "eps")

	req := (*requests)[0]
	assert.Equal(t, "fina_indicator", req.APIName)
	assert.Equal(t, "600519.SH", req.Params["ts_code"])
}

func TestTushareAdapter_RealtimeQuotesUnsupported(t *testing.T) {
	// No request happens; the orchestrator falls through to the
	// snapshot-capable adapters.
	adapter := NewTushareAdapter("token", "", 60, 0)
	quotes, err := adapter.RealtimeQuotes(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, quotes)
}
