package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantflow/argus/pkg/models"
)

// BaostockAdapter serves historical kline data through an HTTP bridge in
// front of the baostock session protocol. It is the lowest-priority source
// and deliberately narrow: everything except kline history returns no data,
// never an error, so the orchestrator falls through cleanly.
type BaostockAdapter struct {
	priority   int
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	probe      *availProbe
	logger     *slog.Logger
}

// NewBaostockAdapter creates the baostock adapter. The adapter is
// unavailable when baseURL is empty.
func NewBaostockAdapter(baseURL string, ratePerMinute int, timeout time.Duration) *BaostockAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BaostockAdapter{
		priority:   1,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newLimiter(ratePerMinute),
		probe:      newAvailProbe(5 * time.Minute),
		logger:     slog.Default().With("adapter", "baostock"),
	}
}

func (a *BaostockAdapter) Name() string         { return "baostock" }
func (a *BaostockAdapter) Priority() int        { return a.priority }
func (a *BaostockAdapter) SetPriority(p int)    { a.priority = p }
func (a *BaostockAdapter) DefaultPriority() int { return 1 }

// Available reports whether the bridge answers at all.
func (a *BaostockAdapter) Available(ctx context.Context) bool {
	if a.baseURL == "" {
		return false
	}
	return a.probe.check(ctx, func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/", nil)
		if err != nil {
			return false
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			a.logger.Warn("Availability probe failed", "error", err)
			return false
		}
		resp.Body.Close()
		return resp.StatusCode < http.StatusInternalServerError
	})
}

var baostockFrequency = map[string]string{
	PeriodDay:   "d",
	PeriodWeek:  "w",
	PeriodMonth: "m",
	"5m":        "5",
	"15m":       "15",
	"30m":       "30",
	"60m":       "60",
}

// historyWindow returns how many calendar days to request so that at least
// limit bars come back for the period.
func historyWindow(period string, limit int) int {
	switch period {
	case PeriodWeek:
		return limit * 10
	case PeriodMonth:
		return limit * 45
	case "5m", "15m", "30m", "60m":
		return 30
	default:
		return limit * 2
	}
}

// Kline fetches history bars. Volume is already in shares and amount in
// yuan on this feed; no unit conversion applies.
func (a *BaostockAdapter) Kline(ctx context.Context, code, period string, limit int, adjust string) ([]models.Bar, error) {
	freq, ok := baostockFrequency[period]
	if !ok {
		return nil, nil
	}
	if limit <= 0 {
		limit = 120
	}

	// baostock adjust flags: 3 = raw, 2 = forward, 1 = backward.
	adjustFlag := "3"
	switch adjust {
	case "qfq":
		adjustFlag = "2"
	case "hfq":
		adjustFlag = "1"
	}

	params := url.Values{}
	params.Set("code", BaostockCode(code))
	params.Set("frequency", freq)
	params.Set("adjustflag", adjustFlag)
	params.Set("start_date", time.Now().AddDate(0, 0, -historyWindow(period, limit)).Format("2006-01-02"))
	params.Set("end_date", time.Now().Format("2006-01-02"))

	rows, err := a.get(ctx, "/api/history_k_data", params)
	if err != nil {
		return nil, err
	}

	// Rows arrive oldest-first; keep the most recent window.
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, row := range rows {
		t := stringField(row, "time", "date")
		if t == "" {
			continue
		}
		bars = append(bars, models.Bar{
			Time:   t,
			Open:   floatField(row, "open"),
			High:   floatField(row, "high"),
			Low:    floatField(row, "low"),
			Close:  floatField(row, "close"),
			Volume: floatField(row, "volume"),
			Amount: floatField(row, "amount"),
		})
	}
	if len(bars) == 0 {
		return nil, nil
	}
	return bars, nil
}

func (a *BaostockAdapter) get(ctx context.Context, path string, params url.Values) ([]map[string]any, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := a.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("baostock bridge returned HTTP %d for %s", resp.StatusCode, path)
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return rows, nil
}

// The remaining operations are outside this source's coverage and report
// no data so higher-priority sources handle them.

func (a *BaostockAdapter) RealtimeQuotes(ctx context.Context) (map[string]models.RealtimeQuote, error) {
	return nil, nil
}

func (a *BaostockAdapter) DailyBasic(ctx context.Context, tradeDate string) ([]models.DailyBasic, error) {
	return nil, nil
}

func (a *BaostockAdapter) News(ctx context.Context, code string, days, limit int, includeAnnouncements bool) ([]models.NewsItem, error) {
	return nil, nil
}

func (a *BaostockAdapter) StockList(ctx context.Context) ([]models.StockInfo, error) {
	return nil, nil
}

func (a *BaostockAdapter) LatestTradeDate(ctx context.Context) (string, error) {
	return "", nil
}

func (a *BaostockAdapter) Query(ctx context.Context, apiName string, params map[string]string) ([]map[string]any, error) {
	return nil, nil
}
