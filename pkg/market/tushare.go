package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantflow/argus/pkg/models"
)

const tushareDefaultBaseURL = "https://api.tushare.pro"

// TushareAdapter talks to the tushare pro HTTP API. Every call is one POST
// carrying {api_name, token, params, fields}; responses come back as a
// column-name list plus row tuples.
type TushareAdapter struct {
	priority   int
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	probe      *availProbe
	logger     *slog.Logger
}

// NewTushareAdapter creates the tushare adapter. token may be empty, which
// makes the adapter report unavailable.
func NewTushareAdapter(token, baseURL string, ratePerMinute int, timeout time.Duration) *TushareAdapter {
	if baseURL == "" {
		baseURL = tushareDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TushareAdapter{
		priority:   3,
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newLimiter(ratePerMinute),
		probe:      newAvailProbe(5 * time.Minute),
		logger:     slog.Default().With("adapter", "tushare"),
	}
}

func (a *TushareAdapter) Name() string         { return "tushare" }
func (a *TushareAdapter) Priority() int        { return a.priority }
func (a *TushareAdapter) SetPriority(p int)    { a.priority = p }
func (a *TushareAdapter) DefaultPriority() int { return 3 }

// Available reports whether the adapter can serve requests: a token must be
// configured and a probe call must have succeeded recently.
func (a *TushareAdapter) Available(ctx context.Context) bool {
	if a.token == "" {
		return false
	}
	return a.probe.check(ctx, func(ctx context.Context) bool {
		_, err := a.request(ctx, "trade_cal", map[string]string{
			"exchange":   "SSE",
			"start_date": compactDate(time.Now().AddDate(0, 0, -7).Format("2006-01-02")),
			"end_date":   compactDate(time.Now().Format("2006-01-02")),
		}, "cal_date")
		if err != nil {
			a.logger.Warn("Availability probe failed", "error", err)
			return false
		}
		return true
	})
}

type tushareRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params,omitempty"`
	Fields  string            `json:"fields,omitempty"`
}

type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// request performs one rate-limited API call and zips the column/tuple
// response into rows.
func (a *TushareAdapter) request(ctx context.Context, apiName string, params map[string]string, fields string) ([]map[string]any, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(tushareRequest{
		APIName: apiName,
		Token:   a.token,
		Params:  params,
		Fields:  fields,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", apiName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tushare returned HTTP %d for %s", resp.StatusCode, apiName)
	}

	var parsed tushareResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", apiName, err)
	}
	if parsed.Code != 0 {
		return nil, fmt.Errorf("tushare %s: %s", apiName, parsed.Msg)
	}

	rows := make([]map[string]any, 0, len(parsed.Data.Items))
	for _, item := range parsed.Data.Items {
		row := make(map[string]any, len(parsed.Data.Fields))
		for i, field := range parsed.Data.Fields {
			if i < len(item) {
				row[field] = item[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RealtimeQuotes is not served by the pro HTTP API; the orchestrator falls
// through to the snapshot-capable adapters.
func (a *TushareAdapter) RealtimeQuotes(ctx context.Context) (map[string]models.RealtimeQuote, error) {
	return nil, nil
}

var tushareKlineAPI = map[string]string{
	PeriodDay:   "daily",
	PeriodWeek:  "weekly",
	PeriodMonth: "monthly",
}

var tushareMinuteFreq = map[string]string{
	"1m": "1min", "5m": "5min", "15m": "15min", "30m": "30min", "60m": "60min",
}

// Kline fetches OHLCV bars in chronological order, most recent kept when
// limit truncates. Tushare reports volume in lots and amount in thousands;
// both are normalized here (shares, yuan).
func (a *TushareAdapter) Kline(ctx context.Context, code, period string, limit int, adjust string) ([]models.Bar, error) {
	if limit <= 0 {
		limit = 120
	}
	tsCode := FullSymbol(code)

	var rows []map[string]any
	var err error
	timeKey := "trade_date"

	if apiName, ok := tushareKlineAPI[period]; ok {
		rows, err = a.request(ctx, apiName, map[string]string{"ts_code": tsCode}, "")
	} else if freq, ok := tushareMinuteFreq[period]; ok {
		timeKey = "trade_time"
		rows, err = a.request(ctx, "stk_mins", map[string]string{"ts_code": tsCode, "freq": freq}, "")
	} else {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	// Rows arrive newest-first; flip to chronological.
	bars := make([]models.Bar, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		// vol arrives in 手 and amount in 千元; normalize to 股 and 元.
		bar := models.Bar{
			Time:   stringField(row, timeKey),
			Open:   floatField(row, "open"),
			High:   floatField(row, "high"),
			Low:    floatField(row, "low"),
			Close:  floatField(row, "close"),
			Volume: scale(floatField(row, "vol"), 100),
			Amount: scale(floatField(row, "amount"), 1000),
		}
		if bar.Time == "" {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// DailyBasic fetches per-symbol valuation rows for one trading day. Rows
// whose trade_date does not match the request are dropped: tushare serves
// the previous session when asked for a non-trading day, and stale rows
// must not masquerade as the requested date.
func (a *TushareAdapter) DailyBasic(ctx context.Context, tradeDate string) ([]models.DailyBasic, error) {
	want := compactDate(tradeDate)
	rows, err := a.request(ctx, "daily_basic", map[string]string{"trade_date": want}, "")
	if err != nil {
		return nil, err
	}

	out := make([]models.DailyBasic, 0, len(rows))
	for _, row := range rows {
		got := compactDate(stringField(row, "trade_date"))
		if got != want {
			continue
		}
		out = append(out, models.DailyBasic{
			Symbol:       BareCode(stringField(row, "ts_code")),
			TradeDate:    got,
			Close:        floatField(row, "close"),
			TurnoverRate: floatField(row, "turnover_rate"),
			VolumeRatio:  floatField(row, "volume_ratio"),
			PE:           floatField(row, "pe"),
			PETTM:        floatField(row, "pe_ttm"),
			PB:           floatField(row, "pb"),
			PS:           floatField(row, "ps"),
			TotalShare:   floatField(row, "total_share"),
			FloatShare:   floatField(row, "float_share"),
			// market caps arrive in 万元; normalize to 亿元
			TotalMktCap: scale(floatField(row, "total_mv"), 1.0/10000),
			CircMktCap:  scale(floatField(row, "circ_mv"), 1.0/10000),
		})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// News returns recent wire items for the market plus, optionally, the
// symbol's exchange announcements. Announcement failures are logged and do
// not discard the news result.
func (a *TushareAdapter) News(ctx context.Context, code string, days, limit int, includeAnnouncements bool) ([]models.NewsItem, error) {
	if days <= 0 {
		days = 2
	}
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	rows, err := a.request(ctx, "news", map[string]string{
		"src":        "sina",
		"start_date": now.AddDate(0, 0, -days).Format("2006-01-02 15:04:05"),
		"end_date":   now.Format("2006-01-02 15:04:05"),
	}, "")
	if err != nil {
		return nil, err
	}

	items := make([]models.NewsItem, 0, limit)
	for _, row := range rows {
		if len(items) >= limit {
			break
		}
		items = append(items, models.NewsItem{
			Title:       stringField(row, "title"),
			Content:     stringField(row, "content"),
			Source:      "sina",
			PublishedAt: parseNewsTime(stringField(row, "datetime")),
		})
	}

	if includeAnnouncements && len(items) < limit {
		annRows, annErr := a.request(ctx, "anns_d", map[string]string{
			"ts_code":    FullSymbol(code),
			"start_date": compactDate(now.AddDate(0, 0, -days).Format("2006-01-02")),
			"end_date":   compactDate(now.Format("2006-01-02")),
		}, "")
		if annErr != nil {
			a.logger.Warn("Announcement fetch failed", "code", code, "error", annErr)
		}
		for _, row := range annRows {
			if len(items) >= limit {
				break
			}
			items = append(items, models.NewsItem{
				Title:       stringField(row, "title"),
				Source:      "tushare",
				URL:         stringField(row, "url"),
				PublishedAt: parseNewsTime(stringField(row, "ann_date")),
				IsAnnounce:  true,
			})
		}
	}

	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

// StockList returns the current listed-share roster.
func (a *TushareAdapter) StockList(ctx context.Context) ([]models.StockInfo, error) {
	rows, err := a.request(ctx, "stock_basic", map[string]string{"list_status": "L"},
		"ts_code,symbol,name,area,industry,market,list_date")
	if err != nil {
		return nil, err
	}

	out := make([]models.StockInfo, 0, len(rows))
	for _, row := range rows {
		symbol := stringField(row, "symbol")
		if symbol == "" {
			continue
		}
		out = append(out, models.StockInfo{
			Symbol:     symbol,
			FullSymbol: stringField(row, "ts_code"),
			Name:       stringField(row, "name"),
			Area:       stringField(row, "area"),
			Industry:   stringField(row, "industry"),
			Market:     stringField(row, "market"),
			ListDate:   stringField(row, "list_date"),
		})
	}
	return out, nil
}

// LatestTradeDate returns the most recent open trading day on or before
// today, from the exchange calendar.
func (a *TushareAdapter) LatestTradeDate(ctx context.Context) (string, error) {
	today := compactDate(time.Now().Format("2006-01-02"))
	rows, err := a.request(ctx, "trade_cal", map[string]string{
		"exchange":   "SSE",
		"is_open":    "1",
		"start_date": compactDate(time.Now().AddDate(0, 0, -30).Format("2006-01-02")),
		"end_date":   today,
	}, "cal_date")
	if err != nil {
		return "", err
	}

	latest := ""
	for _, row := range rows {
		d := compactDate(stringField(row, "cal_date"))
		if d != "" && d <= today && d > latest {
			latest = d
		}
	}
	if latest == "" {
		return "", fmt.Errorf("trade calendar returned no open days")
	}
	return latest, nil
}

// Query passes an api name straight through to the upstream endpoint.
// Tushare's column names are already the canonical vocabulary.
func (a *TushareAdapter) Query(ctx context.Context, apiName string, params map[string]string) ([]map[string]any, error) {
	return a.request(ctx, apiName, params, "")
}

func scale(f *float64, factor float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f * factor
	return &v
}

func parseNewsTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
