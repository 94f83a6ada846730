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

// AKShareAdapter talks to an AKTools-style HTTP gateway in front of the
// akshare feeds: GET /api/public/{endpoint}?args returns a JSON row array.
// Columns come back with Chinese names that change between upstream
// versions; all alias resolution happens here.
type AKShareAdapter struct {
	priority   int
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	probe      *availProbe
	logger     *slog.Logger
}

// NewAKShareAdapter creates the akshare adapter. No token is required; the
// adapter is unavailable when baseURL is empty.
func NewAKShareAdapter(baseURL string, ratePerMinute int, timeout time.Duration) *AKShareAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AKShareAdapter{
		priority:   2,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newLimiter(ratePerMinute),
		probe:      newAvailProbe(5 * time.Minute),
		logger:     slog.Default().With("adapter", "akshare"),
	}
}

func (a *AKShareAdapter) Name() string         { return "akshare" }
func (a *AKShareAdapter) Priority() int        { return a.priority }
func (a *AKShareAdapter) SetPriority(p int)    { a.priority = p }
func (a *AKShareAdapter) DefaultPriority() int { return 2 }

// Available reports whether the gateway answers at all.
func (a *AKShareAdapter) Available(ctx context.Context) bool {
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

// get performs one rate-limited gateway call. A 404 means the endpoint has
// no data or no mapping and is treated as an empty result, not an error.
func (a *AKShareAdapter) get(ctx context.Context, endpoint string, params url.Values) ([]map[string]any, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := a.baseURL + "/api/public/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("akshare gateway returned HTTP %d for %s", resp.StatusCode, endpoint)
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return rows, nil
}

// RealtimeQuotes fetches the whole-market snapshot from the eastmoney feed.
// Codes are normalized (exchange prefixes stripped, six-digit padding) and
// every numeric column resolves over the known alias spellings.
func (a *AKShareAdapter) RealtimeQuotes(ctx context.Context) (map[string]models.RealtimeQuote, error) {
	rows, err := a.get(ctx, "stock_zh_a_spot_em", nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	result := make(map[string]models.RealtimeQuote, len(rows))
	for _, row := range rows {
		code := NormalizeCode(stringField(row, "代码", "code", "symbol", "股票代码"))
		if code == "" {
			continue
		}
		result[code] = models.RealtimeQuote{
			Symbol:   code,
			Name:     stringField(row, "名称", "name"),
			Price:    floatField(row, "最新价", "现价", "最新价(元)", "price", "最新", "trade"),
			PctChg:   floatField(row, "涨跌幅", "涨跌幅(%)", "涨幅", "pct_chg", "changepercent"),
			Change:   floatField(row, "涨跌额", "change"),
			Amount:   floatField(row, "成交额", "成交额(元)", "amount", "成交额(万元)", "amount(万元)"),
			Volume:   floatField(row, "成交量", "成交量(手)", "volume", "成交量(股)", "vol"),
			Open:     floatField(row, "今开", "开盘", "open", "今开(元)"),
			High:     floatField(row, "最高", "high"),
			Low:      floatField(row, "最低", "low"),
			PreClose: floatField(row, "昨收", "昨收(元)", "pre_close", "昨收价", "settlement"),
		}
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

var aksKlinePeriod = map[string]string{
	PeriodDay:   "daily",
	PeriodWeek:  "weekly",
	PeriodMonth: "monthly",
}

var aksMinutePeriod = map[string]string{
	"5m": "5", "15m": "15", "30m": "30", "60m": "60",
}

// Kline fetches bars via the history endpoint (daily and coarser) or the
// minute endpoint. Unsupported periods return no data.
func (a *AKShareAdapter) Kline(ctx context.Context, code, period string, limit int, adjust string) ([]models.Bar, error) {
	if limit <= 0 {
		limit = 120
	}
	code6 := NormalizeCode(code)
	if adjust != "qfq" && adjust != "hfq" {
		adjust = ""
	}

	var rows []map[string]any
	var err error
	minute := false

	if p, ok := aksKlinePeriod[period]; ok {
		params := url.Values{}
		params.Set("symbol", code6)
		params.Set("period", p)
		params.Set("adjust", adjust)
		rows, err = a.get(ctx, "stock_zh_a_hist", params)
	} else if p, ok := aksMinutePeriod[period]; ok {
		minute = true
		params := url.Values{}
		params.Set("symbol", MarketPrefix(FullSymbol(code6))+code6)
		params.Set("period", p)
		params.Set("adjust", adjust)
		rows, err = a.get(ctx, "stock_zh_a_minute", params)
	} else {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Rows arrive oldest-first; keep the most recent window.
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, row := range rows {
		var t string
		var volume *float64
		if minute {
			t = stringField(row, "时间", "day")
			volume = floatField(row, "成交量", "volume")
		} else {
			t = stringField(row, "日期", "date")
			// daily volume arrives in 手; normalize to 股
			volume = scale(floatField(row, "成交量", "volume"), 100)
		}
		if t == "" {
			continue
		}
		bars = append(bars, models.Bar{
			Time:   t,
			Open:   floatField(row, "开盘", "open"),
			High:   floatField(row, "最高", "high"),
			Low:    floatField(row, "最低", "low"),
			Close:  floatField(row, "收盘", "close"),
			Volume: volume,
			Amount: floatField(row, "成交额", "amount"),
		})
	}
	if len(bars) == 0 {
		return nil, nil
	}
	return bars, nil
}

// DailyBasic assembles valuation rows from per-symbol detail lookups. The
// upstream detail endpoint is one call per symbol, so the batch is capped
// and time-boxed; partial results are better than none here.
func (a *AKShareAdapter) DailyBasic(ctx context.Context, tradeDate string) ([]models.DailyBasic, error) {
	stocks, err := a.StockList(ctx)
	if err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, nil
	}

	const maxStocks = 10
	if len(stocks) > maxStocks {
		stocks = stocks[:maxStocks]
	}
	deadline := time.Now().Add(30 * time.Second)

	out := make([]models.DailyBasic, 0, len(stocks))
	for _, stock := range stocks {
		if time.Now().After(deadline) {
			a.logger.Warn("Daily basic batch timed out", "processed", len(out))
			break
		}
		params := url.Values{}
		params.Set("symbol", stock.Symbol)
		rows, err := a.get(ctx, "stock_individual_info_em", params)
		if err != nil {
			a.logger.Debug("Symbol detail fetch failed", "symbol", stock.Symbol, "error", err)
			continue
		}

		// Rows are item/value pairs; fold them into one record.
		info := make(map[string]any, len(rows))
		for _, row := range rows {
			if item := stringField(row, "item"); item != "" {
				info[item] = row["value"]
			}
		}
		out = append(out, models.DailyBasic{
			Symbol:    stock.Symbol,
			TradeDate: compactDate(tradeDate),
			Close:     floatField(info, "最新"),
			// 总市值 arrives in 万元; normalize to 亿元
			TotalMktCap: scale(floatField(info, "总市值"), 1.0/10000),
		})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// News searches the global wire feed for the symbol and optionally appends
// exchange announcements. Either half failing is logged, not fatal.
func (a *AKShareAdapter) News(ctx context.Context, code string, days, limit int, includeAnnouncements bool) ([]models.NewsItem, error) {
	if limit <= 0 {
		limit = 50
	}
	code6 := NormalizeCode(code)
	var items []models.NewsItem

	rows, err := a.get(ctx, "stock_info_global_cls", nil)
	if err != nil {
		a.logger.Warn("Global news fetch failed", "code", code6, "error", err)
	}
	for _, row := range rows {
		if len(items) >= limit {
			break
		}
		title := stringField(row, "标题", "title")
		content := stringField(row, "内容", "content")
		if code6 != "" && !strings.Contains(title, code6) && !strings.Contains(content, code6) {
			continue
		}
		items = append(items, models.NewsItem{
			Title:       title,
			Content:     content,
			Source:      "cls",
			PublishedAt: parseNewsTime(clsTimestamp(row)),
		})
	}

	if includeAnnouncements && len(items) < limit {
		params := url.Values{}
		params.Set("symbol", code6)
		annRows, annErr := a.get(ctx, "stock_announcement_em", params)
		if annErr != nil {
			a.logger.Warn("Announcement fetch failed", "code", code6, "error", annErr)
		}
		for _, row := range annRows {
			if len(items) >= limit {
				break
			}
			items = append(items, models.NewsItem{
				Title:       stringField(row, "公告标题", "title"),
				Source:      "akshare",
				URL:         stringField(row, "公告链接", "url"),
				PublishedAt: parseNewsTime(stringField(row, "公告时间", "time")),
				IsAnnounce:  true,
			})
		}
	}

	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

// StockList returns the code/name roster with exchange and market segment
// derived locally.
func (a *AKShareAdapter) StockList(ctx context.Context) ([]models.StockInfo, error) {
	rows, err := a.get(ctx, "stock_info_a_code_name", nil)
	if err != nil {
		return nil, err
	}

	out := make([]models.StockInfo, 0, len(rows))
	for _, row := range rows {
		symbol := NormalizeCode(stringField(row, "code", "代码", "symbol"))
		if symbol == "" {
			continue
		}
		info := Classify(symbol)
		out = append(out, models.StockInfo{
			Symbol:     symbol,
			FullSymbol: info.FullSymbol,
			Name:       stringField(row, "name", "名称"),
			Market:     info.MarketName,
		})
	}
	return out, nil
}

// LatestTradeDate returns yesterday: this feed has no exchange calendar, so
// the previous day is the best cheap guess.
func (a *AKShareAdapter) LatestTradeDate(ctx context.Context) (string, error) {
	return time.Now().AddDate(0, 0, -1).Format("20060102"), nil
}

// aksMacroQuery maps tushare macro api names onto gateway endpoints plus
// the column renames needed to present the canonical vocabulary.
var aksMacroQuery = map[string]struct {
	endpoint string
	aliases  map[string]string
	dateCol  string
}{
	"cn_gdp": {"macro_china_gdp", map[string]string{"季度": "quarter", "国内生产总值-绝对值": "gdp", "国内生产总值-同比增长": "gdp_yoy"}, "quarter"},
	"cn_cpi": {"macro_china_cpi", map[string]string{"月份": "month", "全国-同比增长": "cpi"}, "month"},
	"cn_ppi": {"macro_china_ppi", map[string]string{"月份": "month", "工业生产者出厂价格指数-同比增长": "ppi"}, "month"},
	"cn_m":   {"macro_china_money_supply", map[string]string{"月份": "month", "货币和准货币(M2)-数量(亿元)": "m2", "货币和准货币(M2)-同比增长": "m2_yoy"}, "month"},
	"cn_pmi": {"macro_china_pmi", map[string]string{"月份": "month", "制造业PMI": "pmi"}, "month"},
	"cn_sf":  {"macro_china_shrzgm", map[string]string{"月份": "month", "社会融资规模增量": "sf_month"}, "month"},
	"lpr_data": {"macro_china_lpr", map[string]string{
		"日期": "trade_date", "1年期LPR": "1y", "5年期以上LPR": "5y"}, "trade_date"},
	"shibor": {"macro_china_shibor_all", map[string]string{"日期": "date"}, "date"},
}

// Query emulates the tushare api vocabulary over the akshare gateway for the
// apis that have a sensible mapping. Everything else returns no rows so the
// orchestrator can fall through.
func (a *AKShareAdapter) Query(ctx context.Context, apiName string, params map[string]string) ([]map[string]any, error) {
	tsCode := params["ts_code"]
	symbol := BareCode(tsCode)
	if symbol == "" {
		symbol = params["symbol"]
	}
	startDate := params["start_date"]
	endDate := params["end_date"]

	if m, ok := aksMacroQuery[apiName]; ok {
		rows, err := a.get(ctx, m.endpoint, nil)
		if err != nil {
			return nil, err
		}
		return filterByDate(renameColumns(rows, m.aliases), m.dateCol, startDate, endDate), nil
	}

	switch apiName {
	case "daily":
		if symbol == "" {
			return nil, nil
		}
		p := url.Values{}
		p.Set("symbol", NormalizeCode(symbol))
		p.Set("period", "daily")
		p.Set("adjust", "qfq")
		if startDate != "" {
			p.Set("start_date", compactDate(startDate))
		}
		if endDate != "" {
			p.Set("end_date", compactDate(endDate))
		}
		rows, err := a.get(ctx, "stock_zh_a_hist", p)
		if err != nil {
			return nil, err
		}
		return renameColumns(rows, map[string]string{
			"日期": "trade_date", "date": "trade_date",
			"开盘": "open", "收盘": "close", "最高": "high", "最低": "low",
			"成交量": "vol", "volume": "vol", "成交额": "amount",
			"涨跌幅": "pct_chg", "涨跌额": "change", "换手率": "turnover",
		}), nil

	case "index_daily":
		if symbol == "" {
			return nil, nil
		}
		p := url.Values{}
		p.Set("symbol", MarketPrefix(tsCode)+NormalizeCode(symbol))
		rows, err := a.get(ctx, "stock_zh_index_daily", p)
		if err != nil {
			return nil, err
		}
		rows = renameColumns(rows, map[string]string{"date": "trade_date", "volume": "vol"})
		return filterByDate(rows, "trade_date", startDate, endDate), nil

	case "moneyflow_dc":
		if symbol == "" {
			return nil, nil
		}
		p := url.Values{}
		p.Set("stock", NormalizeCode(symbol))
		p.Set("market", MarketPrefix(tsCode))
		rows, err := a.get(ctx, "stock_individual_fund_flow", p)
		if err != nil {
			return nil, err
		}
		rows = renameColumns(rows, map[string]string{
			"日期":        "trade_date",
			"主力净流入-净额":  "net_mf_amount",
			"超大单净流入-净额": "net_large_amount",
			"大单净流入-净额":  "net_med_amount",
			"中单净流入-净额":  "net_small_amount",
			"小单净流入-净额":  "net_little_amount",
		})
		return filterByDate(rows, "trade_date", startDate, endDate), nil

	case "fund_nav":
		if symbol == "" {
			return nil, nil
		}
		p := url.Values{}
		p.Set("symbol", symbol)
		p.Set("indicator", "单位净值走势")
		rows, err := a.get(ctx, "fund_open_fund_info_em", p)
		if err != nil {
			return nil, err
		}
		rows = renameColumns(rows, map[string]string{"净值日期": "nav_date", "单位净值": "unit_nav", "日增长率": "adj_nav"})
		return filterByDate(rows, "nav_date", startDate, endDate), nil

	case "fund_manager":
		rows, err := a.get(ctx, "fund_manager_em", nil)
		if err != nil {
			return nil, err
		}
		name := params["name"]
		if name == "" {
			return rows, nil
		}
		exact := make([]map[string]any, 0)
		fuzzy := make([]map[string]any, 0)
		for _, row := range rows {
			got := stringField(row, "姓名", "name")
			if got == name {
				exact = append(exact, row)
			} else if strings.Contains(got, name) {
				fuzzy = append(fuzzy, row)
			}
		}
		if len(exact) > 0 {
			return exact, nil
		}
		return fuzzy, nil

	case "index_weight":
		indexCode := BareCode(params["index_code"])
		if indexCode == "" {
			return nil, nil
		}
		p := url.Values{}
		p.Set("symbol", indexCode)
		rows, err := a.get(ctx, "index_stock_cons_weight_csindex", p)
		if err == nil && len(rows) > 0 {
			return renameColumns(rows, map[string]string{
				"日期": "trade_date", "指数代码": "index_code", "成分券代码": "con_code", "权重": "weight",
			}), nil
		}
		// csindex feed is flaky; fall back to the listing-only feed.
		rows, err = a.get(ctx, "index_stock_cons_sina", p)
		if err != nil {
			return nil, err
		}
		rows = renameColumns(rows, map[string]string{"代码": "con_code", "名称": "con_name"})
		for _, row := range rows {
			row["index_code"] = indexCode
			row["weight"] = 0.0
			row["trade_date"] = time.Now().Format("20060102")
		}
		return rows, nil

	case "top_inst":
		date := compactDate(params["trade_date"])
		if date == "" {
			date = compactDate(startDate)
		}
		if date == "" {
			date, _ = a.LatestTradeDate(ctx)
		}
		s, e := date, date
		if startDate != "" && endDate != "" {
			s, e = compactDate(startDate), compactDate(endDate)
		}
		p := url.Values{}
		p.Set("start_date", s)
		p.Set("end_date", e)
		rows, err := a.get(ctx, "stock_lhb_detail_em", p)
		if err != nil {
			return nil, err
		}
		return renameColumns(rows, map[string]string{
			"代码": "ts_code", "名称": "name", "上榜原因": "reason", "交易日期": "trade_date",
		}), nil

	case "block_trade":
		s := compactDate(startDate)
		if s == "" {
			s, _ = a.LatestTradeDate(ctx)
		}
		e := compactDate(endDate)
		if e == "" {
			e = s
		}
		p := url.Values{}
		p.Set("start_date", s)
		p.Set("end_date", e)
		rows, err := a.get(ctx, "stock_dzjy_mrtj", p)
		if err != nil {
			return nil, err
		}
		return renameColumns(rows, map[string]string{
			"证券代码": "ts_code", "证券简称": "name", "成交价": "price",
			"成交量": "vol", "成交额": "amount", "交易日期": "trade_date",
		}), nil

	case "news", "major_news":
		items, err := a.News(ctx, params["query"], 1, 100, false)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(items))
		for _, item := range items {
			rows = append(rows, map[string]any{
				"title":    item.Title,
				"content":  item.Content,
				"source":   item.Source,
				"datetime": item.PublishedAt.Format("2006-01-02 15:04:05"),
			})
		}
		return rows, nil
	}

	a.logger.Debug("No akshare mapping for api", "api_name", apiName)
	return nil, nil
}

// clsTimestamp joins the separate date and time columns of the wire feed.
func clsTimestamp(row map[string]any) string {
	date := stringField(row, "发布日期", "date")
	clock := stringField(row, "发布时间", "time")
	switch {
	case date != "" && clock != "":
		return date + " " + clock
	case date != "":
		return date
	default:
		return clock
	}
}

// filterByDate keeps rows whose dateCol falls within [start, end]. Empty
// bounds are open; dates compare in compacted YYYYMMDD form.
func filterByDate(rows []map[string]any, dateCol, start, end string) []map[string]any {
	s, e := compactDate(start), compactDate(end)
	if s == "" && e == "" {
		return rows
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		d := compactDate(stringField(row, dateCol))
		// Non-date values (quarter labels and the like) pass through.
		if !isDigits(d) {
			out = append(out, row)
			continue
		}
		if s != "" && d < s {
			continue
		}
		if e != "" && d > e {
			continue
		}
		out = append(out, row)
	}
	return out
}
