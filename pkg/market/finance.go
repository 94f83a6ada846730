package market

import (
	"context"
	"strings"
	"time"
)

// This file routes the named finance datasets onto QueryWithFallback.
// Each method resolves a (market, data type) pair to the canonical dataset
// name and assembles params in the tushare vocabulary; adapters translate
// for their own upstreams.

// queryParams assembles the common ts_code/start_date/end_date triple,
// omitting empty values.
func queryParams(tsCode, start, end string) map[string]string {
	params := map[string]string{}
	if tsCode != "" {
		params["ts_code"] = tsCode
	}
	if d := compactDate(start); d != "" {
		params["start_date"] = d
	}
	if d := compactDate(end); d != "" {
		params["end_date"] = d
	}
	return params
}

// tsCodeForMarket renders a user-supplied code the way the datasets expect:
// exchange-suffixed for A-shares, upper-case pass-through for HK and US.
func tsCodeForMarket(market, code string) string {
	if normalizeMarket(market) == "cn" {
		if normalized := NormalizeCode(code); normalized != "" {
			return FullSymbol(normalized)
		}
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeMarket(market string) string {
	switch strings.ToLower(strings.TrimSpace(market)) {
	case "", "cn", "a", "a股", "china", "zh":
		return "cn"
	case "hk", "港股", "hongkong":
		return "hk"
	case "us", "美股", "usa":
		return "us"
	default:
		return strings.ToLower(strings.TrimSpace(market))
	}
}

var stockDailyAPI = map[string]string{
	"cn": "daily",
	"hk": "hk_daily",
	"us": "us_daily",
}

// GetStockData returns daily bars as raw rows for the CN, HK or US market.
func (o *Orchestrator) GetStockData(ctx context.Context, market, code, startDate, endDate string) ([]map[string]any, string) {
	apiName, ok := stockDailyAPI[normalizeMarket(market)]
	if !ok {
		return nil, ""
	}
	return o.QueryWithFallback(ctx, apiName, queryParams(tsCodeForMarket(market, code), startDate, endDate))
}

// GetStockDataMinutes returns minute bars as raw rows.
func (o *Orchestrator) GetStockDataMinutes(ctx context.Context, code, freq, startDate, endDate string) ([]map[string]any, string) {
	params := queryParams(tsCodeForMarket("cn", code), startDate, endDate)
	params["freq"] = normalizeMinuteFreq(freq)
	return o.QueryWithFallback(ctx, "stk_mins", params)
}

// normalizeMinuteFreq accepts "5", "5m" and "5min" spellings.
func normalizeMinuteFreq(freq string) string {
	f := strings.ToLower(strings.TrimSpace(freq))
	switch {
	case f == "":
		return "5min"
	case strings.HasSuffix(f, "min"):
		return f
	case strings.HasSuffix(f, "m"):
		return strings.TrimSuffix(f, "m") + "min"
	default:
		return f + "min"
	}
}

var companyPerformanceAPI = map[string]map[string]string{
	"cn": {
		"forecast":           "forecast",
		"express":            "express",
		"indicator":          "fina_indicator",
		"dividend":           "dividend",
		"mainbz":             "fina_mainbz",
		"holder_number":      "stk_holdernumber",
		"holder_trade":       "stk_holdertrade",
		"managers":           "stk_managers",
		"audit":              "fina_audit",
		"company":            "stock_company",
		"balance":            "balancesheet",
		"cashflow":           "cashflow",
		"income":             "income",
		"share_float":        "share_float",
		"repurchase":         "repurchase",
		"top10_holders":      "top10_holders",
		"top10_floatholders": "top10_floatholders",
		"pledge_stat":        "pledge_stat",
		"pledge_detail":      "pledge_detail",
	},
	"hk": {
		"income":   "hk_income",
		"balance":  "hk_balancesheet",
		"cashflow": "hk_cashflow",
	},
	"us": {
		"income":    "us_income",
		"balance":   "us_balancesheet",
		"cashflow":  "us_cashflow",
		"indicator": "us_fina_indicator",
	},
}

// GetCompanyPerformance routes a fundamentals request to the dataset for
// the market and data type. Unknown combinations return no data.
func (o *Orchestrator) GetCompanyPerformance(ctx context.Context, market, code, dataType, startDate, endDate string) ([]map[string]any, string) {
	apiByType, ok := companyPerformanceAPI[normalizeMarket(market)]
	if !ok {
		return nil, ""
	}
	apiName, ok := apiByType[strings.ToLower(strings.TrimSpace(dataType))]
	if !ok {
		return nil, ""
	}
	return o.QueryWithFallback(ctx, apiName, queryParams(tsCodeForMarket(market, code), startDate, endDate))
}

var macroEconAPI = map[string]string{
	"shibor":           "shibor",
	"shibor_quote":     "shibor_quote",
	"lpr":              "lpr_data",
	"gdp":              "cn_gdp",
	"cpi":              "cn_cpi",
	"ppi":              "cn_ppi",
	"money_supply":     "cn_m",
	"pmi":              "cn_pmi",
	"social_financing": "cn_sf",
	"libor":            "libor",
	"hibor":            "hibor",
}

// GetMacroEcon returns a macroeconomic series by indicator name.
func (o *Orchestrator) GetMacroEcon(ctx context.Context, indicator, startDate, endDate string) ([]map[string]any, string) {
	apiName, ok := macroEconAPI[strings.ToLower(strings.TrimSpace(indicator))]
	if !ok {
		return nil, ""
	}
	return o.QueryWithFallback(ctx, apiName, queryParams("", startDate, endDate))
}

// GetMoneyFlow picks the dataset from the target: a stock code routes to
// per-stock flow, a sector name to industry flow, empty to the whole market.
func (o *Orchestrator) GetMoneyFlow(ctx context.Context, target, startDate, endDate string) ([]map[string]any, string) {
	target = strings.TrimSpace(target)
	switch {
	case target == "":
		return o.QueryWithFallback(ctx, "moneyflow_mkt_dc", queryParams("", startDate, endDate))
	case NormalizeCode(target) != "":
		return o.QueryWithFallback(ctx, "moneyflow_dc", queryParams(FullSymbol(NormalizeCode(target)), startDate, endDate))
	default:
		params := queryParams("", startDate, endDate)
		params["name"] = target
		return o.QueryWithFallback(ctx, "moneyflow_ind_dc", params)
	}
}

// GetMarginTrade returns margin trading balances: per-stock detail when a
// code is given, otherwise the exchange-level summary.
func (o *Orchestrator) GetMarginTrade(ctx context.Context, code, exchangeID, startDate, endDate string) ([]map[string]any, string) {
	if strings.TrimSpace(code) != "" {
		return o.QueryWithFallback(ctx, "margin_detail", queryParams(tsCodeForMarket("cn", code), startDate, endDate))
	}
	params := queryParams("", startDate, endDate)
	if exchangeID != "" {
		params["exchange_id"] = exchangeID
	}
	return o.QueryWithFallback(ctx, "margin", params)
}

var fundDataAPI = map[string]string{
	"basic":     "fund_basic",
	"manager":   "fund_manager",
	"nav":       "fund_nav",
	"dividend":  "fund_div",
	"portfolio": "fund_portfolio",
}

// GetFundData returns fund datasets by type. Fund codes (110011.OF) pass
// through untouched.
func (o *Orchestrator) GetFundData(ctx context.Context, code, dataType, startDate, endDate string) ([]map[string]any, string) {
	apiName, ok := fundDataAPI[strings.ToLower(strings.TrimSpace(dataType))]
	if !ok {
		return nil, ""
	}
	params := queryParams("", startDate, endDate)
	if c := strings.TrimSpace(code); c != "" {
		params["ts_code"] = c
	}
	return o.QueryWithFallback(ctx, apiName, params)
}

// GetFundManagerByName looks up fund managers by exact or partial name.
func (o *Orchestrator) GetFundManagerByName(ctx context.Context, name string) ([]map[string]any, string) {
	if strings.TrimSpace(name) == "" {
		return nil, ""
	}
	return o.QueryWithFallback(ctx, "fund_manager", map[string]string{"name": strings.TrimSpace(name)})
}

// GetIndexData returns daily bars for an index such as 000300.SH.
func (o *Orchestrator) GetIndexData(ctx context.Context, indexCode, startDate, endDate string) ([]map[string]any, string) {
	return o.QueryWithFallback(ctx, "index_daily", queryParams(indexSymbol(indexCode), startDate, endDate))
}

// indexSymbol passes index codes through unchanged apart from case. Index
// codes do not follow stock prefix rules (000300 lists on SH), so no
// exchange inference happens here.
func indexSymbol(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GetCSIIndexConstituents returns CSI index membership and weights.
func (o *Orchestrator) GetCSIIndexConstituents(ctx context.Context, indexCode, startDate, endDate string) ([]map[string]any, string) {
	params := queryParams("", startDate, endDate)
	params["index_code"] = indexSymbol(indexCode)
	return o.QueryWithFallback(ctx, "index_weight", params)
}

// GetConvertibleBond returns convertible bond reference data: "info" for
// basics, "issue" for issuance terms.
func (o *Orchestrator) GetConvertibleBond(ctx context.Context, dataType, tsCode string) ([]map[string]any, string) {
	var apiName string
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "", "info", "basic":
		apiName = "cb_basic"
	case "issue":
		apiName = "cb_issue"
	default:
		return nil, ""
	}
	params := map[string]string{}
	if c := strings.TrimSpace(tsCode); c != "" {
		params["ts_code"] = c
	}
	return o.QueryWithFallback(ctx, apiName, params)
}

// GetBlockTrade returns block trade records for a stock or a trade date.
func (o *Orchestrator) GetBlockTrade(ctx context.Context, code, tradeDate string) ([]map[string]any, string) {
	params := map[string]string{}
	if c := strings.TrimSpace(code); c != "" {
		params["ts_code"] = tsCodeForMarket("cn", c)
	}
	if d := compactDate(tradeDate); d != "" {
		params["trade_date"] = d
	}
	return o.QueryWithFallback(ctx, "block_trade", params)
}

// GetDragonTigerInst returns institutional seats on the daily winners list.
// Defaults to the latest trading day.
func (o *Orchestrator) GetDragonTigerInst(ctx context.Context, tradeDate, code string) ([]map[string]any, string) {
	date := compactDate(tradeDate)
	if date == "" {
		date, _ = o.LatestTradeDateWithFallback(ctx)
	}
	params := map[string]string{"trade_date": date}
	if c := strings.TrimSpace(code); c != "" {
		params["ts_code"] = tsCodeForMarket("cn", c)
	}
	return o.QueryWithFallback(ctx, "top_inst", params)
}

// GetFinanceNews returns recent financial news, optionally filtered by a
// free-text query.
func (o *Orchestrator) GetFinanceNews(ctx context.Context, query string, days int) ([]map[string]any, string) {
	if days <= 0 {
		days = 2
	}
	now := time.Now()
	params := map[string]string{
		"src":        "sina",
		"start_date": now.AddDate(0, 0, -days).Format("2006-01-02 15:04:05"),
		"end_date":   now.Format("2006-01-02 15:04:05"),
	}
	if q := strings.TrimSpace(query); q != "" {
		params["query"] = q
	}
	return o.QueryWithFallback(ctx, "news", params)
}

// GetHotNews7x24 returns the last day of streaming market news, capped at
// 100 rows.
func (o *Orchestrator) GetHotNews7x24(ctx context.Context) ([]map[string]any, string) {
	now := time.Now()
	rows, source := o.QueryWithFallback(ctx, "news", map[string]string{
		"src":        "sina",
		"start_date": now.AddDate(0, 0, -1).Format("2006-01-02 15:04:05"),
		"end_date":   now.Format("2006-01-02 15:04:05"),
	})
	if len(rows) > 100 {
		rows = rows[:100]
	}
	return rows, source
}
