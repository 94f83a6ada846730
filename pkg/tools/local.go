package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quantflow/argus/pkg/market"
	"github.com/quantflow/argus/pkg/models"
)

// macroIndicators maps the friendly indicator vocabulary onto upstream
// api names. The generic Query fans out through the adapter chain.
var macroIndicators = map[string]string{
	"gdp":    "cn_gdp",
	"cpi":    "cn_cpi",
	"ppi":    "cn_ppi",
	"pmi":    "cn_pmi",
	"m":      "cn_m",
	"sf":     "cn_sf",
	"shibor": "shibor",
	"lpr":    "shibor_lpr",
}

// localTools builds the local tool set bound to one task's preferred
// source ordering. Each tool wraps exactly one orchestrator operation.
func localTools(orch *market.Orchestrator, preferred []string) []*Tool {
	return []*Tool{
		{
			Name:        "get_stock_data",
			Description: "获取股票历史K线行情（日线/周线/月线），包含开高低收、成交量和成交额。",
			Schema: `{"type":"object","properties":{
				"symbol":{"type":"string","description":"股票代码，如 000001 或 600519"},
				"period":{"type":"string","enum":["daily","weekly","monthly"],"description":"K线周期，默认 daily"},
				"limit":{"type":"integer","description":"返回的K线条数，默认 120"},
				"adjust":{"type":"string","enum":["qfq","hfq","none"],"description":"复权方式，默认 qfq"}
			},"required":["symbol"]}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				symbol := argString(args, "symbol", "")
				if symbol == "" {
					return "", fmt.Errorf("缺少参数 symbol")
				}
				period := argString(args, "period", "daily")
				limit := argInt(args, "limit", 120)
				adjust := argString(args, "adjust", "qfq")

				bars, source := orch.KlineWithFallback(ctx, symbol, period, limit, adjust, preferred...)
				if len(bars) == 0 {
					return emptyResult(fmt.Sprintf("未获取到 %s 的%s行情数据", symbol, period)), nil
				}
				return successResult(source,
					fmt.Sprintf("%s %s K线 %d 条", market.FullSymbol(symbol), period, len(bars)), bars)
			},
		},
		{
			Name:        "get_realtime_quotes",
			Description: "获取股票实时行情快照：最新价、涨跌幅、成交量、市盈率、市值等。",
			Schema: `{"type":"object","properties":{
				"symbols":{"type":"array","items":{"type":"string"},"description":"股票代码列表"},
				"symbol":{"type":"string","description":"单只股票代码"}
			}}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				symbols := argSymbols(args)
				if len(symbols) == 0 {
					return "", fmt.Errorf("缺少参数 symbol 或 symbols")
				}
				snapshot, source := orch.RealtimeQuotesWithFallback(ctx, preferred...)
				if len(snapshot) == 0 {
					return emptyResult("未获取到实时行情快照"), nil
				}
				quotes := make([]models.RealtimeQuote, 0, len(symbols))
				var missing []string
				for _, sym := range symbols {
					if q, ok := snapshot[market.NormalizeCode(sym)]; ok {
						quotes = append(quotes, q)
					} else {
						missing = append(missing, sym)
					}
				}
				if len(quotes) == 0 {
					return emptyResult(fmt.Sprintf("快照中没有 %s 的实时行情", strings.Join(missing, ", "))), nil
				}
				return successResult(source, fmt.Sprintf("实时行情 %d 条", len(quotes)), quotes)
			},
		},
		{
			Name:        "get_daily_basic",
			Description: "获取指定交易日的个股估值指标：市盈率、市净率、换手率、总市值、流通市值等。",
			Schema: `{"type":"object","properties":{
				"symbol":{"type":"string","description":"股票代码；省略时返回全市场（截断）"},
				"trade_date":{"type":"string","description":"交易日 YYYYMMDD，默认最近交易日"}
			}}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				tradeDate := argString(args, "trade_date", "")
				if tradeDate == "" {
					tradeDate, _ = orch.LatestTradeDateWithFallback(ctx)
				}
				rows, source := orch.DailyBasicWithFallback(ctx, tradeDate, preferred...)
				if len(rows) == 0 {
					return emptyResult(fmt.Sprintf("未获取到 %s 的估值数据", tradeDate)), nil
				}
				if symbol := argString(args, "symbol", ""); symbol != "" {
					normalized := market.NormalizeCode(symbol)
					for _, row := range rows {
						if market.BareCode(row.Symbol) == normalized {
							return successResult(source,
								fmt.Sprintf("%s 在 %s 的估值指标", symbol, tradeDate), []models.DailyBasic{row})
						}
					}
					return emptyResult(fmt.Sprintf("%s 在 %s 没有估值数据", symbol, tradeDate)), nil
				}
				const cap = 50
				if len(rows) > cap {
					rows = rows[:cap]
				}
				return successResult(source, fmt.Sprintf("%s 估值指标（前 %d 条）", tradeDate, len(rows)), rows)
			},
		},
		{
			Name:        "get_stock_news",
			Description: "获取股票的最新新闻与公告，按发布时间倒序。",
			Schema: `{"type":"object","properties":{
				"symbol":{"type":"string","description":"股票代码"},
				"days":{"type":"integer","description":"回溯天数，默认 7"},
				"limit":{"type":"integer","description":"最大条数，默认 10"},
				"include_announcements":{"type":"boolean","description":"是否包含公告，默认 true"}
			},"required":["symbol"]}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				symbol := argString(args, "symbol", "")
				if symbol == "" {
					return "", fmt.Errorf("缺少参数 symbol")
				}
				days := argInt(args, "days", 7)
				limit := argInt(args, "limit", 10)
				include := argBool(args, "include_announcements", true)

				items, source := orch.NewsWithFallback(ctx, symbol, days, limit, include, preferred...)
				if len(items) == 0 {
					return emptyResult(fmt.Sprintf("近 %d 天没有 %s 的新闻", days, symbol)), nil
				}
				return successResult(source, fmt.Sprintf("%s 新闻 %d 条", symbol, len(items)), items)
			},
		},
		{
			Name:        "get_stock_info",
			Description: "获取股票基础信息：名称、行业、地区、上市板块、上市日期。",
			Schema: `{"type":"object","properties":{
				"symbol":{"type":"string","description":"股票代码"}
			},"required":["symbol"]}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				symbol := argString(args, "symbol", "")
				if symbol == "" {
					return "", fmt.Errorf("缺少参数 symbol")
				}
				list, source := orch.StockListWithFallback(ctx, preferred...)
				normalized := market.NormalizeCode(symbol)
				for _, info := range list {
					if market.BareCode(info.Symbol) == normalized {
						return successResult(source, fmt.Sprintf("%s 基础信息", symbol), info)
					}
				}
				return emptyResult(fmt.Sprintf("股票列表中没有 %s", symbol)), nil
			},
		},
		{
			Name:        "get_latest_trade_date",
			Description: "获取最近一个交易日（YYYYMMDD）。",
			Schema:      `{"type":"object","properties":{}}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				date, source := orch.LatestTradeDateWithFallback(ctx)
				return successResult(source, "最近交易日", map[string]string{"trade_date": date})
			},
		},
		{
			Name:             "get_macro_econ",
			Description:      "获取宏观经济数据。支持指标: gdp、cpi、ppi、pmi、m(货币供应)、sf(社融)、shibor、lpr。",
			RequiresProvider: "tushare",
			Schema: `{"type":"object","properties":{
				"indicator":{"type":"string","description":"指标名称: gdp/cpi/ppi/pmi/m/sf/shibor/lpr"},
				"start_date":{"type":"string","description":"开始日期 YYYYMMDD，默认 3 个月前"},
				"end_date":{"type":"string","description":"结束日期 YYYYMMDD，默认今天"}
			},"required":["indicator"]}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				indicator := strings.ToLower(argString(args, "indicator", ""))
				apiName, ok := macroIndicators[indicator]
				if !ok {
					return "", fmt.Errorf("不支持的宏观指标 %q（支持: gdp/cpi/ppi/pmi/m/sf/shibor/lpr）", indicator)
				}
				params := dateRangeParams(args, 90)
				rows, source := orch.QueryWithFallback(ctx, apiName, params, preferred...)
				if len(rows) == 0 {
					return emptyResult(fmt.Sprintf("未获取到宏观指标 %s 的数据", indicator)), nil
				}
				return successResult(source, fmt.Sprintf("宏观指标 %s %d 条", indicator, len(rows)), rows)
			},
		},
		{
			Name:             "get_money_flow",
			Description:      "获取个股资金流向数据（主力/散户买卖金额）。",
			RequiresProvider: "tushare",
			Schema: `{"type":"object","properties":{
				"symbol":{"type":"string","description":"股票代码"},
				"trade_date":{"type":"string","description":"交易日 YYYYMMDD"},
				"start_date":{"type":"string","description":"开始日期 YYYYMMDD"},
				"end_date":{"type":"string","description":"结束日期 YYYYMMDD"}
			}}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				params := dateRangeParams(args, 30)
				if symbol := argString(args, "symbol", ""); symbol != "" {
					params["ts_code"] = market.FullSymbol(symbol)
				}
				if td := argString(args, "trade_date", ""); td != "" {
					params["trade_date"] = td
				}
				rows, source := orch.QueryWithFallback(ctx, "moneyflow", params, preferred...)
				if len(rows) == 0 {
					return emptyResult("未获取到资金流向数据"), nil
				}
				return successResult(source, fmt.Sprintf("资金流向 %d 条", len(rows)), rows)
			},
		},
		{
			Name:        "get_index_data",
			Description: "获取指数日线行情，如上证指数 000001.SH、沪深300 000300.SH。",
			Schema: `{"type":"object","properties":{
				"index_code":{"type":"string","description":"指数代码（带后缀），如 000001.SH"},
				"start_date":{"type":"string","description":"开始日期 YYYYMMDD，默认 3 个月前"},
				"end_date":{"type":"string","description":"结束日期 YYYYMMDD，默认今天"}
			},"required":["index_code"]}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				indexCode := argString(args, "index_code", "")
				if indexCode == "" {
					return "", fmt.Errorf("缺少参数 index_code")
				}
				params := dateRangeParams(args, 90)
				// Index codes pass through verbatim; exchange-suffix
				// classification only applies to equities.
				params["ts_code"] = indexCode
				rows, source := orch.QueryWithFallback(ctx, "index_daily", params, preferred...)
				if len(rows) == 0 {
					return emptyResult(fmt.Sprintf("未获取到指数 %s 的行情", indexCode)), nil
				}
				return successResult(source, fmt.Sprintf("指数 %s 行情 %d 条", indexCode, len(rows)), rows)
			},
		},
		{
			Name:             "get_margin_trade",
			Description:      "获取融资融券汇总数据。",
			RequiresProvider: "tushare",
			Schema: `{"type":"object","properties":{
				"trade_date":{"type":"string","description":"交易日 YYYYMMDD"},
				"start_date":{"type":"string","description":"开始日期 YYYYMMDD"},
				"end_date":{"type":"string","description":"结束日期 YYYYMMDD"}
			}}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				params := dateRangeParams(args, 30)
				if td := argString(args, "trade_date", ""); td != "" {
					params["trade_date"] = td
				}
				rows, source := orch.QueryWithFallback(ctx, "margin", params, preferred...)
				if len(rows) == 0 {
					return emptyResult("未获取到融资融券数据"), nil
				}
				return successResult(source, fmt.Sprintf("融资融券 %d 条", len(rows)), rows)
			},
		},
		{
			Name:             "get_block_trade",
			Description:      "获取大宗交易数据。",
			RequiresProvider: "tushare",
			Schema: `{"type":"object","properties":{
				"symbol":{"type":"string","description":"股票代码；省略时返回当日全部"},
				"trade_date":{"type":"string","description":"交易日 YYYYMMDD，默认最近交易日"}
			}}`,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				params := map[string]string{}
				if symbol := argString(args, "symbol", ""); symbol != "" {
					params["ts_code"] = market.FullSymbol(symbol)
				}
				tradeDate := argString(args, "trade_date", "")
				if tradeDate == "" {
					tradeDate, _ = orch.LatestTradeDateWithFallback(ctx)
				}
				params["trade_date"] = tradeDate
				rows, source := orch.QueryWithFallback(ctx, "block_trade", params, preferred...)
				if len(rows) == 0 {
					return emptyResult(fmt.Sprintf("%s 没有大宗交易数据", tradeDate)), nil
				}
				return successResult(source, fmt.Sprintf("大宗交易 %d 条", len(rows)), rows)
			},
		},
	}
}

// argSymbols accepts either a "symbols" array or a single "symbol".
func argSymbols(args map[string]any) []string {
	var out []string
	if list, ok := args["symbols"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	if s := argString(args, "symbol", ""); s != "" {
		out = append(out, s)
	}
	return out
}

// dateRangeParams builds start/end date params, defaulting to a trailing
// window ending today.
func dateRangeParams(args map[string]any, defaultDays int) map[string]string {
	end := argString(args, "end_date", "")
	if end == "" {
		end = time.Now().Format("20060102")
	}
	start := argString(args, "start_date", "")
	if start == "" {
		start = time.Now().AddDate(0, 0, -defaultDays).Format("20060102")
	}
	return map[string]string{"start_date": start, "end_date": end}
}

// successResult renders the uniform tool result envelope.
func successResult(source, summary string, data any) (string, error) {
	payload := map[string]any{
		"status":  "success",
		"summary": summary,
		"data":    data,
	}
	if source != "" {
		payload["source"] = source
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("结果序列化失败: %w", err)
	}
	return string(b), nil
}

// emptyResult renders the no-data envelope. Empty data is a normal
// outcome, not a failure: the model should route, not retry blindly.
func emptyResult(summary string) string {
	b, _ := json.Marshal(map[string]any{
		"status":     "empty",
		"summary":    summary,
		"suggestion": "请检查股票代码与日期，或改用其他工具获取数据。",
	})
	return string(b)
}
