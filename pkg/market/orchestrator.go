package market

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/quantflow/argus/pkg/config"
	"github.com/quantflow/argus/pkg/models"
)

// marketCategoryAShares is the grouping key for mainland A-share providers.
const marketCategoryAShares = "a_shares"

// promotedPriority is what the configured default source gets so it beats
// every built-in default.
const promotedPriority = 10

// QuoteSink receives fetched bars for write-through persistence.
// *store.QuoteStore satisfies it.
type QuoteSink interface {
	UpsertDailyQuotes(ctx context.Context, quotes []*models.Quote) (int, error)
}

// PrioritySource supplies per-market provider priority overrides.
// *store.GroupingStore satisfies it.
type PrioritySource interface {
	PrioritiesForMarket(ctx context.Context, marketCategoryID string) (map[string]int, error)
}

// Orchestrator tries adapters in priority order and falls through on error
// or empty results. Fallback methods return the result plus the name of the
// adapter that served it; exhaustion yields the zero result and "".
//
// The adapter order is fixed at construction. Configuration changes take
// effect by building a new orchestrator.
type Orchestrator struct {
	adapters     []Adapter // priority descending
	origins      map[string]string
	quotes       QuoteSink
	writeThrough bool
	consistency  bool
	checker      *ConsistencyChecker
	logger       *slog.Logger
}

// NewOrchestrator builds the fallback chain. Priorities resolve in three
// steps: datasource_groupings rows override adapter defaults, then the
// configured default China source is promoted above everything else.
// priorities and quotes may be nil; write-through needs a non-nil sink.
func NewOrchestrator(ctx context.Context, cfg *config.MarketConfig, adapters []Adapter, priorities PrioritySource, quotes QuoteSink) *Orchestrator {
	logger := slog.Default().With("component", "market")

	origins := make(map[string]string, len(adapters))
	for _, a := range adapters {
		origins[a.Name()] = "default"
	}

	if priorities != nil {
		overrides, err := priorities.PrioritiesForMarket(ctx, marketCategoryAShares)
		if err != nil {
			logger.Warn("Failed to load datasource groupings, using defaults", "error", err)
		}
		for _, a := range adapters {
			if p, ok := overrides[a.Name()]; ok {
				a.SetPriority(p)
				origins[a.Name()] = "db"
			}
		}
	}

	writeThrough := true
	consistency := false
	defaultSource := ""
	if cfg != nil {
		writeThrough = cfg.WriteThrough
		consistency = cfg.ConsistencyCheck
		defaultSource = strings.ToLower(strings.TrimSpace(cfg.DefaultChinaSource))
	}
	if defaultSource != "" {
		for _, a := range adapters {
			// Promotion never demotes: a higher db-assigned priority wins.
			if a.Name() == defaultSource && a.Priority() < promotedPriority {
				a.SetPriority(promotedPriority)
				origins[a.Name()] = "env"
			}
		}
	}

	ordered := make([]Adapter, len(adapters))
	copy(ordered, adapters)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority() != ordered[j].Priority() {
			return ordered[i].Priority() > ordered[j].Priority()
		}
		return ordered[i].Name() < ordered[j].Name()
	})

	return &Orchestrator{
		adapters:     ordered,
		origins:      origins,
		quotes:       quotes,
		writeThrough: writeThrough && quotes != nil,
		consistency:  consistency,
		checker:      NewConsistencyChecker(),
		logger:       logger,
	}
}

// AdapterStatus reports each adapter in fallback order with its resolved
// priority, where that priority came from, and current availability.
func (o *Orchestrator) AdapterStatus(ctx context.Context) []models.ProviderPriority {
	out := make([]models.ProviderPriority, 0, len(o.adapters))
	for _, a := range o.adapters {
		out = append(out, models.ProviderPriority{
			Name:      a.Name(),
			Priority:  a.Priority(),
			Origin:    o.origins[a.Name()],
			Available: a.Available(ctx),
		})
	}
	return out
}

// orderedAdapters applies preferred-source reordering: named adapters move
// to the front in the order given, the rest keep priority order behind them.
// Unknown names are ignored.
func (o *Orchestrator) orderedAdapters(preferred []string) []Adapter {
	if len(preferred) == 0 {
		return o.adapters
	}
	index := make(map[string]int, len(preferred))
	for i, name := range preferred {
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}
	front := make([]Adapter, 0, len(o.adapters))
	rest := make([]Adapter, 0, len(o.adapters))
	for _, a := range o.adapters {
		if _, ok := index[a.Name()]; ok {
			front = append(front, a)
		} else {
			rest = append(rest, a)
		}
	}
	sort.SliceStable(front, func(i, j int) bool {
		return index[front[i].Name()] < index[front[j].Name()]
	})
	return append(front, rest...)
}

// runFallback walks adapters in order until one returns data. Adapter
// errors are logged and treated like empty results so the chain continues.
func runFallback[T any](ctx context.Context, o *Orchestrator, op string, preferred []string, call func(context.Context, Adapter) (T, bool, error)) (T, string) {
	var zero T
	for _, a := range o.orderedAdapters(preferred) {
		if !a.Available(ctx) {
			continue
		}
		result, ok, err := call(ctx, a)
		if err != nil {
			o.logger.Warn("Provider call failed, falling through",
				"op", op, "adapter", a.Name(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		return result, a.Name()
	}
	return zero, ""
}

// KlineWithFallback fetches history bars for a symbol. On success the bars
// are written through to the quote cache under the serving adapter's name.
func (o *Orchestrator) KlineWithFallback(ctx context.Context, code, period string, limit int, adjust string, preferred ...string) ([]models.Bar, string) {
	bars, source := runFallback(ctx, o, "kline", preferred, func(ctx context.Context, a Adapter) ([]models.Bar, bool, error) {
		bars, err := a.Kline(ctx, code, period, limit, adjust)
		return bars, len(bars) > 0, err
	})
	if source != "" && o.writeThrough {
		o.persistBars(ctx, code, period, source, bars)
	}
	return bars, source
}

// KlineAllSources fetches the same window from every available adapter,
// keyed by adapter name. Empty results are omitted. Used by the source
// comparison endpoint; no write-through happens here.
func (o *Orchestrator) KlineAllSources(ctx context.Context, code, period string, limit int, adjust string) map[string][]models.Bar {
	out := map[string][]models.Bar{}
	for _, a := range o.adapters {
		if !a.Available(ctx) {
			continue
		}
		bars, err := a.Kline(ctx, code, period, limit, adjust)
		if err != nil {
			o.logger.Warn("Provider call failed",
				"op", "kline_all", "adapter", a.Name(), "error", err)
			continue
		}
		if len(bars) > 0 {
			out[a.Name()] = bars
		}
	}
	return out
}

// RealtimeQuotesWithFallback returns the whole-market realtime snapshot
// keyed by six-digit symbol.
func (o *Orchestrator) RealtimeQuotesWithFallback(ctx context.Context, preferred ...string) (map[string]models.RealtimeQuote, string) {
	return runFallback(ctx, o, "realtime_quotes", preferred, func(ctx context.Context, a Adapter) (map[string]models.RealtimeQuote, bool, error) {
		quotes, err := a.RealtimeQuotes(ctx)
		return quotes, len(quotes) > 0, err
	})
}

// DailyBasicWithFallback returns the valuation snapshot for a trade date.
func (o *Orchestrator) DailyBasicWithFallback(ctx context.Context, tradeDate string, preferred ...string) ([]models.DailyBasic, string) {
	return runFallback(ctx, o, "daily_basic", preferred, func(ctx context.Context, a Adapter) ([]models.DailyBasic, bool, error) {
		rows, err := a.DailyBasic(ctx, tradeDate)
		return rows, len(rows) > 0, err
	})
}

// DailyBasicWithConsistencyCheck fetches the valuation snapshot from the two
// highest-priority available adapters and compares them. It degrades to the
// plain fallback with a nil report when the check is disabled, fewer than
// two sources are up, or the primary returns nothing.
func (o *Orchestrator) DailyBasicWithConsistencyCheck(ctx context.Context, tradeDate string) ([]models.DailyBasic, string, *models.ConsistencyReport) {
	if !o.consistency {
		rows, source := o.DailyBasicWithFallback(ctx, tradeDate)
		return rows, source, nil
	}

	var available []Adapter
	for _, a := range o.adapters {
		if a.Available(ctx) {
			available = append(available, a)
		}
	}
	if len(available) < 2 {
		rows, source := o.DailyBasicWithFallback(ctx, tradeDate)
		return rows, source, nil
	}

	primary, secondary := available[0], available[1]
	primaryRows, err := primary.DailyBasic(ctx, tradeDate)
	if err != nil || len(primaryRows) == 0 {
		if err != nil {
			o.logger.Warn("Primary source failed during consistency check",
				"adapter", primary.Name(), "error", err)
		}
		rows, source := o.DailyBasicWithFallback(ctx, tradeDate)
		return rows, source, nil
	}
	secondaryRows, err := secondary.DailyBasic(ctx, tradeDate)
	if err != nil || len(secondaryRows) == 0 {
		if err != nil {
			o.logger.Warn("Secondary source failed during consistency check",
				"adapter", secondary.Name(), "error", err)
		}
		return primaryRows, primary.Name(), nil
	}

	report := o.checker.Compare(primary.Name(), secondary.Name(), primaryRows, secondaryRows)
	switch report.ResolutionStrategy {
	case ResolutionUseSecondary:
		return secondaryRows, secondary.Name(), report
	case ResolutionMerge:
		return mergeDailyBasics(primaryRows, secondaryRows), primary.Name(), report
	default:
		// use_primary and flag_for_review both serve the primary rows;
		// the report carries the flag.
		return primaryRows, primary.Name(), report
	}
}

// NewsWithFallback returns recent news (and optionally announcements) for
// a symbol.
func (o *Orchestrator) NewsWithFallback(ctx context.Context, code string, days, limit int, includeAnnouncements bool, preferred ...string) ([]models.NewsItem, string) {
	return runFallback(ctx, o, "news", preferred, func(ctx context.Context, a Adapter) ([]models.NewsItem, bool, error) {
		items, err := a.News(ctx, code, days, limit, includeAnnouncements)
		return items, len(items) > 0, err
	})
}

// StockListWithFallback returns the listed-stock directory.
func (o *Orchestrator) StockListWithFallback(ctx context.Context, preferred ...string) ([]models.StockInfo, string) {
	return runFallback(ctx, o, "stock_list", preferred, func(ctx context.Context, a Adapter) ([]models.StockInfo, bool, error) {
		stocks, err := a.StockList(ctx)
		return stocks, len(stocks) > 0, err
	})
}

// LatestTradeDateWithFallback returns the most recent open trading day in
// YYYYMMDD form. When no adapter can say, yesterday is the answer: callers
// treat the date as a hint, and a weekend-stale guess beats no data.
func (o *Orchestrator) LatestTradeDateWithFallback(ctx context.Context) (string, string) {
	date, source := runFallback(ctx, o, "latest_trade_date", nil, func(ctx context.Context, a Adapter) (string, bool, error) {
		d, err := a.LatestTradeDate(ctx)
		return d, d != "", err
	})
	if date == "" {
		return time.Now().AddDate(0, 0, -1).Format("20060102"), ""
	}
	return date, source
}

// QueryWithFallback routes a named dataset request through the adapter
// chain. Adapters that have no mapping for apiName report empty and the
// chain continues.
func (o *Orchestrator) QueryWithFallback(ctx context.Context, apiName string, params map[string]string, preferred ...string) ([]map[string]any, string) {
	return runFallback(ctx, o, "query:"+apiName, preferred, func(ctx context.Context, a Adapter) ([]map[string]any, bool, error) {
		rows, err := a.Query(ctx, apiName, params)
		return rows, len(rows) > 0, err
	})
}

// SyncStockData warms the quote cache for a batch of symbols before
// analysis. Failures are per-symbol; the batch never aborts. Returns the
// number of symbols synced and the symbols that produced no data.
func (o *Orchestrator) SyncStockData(ctx context.Context, codes []string, period string, limit int) (int, []string) {
	if period == "" {
		period = PeriodDay
	}
	if limit <= 0 {
		limit = 120
	}
	synced := 0
	var failed []string
	for _, code := range codes {
		bars, source := o.KlineWithFallback(ctx, code, period, limit, "")
		if len(bars) == 0 {
			failed = append(failed, code)
			continue
		}
		synced++
		o.logger.Debug("Synced stock data", "symbol", code, "source", source, "bars", len(bars))
	}
	return synced, failed
}

// storePeriod maps adapter periods onto quote-cache period values. Minute
// bars are not cached.
func storePeriod(period string) string {
	switch period {
	case PeriodDay:
		return "daily"
	case PeriodWeek:
		return "weekly"
	case PeriodMonth:
		return "monthly"
	default:
		return ""
	}
}

// persistBars writes fetched bars through to the quote cache. Cache writes
// never fail the read path.
func (o *Orchestrator) persistBars(ctx context.Context, code, period, source string, bars []models.Bar) {
	storeP := storePeriod(period)
	if storeP == "" || len(bars) == 0 {
		return
	}
	symbol := NormalizeCode(code)
	if symbol == "" {
		return
	}

	full := FullSymbol(symbol)
	quotes := make([]*models.Quote, 0, len(bars))
	for _, b := range bars {
		tradeDate := compactDate(b.Time)
		if tradeDate == "" {
			continue
		}
		quotes = append(quotes, &models.Quote{
			Symbol:     symbol,
			FullSymbol: full,
			Market:     "CN",
			TradeDate:  tradeDate,
			Period:     storeP,
			DataSource: source,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			Amount:     b.Amount,
		})
	}
	if len(quotes) == 0 {
		return
	}
	if _, err := o.quotes.UpsertDailyQuotes(ctx, quotes); err != nil {
		o.logger.Warn("Quote write-through failed", "symbol", symbol, "error", err)
	}
}
