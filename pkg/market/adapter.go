package market

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantflow/argus/pkg/models"
)

// Kline periods accepted by Adapter.Kline. Minute periods map onto the
// upstream minute endpoints; anything else is "no data", never an error.
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// Adapter is the uniform contract over one upstream data source. Adapters
// normalize codes, column names, and units at this boundary so the
// orchestrator and tools never see provider-specific shapes.
//
// Empty results mean "this source has nothing for that request"; errors mean
// transport or upstream failure and make the orchestrator fall through to
// the next adapter.
type Adapter interface {
	Name() string
	Priority() int
	// SetPriority is called once during orchestrator construction, before
	// the adapter set is sorted. Not safe for concurrent use afterwards.
	SetPriority(p int)
	DefaultPriority() int
	Available(ctx context.Context) bool

	RealtimeQuotes(ctx context.Context) (map[string]models.RealtimeQuote, error)
	Kline(ctx context.Context, code, period string, limit int, adjust string) ([]models.Bar, error)
	DailyBasic(ctx context.Context, tradeDate string) ([]models.DailyBasic, error)
	News(ctx context.Context, code string, days, limit int, includeAnnouncements bool) ([]models.NewsItem, error)
	StockList(ctx context.Context) ([]models.StockInfo, error)
	LatestTradeDate(ctx context.Context) (string, error)
	// Query is the generic escape hatch: api names follow the tushare
	// vocabulary; adapters without a native mapping return no rows.
	Query(ctx context.Context, apiName string, params map[string]string) ([]map[string]any, error)
}

// newLimiter builds a request limiter for an adapter honoring a
// requests-per-minute budget.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// availProbe memoizes an adapter's liveness check so hot paths don't pay
// for a network round-trip on every call.
type availProbe struct {
	mu      sync.Mutex
	checked time.Time
	ttl     time.Duration
	ok      bool
}

func newAvailProbe(ttl time.Duration) *availProbe {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &availProbe{ttl: ttl}
}

func (p *availProbe) check(ctx context.Context, probe func(context.Context) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.checked.IsZero() && time.Since(p.checked) < p.ttl {
		return p.ok
	}
	p.ok = probe(ctx)
	p.checked = time.Now()
	return p.ok
}

// parseFloat coerces an untyped row value to *float64. "", "None", "-",
// NaN, and unparseable strings become nil; rows never carry fabricated
// numbers.
func parseFloat(v any) *float64 {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case string:
		s := strings.TrimSpace(n)
		if s == "" || s == "-" || strings.EqualFold(s, "none") || strings.EqualFold(s, "nan") {
			return nil
		}
		s = strings.ReplaceAll(s, ",", "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// floatField returns the first alias present in the row, coerced to
// *float64. Upstream feeds rename columns between versions; alias lists
// keep the canonical field stable.
func floatField(row map[string]any, aliases ...string) *float64 {
	for _, k := range aliases {
		if v, ok := row[k]; ok {
			if f := parseFloat(v); f != nil {
				return f
			}
		}
	}
	return nil
}

// stringField returns the first non-empty alias present in the row.
func stringField(row map[string]any, aliases ...string) string {
	for _, k := range aliases {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
	}
	return ""
}

// compactDate reduces a date-ish string to digits-only YYYYMMDD form.
// "2026-08-21", "2026/08/21", and "2026-08-21 00:00:00" all collapse to
// "20260821".
func compactDate(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " T"); i >= 0 {
		s = s[:i]
	}
	s = strings.NewReplacer("-", "", "/", "").Replace(s)
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

// renameColumns rewrites row keys per the alias map, keeping unmapped
// columns as-is. Later duplicates do not clobber an already-mapped key.
func renameColumns(rows []map[string]any, aliases map[string]string) []map[string]any {
	if len(aliases) == 0 {
		return rows
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		mapped := make(map[string]any, len(row))
		for k, v := range row {
			key := k
			if canonical, ok := aliases[k]; ok {
				key = canonical
			}
			if _, exists := mapped[key]; exists && key != k {
				continue
			}
			mapped[key] = v
		}
		out = append(out, mapped)
	}
	return out
}
