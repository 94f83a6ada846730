package models

import "time"

// Bar is one OHLCV entry as returned by a provider adapter. Time is a
// trade date for daily and coarser periods, a timestamp for minute bars.
type Bar struct {
	Time   string   `json:"time"`
	Open   *float64 `json:"open,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Low    *float64 `json:"low,omitempty"`
	Close  *float64 `json:"close,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
}

// Quote is one daily bar in the write-through cache, keyed by
// (symbol, trade_date, data_source, period).
type Quote struct {
	Symbol     string         `json:"symbol"`      // six-digit code without exchange suffix
	FullSymbol string         `json:"full_symbol"` // exchange-suffixed, e.g. "000001.SZ"
	Market     string         `json:"market"`
	TradeDate  string         `json:"trade_date"` // digits only, YYYYMMDD
	Period     string         `json:"period"`     // "daily", "weekly", "monthly"
	DataSource string         `json:"data_source"`
	Open       *float64       `json:"open,omitempty"`
	High       *float64       `json:"high,omitempty"`
	Low        *float64       `json:"low,omitempty"`
	Close      *float64       `json:"close,omitempty"`
	PreClose   *float64       `json:"pre_close,omitempty"`
	Volume     *float64       `json:"volume,omitempty"`
	Amount     *float64       `json:"amount,omitempty"`
	PctChg     *float64       `json:"pct_chg,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"` // full normalized row
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}

// RealtimeQuote is one row of a market-wide realtime snapshot.
type RealtimeQuote struct {
	Symbol        string   `json:"symbol"` // normalized six-digit code
	Name          string   `json:"name,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	PctChg        *float64 `json:"pct_chg,omitempty"`
	Change        *float64 `json:"change,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	Open          *float64 `json:"open,omitempty"`
	High          *float64 `json:"high,omitempty"`
	Low           *float64 `json:"low,omitempty"`
	PreClose      *float64 `json:"pre_close,omitempty"`
	TurnoverRate  *float64 `json:"turnover_rate,omitempty"`
	PE            *float64 `json:"pe,omitempty"`
	PB            *float64 `json:"pb,omitempty"`
	TotalMktCapYi *float64 `json:"total_mv,omitempty"` // 亿元
	CircMktCapYi  *float64 `json:"circ_mv,omitempty"`  // 亿元
}

// DailyBasic carries per-symbol valuation metrics for one trade date.
type DailyBasic struct {
	Symbol       string   `json:"symbol"`
	TradeDate    string   `json:"trade_date"`
	Close        *float64 `json:"close,omitempty"`
	TurnoverRate *float64 `json:"turnover_rate,omitempty"`
	VolumeRatio  *float64 `json:"volume_ratio,omitempty"`
	PE           *float64 `json:"pe,omitempty"`
	PETTM        *float64 `json:"pe_ttm,omitempty"`
	PB           *float64 `json:"pb,omitempty"`
	PS           *float64 `json:"ps,omitempty"`
	TotalShare   *float64 `json:"total_share,omitempty"`
	FloatShare   *float64 `json:"float_share,omitempty"`
	TotalMktCap  *float64 `json:"total_mv,omitempty"`
	CircMktCap   *float64 `json:"circ_mv,omitempty"`
}

// NewsItem is one normalized news or announcement entry.
type NewsItem struct {
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	IsAnnounce  bool      `json:"is_announcement,omitempty"`
}

// StockInfo is the basic listing record for one symbol.
type StockInfo struct {
	Symbol     string `json:"symbol"`
	FullSymbol string `json:"full_symbol,omitempty"`
	Name       string `json:"name"`
	Area       string `json:"area,omitempty"`
	Industry   string `json:"industry,omitempty"`
	Market     string `json:"market,omitempty"` // 主板 / 中小板 / 创业板 / 科创板 / 北交所
	ListDate   string `json:"list_date,omitempty"`
}

// ProviderPriority describes one adapter's effective priority and where it
// came from.
type ProviderPriority struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Origin    string `json:"origin"` // "db", "env", "default"
	Available bool   `json:"available"`
}

// ConsistencyReport is the outcome of a cross-provider comparison.
type ConsistencyReport struct {
	IsConsistent       bool           `json:"is_consistent"`
	ConfidenceScore    float64        `json:"confidence_score"` // 0..1
	RecommendedAction  string         `json:"recommended_action"`
	ResolutionStrategy string         `json:"resolution_strategy"` // use_primary / use_secondary / merge / flag_for_review
	PrimarySource      string         `json:"primary_source"`
	SecondarySource    string         `json:"secondary_source"`
	Differences        map[string]any `json:"differences,omitempty"`
}
