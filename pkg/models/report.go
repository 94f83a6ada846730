package models

import "time"

// AnalysisReport is one persisted, hydrated analysis result. Section texts
// live in Reports keyed by section name (market_report, news_report, …);
// the structured decision lives in Decision.
type AnalysisReport struct {
	ID             int64             `json:"-"`
	AnalysisID     string            `json:"analysis_id"`
	TaskID         string            `json:"task_id,omitempty"`
	UserID         string            `json:"user_id"`
	Symbol         string            `json:"symbol"`
	MarketType     string            `json:"market_type"`
	Status         string            `json:"status"`
	AnalysisDate   string            `json:"analysis_date"` // YYYY-MM-DD
	Summary        string            `json:"summary,omitempty"`
	Recommendation string            `json:"recommendation,omitempty"`
	Reports        map[string]string `json:"reports"`
	Decision       map[string]any    `json:"decision,omitempty"`
	KeyPoints      []string          `json:"key_points,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ReportFilters contains filtering options for report history listings.
type ReportFilters struct {
	UserID       string `json:"user_id,omitempty"`
	Symbol       string `json:"symbol,omitempty"`
	MarketType   string `json:"market_type,omitempty"`
	Status       string `json:"status,omitempty"`
	AnalysisDate string `json:"analysis_date,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}

// ReportListResponse contains a paginated report list.
type ReportListResponse struct {
	Reports    []*AnalysisReport `json:"reports"`
	TotalCount int               `json:"total_count"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}
