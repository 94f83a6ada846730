package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/quantflow/argus/pkg/models"
	"github.com/quantflow/argus/pkg/store"
)

// TaskResult is the uniform hydrated analysis result. Every field has been
// defensively coerced; Reports values are trimmed and non-empty. Source
// names the layer that supplied the base document.
type TaskResult struct {
	AnalysisID        string            `json:"analysis_id"`
	TaskID            string            `json:"task_id,omitempty"`
	StockSymbol       string            `json:"stock_symbol"`
	CompanyName       string            `json:"company_name,omitempty"`
	MarketType        string            `json:"market_type,omitempty"`
	AnalysisDate      string            `json:"analysis_date"`
	Status            string            `json:"status"`
	Summary           string            `json:"summary"`
	Recommendation    string            `json:"recommendation"`
	ConfidenceScore   float64           `json:"confidence_score"`
	RiskLevel         string            `json:"risk_level"`
	KeyPoints         []string          `json:"key_points"`
	ExecutionTime     float64           `json:"execution_time"`
	Analysts          []string          `json:"analysts,omitempty"`
	ResearchDepth     int               `json:"research_depth,omitempty"`
	Reports           map[string]string `json:"reports"`
	Decision          map[string]any    `json:"decision"`
	StructuredSummary map[string]any    `json:"structured_summary,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
	Source            string            `json:"source"`
}

// Result hydrates one task's result: pick the first layer that holds a
// base document (memory → analysis_reports → analysis_tasks.result), then
// fill gaps from report files on disk and from the embedded state, and
// finally coerce everything to the uniform shape.
func (m *Manager) Result(ctx context.Context, taskID string) (*TaskResult, error) {
	merged, source, err := m.resultBase(ctx, taskID)
	if err != nil {
		return nil, err
	}
	m.enrich(merged)
	return coerceResult(merged, source), nil
}

func (m *Manager) resultBase(ctx context.Context, taskID string) (map[string]any, string, error) {
	m.mu.RLock()
	if e, ok := m.table[taskID]; ok && e.result != nil {
		base := cloneResult(e.result)
		m.mu.RUnlock()
		return base, "memory", nil
	}
	m.mu.RUnlock()

	report, err := m.reports.GetByTaskID(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		// Rows written before task linkage may only be reachable through
		// the analysis id embedded in the task row's result.
		if task, terr := m.tasks.GetTask(ctx, taskID); terr == nil {
			if id := models.ToString(task.Result["analysis_id"], ""); id != "" {
				report, err = m.reports.GetByAnalysisID(ctx, id)
			}
		}
	}
	if err == nil {
		return resultFromReport(report), "analysis_reports", nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, "", err
	}

	task, err := m.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, "", err
	}
	if len(task.Result) == 0 {
		return nil, "", store.ErrNotFound
	}
	return resultFromTaskRow(task), "analysis_tasks", nil
}

func resultFromReport(r *models.AnalysisReport) map[string]any {
	reports := make(map[string]any, len(r.Reports))
	for k, v := range r.Reports {
		reports[k] = v
	}
	return map[string]any{
		"analysis_id":    r.AnalysisID,
		"task_id":        r.TaskID,
		"stock_symbol":   r.Symbol,
		"market_type":    r.MarketType,
		"analysis_date":  r.AnalysisDate,
		"status":         r.Status,
		"summary":        r.Summary,
		"recommendation": r.Recommendation,
		"reports":        reports,
		"decision":       r.Decision,
		"key_points":     r.KeyPoints,
	}
}

func resultFromTaskRow(t *models.AnalysisTask) map[string]any {
	merged := cloneResult(t.Result)
	if models.ToString(merged["task_id"], "") == "" {
		merged["task_id"] = t.TaskID
	}
	if models.ToString(merged["stock_symbol"], "") == "" {
		merged["stock_symbol"] = t.Symbol
	}
	if models.ToString(merged["market_type"], "") == "" {
		merged["market_type"] = t.MarketType
	}
	if models.ToString(merged["status"], "") == "" {
		merged["status"] = string(t.Status)
	}
	if models.ToString(merged["last_error"], "") == "" && t.LastError != "" {
		merged["last_error"] = t.LastError
	}
	if _, ok := merged["execution_time"]; !ok && t.StartedAt != nil && t.CompletedAt != nil {
		merged["execution_time"] = t.CompletedAt.Sub(*t.StartedAt).Seconds()
	}
	return merged
}

func cloneResult(result map[string]any) map[string]any {
	out := make(map[string]any, len(result))
	for k, v := range result {
		out[k] = v
	}
	return out
}

// enrich fills the gaps of a base document in place: reports from disk or
// from the embedded state, then the derived recommendation, summary, and
// key points.
func (m *Manager) enrich(merged map[string]any) {
	reports := cleanReports(merged["reports"])

	if len(reports) == 0 {
		symbol := models.ToString(merged["stock_symbol"], "")
		date := dateOnly(models.ToString(merged["analysis_date"], ""))
		if loaded := m.loadReportFiles(symbol, date); len(loaded) > 0 {
			reports = loaded
			if models.ToString(merged["summary"], "") == "" && loaded["summary"] != "" {
				merged["summary"] = loaded["summary"]
			}
			if models.ToString(merged["recommendation"], "") == "" && loaded["recommendation"] != "" {
				merged["recommendation"] = loaded["recommendation"]
			}
		}
	}
	if len(reports) == 0 {
		reports = inferReports(models.ToMap(merged["state"], nil))
	}
	merged["reports"] = reports

	decision := models.ToMap(merged["decision"], nil)
	merged["recommendation"] = deriveRecommendation(models.ToString(merged["recommendation"], ""), decision, reports)
	merged["summary"] = deriveSummary(models.ToString(merged["summary"], ""), reports)
	merged["key_points"] = deriveKeyPoints(models.ToStringList(merged["key_points"]), decision, reports)
}

// loadReportFiles reads <reportsDir>/<symbol>/<date>/reports/*.md, keying
// each file by its stem.
func (m *Manager) loadReportFiles(symbol, date string) map[string]string {
	if m.reportsDir == "" || symbol == "" || date == "" {
		return nil
	}
	dir := filepath.Join(m.reportsDir, symbol, date, "reports")
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make(map[string]string)
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			m.logger.Warn("Failed to read report file", "path", filepath.Join(dir, f.Name()), "error", err)
			continue
		}
		content := strings.TrimSpace(string(b))
		if content == "" {
			continue
		}
		out[strings.TrimSuffix(f.Name(), ".md")] = content
	}
	return out
}

// Report-bearing state keys that do not carry the "_report" suffix.
var nonReportStateKeys = []string{"trader_investment_plan", "investment_plan", "final_trade_decision"}

// inferReports discovers report texts inside an embedded analysis state:
// every "_report"-suffixed key, the fixed plan/decision keys, and the
// per-side debate histories. Entries shorter than 10 runes trimmed are
// noise, not reports.
func inferReports(state map[string]any) map[string]string {
	out := make(map[string]string)
	if len(state) == 0 {
		return out
	}
	put := func(key string, raw any) {
		s, ok := raw.(string)
		if !ok {
			return
		}
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > 10 {
			out[key] = s
		}
	}

	for key, raw := range state {
		if strings.HasSuffix(key, "_report") {
			put(key, raw)
		}
	}
	for _, key := range nonReportStateKeys {
		put(key, state[key])
	}

	invest := models.ToMap(state["investment_debate_state"], nil)
	put("bull_researcher", invest["bull_history"])
	put("bear_researcher", invest["bear_history"])
	put("research_team_decision", invest["judge_decision"])

	risk := models.ToMap(state["risk_debate_state"], nil)
	put("risky_analyst", risk["risky_history"])
	put("safe_analyst", risk["safe_history"])
	put("neutral_analyst", risk["neutral_history"])
	put("risk_management_decision", risk["judge_decision"])

	return out
}

// cleanReports coerces a reports value into trimmed non-empty strings,
// dropping everything else.
func cleanReports(v any) map[string]string {
	out := make(map[string]string)
	switch reports := v.(type) {
	case map[string]string:
		for key, content := range reports {
			if c := strings.TrimSpace(content); c != "" {
				out[key] = c
			}
		}
	case map[string]any:
		for key, raw := range reports {
			if c := strings.TrimSpace(models.ToString(raw, "")); c != "" {
				out[key] = c
			}
		}
	}
	return out
}

// The report whitelists the derivations consult, in consult order.
var (
	recommendationReports = []string{"final_trade_decision", "investment_plan"}
	keyPointReports       = []string{"investment_plan", "final_trade_decision"}
	coreSummaryReports    = []string{"market_report", "fundamentals_report", "sentiment_report", "news_report"}
)

// deriveRecommendation keeps a non-empty recommendation, else builds one
// from the decision line or the longest whitelisted report, capped at
// 2000 runes.
func deriveRecommendation(existing string, decision map[string]any, reports map[string]string) string {
	if existing != "" {
		return capRunes(existing, 2000)
	}
	var candidates []string
	if action := models.ToString(decision["action"], ""); action != "" {
		parts := []string{"操作: " + action}
		if tp := models.ToString(decision["target_price"], ""); tp != "" && tp != "N/A" {
			parts = append(parts, "目标价: "+tp)
		}
		if conf := models.ToString(decision["confidence"], ""); conf != "" {
			parts = append(parts, "置信度: "+conf)
		}
		candidates = append(candidates, strings.Join(parts, "；"))
	}
	for _, key := range recommendationReports {
		if v := reports[key]; utf8.RuneCountInString(v) > 10 {
			candidates = append(candidates, v)
		}
	}
	longest := ""
	for _, c := range candidates {
		if utf8.RuneCountInString(c) > utf8.RuneCountInString(longest) {
			longest = c
		}
	}
	return capRunes(longest, 2000)
}

// deriveSummary keeps a non-empty summary, else concatenates the core
// reports (other "_report" keys fill in when fewer than two qualify),
// capped at 3000 runes.
func deriveSummary(existing string, reports map[string]string) string {
	if existing != "" {
		return capRunes(existing, 3000)
	}
	var parts []string
	for _, key := range coreSummaryReports {
		if v := reports[key]; utf8.RuneCountInString(v) > 50 {
			parts = append(parts, v)
		}
	}
	if len(parts) < 2 {
		var extras []string
		for key := range reports {
			if strings.HasSuffix(key, "_report") && !slices.Contains(coreSummaryReports, key) {
				extras = append(extras, key)
			}
		}
		sort.Strings(extras)
		for _, key := range extras {
			if v := reports[key]; utf8.RuneCountInString(v) > 50 {
				parts = append(parts, v)
				if len(parts) >= 4 {
					break
				}
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return capRunes(strings.Join(parts, "\n\n"), 3000)
}

// deriveKeyPoints keeps existing points, else derives up to five from the
// decision fields and the plan reports.
func deriveKeyPoints(existing []string, decision map[string]any, reports map[string]string) []string {
	if len(existing) > 0 {
		if len(existing) > 5 {
			return existing[:5]
		}
		return existing
	}
	var points []string
	if action := models.ToString(decision["action"], ""); action != "" {
		points = append(points, "操作建议: "+action)
	}
	if tp := models.ToString(decision["target_price"], ""); tp != "" && tp != "N/A" {
		points = append(points, "目标价: "+tp)
	}
	if conf := models.ToString(decision["confidence"], ""); conf != "" {
		points = append(points, "置信度: "+conf)
	}
	for _, key := range keyPointReports {
		if v := reports[key]; utf8.RuneCountInString(v) > 10 {
			points = append(points, capRunes(v, 120))
		}
	}
	if len(points) > 5 {
		points = points[:5]
	}
	return points
}

func coerceResult(merged map[string]any, source string) *TaskResult {
	keyPoints := models.ToStringList(merged["key_points"])
	if keyPoints == nil {
		keyPoints = []string{}
	}
	return &TaskResult{
		AnalysisID:        models.ToString(merged["analysis_id"], "unknown"),
		TaskID:            models.ToString(merged["task_id"], ""),
		StockSymbol:       models.ToString(merged["stock_symbol"], "UNKNOWN"),
		CompanyName:       models.ToString(merged["company_name"], ""),
		MarketType:        models.ToString(merged["market_type"], ""),
		AnalysisDate:      models.ToString(merged["analysis_date"], ""),
		Status:            models.ToString(merged["status"], string(models.TaskStatusCompleted)),
		Summary:           models.ToString(merged["summary"], "分析摘要暂无"),
		Recommendation:    models.ToString(merged["recommendation"], "投资建议暂无"),
		ConfidenceScore:   models.ToNumber(merged["confidence_score"], 0),
		RiskLevel:         models.ToString(merged["risk_level"], models.RiskMedium),
		KeyPoints:         keyPoints,
		ExecutionTime:     models.ToNumber(merged["execution_time"], 0),
		Analysts:          models.ToStringList(merged["analysts"]),
		ResearchDepth:     int(models.ToNumber(merged["research_depth"], 0)),
		Reports:           cleanReports(merged["reports"]),
		Decision:          models.ToMap(merged["decision"], map[string]any{}),
		StructuredSummary: models.ToMap(merged["structured_summary"], nil),
		LastError:         models.ToString(merged["last_error"], ""),
		Source:            source,
	}
}

// decisionFrom flattens the structured summary into the decision object
// legacy consumers read.
func decisionFrom(sum *models.StructuredSummary) map[string]any {
	if sum == nil {
		return nil
	}
	return map[string]any{
		"action":       sum.FinalSignal,
		"confidence":   sum.ModelConfidence,
		"target_price": sum.KeyIndicators.TargetPrice,
		"entry_price":  sum.KeyIndicators.EntryPrice,
		"stop_loss":    sum.KeyIndicators.StopLoss,
		"risk_level":   sum.RiskAssessment.Level,
		"risk_score":   sum.RiskAssessment.Score,
		"reasoning":    sum.InvestmentRecommendation,
	}
}

// toMapViaJSON reshapes a typed value into the document form the result
// layers and the inference walker share.
func toMapViaJSON(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func dateOnly(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > 10 {
		return string(r[:10])
	}
	return s
}
