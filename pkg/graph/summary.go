package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/quantflow/argus/pkg/agent"
	"github.com/quantflow/argus/pkg/models"
)

const nodeReportWriter = "Report Writer"

// fetchFailureMarkers are the strings a report body carries when the
// underlying data fetch failed. A state whose every report is empty or
// marker-bearing has no usable data, and the summary must say so instead
// of inventing numbers.
var fetchFailureMarkers = []string{
	"工具调用失败",
	"获取数据失败",
	"数据获取失败",
	"分析过程中发生错误",
}

// summarySchema validates the generator's reply. Enum and range
// violations count as parse failures and fall back to the default object.
const summarySchema = `{
	"type": "object",
	"required": ["model_confidence", "risk_assessment", "final_signal"],
	"properties": {
		"key_indicators": {
			"type": "object",
			"properties": {
				"entry_price": {"type": "string"},
				"target_price": {"type": "string"},
				"stop_loss": {"type": "string"},
				"support_level": {"type": "string"},
				"resistance_level": {"type": "string"}
			}
		},
		"model_confidence": {"type": "integer", "minimum": 0, "maximum": 100},
		"risk_assessment": {
			"type": "object",
			"required": ["level"],
			"properties": {
				"level": {"enum": ["High", "Medium", "Low"]},
				"score": {"type": "number", "minimum": 0, "maximum": 10},
				"description": {"type": "string"}
			}
		},
		"analysis_summary": {"type": "string"},
		"investment_recommendation": {"type": "string"},
		"analysis_reference": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"title": {"type": "string"},
					"url": {"type": "string"},
					"summary": {"type": "string"}
				}
			}
		},
		"final_signal": {"enum": ["Buy", "Sell", "Hold"]}
	}
}`

var loadSummarySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(summarySchema), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal summary schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("summary.json", doc); err != nil {
		return nil, fmt.Errorf("add summary schema resource: %w", err)
	}
	return c.Compile("summary.json")
})

// runSummary executes Stage D: distill the whole analysis into the strict
// JSON object the dashboard renders. This node never errors; every failure
// mode degrades to a deterministic default summary.
func (e *Engine) runSummary(ctx context.Context, in *RunInput, state *models.AnalysisState) *models.StateDelta {
	if !hasUsableData(state) {
		e.logger.Warn("No usable report data, emitting zero-confidence summary", "task_id", in.TaskID)
		summary := models.DefaultSummaryGenerationFailure()
		return &models.StateDelta{StructuredSummary: &summary}
	}

	system := summarySystemPrompt(state)
	company := state.CompanyName
	if company == "" {
		company = state.Symbol
	}

	resp, err := agent.CallLLM(ctx, e.llm, &agent.GenerateInput{
		TaskID: in.TaskID,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: system},
			{Role: agent.RoleUser, Content: fmt.Sprintf("请为 %s 生成结构化总结数据。", company)},
		},
		Config: in.Provider,
	})
	if err != nil {
		e.logger.Error("Summary generation failed", "task_id", in.TaskID, "error", err)
		summary := models.DefaultSummaryGenerationFailure()
		summary.RiskAssessment.Description = "生成失败"
		summary.AnalysisSummary = "系统错误：无法生成分析摘要"
		return &models.StateDelta{StructuredSummary: &summary}
	}

	summary, err := parseSummary(resp.Text)
	if err != nil {
		e.logger.Error("Summary reply rejected, using default",
			"task_id", in.TaskID, "error", err, "reply_chars", len(resp.Text))
		fallback := models.DefaultSummaryParseFailure()
		return &models.StateDelta{StructuredSummary: &fallback}
	}

	return &models.StateDelta{StructuredSummary: summary}
}

// summarySystemPrompt builds the generator instruction: the strict-JSON
// contract plus excerpts of the upstream material.
func summarySystemPrompt(state *models.AnalysisState) string {
	var b strings.Builder
	b.WriteString(`您是专门负责为前端交易仪表盘生成结构化数据的"数据总结智能体"。
您的任务是阅读所有的分析报告、交易计划和风险辩论结果，提取关键指标，并输出严格的 JSON 格式数据。

⚠️ 严格要求：
1. **只输出纯 JSON**，不要包含 markdown 代码块（如 ` + "```json ... ```" + `），不要包含任何解释性文字。
2. **真实性检查**：如果输入的分析报告内容为空，或者包含明显的"工具调用失败"、"获取数据失败"等错误信息，请务必在 risk_assessment.description 中如实说明"数据获取失败，无法生成报告"，并将 model_confidence 设为 0。**严禁在缺乏数据的情况下编造数值或建议**。
3. **数值类型**必须是数字（int/float），不要用字符串。
4. **纯文本输出**：analysis_summary 和 investment_recommendation 字段必须是纯文本，**严禁使用 Markdown 格式**（如 **加粗**、## 标题等），确保前端显示整洁。

JSON 结构定义如下：
{
    "key_indicators": {
        "entry_price": "入场价格描述 (string)",
        "target_price": "目标价格描述 (string)",
        "stop_loss": "止损价格描述 (string)",
        "support_level": "支撑位 (string)",
        "resistance_level": "阻力位 (string)"
    },
    "model_confidence": 0-100之间的整数 (int),
    "risk_assessment": {
        "level": "High/Medium/Low (string)",
        "score": 0-10之间的评分 (float),
        "description": "简短的风险描述 (string)"
    },
    "analysis_summary": "200字以内的分析摘要，纯文本格式，简明扼要地总结核心逻辑和多空观点 (string)。如果无数据，请填'数据获取失败'。",
    "investment_recommendation": "200字以内的投资建议，纯文本格式，给出明确的操作指令（买入/卖出/观望）和核心理由 (string)。如果无数据，请填'无建议'。",
    "analysis_reference": [
        {
            "title": "参考来源标题 (string)",
            "url": "如有链接则填，无则留空 (string)",
            "summary": "关键信息摘要 (string)"
        }
    ],
    "final_signal": "Buy/Sell/Hold (string)"
}

数据源参考：
`)
	fmt.Fprintf(&b, "- 交易员计划：%s\n", state.TraderInvestmentPlan)
	fmt.Fprintf(&b, "- 最终决策：%s\n", state.FinalTradeDecision)
	fmt.Fprintf(&b, "- 市场报告片段：%s...\n", firstRunes(state.MarketReport, 500))
	fmt.Fprintf(&b, "- 风险辩论片段：%s...\n", lastRunes(state.RiskDebate.History, 1000))
	return b.String()
}

// parseSummary turns the generator reply into a validated summary. The
// reply goes through fence stripping, JSON decoding, schema validation,
// and finally struct decoding with length clamps.
func parseSummary(reply string) (*models.StructuredSummary, error) {
	content := strings.TrimSpace(reply)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("decode summary JSON: %w", err)
	}

	schema, err := loadSummarySchema()
	if err != nil {
		return nil, fmt.Errorf("load summary schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("summary schema validation: %w", err)
	}

	// Round-trip through the validated document so numeric forms like
	// 85.0 settle into the struct's integer field.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize summary: %w", err)
	}
	var summary models.StructuredSummary
	if err := json.Unmarshal(normalized, &summary); err != nil {
		return nil, fmt.Errorf("decode summary struct: %w", err)
	}

	summary.AnalysisSummary = firstRunes(summary.AnalysisSummary, 200)
	summary.InvestmentRecommendation = firstRunes(summary.InvestmentRecommendation, 200)
	if summary.AnalysisReference == nil {
		summary.AnalysisReference = []models.Reference{}
	}
	return &summary, nil
}

// hasUsableData reports whether at least one report carries real content
// rather than a fetch-failure marker.
func hasUsableData(state *models.AnalysisState) bool {
	for _, content := range state.AllReports() {
		if strings.TrimSpace(content) == "" {
			continue
		}
		if !containsFailureMarker(content) {
			return true
		}
	}
	return false
}

func containsFailureMarker(content string) bool {
	for _, marker := range fetchFailureMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
