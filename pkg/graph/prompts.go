package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantflow/argus/pkg/agent"
	"github.com/quantflow/argus/pkg/agents"
	"github.com/quantflow/argus/pkg/models"
)

// marketMeta returns the currency labels for a market type. The analysis
// prompts always name prices in the task's market currency.
func marketMeta(marketType string) (currencyName, currencySymbol string) {
	switch marketType {
	case "港股":
		return "港币", "HK$"
	case "美股":
		return "美元", "$"
	default:
		return "人民币", "¥"
	}
}

// contextPrefix is the KV environment block prepended to every stage-B/C
// system prompt. Kept static per task so provider-side prompt caching hits.
func contextPrefix(state *models.AnalysisState) string {
	currencyName, currencySymbol := marketMeta(state.MarketType)
	return fmt.Sprintf(`
股票代码：%s
公司名称：%s
价格单位：%s（%s）
通用规则：请始终使用公司名称而不是股票代码来称呼这家公司
`, state.Symbol, state.CompanyName, currencyName, currencySymbol)
}

// reportDisplayNames maps report keys to user-facing titles derived from
// the analyst records ("市场技术分析师" → "市场技术分析师报告").
func reportDisplayNames(records []agents.Record) map[string]string {
	names := make(map[string]string, len(records))
	for _, r := range records {
		if r.Slug == "" || r.Name == "" {
			continue
		}
		names[r.InternalKey()+"_report"] = r.Name + "报告"
	}
	return names
}

// reportTitle resolves the display title for a report key, falling back to
// a title-cased form of the key when no record covers it.
func reportTitle(key string, displayNames map[string]string) string {
	if name, ok := displayNames[key]; ok {
		return name
	}
	words := strings.Fields(strings.ReplaceAll(strings.TrimSuffix(key, "_report"), "_", " "))
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ") + "报告"
}

// reportMessages injects the Stage-A reports one user message apiece, in
// deterministic key order. Only "_report"-suffixed keys qualify: debate
// artifacts accumulate under other keys and must not leak into prompts
// that replay history themselves (the bear's opening would otherwise see
// the bull's opening through the report block).
func reportMessages(state *models.AnalysisState, displayNames map[string]string) []agent.ConversationMessage {
	reports := state.AllReports()
	keys := make([]string, 0, len(reports))
	for key := range reports {
		if !strings.HasSuffix(key, "_report") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	msgs := make([]agent.ConversationMessage, 0, len(keys))
	for _, key := range keys {
		msgs = append(msgs, agent.ConversationMessage{
			Role:    agent.RoleUser,
			Content: fmt.Sprintf("这是【%s】：\n%s", reportTitle(key, displayNames), reports[key]),
		})
	}
	return msgs
}

// stripHeadings removes top-level report headings the model tends to add
// despite instructions, so accumulated sections keep a single title level.
func stripHeadings(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			continue
		}
		if strings.HasPrefix(trimmed, "## ") && strings.Contains(trimmed, "分析报告") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
