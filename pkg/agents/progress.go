package agents

import "math"

// Display labels for the fixed pipeline stages after the analyst fan-in.
const (
	LabelBullResearcher  = "🐂 看涨研究员"
	LabelBearResearcher  = "🐻 看跌研究员"
	LabelResearchManager = "👔 研究经理"
	LabelTrader          = "💼 交易员决策"
	LabelRiskyAnalyst    = "🔥 激进风险评估"
	LabelSafeAnalyst     = "🛡️ 保守风险评估"
	LabelNeutralAnalyst  = "⚖️ 中性风险评估"
	LabelRiskJudge       = "🎯 风险经理"
	LabelReportWriter    = "📊 生成报告"
)

var stageLabels = map[string]string{
	"Bull Researcher":  LabelBullResearcher,
	"Bear Researcher":  LabelBearResearcher,
	"Research Manager": LabelResearchManager,
	"Trader":           LabelTrader,
	"Risky Analyst":    LabelRiskyAnalyst,
	"Safe Analyst":     LabelSafeAnalyst,
	"Neutral Analyst":  LabelNeutralAnalyst,
	"Risk Judge":       LabelRiskJudge,
	"Report Writer":    LabelReportWriter,
}

// Progress anchors for the fixed stages. The analyst range [10, 50] in
// front of them is computed per enabled set.
var stageProgress = map[string]float64{
	LabelBullResearcher:  51.25,
	LabelBearResearcher:  57.5,
	LabelResearchManager: 70,
	LabelTrader:          78,
	LabelRiskyAnalyst:    81.75,
	LabelSafeAnalyst:     85.5,
	LabelNeutralAnalyst:  89.25,
	LabelRiskJudge:       93,
	LabelReportWriter:    97,
}

// NodeLabels maps graph node names to display labels for the given analyst
// set plus the fixed stages. Tool and cleanup pseudo-nodes map to "" so the
// progress sink skips them without treating them as unknown.
func NodeLabels(records []Record) map[string]string {
	labels := make(map[string]string, len(records)*3+len(stageLabels))
	for _, r := range records {
		if r.Slug == "" {
			continue
		}
		key := r.InternalKey()
		labels[r.NodeName()] = r.DisplayName()
		labels["tools_"+key] = ""
		labels["Msg Clear "+titleKey(key)] = ""
	}
	for node, label := range stageLabels {
		labels[node] = label
	}
	return labels
}

// ProgressMap distributes [10, 50] evenly across the given analysts in
// order, keyed by display label, then appends the fixed stage anchors.
// Percentages round to one decimal.
func ProgressMap(records []Record) map[string]float64 {
	progress := make(map[string]float64, len(records)+len(stageProgress))

	if n := len(records); n > 0 {
		step := 40.0 / float64(n)
		i := 0
		for _, r := range records {
			if r.Slug == "" || r.Name == "" {
				continue
			}
			i++
			progress[r.DisplayName()] = math.Round((10+float64(i)*step)*10) / 10
		}
	}

	for label, pct := range stageProgress {
		progress[label] = pct
	}
	return progress
}
