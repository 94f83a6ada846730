package notify

import (
	"fmt"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
)

// maxBlockTextLength stays under Slack's 3000-character block limit.
const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"failed":    ":x:",
	"cancelled": ":no_entry_sign:",
}

var statusLabel = map[string]string{
	"completed": "分析完成",
	"failed":    "分析失败",
	"cancelled": "分析已取消",
}

var signalEmoji = map[string]string{
	"Buy":  ":chart_with_upwards_trend:",
	"Sell": ":chart_with_downwards_trend:",
	"Hold": ":scales:",
}

// BuildCompletionMessage creates Block Kit blocks for a terminal task
// notification.
func BuildCompletionMessage(in Completion) []goslack.Block {
	emoji := statusEmoji[in.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[in.Status]
	if label == "" {
		label = "分析 " + in.Status
	}

	subject := in.Symbol
	if in.CompanyName != "" {
		subject += " " + in.CompanyName
	}
	headerText := fmt.Sprintf("%s *%s — %s*", emoji, label, subject)

	var blocks []goslack.Block

	if in.Status == "completed" {
		blocks = append(blocks, section(headerText))
		if in.FinalSignal != "" {
			signalLine := fmt.Sprintf("%s *最终信号:* %s　*置信度:* %d%%",
				signalEmoji[in.FinalSignal], in.FinalSignal, in.Confidence)
			blocks = append(blocks, section(signalLine))
		}
		if in.Summary != "" {
			blocks = append(blocks, section(truncateForSlack(in.Summary)))
		}
	} else {
		if in.ErrorMessage != "" {
			headerText += fmt.Sprintf("\n\n*错误信息:*\n%s", truncateForSlack(in.ErrorMessage))
		}
		blocks = append(blocks, section(headerText))
	}

	blocks = append(blocks, goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType, "任务 "+in.TaskID, false, false)))

	return blocks
}

func section(text string) *goslack.SectionBlock {
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)
}

// truncateForSlack caps text by rune count, which is how Slack measures
// its block limit.
func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_...（已截断，完整内容见分析结果）_"
}
