package agent

import (
	"encoding/json"
	"strings"

	"tradedesk/internal/domain"
	"tradedesk/internal/tool"
)

// Sentinel markers agents are instructed to emit on the last line of a
// terminal answer. Everything before the marker is display text; the JSON
// object after it becomes a structured draft.
const (
	JournalSentinel   = "JOURNAL_JSON:"
	TradePlanSentinel = "TRADE_PLAN_JSON:"
)

// maxDraftTitleRunes bounds journal titles pulled out of model text.
const maxDraftTitleRunes = 120

// ExtractJournalDraft splits terminal text into display text and an optional
// journal draft. On any parse failure the original text is returned unchanged
// with a nil draft; a missing draft is an expected outcome, not an error.
func ExtractJournalDraft(text, agentID string) (string, *domain.JournalDraft) {
	clean, obj := extractSentinelObject(text, JournalSentinel)
	if obj == nil {
		return text, nil
	}

	title := tool.ArgsString(obj, "title")
	if r := []rune(title); len(r) > maxDraftTitleRunes {
		title = string(r[:maxDraftTitleRunes])
	}
	return clean, &domain.JournalDraft{
		Title:     title,
		Summary:   tool.ArgsString(obj, "summary"),
		Tags:      tool.ArgsStringSlice(obj, "tags"),
		Sentiment: tool.ArgsString(obj, "sentiment"),
		AgentID:   agentID,
	}
}

// ExtractTradePlan splits moderator text into display text and an optional
// trade plan proposal. A parsed object without a symbol is discarded: it can
// never pass the risk gate and usually means the model hallucinated the shape.
func ExtractTradePlan(text string) (string, *domain.TradePlan) {
	clean, obj := extractSentinelObject(text, TradePlanSentinel)
	if obj == nil {
		return text, nil
	}

	// Models occasionally emit camelCase keys despite the documented schema.
	for camel, snake := range map[string]string{
		"stopLoss":    "stop_loss",
		"takeProfits": "take_profits",
		"riskPercent": "risk_percent",
	} {
		if v, ok := obj[camel]; ok {
			if _, exists := obj[snake]; !exists {
				obj[snake] = v
			}
		}
	}

	symbol := strings.ToUpper(strings.TrimSpace(tool.ArgsString(obj, "symbol")))
	if symbol == "" {
		return text, nil
	}

	return clean, &domain.TradePlan{
		Symbol:      symbol,
		Direction:   strings.ToLower(tool.ArgsString(obj, "direction")),
		Entry:       tool.ArgsFloat(obj, "entry"),
		StopLoss:    tool.ArgsFloat(obj, "stop_loss"),
		TakeProfits: tool.ArgsFloatSlice(obj, "take_profits"),
		RiskPercent: tool.ArgsFloat(obj, "risk_percent"),
		Playbook:    tool.ArgsString(obj, "playbook"),
		Autopilot:   tool.ArgsBool(obj, "autopilot"),
		Rationale:   tool.ArgsString(obj, "rationale"),
	}
}

// extractSentinelObject locates sentinel in text and parses the JSON object
// that follows it. Returns the text before the sentinel and the parsed
// object, or ("", nil) when the sentinel is absent or the JSON is invalid.
func extractSentinelObject(text, sentinel string) (string, map[string]any) {
	idx := strings.Index(text, sentinel)
	if idx < 0 {
		return "", nil
	}

	rest := text[idx+len(sentinel):]
	start, end := findJSONBounds(rest)
	if start < 0 || rest[start] != '{' {
		return "", nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(rest[start:end]), &obj); err != nil {
		return "", nil
	}
	return strings.TrimSpace(text[:idx]), obj
}

// findJSONBounds locates the first top-level JSON object ({}) or array ([]) in s.
// Returns the start index and end+1 index, or (-1, -1) if not found. Depth is
// tracked through string literals, so a summary containing literal braces
// does not cut the object short.
func findJSONBounds(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}

	openChar := s[start]
	var closeChar byte
	if openChar == '{' {
		closeChar = '}'
	} else {
		closeChar = ']'
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++ // skip escaped character
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}
