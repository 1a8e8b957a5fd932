package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RenderOutput turns raw tool output into message text. Nested "text" fields
// are preferred, then pretty-printed JSON, then the raw output. Empty output
// renders as a notice naming the tool.
func RenderOutput(toolName, output string) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" || trimmed == "null" {
		return noOutputNotice(toolName)
	}

	if !json.Valid([]byte(trimmed)) {
		return trimmed
	}

	value, err := ParseValue([]byte(trimmed))
	if err != nil {
		logger.Debug("falling back to pretty printed tool output", "tool", toolName, "error", err)
		return PrettyJSON(trimmed)
	}
	if value.Kind == ValueString {
		if text := strings.TrimSpace(value.Str); text != "" {
			return text
		}
		return noOutputNotice(toolName)
	}
	if lines := ExtractText(value); len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	if (value.Kind == ValueObject && len(value.Fields) == 0) || (value.Kind == ValueArray && len(value.Items) == 0) {
		return noOutputNotice(toolName)
	}
	return PrettyJSON(trimmed)
}

func noOutputNotice(toolName string) string {
	if toolName == "" {
		toolName = "The tool"
	}
	return fmt.Sprintf("%s completed with no output.", toolName)
}

// PrettyJSON indents s when it is valid JSON and returns it trimmed
// otherwise.
func PrettyJSON(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}

	var out bytes.Buffer
	if err := json.Indent(&out, []byte(trimmed), "", "  "); err != nil {
		return trimmed
	}
	return out.String()
}

// ApprovalSummary is the placeholder text shown while a tool call waits for
// the user's decision.
func ApprovalSummary(toolName, serverLabel, arguments string) string {
	if toolName == "" {
		toolName = "a tool"
	}
	summary := fmt.Sprintf("Approval required to run %s on %s.", toolName, serverLabel)
	if pretty := PrettyJSON(arguments); pretty != "" && pretty != "{}" {
		summary += "\n\n" + pretty
	}
	return summary
}
