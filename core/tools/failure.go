package tools

import (
	"strings"

	"github.com/koscakluka/ema-relay/core/events"
)

// DescribeFailure builds a human-readable description of a tool failure. A
// structured error message wins over a plain string; code, type and status
// are appended in parentheses when present.
func DescribeFailure(err *events.ItemError, plain string) string {
	var message string
	switch {
	case err != nil && !err.Plain && strings.TrimSpace(err.Message) != "":
		message = strings.TrimSpace(err.Message)
	case strings.TrimSpace(plain) != "":
		message = strings.TrimSpace(plain)
	case err != nil && strings.TrimSpace(err.Message) != "":
		message = strings.TrimSpace(err.Message)
	default:
		message = "unknown error"
	}

	if err == nil {
		return message
	}

	var details []string
	for _, detail := range []struct{ name, value string }{
		{"code", err.Code},
		{"type", err.Type},
		{"status", err.Status},
	} {
		if detail.value != "" && detail.value != message {
			details = append(details, detail.name+": "+detail.value)
		}
	}
	if len(details) == 0 {
		return message
	}
	return message + " (" + strings.Join(details, ", ") + ")"
}
