package automation

import (
	"context"
	"regexp"
	"strings"

	"github.com/koscakluka/ema-relay/core/events"
)

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s"'<>]+`)
	domainPattern = regexp.MustCompile(`(?i)\b((?:[a-z0-9-]+\.)+(?:com|org|net|io|dev|ai|app|co|edu|gov|hr|de|uk))\b`)
	verbPattern   = regexp.MustCompile(`(?i)\b(?:open|go to|visit|navigate to|search on|on)\s+([a-z0-9-]{2,})\b`)
)

var brandTargets = map[string]string{
	"amazon":    "https://www.amazon.com",
	"bing":      "https://www.bing.com",
	"github":    "https://github.com",
	"gmail":     "https://mail.google.com",
	"google":    "https://www.google.com",
	"maps":      "https://maps.google.com",
	"reddit":    "https://www.reddit.com",
	"wikipedia": "https://en.wikipedia.org",
	"youtube":   "https://www.youtube.com",
}

var ignoredTokens = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "it": true, "this": true, "that": true, "page": true, "browser": true, "website": true,
}

// DeriveTarget guesses where an instruction wants the surface to be. It
// tries an explicit URL, a bare domain, a known brand keyword and finally a
// domain synthesized from the word following a navigation verb.
func DeriveTarget(instruction string) (string, bool) {
	if match := urlPattern.FindString(instruction); match != "" {
		return strings.TrimRight(match, ".,;:!?)"), true
	}
	if match := domainPattern.FindStringSubmatch(instruction); match != nil {
		return "https://" + strings.ToLower(match[1]), true
	}

	lowered := strings.ToLower(instruction)
	for _, word := range strings.FieldsFunc(lowered, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if target, ok := brandTargets[word]; ok {
			return target, true
		}
	}

	for _, match := range verbPattern.FindAllStringSubmatch(lowered, -1) {
		if token := match[1]; !ignoredTokens[token] {
			return "https://www." + token + ".com", true
		}
	}
	return "", false
}

func isBlankSurface(url string) bool {
	url = strings.TrimSpace(url)
	return url == "" || url == "about:blank" || strings.HasPrefix(url, "chrome://newtab")
}

func needsTarget(actionType string) bool {
	switch actionType {
	case "navigate", "wait":
		return false
	default:
		return true
	}
}

// prepareSurface navigates a blank surface to the derived target before an
// action that would otherwise operate on nothing. Failures are logged and
// ignored.
func (c *Controller) prepareSurface(ctx context.Context, action events.Action) {
	if c.executor == nil {
		return
	}
	actionType := action.Type
	if !needsTarget(actionType) || action.String("url") != "" {
		return
	}

	current, err := c.executor.CurrentURL(ctx)
	if err != nil {
		logger.Debug("could not read current surface url", "error", err)
		return
	}
	if !isBlankSurface(current) {
		return
	}

	target, ok := DeriveTarget(c.host.Instruction())
	if !ok {
		return
	}
	if _, err := c.executor.Navigate(ctx, target); err != nil {
		logger.Warn("implicit navigation failed", "target", target, "error", err)
		return
	}
	logger.Debug("navigated blank surface before action", "target", target, "action", actionType)
}
