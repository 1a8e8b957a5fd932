package tools

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// GenericServerLabel is used when nothing else identifies a server.
const GenericServerLabel = "mcp-server"

const synthesizedLabelLength = 6

var knownConnectors = map[string]string{
	"connector_dropbox":         "Dropbox",
	"connector_gmail":           "Gmail",
	"connector_googlecalendar":  "Google Calendar",
	"connector_googledrive":     "Google Drive",
	"connector_microsoftteams":  "Microsoft Teams",
	"connector_outlookcalendar": "Outlook Calendar",
	"connector_outlookemail":    "Outlook Email",
	"connector_sharepoint":      "SharePoint",
}

// LabelResolver attributes events to a tool server. Upstream events do not
// always carry a server label, so every lookup goes through the same
// priority chain.
type LabelResolver struct {
	lastSeen    string
	configured  string
	connectorID string
}

func NewLabelResolver(configuredLabel, connectorID string) *LabelResolver {
	return &LabelResolver{configured: configuredLabel, connectorID: connectorID}
}

// Resolve picks a label in order: the event label, the item label, the last
// label seen, the configured label, the connector display name, a label
// synthesized from fallbackID and finally GenericServerLabel. usedFallback
// is set whenever neither the event nor the item carried a label.
func (r *LabelResolver) Resolve(eventLabel, itemLabel, fallbackID string) (label string, usedFallback bool) {
	if r == nil {
		r = &LabelResolver{}
	}

	for _, candidate := range []string{eventLabel, itemLabel} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			r.lastSeen = candidate
			return candidate, false
		}
	}

	switch {
	case r.lastSeen != "":
		label = r.lastSeen
	case r.configured != "":
		label = r.configured
	case ConnectorName(r.connectorID) != "":
		label = ConnectorName(r.connectorID)
	case SynthesizeLabel(fallbackID) != "":
		label = SynthesizeLabel(fallbackID)
	default:
		label = GenericServerLabel
	}
	logger.Debug("resolved server label through fallback", "label", label, "fallback_id", fallbackID)
	return label, true
}

// ConnectorName returns a display name for a connector id, or "" when the id
// is not a connector.
func ConnectorName(connectorID string) string {
	connectorID = strings.ToLower(strings.TrimSpace(connectorID))
	if connectorID == "" {
		return ""
	}
	if name, ok := knownConnectors[connectorID]; ok {
		return name
	}

	rest, ok := strings.CutPrefix(connectorID, "connector_")
	if !ok || rest == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.NewReplacer("_", " ", "-", " ").Replace(rest))
}

// SynthesizeLabel derives a stable label from the leading characters of an
// id, skipping a type prefix such as "mcpl_".
func SynthesizeLabel(fallbackID string) string {
	id := strings.TrimSpace(fallbackID)
	if _, rest, ok := strings.Cut(id, "_"); ok && rest != "" {
		id = rest
	}

	var b strings.Builder
	for _, r := range id {
		if b.Len() >= synthesizedLabelLength {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "server-" + b.String()
}
