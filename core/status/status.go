package status

import (
	"strings"

	"github.com/koscakluka/ema-relay/core/events"
)

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseConnecting      Phase = "connecting"
	PhaseThinking        Phase = "thinking"
	PhaseStreaming       Phase = "streaming"
	PhaseUsingTool       Phase = "using-tool"
	PhaseUsingAutomation Phase = "using-automation"
	PhaseGeneratingImage Phase = "generating-image"
	PhaseDone            Phase = "done"
)

// Status is the coarse projection shown while a turn is in flight.
type Status struct {
	Phase Phase
	// Tool names the tool in use; only set for PhaseUsingTool.
	Tool string
}

var (
	Idle            = Status{Phase: PhaseIdle}
	Connecting      = Status{Phase: PhaseConnecting}
	Thinking        = Status{Phase: PhaseThinking}
	Streaming       = Status{Phase: PhaseStreaming}
	UsingAutomation = Status{Phase: PhaseUsingAutomation}
	GeneratingImage = Status{Phase: PhaseGeneratingImage}
	Done            = Status{Phase: PhaseDone}
)

func UsingTool(name string) Status {
	return Status{Phase: PhaseUsingTool, Tool: name}
}

func (s Status) String() string {
	if s.Phase == PhaseUsingTool && s.Tool != "" {
		return string(s.Phase) + ":" + s.Tool
	}
	if s.Phase == "" {
		return string(PhaseIdle)
	}
	return string(s.Phase)
}

// Busy reports whether the status indicates work in progress.
func (s Status) Busy() bool {
	switch s.Phase {
	case "", PhaseIdle, PhaseDone:
		return false
	default:
		return true
	}
}

// ForEvent maps an event to the coarse status it implies. The second return
// value is false when the event does not affect the status.
func ForEvent(event events.Event) (Status, bool) {
	switch event.Type {
	case events.KindResponseQueued:
		return Connecting, true
	case events.KindResponseCreated, events.KindResponseInProgress,
		events.KindReasoningSummaryTextDelta, events.KindReasoningSummaryTextDone:
		return Thinking, true
	case events.KindOutputTextDelta:
		return Streaming, true
	case events.KindResponseCompleted, events.KindResponseIncomplete:
		return Done, true
	case events.KindResponseFailed, events.KindError:
		return Idle, true
	case events.KindOutputItemAdded:
		return forItem(event.Item)
	}

	kind := string(event.Type)
	switch {
	case strings.HasPrefix(kind, "response.image_generation_call."):
		return GeneratingImage, true
	case strings.HasPrefix(kind, "response.mcp_call"),
		strings.HasPrefix(kind, "response.mcp_list_tools."):
		return UsingTool(firstNonEmpty(event.ServerLabel, event.Name, "tool")), true
	case strings.HasPrefix(kind, "response.function_call_arguments."):
		return UsingTool(firstNonEmpty(event.Name, "function")), true
	}
	return Status{}, false
}

func forItem(item *events.Item) (Status, bool) {
	if item == nil {
		return Status{}, false
	}
	switch item.Type {
	case events.ItemTypeComputerCall:
		return UsingAutomation, true
	case events.ItemTypeImageGenerationCall:
		return GeneratingImage, true
	case events.ItemTypeFunctionCall:
		return UsingTool(firstNonEmpty(item.Name, "function")), true
	case events.ItemTypeMCPCall, events.ItemTypeMCPListTools:
		return UsingTool(firstNonEmpty(item.Name, item.ServerLabel, "tool")), true
	case events.ItemTypeReasoning:
		return Thinking, true
	case events.ItemTypeMessage:
		return Streaming, true
	}
	return Status{}, false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
