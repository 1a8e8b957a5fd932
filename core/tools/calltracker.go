package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/muesli/reflow/truncate"
	"github.com/xeipuuv/gojsonschema"
)

// argumentSnippetWidth caps how much of the arguments takes part in failure
// de-duplication.
const argumentSnippetWidth = 80

var suppressedNotices, _ = meter.Int64Counter("relay.notices.suppressed")

type CallState int

const (
	CallPending CallState = iota + 1
	CallCompleted
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallCompleted:
		return "completed"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s CallState) Terminal() bool {
	return s == CallCompleted || s == CallFailed
}

// SchemaLookup returns the advertised input schema of a tool, or nil.
type SchemaLookup func(serverLabel, toolName string) json.RawMessage

type trackedCall struct {
	state     CallState
	name      string
	label     string
	claimed   bool
	buffer    strings.Builder
	arguments string
}

// CallTracker follows tool calls through a single turn. Each call id has
// exactly one state, so a repeated completion for the same call is reported
// as a duplicate instead of being applied twice. It is not safe for
// concurrent use.
type CallTracker struct {
	calls   map[string]*trackedCall
	notices map[string]struct{}
	schemas SchemaLookup
}

func NewCallTracker(schemas SchemaLookup) *CallTracker {
	return &CallTracker{
		calls:   map[string]*trackedCall{},
		notices: map[string]struct{}{},
		schemas: schemas,
	}
}

func (t *CallTracker) call(itemID string) *trackedCall {
	call, ok := t.calls[itemID]
	if !ok {
		call = &trackedCall{state: CallPending}
		t.calls[itemID] = call
	}
	return call
}

// Start opens a pending call seeded with initialArgs. It returns false when
// the call was already known.
func (t *CallTracker) Start(itemID, name, label, initialArgs string) bool {
	if t == nil || itemID == "" {
		return false
	}

	_, known := t.calls[itemID]
	call := t.call(itemID)
	if call.name == "" {
		call.name = name
	}
	if call.label == "" {
		call.label = label
	}
	if call.state == CallPending && call.buffer.Len() == 0 && initialArgs != "" {
		call.buffer.WriteString(initialArgs)
	}
	return !known
}

func (t *CallTracker) AppendArguments(itemID, fragment string) {
	if t == nil || itemID == "" {
		return
	}
	call := t.call(itemID)
	if call.state.Terminal() {
		return
	}
	call.buffer.WriteString(fragment)
}

// FinishArguments finalizes the argument stream and returns the aggregate,
// pretty-printed when it is JSON. final, when non-empty, replaces whatever
// was buffered.
func (t *CallTracker) FinishArguments(itemID, final string) string {
	if t == nil || itemID == "" {
		return ""
	}
	call := t.call(itemID)

	aggregate := firstNonEmpty(final, call.buffer.String(), call.arguments)
	call.buffer.Reset()
	call.arguments = aggregate

	formatted := PrettyJSON(aggregate)
	t.validate(call, aggregate)
	logger.Debug("tool call arguments finished", "item_id", itemID, "tool", call.name, "server_label", call.label, "arguments", formatted)
	return formatted
}

func (t *CallTracker) validate(call *trackedCall, arguments string) {
	if t.schemas == nil || arguments == "" {
		return
	}
	schema := t.schemas(call.label, call.name)
	if len(schema) == 0 {
		return
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewStringLoader(arguments))
	if err != nil {
		logger.Debug("could not validate tool call arguments", "tool", call.name, "error", err)
		return
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, problem := range result.Errors() {
			problems = append(problems, problem.String())
		}
		logger.Debug("tool call arguments do not match advertised schema", "tool", call.name, "server_label", call.label, "problems", problems)
	}
}

// Claim marks a pending call as being executed locally. Only the first claim
// of a pending call succeeds.
func (t *CallTracker) Claim(itemID string) bool {
	if t == nil || itemID == "" {
		return false
	}
	call := t.call(itemID)
	if call.state.Terminal() || call.claimed {
		return false
	}
	call.claimed = true
	return true
}

func (t *CallTracker) State(itemID string) (CallState, bool) {
	if t == nil {
		return 0, false
	}
	call, ok := t.calls[itemID]
	if !ok {
		return 0, false
	}
	return call.state, true
}

type CallResult struct {
	Name      string
	Label     string
	Arguments string
	Output    string

	Failed    bool
	Error     *events.ItemError
	ErrorText string
}

type CallOutcome struct {
	// Text is the rendered output of a successful call.
	Text string
	// Warning is the user-visible failure notice, empty when suppressed.
	Warning   string
	Failed    bool
	Duplicate bool
}

// Done settles a call. Failures produce a warning unless an identical
// failure (same tool, same error, same argument prefix) was already surfaced
// this turn.
func (t *CallTracker) Done(ctx context.Context, itemID string, result CallResult) CallOutcome {
	if t == nil {
		return CallOutcome{}
	}
	call := t.call(itemID)
	if call.state.Terminal() {
		return CallOutcome{Duplicate: true, Failed: call.state == CallFailed}
	}

	name := firstNonEmpty(result.Name, call.name)
	label := firstNonEmpty(result.Label, call.label)
	arguments := firstNonEmpty(result.Arguments, call.arguments, call.buffer.String())
	call.buffer.Reset()

	failed := result.Failed || !result.Error.Empty() || strings.TrimSpace(result.ErrorText) != ""
	if !failed {
		call.state = CallCompleted
		return CallOutcome{Text: RenderOutput(name, result.Output)}
	}

	call.state = CallFailed
	description := DescribeFailure(result.Error, result.ErrorText)
	key := callIdentity(label, name, itemID) + "|" + description + "|" + truncate.String(arguments, argumentSnippetWidth)
	if _, seen := t.notices[key]; seen {
		suppressedNotices.Add(ctx, 1)
		logger.Debug("suppressing duplicate tool failure", "item_id", itemID, "tool", name, "error", description)
		return CallOutcome{Failed: true}
	}
	t.notices[key] = struct{}{}

	return CallOutcome{Failed: true, Warning: "Tool call " + displayName(label, name) + " failed: " + description}
}

func callIdentity(label, name, itemID string) string {
	if label == "" && name == "" {
		return itemID
	}
	return label + "/" + name
}

func displayName(label, name string) string {
	switch {
	case label != "" && name != "":
		return name + " on " + label
	case name != "":
		return name
	case label != "":
		return "on " + label
	default:
		return "to a tool"
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
