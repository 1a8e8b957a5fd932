package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/preflight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelResolverPriorityOrder(t *testing.T) {
	testCases := []struct {
		name         string
		resolver     func() *LabelResolver
		event, item  string
		fallbackID   string
		expected     string
		usedFallback bool
	}{
		{
			name:     "event label wins",
			resolver: func() *LabelResolver { return NewLabelResolver("configured", "connector_gmail") },
			event:    "event", item: "item", fallbackID: "mcp_abc",
			expected: "event",
		},
		{
			name:     "item label second",
			resolver: func() *LabelResolver { return NewLabelResolver("configured", "connector_gmail") },
			item:     "item", fallbackID: "mcp_abc",
			expected: "item",
		},
		{
			name: "last seen third",
			resolver: func() *LabelResolver {
				r := NewLabelResolver("configured", "connector_gmail")
				r.Resolve("seen", "", "")
				return r
			},
			fallbackID: "mcp_abc",
			expected:   "seen", usedFallback: true,
		},
		{
			name:       "configured fourth",
			resolver:   func() *LabelResolver { return NewLabelResolver("configured", "connector_gmail") },
			fallbackID: "mcp_abc",
			expected:   "configured", usedFallback: true,
		},
		{
			name:       "connector fifth",
			resolver:   func() *LabelResolver { return NewLabelResolver("", "connector_googledrive") },
			fallbackID: "mcp_abc",
			expected:   "Google Drive", usedFallback: true,
		},
		{
			name:       "synthesized sixth",
			resolver:   func() *LabelResolver { return NewLabelResolver("", "") },
			fallbackID: "mcpl_68AB12cd99",
			expected:   "server-68ab12", usedFallback: true,
		},
		{
			name:     "generic last",
			resolver: func() *LabelResolver { return NewLabelResolver("", "") },
			expected: GenericServerLabel, usedFallback: true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			label, usedFallback := testCase.resolver().Resolve(testCase.event, testCase.item, testCase.fallbackID)
			if label != testCase.expected {
				t.Fatalf("expected label %q, got %q", testCase.expected, label)
			}
			if usedFallback != testCase.usedFallback {
				t.Fatalf("expected usedFallback=%v, got %v", testCase.usedFallback, usedFallback)
			}
		})
	}
}

func TestConnectorNameTitleCasesUnknownConnectors(t *testing.T) {
	assert.Equal(t, "Gmail", ConnectorName("connector_gmail"))
	assert.Equal(t, "Linear Issues", ConnectorName("connector_linear_issues"))
	assert.Empty(t, ConnectorName("not-a-connector"))
}

func TestRegistryDeduplicatesFailureWarnings(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(preflight.NewMemoryStore())

	failure := &ListFailure{Status: "failed", Description: "connection refused"}
	first := registry.OnToolsListed(ctx, "github", nil, failure)
	second := registry.OnToolsListed(ctx, "github", nil, failure)

	assert.NotEmpty(t, first.Warning)
	assert.Empty(t, second.Warning)

	different := registry.OnToolsListed(ctx, "github", nil, &ListFailure{Status: "failed", Description: "timeout"})
	assert.NotEmpty(t, different.Warning)
}

func TestRegistrySuccessReplacesEntryAndClearsFailure(t *testing.T) {
	ctx := context.Background()
	store := preflight.NewMemoryStore()
	registry := NewRegistry(store)

	failure := &ListFailure{Status: "failed", Description: "connection refused"}
	registry.OnToolsListed(ctx, "github", nil, failure)
	assert.False(t, registry.Has("github"))

	result := registry.OnToolsListed(ctx, "github", []events.ToolInfo{
		{Name: "search", Description: "Search code", InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
		{Name: "list"},
	}, nil)
	assert.Empty(t, result.Warning)
	assert.Equal(t, 2, result.ToolCount)
	require.Len(t, registry.Tools("github"), 2)
	assert.Equal(t, "search", registry.Tools("github")[0].Name)
	assert.NotEmpty(t, registry.InputSchema("github", "search"))

	record, ok, err := store.Get(ctx, "github")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, record.OK)

	again := registry.OnToolsListed(ctx, "github", nil, failure)
	assert.NotEmpty(t, again.Warning, "a failure after a success is surfaced again")
}

func TestRegistryZeroToolsWarnsOnce(t *testing.T) {
	registry := NewRegistry(nil)

	first := registry.OnToolsListed(context.Background(), "empty", []events.ToolInfo{}, nil)
	second := registry.OnToolsListed(context.Background(), "empty", nil, nil)

	assert.Contains(t, first.Warning, "didn't report any available tools")
	assert.Empty(t, second.Warning)
}

func TestRegistryUnauthorizedRevokesPreflight(t *testing.T) {
	ctx := context.Background()
	store := preflight.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "github", preflight.Record{OK: true}))
	registry := NewRegistry(store)

	item := &events.Item{Type: events.ItemTypeMCPListTools, Status: "failed", Error: &events.ItemError{Message: "401 Unauthorized"}}
	failure := ListFailureFromItem(item)
	require.NotNil(t, failure)
	assert.True(t, failure.Unauthorized)

	result := registry.OnToolsListed(ctx, "github", nil, failure)
	assert.True(t, result.Revoked)

	record, _, err := store.Get(ctx, "github")
	require.NoError(t, err)
	assert.False(t, record.OK)
}

func TestListFailureFromItem(t *testing.T) {
	assert.Nil(t, ListFailureFromItem(&events.Item{Status: "completed"}))
	assert.NotNil(t, ListFailureFromItem(&events.Item{Status: "failed"}))
	assert.NotNil(t, ListFailureFromItem(&events.Item{Error: &events.ItemError{Message: "boom", Plain: true}}))
}

func TestCallTrackerDeduplicatesIdenticalFailures(t *testing.T) {
	ctx := context.Background()
	tracker := NewCallTracker(nil)

	failure := CallResult{Name: "search", Label: "github", Arguments: `{"q":"x"}`, ErrorText: "rate limited"}

	tracker.Start("mcp_1", "search", "github", "")
	first := tracker.Done(ctx, "mcp_1", failure)
	tracker.Start("mcp_2", "search", "github", "")
	second := tracker.Done(ctx, "mcp_2", failure)

	assert.NotEmpty(t, first.Warning)
	assert.True(t, second.Failed)
	assert.Empty(t, second.Warning)

	tracker.Start("mcp_3", "search", "github", "")
	different := failure
	different.Arguments = `{"q":"something else entirely"}`
	third := tracker.Done(ctx, "mcp_3", different)
	assert.NotEmpty(t, third.Warning, "different arguments are reported")
}

func TestCallTrackerSettlesEachCallOnce(t *testing.T) {
	ctx := context.Background()
	tracker := NewCallTracker(nil)

	assert.True(t, tracker.Start("fc_1", "weather", "", `{"city":`))
	tracker.AppendArguments("fc_1", `"Zagreb"}`)
	formatted := tracker.FinishArguments("fc_1", "")
	assert.Contains(t, formatted, "\"city\": \"Zagreb\"")

	assert.True(t, tracker.Claim("fc_1"))
	assert.False(t, tracker.Claim("fc_1"))

	outcome := tracker.Done(ctx, "fc_1", CallResult{Output: `{"content":[{"type":"text","text":"sunny"}]}`})
	assert.Equal(t, "sunny", outcome.Text)

	state, ok := tracker.State("fc_1")
	require.True(t, ok)
	assert.Equal(t, CallCompleted, state)

	duplicate := tracker.Done(ctx, "fc_1", CallResult{Output: "again"})
	assert.True(t, duplicate.Duplicate)
	assert.False(t, tracker.Start("fc_1", "weather", "", ""))
}

func TestCallTrackerValidatesAgainstSchemaWithoutFailing(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["q"]}`)
	tracker := NewCallTracker(func(label, name string) json.RawMessage { return schema })

	tracker.Start("mcp_1", "search", "github", "")
	formatted := tracker.FinishArguments("mcp_1", `{"other":1}`)

	assert.Contains(t, formatted, "other")
	state, _ := tracker.State("mcp_1")
	assert.Equal(t, CallPending, state)
}

func TestDescribeFailure(t *testing.T) {
	testCases := []struct {
		name     string
		err      *events.ItemError
		plain    string
		expected string
	}{
		{name: "structured wins", err: &events.ItemError{Message: "denied", Code: "403"}, plain: "plain", expected: "denied (code: 403)"},
		{name: "plain string", plain: "timeout", expected: "timeout"},
		{name: "plain error payload", err: &events.ItemError{Message: "refused", Plain: true}, expected: "refused"},
		{name: "metadata only", err: &events.ItemError{Type: "http_error", Status: "failed"}, expected: "unknown error (type: http_error, status: failed)"},
		{name: "nothing", expected: "unknown error"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := DescribeFailure(testCase.err, testCase.plain); got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestRenderOutput(t *testing.T) {
	testCases := []struct {
		name     string
		output   string
		expected string
	}{
		{name: "nested text", output: `{"content":[{"type":"text","text":"one"},{"nested":{"text":"two"}}]}`, expected: "one\ntwo"},
		{name: "pretty json", output: `{"count":2}`, expected: "{\n  \"count\": 2\n}"},
		{name: "plain text", output: "just text", expected: "just text"},
		{name: "json string", output: `"quoted"`, expected: "quoted"},
		{name: "empty", output: "  ", expected: "search completed with no output."},
		{name: "empty object", output: "{}", expected: "search completed with no output."},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := RenderOutput("search", testCase.output); got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestParseValueDepthBound(t *testing.T) {
	deep := strings.Repeat("[", MaxValueDepth+2) + strings.Repeat("]", MaxValueDepth+2)

	_, err := ParseValue([]byte(deep))
	assert.ErrorIs(t, err, ErrValueTooDeep)
	assert.Equal(t, "[\n  []\n]", RenderOutput("x", "[[]]"))
}

func TestApprovalSummary(t *testing.T) {
	summary := ApprovalSummary("create_issue", "github", `{"title":"Bug"}`)

	assert.True(t, strings.HasPrefix(summary, "Approval required to run create_issue on github."))
	assert.Contains(t, summary, "\"title\": \"Bug\"")
}
