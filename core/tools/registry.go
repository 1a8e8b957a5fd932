package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/preflight"
	"github.com/mark3labs/mcp-go/mcp"
)

// ListFailure describes a failed attempt to list the tools of a server.
type ListFailure struct {
	Status       string
	Description  string
	Unauthorized bool
}

func (f ListFailure) signature() string {
	return f.Status + "|" + f.Description
}

// ListFailureFromItem reports the failure carried by a finished
// mcp_list_tools item, if any. A failed status, a structured error and a
// non-empty inline error string all count as failures.
func ListFailureFromItem(item *events.Item) *ListFailure {
	if item == nil {
		return nil
	}
	if !item.Failed() && item.Error.Empty() {
		return nil
	}

	status := item.Status
	if status == "" {
		status = "failed"
	}
	description := DescribeFailure(item.Error, "")
	return &ListFailure{
		Status:       status,
		Description:  description,
		Unauthorized: IsUnauthorized(item.Error, description),
	}
}

type ListResult struct {
	// Warning is the user-visible warning to append, empty when nothing new
	// should be surfaced.
	Warning string
	// Revoked is set when the failure revoked the server's validation.
	Revoked   bool
	ToolCount int
}

// Registry records the tools each remote server advertised. It is not safe
// for concurrent use; callers serialize access.
type Registry struct {
	entries     map[string][]mcp.Tool
	schemas     map[string]map[string]json.RawMessage
	lastFailure map[string]string
	zeroWarned  map[string]bool

	preflight preflight.Store
	now       func() time.Time
}

func NewRegistry(store preflight.Store) *Registry {
	return &Registry{
		entries:     map[string][]mcp.Tool{},
		schemas:     map[string]map[string]json.RawMessage{},
		lastFailure: map[string]string{},
		zeroWarned:  map[string]bool{},
		preflight:   store,
		now:         time.Now,
	}
}

// OnToolsListed records the outcome of a list-tools call for label. A nil
// failure replaces the registry entry with listed.
func (r *Registry) OnToolsListed(ctx context.Context, label string, listed []events.ToolInfo, failure *ListFailure) ListResult {
	if r == nil {
		return ListResult{}
	}

	if failure != nil {
		delete(r.entries, label)
		delete(r.schemas, label)

		result := ListResult{}
		if failure.Unauthorized && r.preflight != nil {
			if err := r.preflight.Revoke(ctx, label); err != nil {
				logger.Warn("failed to revoke preflight record", "server_label", label, "error", err)
			}
			result.Revoked = true
		}

		signature := failure.signature()
		if r.lastFailure[label] == signature {
			logger.Debug("suppressing repeated list tools failure", "server_label", label, "signature", signature)
			return result
		}
		r.lastFailure[label] = signature
		result.Warning = fmt.Sprintf("Couldn't load tools from %s: %s", label, failure.Description)
		return result
	}

	delete(r.lastFailure, label)

	entry := make([]mcp.Tool, 0, len(listed))
	schemas := make(map[string]json.RawMessage, len(listed))
	for _, tool := range listed {
		entry = append(entry, toMCPTool(tool))
		if len(tool.InputSchema) > 0 {
			schemas[tool.Name] = tool.InputSchema
		}
	}
	r.entries[label] = entry
	r.schemas[label] = schemas
	r.markValidated(ctx, label)

	result := ListResult{ToolCount: len(entry)}
	if len(entry) == 0 && !r.zeroWarned[label] {
		r.zeroWarned[label] = true
		result.Warning = fmt.Sprintf("%s didn't report any available tools.", label)
	}
	return result
}

func (r *Registry) markValidated(ctx context.Context, label string) {
	if r.preflight == nil {
		return
	}

	record, _, err := r.preflight.Get(ctx, label)
	if err != nil {
		logger.Warn("failed to read preflight record", "server_label", label, "error", err)
	}
	record.OK = true
	record.CheckedAt = r.now()
	if err := r.preflight.Put(ctx, label, record); err != nil {
		logger.Warn("failed to write preflight record", "server_label", label, "error", err)
	}
}

func (r *Registry) Tools(label string) []mcp.Tool {
	if r == nil {
		return nil
	}
	return append([]mcp.Tool(nil), r.entries[label]...)
}

func (r *Registry) Has(label string) bool {
	if r == nil {
		return false
	}
	_, ok := r.entries[label]
	return ok
}

// InputSchema returns the advertised input schema of a tool, if known.
func (r *Registry) InputSchema(label, name string) json.RawMessage {
	if r == nil {
		return nil
	}
	return r.schemas[label][name]
}

func (r *Registry) Labels() []string {
	if r == nil {
		return nil
	}
	labels := make([]string, 0, len(r.entries))
	for label := range r.entries {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func toMCPTool(tool events.ToolInfo) mcp.Tool {
	if len(tool.InputSchema) == 0 {
		return mcp.NewTool(tool.Name, mcp.WithDescription(tool.Description))
	}
	return mcp.NewToolWithRawSchema(tool.Name, tool.Description, tool.InputSchema)
}

// IsUnauthorized reports whether a failure looks like the server rejected
// the credentials.
func IsUnauthorized(err *events.ItemError, description string) bool {
	if err != nil {
		switch strings.ToLower(err.Code) {
		case "401", "403", "unauthorized", "forbidden", "invalid_token", "invalid_api_key":
			return true
		}
	}

	lowered := strings.ToLower(description)
	for _, marker := range []string{"401", "403", "unauthorized", "forbidden", "invalid token", "authentication"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
