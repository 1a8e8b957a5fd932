package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-relay/core/llms"
)

const (
	ItemTypeMessage             = "message"
	ItemTypeFunctionCall        = "function_call"
	ItemTypeMCPCall             = "mcp_call"
	ItemTypeMCPListTools        = "mcp_list_tools"
	ItemTypeMCPApprovalRequest  = "mcp_approval_request"
	ItemTypeComputerCall        = "computer_call"
	ItemTypeReasoning           = "reasoning"
	ItemTypeImageGenerationCall = "image_generation_call"
)

// Item is an output item. Raw keeps the payload exactly as received so it can
// be replayed without loss.
type Item struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
	Role   string `json:"role,omitempty"`

	CallID      llms.CallID `json:"call_id,omitempty"`
	Name        string      `json:"name,omitempty"`
	Arguments   string      `json:"arguments,omitempty"`
	Output      string      `json:"output,omitempty"`
	ServerLabel string      `json:"server_label,omitempty"`
	Error       *ItemError  `json:"error,omitempty"`
	Tools       []ToolInfo  `json:"tools,omitempty"`

	Content []OutputContent `json:"content,omitempty"`

	Action              *Action            `json:"action,omitempty"`
	PendingSafetyChecks []llms.SafetyCheck `json:"pending_safety_checks,omitempty"`

	Summary          json.RawMessage `json:"summary,omitempty"`
	EncryptedContent *string         `json:"encrypted_content,omitempty"`

	Result string `json:"result,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (i *Item) UnmarshalJSON(data []byte) error {
	type plain Item
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*i = Item(decoded)
	i.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (i Item) MarshalJSON() ([]byte, error) {
	if len(i.Raw) > 0 {
		return i.Raw, nil
	}
	type plain Item
	return json.Marshal(plain(i))
}

// OutputText concatenates the output_text parts of a message item.
func (i Item) OutputText() string {
	var b strings.Builder
	for _, part := range i.Content {
		if part.Type == "output_text" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func (i Item) Failed() bool {
	return i.Status == "failed" || i.Status == "incomplete"
}

type OutputContent struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type Annotation struct {
	Type        string `json:"type"`
	ContainerID string `json:"container_id,omitempty"`
	FileID      string `json:"file_id,omitempty"`
	Filename    string `json:"filename,omitempty"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	StartIndex  int    `json:"start_index,omitempty"`
	EndIndex    int    `json:"end_index,omitempty"`
}

// ItemError is an error payload as reported by the server. Some payloads carry
// a bare string instead of an object; Plain is set in that case.
type ItemError struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
	Status  string `json:"status,omitempty"`
	Plain   bool   `json:"-"`
}

func (e *ItemError) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*e = ItemError{Message: plain, Plain: true}
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("unsupported error payload: %w", err)
	}
	*e = ItemError{
		Message: stringField(fields, "message"),
		Code:    stringField(fields, "code"),
		Type:    stringField(fields, "type"),
		Status:  stringField(fields, "status"),
	}
	return nil
}

func (e *ItemError) Empty() bool {
	return e == nil || (e.Message == "" && e.Code == "" && e.Type == "" && e.Status == "")
}

func stringField(fields map[string]any, key string) string {
	switch value := fields[key].(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return fmt.Sprintf("%g", value)
	default:
		return fmt.Sprint(value)
	}
}

// Action is an automation action: a type tag plus free-form parameters.
type Action struct {
	Type   string
	Params map[string]any
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	actionType, _ := fields["type"].(string)
	delete(fields, "type")
	*a = Action{Type: actionType, Params: fields}
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(a.Params)+1)
	for key, value := range a.Params {
		fields[key] = value
	}
	fields["type"] = a.Type
	return json.Marshal(fields)
}

func (a Action) String(key string) string {
	value, _ := a.Params[key].(string)
	return value
}

func (a Action) Int(key string) int {
	switch value := a.Params[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return 0
	}
}

type Response struct {
	ID                 string             `json:"id"`
	Status             string             `json:"status,omitempty"`
	Model              string             `json:"model,omitempty"`
	PreviousResponseID string             `json:"previous_response_id,omitempty"`
	Output             []Item             `json:"output,omitempty"`
	Usage              *Usage             `json:"usage,omitempty"`
	Error              *ItemError         `json:"error,omitempty"`
	IncompleteDetails  *IncompleteDetails `json:"incomplete_details,omitempty"`
}

type IncompleteDetails struct {
	Reason string `json:"reason"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// LatestComputerCall returns the last computer_call item of the response.
func (r *Response) LatestComputerCall() *Item {
	if r == nil {
		return nil
	}
	for i := len(r.Output) - 1; i >= 0; i-- {
		if r.Output[i].Type == ItemTypeComputerCall {
			return &r.Output[i]
		}
	}
	return nil
}

// ItemsOfType returns the output items with the given type, in order.
func (r *Response) ItemsOfType(itemType string) []Item {
	if r == nil {
		return nil
	}
	var items []Item
	for _, item := range r.Output {
		if item.Type == itemType {
			items = append(items, item)
		}
	}
	return items
}
