package llms

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Request is an outbound Responses API request. Follow-up requests reuse the
// original request and only swap the input and the previous response id.
type Request struct {
	Model              string      `json:"model"`
	Instructions       string      `json:"instructions,omitempty"`
	Input              []InputItem `json:"input"`
	PreviousResponseID ResponseID  `json:"previous_response_id,omitempty"`
	Tools              []ToolSpec  `json:"tools,omitempty"`
	ToolChoice         string      `json:"tool_choice,omitempty"`
	Include            []string    `json:"include,omitempty"`
	Truncation         string      `json:"truncation,omitempty"`
	Stream             bool        `json:"stream,omitempty"`
}

// WithFollowUp returns a copy of the request continuing from previous with
// the given input.
func (r Request) WithFollowUp(previous ResponseID, input ...InputItem) Request {
	r.PreviousResponseID = previous
	r.Input = input
	return r
}

type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

// InputItem is a single input entry. Raw, when set, is sent verbatim and is
// used to replay items exactly as the server produced them.
type InputItem struct {
	Type    string        `json:"type,omitempty"`
	Role    MessageRole   `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	CallID CallID `json:"call_id,omitempty"`
	Output any    `json:"output,omitempty"`

	ApprovalRequestID        string        `json:"approval_request_id,omitempty"`
	Approve                  *bool         `json:"approve,omitempty"`
	Reason                   string        `json:"reason,omitempty"`
	AcknowledgedSafetyChecks []SafetyCheck `json:"acknowledged_safety_checks,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (i InputItem) MarshalJSON() ([]byte, error) {
	if len(i.Raw) > 0 {
		return i.Raw, nil
	}
	type plain InputItem
	return json.Marshal(plain(i))
}

// UserInput builds the user message for a turn, attaching media as images or
// files depending on their kind.
func UserInput(text string, attachments ...MediaRef) InputItem {
	parts := []ContentPart{{Type: "input_text", Text: text}}
	for _, attachment := range attachments {
		switch {
		case attachment.Kind == MediaKindImage && attachment.URL != "":
			parts = append(parts, ContentPart{Type: "input_image", ImageURL: attachment.URL})
		case attachment.Kind == MediaKindImage && len(attachment.Data) > 0:
			parts = append(parts, ContentPart{Type: "input_image", ImageURL: DataURL(attachment.MIMEType, attachment.Data)})
		case attachment.FileID != "":
			parts = append(parts, ContentPart{Type: "input_file", FileID: attachment.FileID})
		case len(attachment.Data) > 0:
			parts = append(parts, ContentPart{
				Type:     "input_file",
				Filename: attachment.Filename,
				FileData: DataURL(attachment.MIMEType, attachment.Data),
			})
		}
	}
	return InputItem{Type: "message", Role: MessageRoleUser, Content: parts}
}

func FunctionCallOutput(callID CallID, output string) InputItem {
	return InputItem{Type: "function_call_output", CallID: callID, Output: output}
}

type ComputerScreenshot struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

func ComputerCallOutput(callID CallID, screenshot []byte, acknowledged []SafetyCheck) InputItem {
	return InputItem{
		Type:                     "computer_call_output",
		CallID:                   callID,
		Output:                   ComputerScreenshot{Type: "computer_screenshot", ImageURL: DataURL("image/png", screenshot)},
		AcknowledgedSafetyChecks: acknowledged,
	}
}

func MCPApprovalResponse(approvalRequestID string, approve bool, reason string) InputItem {
	return InputItem{
		Type:              "mcp_approval_response",
		ApprovalRequestID: approvalRequestID,
		Approve:           &approve,
		Reason:            reason,
	}
}

func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	var b strings.Builder
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// ToolSpec is the request-side declaration of a tool. One struct covers
// function, mcp and computer-use tools; unused fields are omitted.
type ToolSpec struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Strict      *bool  `json:"strict,omitempty"`

	ServerLabel     string `json:"server_label,omitempty"`
	ServerURL       string `json:"server_url,omitempty"`
	ConnectorID     string `json:"connector_id,omitempty"`
	Authorization   string `json:"authorization,omitempty"`
	RequireApproval string `json:"require_approval,omitempty"`

	DisplayWidth  int    `json:"display_width,omitempty"`
	DisplayHeight int    `json:"display_height,omitempty"`
	Environment   string `json:"environment,omitempty"`
}
