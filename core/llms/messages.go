package llms

import (
	"strings"
	"time"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Message is a single entry in the conversation. Assistant messages are
// mutable accumulators while their turn is in flight.
type Message struct {
	ID   MessageID
	Role MessageRole
	Text string

	Media     []MediaRef
	ToolTags  []string
	Approvals []ApprovalRequest
	Usage     Usage

	CreatedAt time.Time
}

func NewMessage(role MessageRole, text string) Message {
	return Message{ID: NewMessageID(), Role: role, Text: text, CreatedAt: time.Now()}
}

// HasText reports whether any non-whitespace text has been committed.
func (m *Message) HasText() bool {
	return m != nil && strings.TrimSpace(m.Text) != ""
}

func (m *Message) AppendText(text string) {
	if m == nil || text == "" {
		return
	}
	m.Text += text
}

// AppendParagraph appends text separated from existing content by a blank
// line.
func (m *Message) AppendParagraph(text string) {
	if m == nil || text == "" {
		return
	}
	if m.HasText() {
		m.Text = strings.TrimRight(m.Text, "\n") + "\n\n"
	}
	m.Text += text
}

func (m *Message) AddToolTag(tag string) {
	if m == nil || tag == "" {
		return
	}
	for _, existing := range m.ToolTags {
		if existing == tag {
			return
		}
	}
	m.ToolTags = append(m.ToolTags, tag)
}

func (m *Message) Approval(id string) *ApprovalRequest {
	if m == nil {
		return nil
	}
	for i := range m.Approvals {
		if m.Approvals[i].ID == id {
			return &m.Approvals[i]
		}
	}
	return nil
}

// HasCapturedResult reports whether an automation screenshot is already
// attached.
func (m *Message) HasCapturedResult() bool {
	if m == nil {
		return false
	}
	for _, media := range m.Media {
		if media.Kind == MediaKindScreenshot {
			return true
		}
	}
	return false
}

type MediaKind string

const (
	MediaKindImage      MediaKind = "image"
	MediaKindFile       MediaKind = "file"
	MediaKindScreenshot MediaKind = "screenshot"
)

// MediaRef points at content attached to a message. Data is filled in lazily
// once the referenced content has been fetched.
type MediaRef struct {
	Kind        MediaKind
	ContainerID string
	FileID      string
	Filename    string
	URL         string
	MIMEType    string
	Data        []byte
}

// Key is the content address of the referenced file.
func (r MediaRef) Key() string {
	if r.ContainerID == "" && r.FileID == "" {
		return ""
	}
	return r.ContainerID + "/" + r.FileID
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// Estimated is set when the counts were derived locally because the
	// response did not report them.
	Estimated bool
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type ApprovalKind string

const (
	ApprovalKindTool       ApprovalKind = "tool"
	ApprovalKindAutomation ApprovalKind = "automation"
)

type ApprovalRequest struct {
	ID          string
	Kind        ApprovalKind
	ToolName    string
	ServerLabel string
	Arguments   string
	Status      ApprovalStatus
	Reason      string
}

func (r ApprovalRequest) IsPending() bool { return r.Status == ApprovalPending }
