package orchestration

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/tools"
)

func (o *Orchestrator) handleTextDelta(s *turnSession, _ *llms.Message, event events.Event) {
	if event.Delta == "" {
		return
	}
	s.sawText = true
	s.deltas.Append(event.Delta)
}

func (o *Orchestrator) handleTextDone(s *turnSession, _ *llms.Message, event events.Event) {
	s.deltas.Flush()
	if !s.sawText && event.Text != "" {
		s.sawText = true
		o.commitText(s, event.Text)
	}
}

func (o *Orchestrator) handleAnnotationAdded(s *turnSession, msg *llms.Message, event events.Event) {
	if event.Annotation != nil {
		o.attachAnnotation(s, msg, *event.Annotation)
	}
}

// attachAnnotation adds a cited file to the message once per turn and starts
// fetching its content.
func (o *Orchestrator) attachAnnotation(s *turnSession, msg *llms.Message, annotation events.Annotation) {
	if annotation.FileID == "" {
		return
	}

	ref := llms.MediaRef{
		Kind:        mediaKindFor(annotation.Filename),
		ContainerID: annotation.ContainerID,
		FileID:      annotation.FileID,
		Filename:    annotation.Filename,
	}
	key := ref.Key()
	if _, seen := s.annotations[key]; seen {
		return
	}
	s.annotations[key] = struct{}{}

	msg.Media = append(msg.Media, ref)
	o.commit()
	o.fetchAnnotation(s, msg.ID, ref)
}

func mediaKindFor(filename string) llms.MediaKind {
	switch strings.ToLower(path.Ext(filename)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return llms.MediaKindImage
	}
	return llms.MediaKindFile
}

func (o *Orchestrator) handleItemAdded(s *turnSession, msg *llms.Message, event events.Event) {
	item := event.Item
	if item == nil {
		return
	}

	switch item.Type {
	case events.ItemTypeFunctionCall:
		s.calls.Start(item.ID, item.Name, "", item.Arguments)
		msg.AddToolTag(item.Name)
		o.addActivity(fmt.Sprintf("Calling %s", item.Name))
	case events.ItemTypeMCPCall:
		label := s.resolveLabel(event.ServerLabel, item.ServerLabel, item.ID)
		s.calls.Start(item.ID, item.Name, label, item.Arguments)
		msg.AddToolTag(label)
		o.addActivity(fmt.Sprintf("Calling %s on %s", item.Name, label))
	case events.ItemTypeMCPListTools:
		label := s.resolveLabel(event.ServerLabel, item.ServerLabel, item.ID)
		o.addActivity(fmt.Sprintf("Loading tools from %s", label))
	case events.ItemTypeComputerCall:
		o.addActivity("Using the computer")
	case events.ItemTypeImageGenerationCall:
		o.addActivity("Generating an image")
	}
}

func (o *Orchestrator) handleArgumentsDelta(s *turnSession, _ *llms.Message, event events.Event) {
	s.calls.AppendArguments(event.ItemID, event.Delta)
}

func (o *Orchestrator) handleArgumentsDone(s *turnSession, _ *llms.Message, event events.Event) {
	s.calls.FinishArguments(event.ItemID, event.Arguments)
}

// handleToolProgress only reports progress. Call outcomes are taken from
// the completed output item.
func (o *Orchestrator) handleToolProgress(s *turnSession, _ *llms.Message, event events.Event) {
	label := s.resolveLabel(event.ServerLabel, "", event.ItemID)
	switch event.Type {
	case events.KindMCPCallInProgress:
		o.addActivity(fmt.Sprintf("Running a tool on %s", label))
	case events.KindMCPCallFailed:
		o.addActivity(fmt.Sprintf("A tool on %s failed", label))
	case events.KindMCPListToolsFailed:
		o.addActivity(fmt.Sprintf("Couldn't list tools on %s", label))
	}
}

func (o *Orchestrator) handleItemDone(s *turnSession, msg *llms.Message, event events.Event) {
	item := event.Item
	if item == nil {
		return
	}

	switch item.Type {
	case events.ItemTypeMessage:
		o.completeMessageItem(s, msg, item)
	case events.ItemTypeFunctionCall:
		s.calls.Start(item.ID, item.Name, "", "")
		if s.calls.Claim(item.ID) {
			s.functionCalls = append(s.functionCalls, pendingFunction{
				itemID:    item.ID,
				callID:    llms.CallID(item.CallID),
				name:      item.Name,
				arguments: s.calls.FinishArguments(item.ID, item.Arguments),
			})
		}
	case events.ItemTypeMCPCall:
		o.completeToolCall(s, msg, event, item)
	case events.ItemTypeMCPListTools:
		o.completeToolListing(s, event, item)
	case events.ItemTypeMCPApprovalRequest:
		o.requestToolApproval(s, msg, event, item)
	case events.ItemTypeComputerCall:
		s.awaitingAutomationOutput = true
	case events.ItemTypeReasoning:
		o.reasoning.Append(o.lastResponseID, *item)
	case events.ItemTypeImageGenerationCall:
		o.attachGeneratedImage(msg, item)
	}
}

func (o *Orchestrator) completeMessageItem(s *turnSession, msg *llms.Message, item *events.Item) {
	if !s.sawText {
		if text := item.OutputText(); text != "" {
			s.deltas.Flush()
			s.sawText = true
			o.commitText(s, text)
		}
	}
	for _, part := range item.Content {
		for _, annotation := range part.Annotations {
			o.attachAnnotation(s, msg, annotation)
		}
	}
}

func (o *Orchestrator) completeToolCall(s *turnSession, msg *llms.Message, event events.Event, item *events.Item) {
	label := s.resolveLabel(event.ServerLabel, item.ServerLabel, item.ID)
	s.calls.Start(item.ID, item.Name, label, "")

	outcome := s.calls.Done(s.ctx, item.ID, tools.CallResult{
		Name:      item.Name,
		Label:     label,
		Arguments: item.Arguments,
		Output:    item.Output,
		Failed:    item.Failed(),
		Error:     item.Error,
	})
	if outcome.Duplicate {
		return
	}
	msg.AddToolTag(label)

	switch {
	case outcome.Warning != "":
		o.appendNotice(s, outcome.Warning)
	case outcome.Text != "" && !outcome.Failed:
		s.deltas.Flush()
		if s.placeholder != "" && msg.Text == s.placeholder {
			msg.Text = ""
			s.placeholder = ""
		}
		msg.AppendParagraph(outcome.Text)
		o.commit()
	}
}

func (o *Orchestrator) completeToolListing(s *turnSession, event events.Event, item *events.Item) {
	label := s.resolveLabel(event.ServerLabel, item.ServerLabel, item.ID)
	result := o.registry.OnToolsListed(s.ctx, label, item.Tools, tools.ListFailureFromItem(item))
	if result.Revoked {
		s.revoked[label] = true
	}
	if result.Warning != "" {
		o.appendNotice(s, result.Warning)
	}
	if result.ToolCount > 0 {
		o.addActivity(fmt.Sprintf("Loaded %d tools from %s", result.ToolCount, label))
	}
}

func (o *Orchestrator) requestToolApproval(s *turnSession, msg *llms.Message, event events.Event, item *events.Item) {
	if msg.Approval(item.ID) != nil {
		return
	}
	label := s.resolveLabel(event.ServerLabel, item.ServerLabel, item.ID)
	msg.Approvals = append(msg.Approvals, llms.ApprovalRequest{
		ID:          item.ID,
		Kind:        llms.ApprovalKindTool,
		ToolName:    item.Name,
		ServerLabel: label,
		Arguments:   item.Arguments,
		Status:      llms.ApprovalPending,
	})

	if !msg.HasText() && s.deltas.Len() == 0 {
		msg.Text = tools.ApprovalSummary(item.Name, label, item.Arguments)
		s.placeholder = msg.Text
	}
	o.addActivity(fmt.Sprintf("Waiting for approval to run %s", item.Name))
	o.commit()
}

func (o *Orchestrator) attachGeneratedImage(msg *llms.Message, item *events.Item) {
	if item.Result == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(item.Result)
	if err != nil {
		logger.Warn("discarding undecodable generated image", "item_id", item.ID, "error", err)
		return
	}
	msg.Media = append(msg.Media, llms.MediaRef{Kind: llms.MediaKindImage, MIMEType: "image/png", Data: data})
	o.commit()
}

func actionArguments(action events.Action) string {
	encoded, err := json.Marshal(action)
	if err != nil {
		return ""
	}
	return string(encoded)
}
