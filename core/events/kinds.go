package events

const (
	KindResponseCreated    Kind = "response.created"
	KindResponseQueued     Kind = "response.queued"
	KindResponseInProgress Kind = "response.in_progress"
	KindResponseCompleted  Kind = "response.completed"
	KindResponseFailed     Kind = "response.failed"
	KindResponseIncomplete Kind = "response.incomplete"
	KindError              Kind = "error"

	KindOutputItemAdded Kind = "response.output_item.added"
	KindOutputItemDone  Kind = "response.output_item.done"

	KindContentPartAdded Kind = "response.content_part.added"
	KindContentPartDone  Kind = "response.content_part.done"

	KindOutputTextDelta           Kind = "response.output_text.delta"
	KindOutputTextDone            Kind = "response.output_text.done"
	KindOutputTextAnnotationAdded Kind = "response.output_text.annotation.added"

	KindReasoningSummaryTextDelta Kind = "response.reasoning_summary_text.delta"
	KindReasoningSummaryTextDone  Kind = "response.reasoning_summary_text.done"

	KindFunctionCallArgumentsDelta Kind = "response.function_call_arguments.delta"
	KindFunctionCallArgumentsDone  Kind = "response.function_call_arguments.done"

	KindMCPCallArgumentsDelta Kind = "response.mcp_call_arguments.delta"
	KindMCPCallArgumentsDone  Kind = "response.mcp_call_arguments.done"
	KindMCPCallInProgress     Kind = "response.mcp_call.in_progress"
	KindMCPCallCompleted      Kind = "response.mcp_call.completed"
	KindMCPCallFailed         Kind = "response.mcp_call.failed"

	KindMCPListToolsInProgress Kind = "response.mcp_list_tools.in_progress"
	KindMCPListToolsCompleted  Kind = "response.mcp_list_tools.completed"
	KindMCPListToolsFailed     Kind = "response.mcp_list_tools.failed"

	KindImageGenerationInProgress   Kind = "response.image_generation_call.in_progress"
	KindImageGenerationGenerating   Kind = "response.image_generation_call.generating"
	KindImageGenerationPartialImage Kind = "response.image_generation_call.partial_image"
	KindImageGenerationCompleted    Kind = "response.image_generation_call.completed"
)

func withResponse(kind Kind, response *Response) Event {
	event := NewBase(kind)
	event.Response = response
	return event
}

func NewResponseCreated(responseID string) Event {
	return withResponse(KindResponseCreated, &Response{ID: responseID, Status: "in_progress"})
}

func NewResponseInProgress(responseID string) Event {
	return withResponse(KindResponseInProgress, &Response{ID: responseID, Status: "in_progress"})
}

func NewResponseCompleted(response Response) Event {
	if response.Status == "" {
		response.Status = "completed"
	}
	return withResponse(KindResponseCompleted, &response)
}

func NewResponseFailed(responseID string, err *ItemError) Event {
	return withResponse(KindResponseFailed, &Response{ID: responseID, Status: "failed", Error: err})
}

func NewResponseIncomplete(responseID, reason string) Event {
	return withResponse(KindResponseIncomplete, &Response{
		ID:                responseID,
		Status:            "incomplete",
		IncompleteDetails: &IncompleteDetails{Reason: reason},
	})
}

func NewError(code, message string) Event {
	event := NewBase(KindError)
	event.Code = code
	event.Message = message
	return event
}

func NewTextDelta(itemID, delta string) Event {
	event := NewBase(KindOutputTextDelta)
	event.ItemID = itemID
	event.Delta = delta
	return event
}

func NewTextDone(itemID, text string) Event {
	event := NewBase(KindOutputTextDone)
	event.ItemID = itemID
	event.Text = text
	return event
}

func NewAnnotationAdded(itemID string, annotation Annotation) Event {
	event := NewBase(KindOutputTextAnnotationAdded)
	event.ItemID = itemID
	event.Annotation = &annotation
	return event
}

func NewOutputItemAdded(item Item) Event {
	event := NewBase(KindOutputItemAdded)
	event.ItemID = item.ID
	event.Item = &item
	return event
}

func NewOutputItemDone(item Item) Event {
	event := NewBase(KindOutputItemDone)
	event.ItemID = item.ID
	event.Item = &item
	return event
}

func NewFunctionCallArgumentsDelta(itemID, delta string) Event {
	event := NewBase(KindFunctionCallArgumentsDelta)
	event.ItemID = itemID
	event.Delta = delta
	return event
}

func NewFunctionCallArgumentsDone(itemID, arguments string) Event {
	event := NewBase(KindFunctionCallArgumentsDone)
	event.ItemID = itemID
	event.Arguments = arguments
	return event
}

func NewMCPCallArgumentsDelta(itemID, delta string) Event {
	event := NewBase(KindMCPCallArgumentsDelta)
	event.ItemID = itemID
	event.Delta = delta
	return event
}

func NewMCPCallArgumentsDone(itemID, arguments string) Event {
	event := NewBase(KindMCPCallArgumentsDone)
	event.ItemID = itemID
	event.Arguments = arguments
	return event
}

func NewMCPCallInProgress(itemID, serverLabel string) Event {
	event := NewBase(KindMCPCallInProgress)
	event.ItemID = itemID
	event.ServerLabel = serverLabel
	return event
}

func NewMCPCallFailed(itemID, serverLabel string) Event {
	event := NewBase(KindMCPCallFailed)
	event.ItemID = itemID
	event.ServerLabel = serverLabel
	return event
}

func NewMCPListToolsInProgress(itemID, serverLabel string) Event {
	event := NewBase(KindMCPListToolsInProgress)
	event.ItemID = itemID
	event.ServerLabel = serverLabel
	return event
}

func NewReasoningSummaryDelta(itemID, delta string) Event {
	event := NewBase(KindReasoningSummaryTextDelta)
	event.ItemID = itemID
	event.Delta = delta
	return event
}

func NewImageGenerationInProgress(itemID string) Event {
	event := NewBase(KindImageGenerationInProgress)
	event.ItemID = itemID
	return event
}

// WithSequence returns a copy of the event carrying the given sequence number.
func (e Event) WithSequence(sequence int64) Event {
	e.SequenceNumber = &sequence
	return e
}
