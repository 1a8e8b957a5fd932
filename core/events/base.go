package events

import (
	"strconv"
	"time"

	"github.com/koscakluka/ema-relay/core/llms"
)

type Kind string

// Event is a single streaming event. Only the fields relevant to its Type are
// populated; Response is set on lifecycle events that carry a full snapshot.
type Event struct {
	Type           Kind   `json:"type"`
	SequenceNumber *int64 `json:"sequence_number,omitempty"`
	ItemID         string `json:"item_id,omitempty"`
	OutputIndex    int    `json:"output_index,omitempty"`

	Delta       string `json:"delta,omitempty"`
	Text        string `json:"text,omitempty"`
	Arguments   string `json:"arguments,omitempty"`
	Name        string `json:"name,omitempty"`
	ServerLabel string `json:"server_label,omitempty"`

	Item       *Item       `json:"item,omitempty"`
	Response   *Response   `json:"response,omitempty"`
	Annotation *Annotation `json:"annotation,omitempty"`

	// Code and Message are set on top-level error events.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

func NewBase(kind Kind) Event {
	return Event{Type: kind, ReceivedAt: time.Now()}
}

func (e Event) Kind() Kind {
	return e.Type
}

func (e Event) Timestamp() time.Time {
	return e.ReceivedAt
}

// Signature identifies the event for de-duplication. Events without a
// sequence number have no signature and are never treated as duplicates.
func (e Event) Signature(responseID llms.ResponseID) string {
	if e.SequenceNumber == nil {
		return ""
	}
	itemID := e.ItemID
	if itemID == "" && e.Item != nil {
		itemID = e.Item.ID
	}
	return string(responseID) + "|" + strconv.FormatInt(*e.SequenceNumber, 10) + "|" + string(e.Type) + "|" + itemID
}
