package status

import (
	"time"

	"github.com/koscakluka/ema-relay/core/llms"
)

type UpdateKind string

const (
	UpdateStatus   UpdateKind = "status"
	UpdateActivity UpdateKind = "activity"
	UpdateMessage  UpdateKind = "message"
)

// Update is a change published to presentation observers.
type Update struct {
	Kind      UpdateKind     `json:"kind"`
	SessionID llms.SessionID `json:"session_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Line      string         `json:"line,omitempty"`
	Message   *llms.Message  `json:"message,omitempty"`
	At        time.Time      `json:"at"`
}

type Observer interface {
	Observe(update Update)
}

type ObserverFunc func(update Update)

func (f ObserverFunc) Observe(update Update) {
	if f != nil {
		f(update)
	}
}
