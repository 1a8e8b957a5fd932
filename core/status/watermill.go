package status

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultTopic = "relay.updates"

// WatermillSink publishes updates as JSON messages on a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillSink{publisher: publisher, topic: topic}
}

func (s *WatermillSink) Observe(update Update) {
	if s == nil || s.publisher == nil {
		return
	}
	if err := s.Publish(update); err != nil {
		logger.Warn("failed to publish update", "topic", s.topic, "kind", update.Kind, "error", err)
	}
}

func (s *WatermillSink) Publish(update Update) error {
	_, span := tracer.Start(context.Background(), "publish update")
	defer span.End()
	span.SetAttributes(attribute.String("update.kind", string(update.Kind)), attribute.String("topic", s.topic))

	payload, err := json.Marshal(update)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", string(update.Kind))
	if update.SessionID != "" {
		msg.Metadata.Set("session_id", string(update.SessionID))
	}

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// DecodeUpdate reads an update published by a WatermillSink.
func DecodeUpdate(msg *message.Message) (Update, error) {
	var update Update
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		return Update{}, fmt.Errorf("failed to decode update %s: %w", msg.UUID, err)
	}
	return update, nil
}
