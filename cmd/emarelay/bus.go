package main

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/koscakluka/ema-relay/core/status"
)

// updateBus carries orchestrator updates from the coordination lane to the
// renderers over an in-process watermill channel.
type updateBus struct {
	pubSub   *gochannel.GoChannel
	sink     *status.WatermillSink
	messages <-chan *message.Message
}

func newUpdateBus(ctx context.Context) (*updateBus, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		// keeps updates in publishing order
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})

	messages, err := pubSub.Subscribe(ctx, status.DefaultTopic)
	if err != nil {
		_ = pubSub.Close()
		return nil, err
	}

	return &updateBus{
		pubSub:   pubSub,
		sink:     status.NewWatermillSink(pubSub, status.DefaultTopic),
		messages: messages,
	}, nil
}

func (b *updateBus) Observer() status.Observer {
	return b.sink
}

// Run hands every update to the handlers until the bus is closed. Messages
// are acked before the handlers run, so handlers may call back into the
// orchestrator.
func (b *updateBus) Run(handlers ...func(status.Update)) {
	for msg := range b.messages {
		update, err := status.DecodeUpdate(msg)
		msg.Ack()
		if err != nil {
			slog.Warn("dropping undecodable update", "error", err)
			continue
		}
		for _, handle := range handlers {
			handle(update)
		}
	}
}

func (b *updateBus) Close() error {
	return b.pubSub.Close()
}
