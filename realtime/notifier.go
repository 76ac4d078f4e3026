package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/EllectronChik/server7x/models"
)

const changesTopic = "entity.changes"

// Notifier carries committed entity changes to the hub. Publish blocks until
// the hub has refreshed every interested group, so a mutation's response
// never overtakes the snapshots it caused.
type Notifier struct {
	pubSub *gochannel.GoChannel
	hub    *Hub
	logger *slog.Logger

	wg sync.WaitGroup
}

func NewNotifier(hub *Hub, logger *slog.Logger) *Notifier {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NewSlogLogger(logger))

	return &Notifier{pubSub: pubSub, hub: hub, logger: logger}
}

// Start subscribes to the change stream. Changes published before Start are
// dropped.
func (n *Notifier) Start(ctx context.Context) error {
	messages, err := n.pubSub.Subscribe(ctx, changesTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", changesTopic, err)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for msg := range messages {
			n.process(msg)
		}
	}()
	return nil
}

func (n *Notifier) process(msg *message.Message) {
	defer msg.Ack()

	var ev models.ChangeEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		n.logger.Error("dropping undecodable change", slog.String("message_uuid", msg.UUID), slog.Any("error", err))
		return
	}
	// Refreshes run detached from the publishing request.
	n.hub.Refresh(context.Background(), ev)
}

// Publish implements services.ChangePublisher.
func (n *Notifier) Publish(_ context.Context, events ...models.ChangeEvent) {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			n.logger.Error("failed to encode change", slog.Any("error", err))
			continue
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err = n.pubSub.Publish(changesTopic, msg); err != nil {
			n.logger.Error("failed to publish change",
				slog.String("entity", string(ev.Entity)),
				slog.Int("id", ev.ID),
				slog.Any("error", err))
		}
	}
}

// Close stops delivery and waits for the change in flight.
func (n *Notifier) Close() error {
	err := n.pubSub.Close()
	n.wg.Wait()
	return err
}
