package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"eventmesh-be/internal/connection"
	"eventmesh-be/internal/constant"
	"eventmesh-be/internal/pkg/logger"
	"eventmesh-be/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrPublish marks a rejected or timed-out durable-log write. The caller
	// decides whether to retry or accept the event as lost.
	ErrPublish = errors.New("durable publish failed")

	// ErrBroadcast marks a failed best-effort pub/sub broadcast. It says
	// nothing about the durable path.
	ErrBroadcast = errors.New("broadcast failed")
)

// Connections is the slice of the connection manager the bus depends on.
type Connections interface {
	Producer() (connection.Producer, error)
	Redis() (*redis.Client, error)
	Consumer(ctx context.Context, groupID string, topics []string) (jetstream.Consumer, error)
	EphemeralConsumer(ctx context.Context, name, topic string) (jetstream.Consumer, error)
	DeleteConsumer(ctx context.Context, name string) error
}

// RealTimeHandler processes one event received on a pub/sub channel.
// A non-nil error is logged and never terminates the subscription.
type RealTimeHandler func(ctx context.Context, channel string, event events.EnhancedEvent) error

// ConsumeHandler processes one event read from the durable log. A non-nil
// error triggers bounded redelivery and eventually dead-lettering.
type ConsumeHandler func(ctx context.Context, event events.EnhancedEvent) error

// Bus orchestrates the dual-channel event backbone: durable publishes to the
// append log, best-effort broadcasts on the pub/sub store, consumer-group
// subscriptions, timestamp-windowed replay and dead-letter escalation.
type Bus struct {
	conns    Connections
	registry *events.Registry
	schemas  *events.SchemaRegistry
	logger   logger.ILogger
	source   string
	retry    events.RetryPolicy
	spill    *Spillover
}

func NewBus(conns Connections, registry *events.Registry, schemas *events.SchemaRegistry,
	log logger.ILogger, source string, retry events.RetryPolicy, spill *Spillover) *Bus {
	return &Bus{
		conns:    conns,
		registry: registry,
		schemas:  schemas,
		logger:   log,
		source:   source,
		retry:    retry,
		spill:    spill,
	}
}

// Registry exposes the in-process dispatch registry for handler registration.
func (b *Bus) Registry() *events.Registry { return b.registry }

// AttachSpillover wires the dead-letter spillover queue once its backing
// store is up. Called during bootstrap before any consumer starts.
func (b *Bus) AttachSpillover(spill *Spillover) { b.spill = spill }

func envelope(ev events.Event) events.BaseEvent {
	return events.BaseEvent{
		ID:         ev.EventID(),
		Type:       ev.EventType(),
		OccurredAt: ev.Timestamp(),
		Source:     ev.EventSource(),
		Version:    ev.EventVersion(),
	}
}

// PublishEvent appends the event to topic, keyed by the event id, with
// headers carrying type, source and version. Delivery is at-least-once for
// any group that starts consuming at or before the record's offset; the
// message id lets the broker deduplicate retried physical writes.
func (b *Bus) PublishEvent(ctx context.Context, topic string, ev events.Event) error {
	if err := b.schemas.ValidateBase(envelope(ev)); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal event %s: %v", ErrPublish, ev.EventID(), err)
	}

	producer, err := b.conns.Producer()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}

	msg := &nats.Msg{
		Subject: constant.SubjectForTopic(topic),
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, ev.EventID())
	msg.Header.Set(constant.HeaderEventType, ev.EventType())
	msg.Header.Set(constant.HeaderSource, ev.EventSource())
	msg.Header.Set(constant.HeaderVersion, ev.EventVersion())

	if _, err := producer.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("%w: topic %s event %s: %v", ErrPublish, topic, ev.EventID(), err)
	}

	b.logger.Debug("EventBus", "Event published", map[string]interface{}{
		"topic":      topic,
		"event_id":   ev.EventID(),
		"event_type": ev.EventType(),
	})
	return nil
}

// PublishRealTimeEvent broadcasts the event on channel with no persistence
// and no delivery guarantee. Subscribers not currently connected never see it.
func (b *Bus) PublishRealTimeEvent(ctx context.Context, channel string, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal event %s: %v", ErrBroadcast, ev.EventID(), err)
	}

	rdb, err := b.conns.Redis()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBroadcast, err)
	}

	if err := rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: channel %s event %s: %v", ErrBroadcast, channel, ev.EventID(), err)
	}
	return nil
}

// publishBoth fans one event out to the durable log and the real-time
// channel concurrently. The durable write must succeed; a failed broadcast
// is demoted to a warning because the real-time channel is best-effort.
func (b *Bus) publishBoth(ctx context.Context, topic, channel string, ev events.Event) error {
	var (
		wg         sync.WaitGroup
		durableErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		durableErr = b.PublishEvent(ctx, topic, ev)
	}()
	go func() {
		defer wg.Done()
		if err := b.PublishRealTimeEvent(ctx, channel, ev); err != nil {
			b.logger.Warn("EventBus", "Real-time broadcast failed", map[string]interface{}{
				"channel":  channel,
				"event_id": ev.EventID(),
				"error":    err.Error(),
			})
		}
	}()
	wg.Wait()
	return durableErr
}

// PublishUserCreated announces a new user on both channels.
func (b *Bus) PublishUserCreated(ctx context.Context, userID string, data map[string]interface{}) error {
	ev := events.NewUserEvent(events.TypeUserCreated, b.source, userID, data)
	return b.publishBoth(ctx, constant.TopicUserEvents, constant.ChannelUserCreated, ev)
}

// PublishOrderCreated announces a new order on both channels.
func (b *Bus) PublishOrderCreated(ctx context.Context, orderID, userID string, data map[string]interface{}) error {
	ev := events.NewOrderEvent(events.TypeOrderCreated, b.source, orderID, userID, data)
	return b.publishBoth(ctx, constant.TopicOrderEvents, constant.ChannelOrderCreated, ev)
}

// PublishOrderStatusChanged announces an order status transition on both channels.
func (b *Bus) PublishOrderStatusChanged(ctx context.Context, orderID, userID string, data map[string]interface{}) error {
	ev := events.NewOrderEvent(events.TypeOrderStatusChanged, b.source, orderID, userID, data)
	return b.publishBoth(ctx, constant.TopicOrderEvents, constant.ChannelOrderStatusChanged, ev)
}

// PublishPaymentProcessed announces a settled payment on both channels.
func (b *Bus) PublishPaymentProcessed(ctx context.Context, paymentID, orderID string, data map[string]interface{}) error {
	ev := events.NewPaymentEvent(events.TypePaymentProcessed, b.source, paymentID, orderID, data)
	return b.publishBoth(ctx, constant.TopicPaymentEvents, constant.ChannelPaymentProcessed, ev)
}

// PublishProductUpdated announces a product change on both channels.
func (b *Bus) PublishProductUpdated(ctx context.Context, productID string, data map[string]interface{}) error {
	ev := events.NewProductEvent(events.TypeProductUpdated, b.source, productID, data)
	return b.publishBoth(ctx, constant.TopicProductEvents, constant.ChannelProductUpdated, ev)
}

// RealTimeSubscription is a live pub/sub subscription; Close tears it down.
type RealTimeSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

func (s *RealTimeSubscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}

// SubscribeToRealTimeEvents establishes a long-lived subscription on the
// given channels. Each inbound message is parsed and handed to handler; when
// handler is nil the event goes through the dispatch registry instead. A
// handler error is logged and the message is considered consumed regardless.
func (b *Bus) SubscribeToRealTimeEvents(ctx context.Context, channels []string, handler RealTimeHandler) (*RealTimeSubscription, error) {
	rdb, err := b.conns.Redis()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBroadcast, err)
	}

	pubsub := rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %v: %v", ErrBroadcast, channels, err)
	}

	sub := &RealTimeSubscription{pubsub: pubsub, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			b.handleRealTimeMessage(ctx, msg.Channel, []byte(msg.Payload), handler)
		}
	}()

	b.logger.Info("EventBus", "Real-time subscription established", map[string]interface{}{"channels": channels})
	return sub, nil
}

func (b *Bus) handleRealTimeMessage(ctx context.Context, channel string, payload []byte, handler RealTimeHandler) {
	var ev events.EnhancedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.logger.Error("EventBus", "Undecodable real-time message", map[string]interface{}{
			"channel": channel,
			"error":   err.Error(),
		})
		return
	}

	if handler == nil {
		b.registry.Dispatch(ctx, ev)
		return
	}

	if err := handler(ctx, channel, ev); err != nil {
		b.logger.Error("EventBus", "Real-time handler failed", map[string]interface{}{
			"channel":  channel,
			"event_id": ev.ID,
			"error":    err.Error(),
		})
	}
}
