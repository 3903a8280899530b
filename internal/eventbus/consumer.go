package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eventmesh-be/pkg/events"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerSession is a live consumer-group subscription. Stop detaches the
// consumer loop; the durable group and its offsets survive on the broker.
type ConsumerSession struct {
	Subscription events.EventSubscription
	consumeCtx   jetstream.ConsumeContext
}

func (s *ConsumerSession) Stop() {
	if s.consumeCtx != nil {
		s.consumeCtx.Drain()
	}
}

// SetupEventConsumer joins the named consumer group on topics. Messages are
// handed to handler sequentially within a partition; the offset is committed
// (acked) only after the handler succeeds. On failure the message is
// redelivered with backoff up to the retry policy's max, then dead-lettered.
// When handler is nil, events are routed through the dispatch registry and
// consumed regardless of handler outcome.
func (b *Bus) SetupEventConsumer(ctx context.Context, topics []string, groupID string, handler ConsumeHandler) (*ConsumerSession, error) {
	consumer, err := b.conns.Consumer(ctx, groupID, topics)
	if err != nil {
		return nil, fmt.Errorf("setup consumer group %s: %w", groupID, err)
	}

	sub := events.NewEventSubscription(topics, groupID, b.retry)

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		b.processLogMessage(ctx, sub, msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("start consumer group %s: %w", groupID, err)
	}

	b.logger.Info("EventBus", "Consumer group joined", map[string]interface{}{
		"group_id": groupID,
		"topics":   topics,
	})
	return &ConsumerSession{Subscription: sub, consumeCtx: consumeCtx}, nil
}

func (b *Bus) processLogMessage(ctx context.Context, sub events.EventSubscription, msg jetstream.Msg, handler ConsumeHandler) {
	var ev events.EnhancedEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		// Poison message: redelivery cannot fix it.
		b.logger.Error("EventBus", "Undecodable log message", map[string]interface{}{
			"subject": msg.Subject(),
			"error":   err.Error(),
		})
		if termErr := msg.TermWithReason("undecodable payload"); termErr != nil {
			b.logger.Warn("EventBus", "Term failed", map[string]interface{}{"error": termErr.Error()})
		}
		return
	}

	if handler == nil {
		b.registry.Dispatch(ctx, ev)
		b.ack(msg, ev.ID)
		return
	}

	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	started := time.Now()
	handlerErr := b.invokeConsumeHandler(ctx, handler, ev)
	result := events.NewProcessingResult(ev.ID, started, attempt-1, handlerErr)

	if handlerErr == nil {
		b.ack(msg, ev.ID)
		return
	}

	b.logger.Warn("EventBus", "Consume handler failed", map[string]interface{}{
		"group_id":           sub.GroupID,
		"event_id":           ev.ID,
		"event_type":         ev.Type,
		"attempt":            attempt,
		"processing_time_ms": result.ProcessingTimeMs,
		"error":              handlerErr.Error(),
	})

	if attempt > sub.Retry.MaxRetries {
		if err := b.HandleDeadLetterEvent(ctx, ev, msg.Data(), handlerErr); err != nil {
			b.logger.Error("EventBus", "Dead letter escalation failed", map[string]interface{}{
				"event_id": ev.ID,
				"error":    err.Error(),
			})
		}
		// Terminal for this group either way; a redelivery loop would just
		// produce duplicate dead letters.
		if err := msg.TermWithReason("retries exhausted"); err != nil {
			b.logger.Warn("EventBus", "Term failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}

	delay := sub.Retry.Delay(attempt)
	if err := msg.NakWithDelay(delay); err != nil {
		b.logger.Warn("EventBus", "Nak failed", map[string]interface{}{"event_id": ev.ID, "error": err.Error()})
	}
}

func (b *Bus) invokeConsumeHandler(ctx context.Context, handler ConsumeHandler, ev events.EnhancedEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("consume handler panicked: %v", rec)
		}
	}()
	return handler(ctx, ev)
}

func (b *Bus) ack(msg jetstream.Msg, eventID string) {
	if err := msg.Ack(); err != nil {
		b.logger.Warn("EventBus", "Ack failed", map[string]interface{}{"event_id": eventID, "error": err.Error()})
	}
}

// replayFetchBatch bounds each pull during replay.
const replayFetchBatch = 100

// ReplayEvents reads topic from its earliest available offset through an
// ephemeral, never-reused consumer group (`replay-<unix-millis>`) and invokes
// handler only for events whose timestamp falls within [from, to] inclusive.
// Events outside the window are skipped without side effects. The replay
// consumer is torn down once the topic is exhausted or ctx is cancelled.
func (b *Bus) ReplayEvents(ctx context.Context, topic string, from, to time.Time, handler ConsumeHandler) (*events.EventReplayConfig, error) {
	groupName := fmt.Sprintf("replay-%d", time.Now().UnixMilli())
	consumer, err := b.conns.EphemeralConsumer(ctx, groupName, topic)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", topic, err)
	}
	defer func() {
		if err := b.conns.DeleteConsumer(context.WithoutCancel(ctx), groupName); err != nil {
			b.logger.Warn("EventBus", "Replay consumer teardown failed", map[string]interface{}{
				"group": groupName,
				"error": err.Error(),
			})
		}
	}()

	cfg := &events.EventReplayConfig{
		SourceTopic: topic,
		From:        from,
		To:          to,
	}

	for {
		if err := ctx.Err(); err != nil {
			return cfg, err
		}

		batch, err := consumer.Fetch(replayFetchBatch, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return cfg, fmt.Errorf("replay fetch %s: %w", topic, err)
		}

		received := 0
		exhausted := false
		for msg := range batch.Messages() {
			received++
			exhausted = b.replayMessage(ctx, cfg, msg, handler)
		}
		if err := batch.Error(); err != nil {
			return cfg, fmt.Errorf("replay batch %s: %w", topic, err)
		}
		if received == 0 || exhausted {
			break
		}
	}

	b.logger.Info("EventBus", "Replay finished", map[string]interface{}{
		"topic":   topic,
		"group":   groupName,
		"matched": cfg.Matched,
		"skipped": cfg.Skipped,
	})
	return cfg, nil
}

// replayMessage processes one replayed record and reports whether the log is
// exhausted behind it.
func (b *Bus) replayMessage(ctx context.Context, cfg *events.EventReplayConfig, msg jetstream.Msg, handler ConsumeHandler) bool {
	exhausted := false
	if meta, err := msg.Metadata(); err == nil {
		exhausted = meta.NumPending == 0
	}
	b.ack(msg, "")

	var ev events.EnhancedEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		b.logger.Warn("EventBus", "Skipping undecodable record in replay", map[string]interface{}{
			"subject": msg.Subject(),
			"error":   err.Error(),
		})
		cfg.Skipped++
		return exhausted
	}

	if !cfg.InWindow(ev.OccurredAt) || !cfg.WantsType(ev.Type) {
		cfg.Skipped++
		return exhausted
	}

	if err := b.invokeConsumeHandler(ctx, handler, ev); err != nil {
		// Replay is a read-only pass; failures are logged, never redelivered.
		b.logger.Error("EventBus", "Replay handler failed", map[string]interface{}{
			"event_id": ev.ID,
			"error":    err.Error(),
		})
	}
	cfg.Matched++
	return exhausted
}
