package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"eventmesh-be/internal/constant"
	"eventmesh-be/pkg/events"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeEvent(t *testing.T, ev events.Event) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func orderMsg(t *testing.T, numDelivered uint64) *fakeMsg {
	t.Helper()
	ev := events.NewOrderEvent(events.TypeOrderCreated, "order-service", "ord-1", "usr-1", nil)
	return &fakeMsg{
		data:    encodeEvent(t, ev),
		subject: constant.SubjectForTopic(constant.TopicOrderEvents),
		meta:    jetstream.MsgMetadata{NumDelivered: numDelivered},
	}
}

func testSubscription(bus *Bus) events.EventSubscription {
	return events.NewEventSubscription([]string{constant.TopicOrderEvents}, "billing-group", bus.retry)
}

func TestProcessLogMessageAcksAfterSuccess(t *testing.T) {
	bus := newTestBus(t, &fakeConns{producer: newFakeProducer()})
	msg := orderMsg(t, 1)

	bus.processLogMessage(context.Background(), testSubscription(bus), msg,
		func(ctx context.Context, ev events.EnhancedEvent) error { return nil })

	assert.True(t, msg.acked)
	assert.False(t, msg.naked)
	assert.False(t, msg.termed)
}

func TestProcessLogMessageRedeliversWithBackoff(t *testing.T) {
	bus := newTestBus(t, &fakeConns{producer: newFakeProducer()})
	sub := testSubscription(bus)

	// Second delivery of a failing message, still under the retry limit.
	msg := orderMsg(t, 2)
	bus.processLogMessage(context.Background(), sub, msg,
		func(ctx context.Context, ev events.EnhancedEvent) error { return errors.New("boom") })

	assert.True(t, msg.naked)
	assert.Equal(t, sub.Retry.Delay(2), msg.nakDelay)
	assert.False(t, msg.acked)
	assert.False(t, msg.termed)
}

func TestProcessLogMessageDeadLettersAfterRetriesExhausted(t *testing.T) {
	producer := newFakeProducer()
	bus := newTestBus(t, &fakeConns{producer: producer})

	// MaxRetries is 3; the fourth delivery is terminal.
	msg := orderMsg(t, 4)
	bus.processLogMessage(context.Background(), testSubscription(bus), msg,
		func(ctx context.Context, ev events.EnhancedEvent) error { return errors.New("boom") })

	assert.True(t, msg.termed)
	assert.False(t, msg.naked)

	records := producer.records(constant.SubjectForTopic(constant.TopicDeadLetter))
	require.Len(t, records, 1)

	var dl events.DeadLetterEvent
	require.NoError(t, json.Unmarshal(records[0].Data, &dl))
	assert.Equal(t, events.TypeOrderCreated+events.DeadLetterSuffix, dl.Type)
	assert.Equal(t, "boom", dl.Error.Message)
}

func TestProcessLogMessageTerminatesPoisonMessage(t *testing.T) {
	bus := newTestBus(t, &fakeConns{producer: newFakeProducer()})
	msg := &fakeMsg{data: []byte("{not json"), subject: "events.order-events"}

	handlerCalled := false
	bus.processLogMessage(context.Background(), testSubscription(bus), msg,
		func(ctx context.Context, ev events.EnhancedEvent) error {
			handlerCalled = true
			return nil
		})

	assert.True(t, msg.termed)
	assert.False(t, handlerCalled)
}

func TestProcessLogMessagePanickingHandlerIsRetried(t *testing.T) {
	bus := newTestBus(t, &fakeConns{producer: newFakeProducer()})
	msg := orderMsg(t, 1)

	bus.processLogMessage(context.Background(), testSubscription(bus), msg,
		func(ctx context.Context, ev events.EnhancedEvent) error { panic("kaboom") })

	assert.True(t, msg.naked)
	assert.False(t, msg.acked)
}

func TestProcessLogMessageNilHandlerDispatchesRegistry(t *testing.T) {
	bus := newTestBus(t, &fakeConns{producer: newFakeProducer()})

	var dispatched atomic.Bool
	bus.Registry().Register(events.TypeOrderCreated, "audit", func(ctx context.Context, ev events.Event) error {
		dispatched.Store(true)
		return errors.New("registry handlers never block the offset")
	})

	msg := orderMsg(t, 1)
	bus.processLogMessage(context.Background(), testSubscription(bus), msg, nil)

	assert.True(t, dispatched.Load())
	assert.True(t, msg.acked)
}

func TestSetupEventConsumerJoinsGroupAndProcesses(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]jetstream.Msg{{orderMsg(t, 1)}}}
	conns := &fakeConns{producer: newFakeProducer(), consumer: consumer}
	bus := newTestBus(t, conns)

	var seen atomic.Int32
	session, err := bus.SetupEventConsumer(context.Background(),
		[]string{constant.TopicOrderEvents}, "billing-group",
		func(ctx context.Context, ev events.EnhancedEvent) error {
			seen.Add(1)
			return nil
		})
	require.NoError(t, err)
	defer session.Stop()

	assert.Equal(t, int32(1), seen.Load())
	assert.Equal(t, []string{"billing-group"}, conns.created)
	assert.Equal(t, "billing-group", session.Subscription.GroupID)
}

func replayMsgAt(t *testing.T, ts time.Time, numPending uint64) *fakeMsg {
	t.Helper()
	ev := events.NewOrderEvent(events.TypeOrderCreated, "order-service", "ord-1", "usr-1", nil)
	ev.OccurredAt = ts
	return &fakeMsg{
		data:    encodeEvent(t, ev),
		subject: constant.SubjectForTopic(constant.TopicOrderEvents),
		meta:    jetstream.MsgMetadata{NumPending: numPending},
	}
}

func TestReplayEventsInvokesHandlerOnlyInsideWindow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	from := base
	to := base.Add(time.Second)

	consumer := &fakeConsumer{batches: [][]jetstream.Msg{{
		replayMsgAt(t, base.Add(-time.Second), 3),
		replayMsgAt(t, base, 2),
		replayMsgAt(t, base.Add(time.Second), 1),
		replayMsgAt(t, base.Add(2*time.Second), 0),
	}}}
	conns := &fakeConns{producer: newFakeProducer(), consumer: consumer}
	bus := newTestBus(t, conns)

	var timestamps []time.Time
	cfg, err := bus.ReplayEvents(context.Background(), constant.TopicOrderEvents, from, to,
		func(ctx context.Context, ev events.EnhancedEvent) error {
			timestamps = append(timestamps, ev.OccurredAt)
			return nil
		})
	require.NoError(t, err)

	// Window bounds are inclusive; only the two middle records match.
	require.Len(t, timestamps, 2)
	assert.True(t, timestamps[0].Equal(from))
	assert.True(t, timestamps[1].Equal(to))
	assert.Equal(t, 2, cfg.Matched)
	assert.Equal(t, 2, cfg.Skipped)
}

func TestReplayEventsTearsDownEphemeralConsumer(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]jetstream.Msg{{replayMsgAt(t, time.Now(), 0)}}}
	conns := &fakeConns{producer: newFakeProducer(), consumer: consumer}
	bus := newTestBus(t, conns)

	_, err := bus.ReplayEvents(context.Background(), constant.TopicOrderEvents,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour),
		func(ctx context.Context, ev events.EnhancedEvent) error { return nil })
	require.NoError(t, err)

	require.Len(t, conns.created, 1)
	require.Len(t, conns.deleted, 1)
	assert.Equal(t, conns.created[0], conns.deleted[0])
	assert.True(t, strings.HasPrefix(conns.deleted[0], "replay-"))
}

func TestReplayEventsEmptyTopic(t *testing.T) {
	conns := &fakeConns{producer: newFakeProducer(), consumer: &fakeConsumer{}}
	bus := newTestBus(t, conns)

	cfg, err := bus.ReplayEvents(context.Background(), constant.TopicOrderEvents,
		time.Now().Add(-time.Hour), time.Now(),
		func(ctx context.Context, ev events.EnhancedEvent) error {
			t.Error("handler must not run on an empty topic")
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Matched)
	assert.Equal(t, 0, cfg.Skipped)
	assert.Len(t, conns.deleted, 1)
}

func TestReplayEventsHandlerErrorDoesNotAbortReplay(t *testing.T) {
	now := time.Now().UTC()
	consumer := &fakeConsumer{batches: [][]jetstream.Msg{{
		replayMsgAt(t, now, 1),
		replayMsgAt(t, now, 0),
	}}}
	conns := &fakeConns{producer: newFakeProducer(), consumer: consumer}
	bus := newTestBus(t, conns)

	var calls atomic.Int32
	cfg, err := bus.ReplayEvents(context.Background(), constant.TopicOrderEvents,
		now.Add(-time.Minute), now.Add(time.Minute),
		func(ctx context.Context, ev events.EnhancedEvent) error {
			calls.Add(1)
			return errors.New("projection rebuild hiccup")
		})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, cfg.Matched)
}
