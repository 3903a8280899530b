package eventbus

import (
	"context"
	"sync"
	"time"

	"eventmesh-be/internal/connection"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
)

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{}) {}
func (nopLogger) Warn(string, string, map[string]interface{}) {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
func (nopLogger) Sync() error { return nil }

// fakeProducer mimics the broker's idempotent-producer behavior: retried
// writes carrying the same message id are deduplicated.
type fakeProducer struct {
	mu        sync.Mutex
	published []*nats.Msg
	unique    map[string]struct{}
	err       error
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{unique: make(map[string]struct{})}
}

func (p *fakeProducer) PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	msgID := msg.Header.Get(nats.MsgIdHdr)
	if _, dup := p.unique[msgID]; dup {
		return &jetstream.PubAck{Duplicate: true}, nil
	}
	p.unique[msgID] = struct{}{}
	p.published = append(p.published, msg)
	return &jetstream.PubAck{Sequence: uint64(len(p.published))}, nil
}

func (p *fakeProducer) records(subject string) []*nats.Msg {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*nats.Msg
	for _, msg := range p.published {
		if msg.Subject == subject {
			out = append(out, msg)
		}
	}
	return out
}

// fakeConns satisfies Connections with injectable parts.
type fakeConns struct {
	producer    *fakeProducer
	producerErr error
	rdb         *redis.Client
	rdbErr      error
	consumer    jetstream.Consumer
	consumerErr error

	mu      sync.Mutex
	created []string
	deleted []string
}

func (c *fakeConns) Producer() (connection.Producer, error) {
	if c.producerErr != nil {
		return nil, c.producerErr
	}
	return c.producer, nil
}

func (c *fakeConns) Redis() (*redis.Client, error) {
	if c.rdbErr != nil {
		return nil, c.rdbErr
	}
	return c.rdb, nil
}

func (c *fakeConns) Consumer(ctx context.Context, groupID string, topics []string) (jetstream.Consumer, error) {
	if c.consumerErr != nil {
		return nil, c.consumerErr
	}
	c.mu.Lock()
	c.created = append(c.created, groupID)
	c.mu.Unlock()
	return c.consumer, nil
}

func (c *fakeConns) EphemeralConsumer(ctx context.Context, name, topic string) (jetstream.Consumer, error) {
	if c.consumerErr != nil {
		return nil, c.consumerErr
	}
	c.mu.Lock()
	c.created = append(c.created, name)
	c.mu.Unlock()
	return c.consumer, nil
}

func (c *fakeConns) DeleteConsumer(ctx context.Context, name string) error {
	c.mu.Lock()
	c.deleted = append(c.deleted, name)
	c.mu.Unlock()
	return nil
}

// fakeMsg implements the parts of jetstream.Msg the bus touches; the
// embedded interface covers the rest.
type fakeMsg struct {
	jetstream.Msg

	data    []byte
	subject string
	meta    jetstream.MsgMetadata

	mu       sync.Mutex
	acked    bool
	termed   bool
	nakDelay time.Duration
	naked    bool
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Headers() nats.Header { return nats.Header{} }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	meta := m.meta
	return &meta, nil
}

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}

func (m *fakeMsg) Term() error { return m.TermWithReason("") }

func (m *fakeMsg) TermWithReason(string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.termed = true
	return nil
}

func (m *fakeMsg) Nak() error { return m.NakWithDelay(0) }

func (m *fakeMsg) NakWithDelay(delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naked = true
	m.nakDelay = delay
	return nil
}

// fakeBatch replays a fixed message slice as one fetch result.
type fakeBatch struct {
	msgs []jetstream.Msg
}

func (b *fakeBatch) Messages() <-chan jetstream.Msg {
	ch := make(chan jetstream.Msg, len(b.msgs))
	for _, msg := range b.msgs {
		ch <- msg
	}
	close(ch)
	return ch
}

func (b *fakeBatch) Error() error { return nil }

// fakeConsumer serves canned batches to Fetch and hands messages straight to
// the Consume callback.
type fakeConsumer struct {
	jetstream.Consumer

	mu      sync.Mutex
	batches [][]jetstream.Msg
}

func (c *fakeConsumer) Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return &fakeBatch{}, nil
	}
	next := c.batches[0]
	c.batches = c.batches[1:]
	return &fakeBatch{msgs: next}, nil
}

func (c *fakeConsumer) Consume(handler jetstream.MessageHandler, opts ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, batch := range c.batches {
		for _, msg := range batch {
			handler(msg)
		}
	}
	c.batches = nil
	return &fakeConsumeContext{}, nil
}

type fakeConsumeContext struct {
	jetstream.ConsumeContext
}

func (*fakeConsumeContext) Stop() {}
func (*fakeConsumeContext) Drain() {}
