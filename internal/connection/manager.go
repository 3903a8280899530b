package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"eventmesh-be/internal/config"
	"eventmesh-be/internal/constant"
	"eventmesh-be/internal/pkg/logger"
	"eventmesh-be/pkg/database"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Backend names the three external stores the manager owns.
type Backend string

const (
	BackendPostgres  Backend = "postgres"
	BackendRedis     Backend = "redis"
	BackendJetStream Backend = "jetstream"
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrNotConnected   = errors.New("backend not connected")
)

const (
	probeTimeout   = 3 * time.Second
	healthCacheTTL = 5 * time.Second
	healthCacheKey = "health"
)

// Producer is the slice of the JetStream API the bus publishes through.
type Producer interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// HealthStatus is the per-backend probe outcome plus the aggregate AND.
type HealthStatus struct {
	Postgres  bool `json:"postgres"`
	Redis     bool `json:"redis"`
	JetStream bool `json:"jetstream"`
	Overall   bool `json:"overall"`
}

// Manager is the single source of truth for live connections to the
// relational store, the pub/sub store and the append-log broker. It is
// constructed once at process start and passed by reference; lifecycle is
// bound to explicit Connect/Shutdown calls, never lazy globals.
type Manager struct {
	cfg    *config.Config
	logger logger.ILogger

	mu        sync.Mutex
	db        *gorm.DB
	rdb       *redis.Client
	nc        *nats.Conn
	js        jetstream.JetStream
	producer  Producer
	consumers map[string]jetstream.Consumer

	healthCache *gocache.Cache
}

func NewManager(cfg *config.Config, log logger.ILogger) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      log,
		consumers:   make(map[string]jetstream.Consumer),
		healthCache: gocache.New(healthCacheTTL, time.Minute),
	}
}

// ConnectAll brings up every backend. Any failure here is fatal at startup:
// the process must not serve traffic without its event backbone.
func (m *Manager) ConnectAll(ctx context.Context) error {
	for _, backend := range []Backend{BackendPostgres, BackendRedis, BackendJetStream} {
		if err := m.Connect(ctx, backend); err != nil {
			return fmt.Errorf("connect %s: %w", backend, err)
		}
	}
	return nil
}

// Connect establishes the client for one backend. Calling it on an already
// connected backend is a no-op.
func (m *Manager) Connect(ctx context.Context, backend Backend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch backend {
	case BackendPostgres:
		if m.db != nil {
			return nil
		}
		db, err := database.NewGormDBFromDSN(m.cfg.Database.Connection)
		if err != nil {
			return err
		}
		m.db = db

	case BackendRedis:
		if m.rdb != nil {
			return nil
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     m.cfg.Redis.Addr(),
			Password: m.cfg.Redis.Password,
			DB:       m.cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		m.rdb = rdb

	case BackendJetStream:
		if m.nc != nil {
			return nil
		}
		nc, err := nats.Connect(strings.Join(m.cfg.Broker.Brokers, ","),
			nats.Name(m.cfg.Broker.ClientID),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(m.cfg.Broker.RetryMaxRetries),
			nats.ReconnectWait(time.Duration(m.cfg.Broker.RetryInitialTimeMs)*time.Millisecond),
		)
		if err != nil {
			return fmt.Errorf("broker connect: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return fmt.Errorf("jetstream context: %w", err)
		}
		if err := m.ensureStream(ctx, js); err != nil {
			nc.Close()
			return err
		}
		m.nc = nc
		m.js = js

	default:
		return fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}

	m.logger.Info("ConnectionManager", "Backend connected", map[string]interface{}{"backend": string(backend)})
	return nil
}

func (m *Manager) ensureStream(ctx context.Context, js jetstream.JetStream) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// LimitsPolicy so independent consumer groups and replay consumers can
	// each read the full log.
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     constant.StreamName,
		Subjects: []string{constant.StreamWildcard},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", constant.StreamName, err)
	}
	return nil
}

// Disconnect tears down the client for one backend. A not-connected backend
// is a no-op.
func (m *Manager) Disconnect(backend Backend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch backend {
	case BackendPostgres:
		if m.db == nil {
			return nil
		}
		if sqlDB, err := m.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				m.logger.Warn("ConnectionManager", "Postgres close failed", map[string]interface{}{"error": err.Error()})
			}
		}
		m.db = nil

	case BackendRedis:
		if m.rdb == nil {
			return nil
		}
		if err := m.rdb.Close(); err != nil {
			m.logger.Warn("ConnectionManager", "Redis close failed", map[string]interface{}{"error": err.Error()})
		}
		m.rdb = nil

	case BackendJetStream:
		if m.nc == nil {
			return nil
		}
		if err := m.nc.Drain(); err != nil {
			m.logger.Warn("ConnectionManager", "Broker drain failed", map[string]interface{}{"error": err.Error()})
		}
		m.nc = nil
		m.js = nil
		m.producer = nil
		m.consumers = make(map[string]jetstream.Consumer)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}

	m.logger.Info("ConnectionManager", "Backend disconnected", map[string]interface{}{"backend": string(backend)})
	return nil
}

// Shutdown closes every cached consumer handle, then the producer, then each
// backend client. Each step is best-effort with logging.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for groupID := range m.consumers {
		m.logger.Info("ConnectionManager", "Releasing consumer", map[string]interface{}{"group_id": groupID})
		delete(m.consumers, groupID)
	}
	m.producer = nil
	m.mu.Unlock()

	for _, backend := range []Backend{BackendJetStream, BackendRedis, BackendPostgres} {
		if err := m.Disconnect(backend); err != nil {
			m.logger.Warn("ConnectionManager", "Disconnect failed during shutdown", map[string]interface{}{
				"backend": string(backend),
				"error":   err.Error(),
			})
		}
	}
}

// DB returns the relational store handle.
func (m *Manager) DB() (*gorm.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, BackendPostgres)
	}
	return m.db, nil
}

// Redis returns the pub/sub store client.
func (m *Manager) Redis() (*redis.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rdb == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, BackendRedis)
	}
	return m.rdb, nil
}

// Producer returns the process-wide idempotent append-log producer, created
// on first use under the manager lock and reused afterwards.
func (m *Manager) Producer() (Producer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.producer != nil {
		return m.producer, nil
	}
	if m.js == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, BackendJetStream)
	}
	m.producer = m.js
	return m.producer, nil
}

// Consumer returns the consumer bound to groupID, creating a new durable
// consumer only for a previously-unseen group id.
func (m *Manager) Consumer(ctx context.Context, groupID string, topics []string) (jetstream.Consumer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if consumer, ok := m.consumers[groupID]; ok {
		return consumer, nil
	}
	if m.js == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, BackendJetStream)
	}

	subjects := make([]string, 0, len(topics))
	for _, topic := range topics {
		subjects = append(subjects, constant.SubjectForTopic(topic))
	}

	consumer, err := m.js.CreateOrUpdateConsumer(ctx, constant.StreamName, jetstream.ConsumerConfig{
		Durable:        groupID,
		FilterSubjects: subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		MaxDeliver:     m.cfg.Broker.RetryMaxRetries + 1,
		AckWait:        30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for group %s: %w", groupID, err)
	}
	m.consumers[groupID] = consumer
	return consumer, nil
}

// EphemeralConsumer creates a one-off consumer reading the topic from its
// earliest offset. It is not cached; callers must delete it when done.
func (m *Manager) EphemeralConsumer(ctx context.Context, name, topic string) (jetstream.Consumer, error) {
	m.mu.Lock()
	js := m.js
	m.mu.Unlock()
	if js == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, BackendJetStream)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, constant.StreamName, jetstream.ConsumerConfig{
		Name:          name,
		FilterSubject: constant.SubjectForTopic(topic),
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		// One replay pass only; the broker may reap it if the caller dies.
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create replay consumer %s: %w", name, err)
	}
	return consumer, nil
}

// DeleteConsumer removes a consumer by name, used to tear down replay groups.
func (m *Manager) DeleteConsumer(ctx context.Context, name string) error {
	m.mu.Lock()
	js := m.js
	m.mu.Unlock()
	if js == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, BackendJetStream)
	}
	return js.DeleteConsumer(ctx, constant.StreamName, name)
}

// HealthCheck probes each backend with a bounded timeout. Probe failures are
// reported in the status, never returned as errors. Results are cached
// briefly so health polling cannot hammer the backends.
func (m *Manager) HealthCheck(ctx context.Context) HealthStatus {
	if cached, ok := m.healthCache.Get(healthCacheKey); ok {
		return cached.(HealthStatus)
	}

	m.mu.Lock()
	db, rdb, js := m.db, m.rdb, m.js
	m.mu.Unlock()

	var status HealthStatus
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		status.Postgres = m.probePostgres(ctx, db)
		return nil
	})
	g.Go(func() error {
		status.Redis = m.probeRedis(ctx, rdb)
		return nil
	})
	g.Go(func() error {
		status.JetStream = m.probeJetStream(ctx, js)
		return nil
	})
	_ = g.Wait()

	status.Overall = status.Postgres && status.Redis && status.JetStream
	m.healthCache.SetDefault(healthCacheKey, status)
	return status
}

// HealthCheckAll is the boundary shape consumed by the gateway health
// aggregator: one boolean per backend plus the overall AND.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]bool {
	status := m.HealthCheck(ctx)
	return map[string]bool{
		string(BackendPostgres):  status.Postgres,
		string(BackendRedis):     status.Redis,
		string(BackendJetStream): status.JetStream,
		"overall":                status.Overall,
	}
}

func (m *Manager) probePostgres(ctx context.Context, db *gorm.DB) bool {
	if db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return false
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		m.logger.Warn("ConnectionManager", "Postgres probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

func (m *Manager) probeRedis(ctx context.Context, rdb *redis.Client) bool {
	if rdb == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		m.logger.Warn("ConnectionManager", "Redis probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

func (m *Manager) probeJetStream(ctx context.Context, js jetstream.JetStream) bool {
	if js == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := js.Stream(ctx, constant.StreamName); err != nil {
		m.logger.Warn("ConnectionManager", "Broker probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}
