package bootstrap

import (
	"context"
	"fmt"
	"time"

	"eventmesh-be/internal/config"
	"eventmesh-be/internal/connection"
	"eventmesh-be/internal/constant"
	"eventmesh-be/internal/entity"
	"eventmesh-be/internal/eventbus"
	"eventmesh-be/internal/health"
	"eventmesh-be/internal/pkg/logger"
	"eventmesh-be/internal/pkg/mailer"
	"eventmesh-be/internal/repository/implementation"
	"eventmesh-be/internal/websocket"
	"eventmesh-be/pkg/events"
)

// Container is the explicit process-wide context object: every component is
// constructed exactly once here and passed by reference. Lifecycle is bound
// to Init and Shutdown; there are no lazy globals.
type Container struct {
	Config      *config.Config
	Logger      logger.ILogger
	Connections *connection.Manager
	Bus         *eventbus.Bus
	Health      *health.Checker
	Hub         *websocket.Hub

	spill     *eventbus.Spillover
	wsSub     *eventbus.RealTimeSubscription
	consumers []*eventbus.ConsumerSession
}

func NewContainer(cfg *config.Config) *Container {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	conns := connection.NewManager(cfg, sysLogger)
	registry := events.NewRegistry(sysLogger)
	schemas := events.NewSchemaRegistry()
	checker := health.NewChecker(sysLogger)

	wsLogger := logger.NewIsolatedLogger("logs/ws-bridge.log")
	hub := websocket.NewHub(wsLogger)

	retry := events.DefaultRetryPolicy(
		cfg.Broker.RetryMaxRetries,
		time.Duration(cfg.Broker.RetryInitialTimeMs)*time.Millisecond,
	)

	return &Container{
		Config:      cfg,
		Logger:      sysLogger,
		Connections: conns,
		Health:      checker,
		Hub:         hub,

		// Bus and spillover are finished in Init once the stores are up.
		Bus: eventbus.NewBus(conns, registry, schemas, sysLogger, cfg.App.ServiceName, retry, nil),
	}
}

// Init connects every backend (fatal on failure: the process must not serve
// traffic without its event backbone), migrates the spillover table, starts
// the spillover worker and the websocket bridge, and registers health checks.
func (c *Container) Init(ctx context.Context) error {
	if err := c.Connections.ConnectAll(ctx); err != nil {
		return fmt.Errorf("event backbone startup: %w", err)
	}

	db, err := c.Connections.DB()
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&entity.DeadLetterRecord{}); err != nil {
		return fmt.Errorf("migrate spillover table: %w", err)
	}

	var emailService mailer.IEmailService
	if c.Config.SMTP.Host != "" {
		emailService = mailer.NewEmailService(
			c.Config.SMTP.Host,
			c.Config.SMTP.Port,
			c.Config.SMTP.Email,
			c.Config.SMTP.Password,
			c.Config.SMTP.Email,
			c.Config.SMTP.SenderName,
		)
	}

	c.spill = eventbus.NewSpillover(
		implementation.NewDeadLetterRepository(db),
		emailService,
		c.Config.SMTP.AlertRecipient,
		c.Logger,
	)
	if err := c.spill.Run(ctx); err != nil {
		return fmt.Errorf("start spillover worker: %w", err)
	}
	c.Bus.AttachSpillover(c.spill)

	go c.Hub.Run()

	// Bridge every real-time channel into the websocket hub.
	wsSub, err := c.Bus.SubscribeToRealTimeEvents(ctx, []string{
		constant.ChannelUserCreated,
		constant.ChannelUserUpdated,
		constant.ChannelOrderCreated,
		constant.ChannelOrderStatusChanged,
		constant.ChannelPaymentProcessed,
		constant.ChannelProductUpdated,
	}, func(ctx context.Context, channel string, event events.EnhancedEvent) error {
		c.Hub.Broadcast(channel, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("start websocket bridge: %w", err)
	}
	c.wsSub = wsSub

	c.Health.Register("event-backbone", func(ctx context.Context) health.CheckResult {
		status := c.Connections.HealthCheck(ctx)
		return health.CheckResult{
			Healthy: status.Overall,
			Message: "event backbone reachability",
			Details: map[string]interface{}{
				"postgres":  status.Postgres,
				"redis":     status.Redis,
				"jetstream": status.JetStream,
			},
		}
	})

	return nil
}

// StartDefaultConsumer joins the configured consumer group on every domain
// topic and routes events through the dispatch registry.
func (c *Container) StartDefaultConsumer(ctx context.Context) error {
	session, err := c.Bus.SetupEventConsumer(ctx, []string{
		constant.TopicUserEvents,
		constant.TopicOrderEvents,
		constant.TopicPaymentEvents,
		constant.TopicProductEvents,
	}, c.Config.Broker.GroupID, nil)
	if err != nil {
		return err
	}
	c.consumers = append(c.consumers, session)
	return nil
}

// Shutdown drains consumers, the bridge and the spillover worker, then
// releases every backend client. Each step is best-effort with logging.
func (c *Container) Shutdown() {
	for _, session := range c.consumers {
		session.Stop()
	}
	if c.wsSub != nil {
		if err := c.wsSub.Close(); err != nil {
			c.Logger.Warn("Container", "Websocket bridge close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if c.spill != nil {
		if err := c.spill.Close(); err != nil {
			c.Logger.Warn("Container", "Spillover close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	c.Connections.Shutdown()
	_ = c.Logger.Sync()
}
