package server

import (
	"log"

	"eventmesh-be/internal/bootstrap"
	"eventmesh-be/internal/config"
	ws "eventmesh-be/internal/websocket"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
)

// Server is the thin ops surface over the event backbone: health/readiness
// endpoints consumed by the gateway plus the websocket event bridge.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *bootstrap.Container
}

func New(cfg *config.Config, container *bootstrap.Container) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB
	})

	// Middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CorsAllowedOrigins,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, OPTIONS",
	}))

	// OpenTelemetry tracing middleware (traces all HTTP requests)
	app.Use(otelfiber.Middleware())

	registerRoutes(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	log.Printf("Ops server is running on http://localhost:%s", s.cfg.App.Port)
	return s.app.Listen(":" + s.cfg.App.Port)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func registerRoutes(app *fiber.App, c *bootstrap.Container) {
	app.Get("/health", func(ctx *fiber.Ctx) error {
		report := c.Health.RunAll(ctx.Context())
		status := fiber.StatusOK
		if !report.Healthy {
			status = fiber.StatusServiceUnavailable
		}
		return ctx.Status(status).JSON(report)
	})

	app.Get("/ready", func(ctx *fiber.Ctx) error {
		backends := c.Connections.HealthCheckAll(ctx.Context())
		status := fiber.StatusOK
		if !backends["overall"] {
			status = fiber.StatusServiceUnavailable
		}
		return ctx.Status(status).JSON(backends)
	})

	app.Get("/live", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"alive": true})
	})

	app.Use("/ws", func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			return ctx.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/events", websocket.New(func(conn *websocket.Conn) {
		ws.ServeWs(c.Hub, conn, conn.Query("channels"))
	}))
}
