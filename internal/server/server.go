// Package server exposes the HTTP surface: event ingestion, destination
// management, delivery inspection, and a live status stream.
package server

import (
	"context"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/hookrelay/hookrelay/internal/events"
	"github.com/hookrelay/hookrelay/internal/ingest"
	"github.com/hookrelay/hookrelay/internal/lifecycle"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/safeurl"
	"github.com/hookrelay/hookrelay/internal/security"
	"github.com/hookrelay/hookrelay/internal/store"
)

type Server struct {
	app *fiber.App

	pipeline     *ingest.Pipeline
	lifecycle    *lifecycle.Controller
	destinations store.DestinationStore
	eventStore   store.EventStore
	attempts     store.DeliveryAttemptStore
	checker      *safeurl.Checker
	hub          *events.Hub

	apiKey string
}

func New(
	pipeline *ingest.Pipeline,
	lc *lifecycle.Controller,
	destinations store.DestinationStore,
	eventStore store.EventStore,
	attempts store.DeliveryAttemptStore,
	checker *safeurl.Checker,
	hub *events.Hub,
	apiKey string,
) *Server {
	s := &Server{
		pipeline:     pipeline,
		lifecycle:    lc,
		destinations: destinations,
		eventStore:   eventStore,
		attempts:     attempts,
		checker:      checker,
		hub:          hub,
		apiKey:       apiKey,
	}

	s.app = fiber.New(fiber.Config{
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(s.requestID())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.health)

	// ingestion is the public surface; signature verification is its gate
	s.app.Post("/ingest/:destinationID", s.ingestEvent)

	api := s.app.Group("/api", s.auth())

	api.Post("/destinations", s.createDestination)
	api.Get("/destinations", s.listDestinations)
	api.Get("/destinations/:id", s.getDestination)
	api.Patch("/destinations/:id", s.updateDestination)
	api.Delete("/destinations/:id", s.deleteDestination)
	api.Post("/destinations/:id/pause", s.pauseDestination)
	api.Post("/destinations/:id/resume", s.resumeDestination)
	api.Post("/destinations/:id/recover", s.recoverDestination)

	api.Get("/events", s.listEvents)
	api.Get("/events/:id", s.getEvent)
	api.Get("/events/:id/attempts", s.listAttempts)
	api.Post("/events/:id/replay", s.replayEvent)

	api.Get("/watch", s.watch)
}

// requestID tags every request with an ID carried through the logging
// context, matching the fields the rest of the pipeline logs with.
func (s *Server) requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("X-Request-ID", id)
		c.SetUserContext(logging.WithRequestID(c.UserContext(), id))
		return c.Next()
	}
}

// auth guards the management API when an admin key is configured. With no
// key configured the API is open, which suits single-tenant deployments.
func (s *Server) auth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.apiKey == "" {
			return c.Next()
		}
		if key := c.Get("X-API-Key"); key == "" || !security.KeysEqual(key, s.apiKey) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid API key"})
		}
		return c.Next()
	}
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "SERVING"})
}

// Listen blocks serving on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	logging.FromContext(context.Background()).Info("http server listening", slog.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func notFound(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": what + " not found"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func internalError(c *fiber.Ctx, err error) error {
	logging.FromContext(c.UserContext()).Error("request failed",
		slog.String("code", "HTTP_FAIL"),
		slog.String("path", c.Path()),
		slog.Any("error", err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
