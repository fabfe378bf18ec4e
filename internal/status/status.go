// Package status serves a small read-only HTTP view of a running relay.
package status

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"

	"chatrelay/internal/server"
	"chatrelay/internal/session"
)

// Source is what the status surface reads from.
type Source interface {
	Registry() *session.Registry
	Hub() *server.Hub
}

// Service is the status HTTP server.
type Service struct {
	app *fiber.App
	src Source
}

// New builds the fiber app and its routes.
func New(src Source) *Service {
	s := &Service{
		src: src,
		app: fiber.New(fiber.Config{
			AppName:               "chatrelay status",
			DisableStartupMessage: true,
		}),
	}
	s.app.Get("/health", s.health)
	s.app.Get("/sessions", s.sessions)
	s.app.Get("/stats", s.stats)
	return s
}

// App exposes the underlying fiber app.
func (s *Service) App() *fiber.App { return s.app }

// Listen serves HTTP on addr until Shutdown.
func (s *Service) Listen(addr string) error {
	log.Printf("[status] listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Service) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Service) sessions(c *fiber.Ctx) error {
	entries := s.src.Registry().Snapshot()
	return c.JSON(fiber.Map{
		"count":    len(entries),
		"sessions": entries,
	})
}

func (s *Service) stats(c *fiber.Ctx) error {
	return c.JSON(s.src.Hub().Stats())
}
