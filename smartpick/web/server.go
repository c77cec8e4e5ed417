// Package web exposes the economy engine over a JSON API. Auth, sessions
// and rate limiting are left to the deployment in front of it.
package web

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/dave999999/SmartPick1-sub004/smartpick"
)

type Server struct {
	app   *smartpick.App
	fiber *fiber.App
}

func NewServer(app *smartpick.App) *Server {
	f := fiber.New(fiber.Config{
		AppName:      "SmartPick API",
		ServerHeader: "SmartPick",
	})

	f.Use(recover.New())
	f.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	f.Use(cors.New())
	f.Use(LoggingMiddleware())

	s := &Server{app: app, fiber: f}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.fiber.Get("/health", s.healthCheck)

	api := s.fiber.Group("/api")

	accounts := api.Group("/accounts")
	accounts.Post("/", s.openAccount)
	accounts.Get("/:id/balance", s.getBalance)
	accounts.Get("/:id/history", s.getHistory)

	offers := api.Group("/offers")
	offers.Post("/", s.publishOffer)
	offers.Get("/:id", s.getOffer)

	reservations := api.Group("/reservations")
	reservations.Post("/", s.createReservation)
	reservations.Post("/:id/pickup", s.markPickedUp)
	reservations.Post("/:id/confirm", s.confirmPickup)
	reservations.Post("/:id/cancel", s.cancelReservation)

	api.Get("/qr/:code", s.validateQR)

	customers := api.Group("/customers")
	customers.Get("/:id/reservations", s.listReservations)
	customers.Delete("/:id/reservations/history", s.cleanupHistory)
	customers.Get("/:id/penalty", s.penaltyStatus)
	customers.Get("/:id/penalties", s.penaltyHistory)
	customers.Post("/:id/penalty/lift", s.liftPenalty)

	f := api.Group("/forgiveness")
	f.Post("/", s.requestForgiveness)
	f.Post("/:id/decide", s.decideForgiveness)

	api.Get("/partners/:id/forgiveness", s.pendingForgiveness)
}

func (s *Server) Listen(address string) error {
	return s.fiber.Listen(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.fiber.ShutdownWithContext(ctx)
}
