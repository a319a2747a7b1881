package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Pinger is an interface for health check ping operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	pool   Pinger
	extras map[string]Pinger
}

// NewHealthHandler creates a new HealthHandler with the given database pool.
func NewHealthHandler(pool Pinger) *HealthHandler {
	return &HealthHandler{pool: pool, extras: make(map[string]Pinger)}
}

// WithDependency adds a named dependency (e.g. "redis") to the check.
func (h *HealthHandler) WithDependency(name string, p Pinger) *HealthHandler {
	h.extras[name] = p
	return h
}

// Check performs a health check by pinging the database and any extra dependencies.
// Returns 200 OK with {"status": "healthy"} when all are reachable.
// Returns 503 Service Unavailable with {"status": "unhealthy", "error": "..."} otherwise.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.pool.Ping(c.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed: database unreachable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "database connection failed",
		})
	}
	for name, p := range h.extras {
		if err := p.Ping(c.Context()); err != nil {
			log.Error().Err(err).Str("dependency", name).Msg("health check failed: dependency unreachable")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unhealthy",
				"error":  name + " connection failed",
			})
		}
	}
	return c.JSON(fiber.Map{
		"status": "healthy",
	})
}
