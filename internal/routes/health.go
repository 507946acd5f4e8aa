package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/crowdfund/internal/oracle"
)

// RegisterHealthRoutes adds a readiness endpoint covering storage and the price feed.
func RegisterHealthRoutes(app *fiber.App, d Deps, feed oracle.Feed) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		checks := fiber.Map{"postgres": "disabled", "redis": "disabled", "price_feed": "ok"}
		healthy := true

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			checks["postgres"] = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				checks["postgres"], healthy = err.Error(), false
			}
		}
		if d.Cache != nil {
			checks["redis"] = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				checks["redis"], healthy = err.Error(), false
			}
		}
		if price, err := feed.LatestPrice(ctx); err != nil {
			checks["price_feed"], healthy = err.Error(), false
		} else if err := price.Validate(); err != nil {
			checks["price_feed"], healthy = err.Error(), false
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
