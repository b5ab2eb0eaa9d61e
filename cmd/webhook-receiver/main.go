// Command webhook-receiver prints the security events journal-gate posts to
// SECURITY_WEBHOOK_URL. Meant for local development.
package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/journalgate/internal/service"
	"github.com/rryowa/journalgate/internal/util"
)

const defaultReceiverAddr = ":9090"

func main() {
	logger := util.NewZapLogger(util.NewLogConfig())

	addr := os.Getenv("WEBHOOK_RECEIVER_ADDR")
	if addr == "" {
		addr = defaultReceiverAddr
	}

	var verifier *service.WebhookVerifier
	if secret := util.NewWebhookConfig().InboundSecret; len(secret) > 0 {
		verifier = service.NewWebhookVerifier(secret)
	}

	e := echo.New()
	e.HideBanner = true
	e.POST("/", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Error reading request body")
		}

		if verifier != nil {
			if err := verifier.Verify(body, c.Request().Header.Get(service.SignatureHeader)); err != nil {
				logger.Warnw("rejected webhook with bad signature", "ip", c.RealIP())
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid signature")
			}
		}

		var event service.SecurityEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Error parsing JSON")
		}

		logger.Infow("Received security event",
			"type", event.Type,
			"userId", event.UserID,
			"path", event.Path,
			"method", event.Method,
			"ip", event.IPAddress,
			"userAgent", event.UserAgent,
			"occurredAt", event.OccurredAt,
		)
		return c.String(http.StatusOK, "Webhook received!")
	})

	logger.Infof("Webhook receiver listening on %s", addr)
	if err := e.Start(addr); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
