package api

import (
	"context"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/util"
	"github.com/rryowa/journalgate/internal/web"
)

type APIKeyValidator interface {
	IsValidAPIKey(ctx context.Context, key string) (bool, error)
}

// APIKeyAuthMiddleware guards internal routes with the X-API-Key header.
func APIKeyAuthMiddleware(keys APIKeyValidator, log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey := c.Request().Header.Get(models.MwAPIKeyHeader)
			if apiKey == "" {
				return util.NewKindError(util.KindAuthenticationRequired)
			}

			ok, err := keys.IsValidAPIKey(c.Request().Context(), apiKey)
			if err != nil {
				log.Errorw("api key validation failed", append(web.AuditFields(c), "error", err)...)
				return util.NewKindError(util.KindInternal)
			}
			if !ok {
				log.Warnw("invalid api key", web.AuditFields(c)...)
				return util.NewKindError(util.KindPermissionDenied)
			}

			return next(c)
		}
	}
}

func RequestLoggerConfig(log *zap.SugaredLogger) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogError:     true,
		LogLatency:   true,
		LogRemoteIP:  true,
		HandleError:  true,
		LogRequestID: true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"ip", v.RemoteIP,
			}
			if v.RequestID != "" {
				fields = append(fields, "requestId", v.RequestID)
			}
			if userID, ok := web.UserID(c); ok {
				fields = append(fields, "userId", userID)
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				log.Errorw("Request", fields...)
			} else {
				log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
