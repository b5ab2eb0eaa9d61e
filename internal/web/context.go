package web

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/journalgate/internal/models"
)

// SetClaims attaches the authenticated identity to the request.
func SetClaims(c echo.Context, claims *models.TokenClaims) {
	c.Set(models.MwUserIDKey, claims.UserID)
	c.Set(models.MwTokenExpKey, claims.ExpiresAt)
	c.Set(models.MwTokenIatKey, claims.IssuedAt)
}

func UserID(c echo.Context) (string, bool) {
	id, ok := c.Get(models.MwUserIDKey).(string)
	return id, ok && id != ""
}

func TokenExpiry(c echo.Context) (time.Time, bool) {
	exp, ok := c.Get(models.MwTokenExpKey).(time.Time)
	return exp, ok
}

func SetUser(c echo.Context, user *models.User) {
	c.Set(models.MwUserKey, user)
}

func User(c echo.Context) (*models.User, bool) {
	u, ok := c.Get(models.MwUserKey).(*models.User)
	return u, ok && u != nil
}

// ClientIP resolves the client address, falling back to the connection
// address when no forwarding header is usable.
func ClientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	if addr := c.Request().RemoteAddr; addr != "" {
		return addr
	}
	return "unknown"
}

func Metadata(c echo.Context) models.UserMetadata {
	return models.UserMetadata{
		UserAgent: c.Request().UserAgent(),
		IPAddress: ClientIP(c),
	}
}

// AuditFields are logged with every security-relevant rejection.
func AuditFields(c echo.Context) []interface{} {
	r := c.Request()
	return []interface{}{
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ClientIP(c),
		"userAgent", r.UserAgent(),
	}
}
