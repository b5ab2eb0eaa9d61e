package api

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/journalgate/internal/metrics"
	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/service"
	"github.com/rryowa/journalgate/internal/storage"
	"github.com/rryowa/journalgate/internal/storage/memory"
	"github.com/rryowa/journalgate/internal/util"
	"github.com/rryowa/journalgate/internal/web"
)

const (
	stageAuthenticate = "authenticate"
	stageAuthorize    = "authorize"
)

type TokenVerifier interface {
	Verify(token string) (*models.TokenClaims, error)
	Refresh(ctx context.Context, refreshToken string, meta models.UserMetadata) (*service.RefreshResult, error)
}

// OwnerResolver returns the id of the user owning the resource targeted by
// the request, or "" when the resource does not exist.
type OwnerResolver func(c echo.Context) (string, error)

type AuthConfig struct {
	ExpiringThreshold time.Duration
	RefreshTTL        time.Duration
	SecureCookies     bool
	Now               func() time.Time
}

type AuthMiddleware struct {
	tokens TokenVerifier
	users  storage.UserLookup
	cache  *memory.RoleCache
	events service.SecurityEventNotifier
	log    *zap.SugaredLogger
	cfg    AuthConfig
}

func NewAuthMiddleware(
	tokens TokenVerifier,
	users storage.UserLookup,
	cache *memory.RoleCache,
	events service.SecurityEventNotifier,
	log *zap.SugaredLogger,
	cfg AuthConfig,
) *AuthMiddleware {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if events == nil {
		events = service.NopNotifier{}
	}
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
		cache:  cache,
		events: events,
		log:    log,
		cfg:    cfg,
	}
}

// Authenticate verifies the bearer token and attaches userId, tokenExp and
// tokenIat to the context. An expired token is replaced transparently when
// the refreshToken cookie still resolves to a session.
func (m *AuthMiddleware) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return m.reject(c, stageAuthenticate, util.KindAuthenticationRequired)
			}

			claims, err := m.tokens.Verify(token)
			switch {
			case err == nil:
				if claims.ExpiresAt.Sub(m.cfg.Now()) < m.cfg.ExpiringThreshold {
					c.Response().Header().Set(models.MwTokenExpiringHeader, "true")
				}
				web.SetClaims(c, claims)
				return next(c)
			case errors.Is(err, service.ErrTokenExpired):
				return m.refresh(c, next)
			case errors.Is(err, service.ErrTokenMalformed):
				return m.reject(c, stageAuthenticate, util.KindInvalidTokenFormat)
			case errors.Is(err, service.ErrTokenNotYetValid):
				return m.reject(c, stageAuthenticate, util.KindTokenNotYetValid)
			default:
				m.events.Notify(c.Request().Context(), securityEvent(c, service.EventInvalidToken, ""))
				return m.reject(c, stageAuthenticate, util.KindInvalidToken, "error", err)
			}
		}
	}
}

func (m *AuthMiddleware) refresh(c echo.Context, next echo.HandlerFunc) error {
	refreshToken := web.CookieValue(c, models.RefreshCookieName)
	if refreshToken == "" {
		return m.reject(c, stageAuthenticate, util.KindTokenExpired)
	}

	res, err := m.tokens.Refresh(c.Request().Context(), refreshToken, web.Metadata(c))
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		if !errors.Is(err, service.ErrInvalidRefreshToken) {
			m.log.Errorw("token refresh failed", append(web.AuditFields(c), "error", err)...)
		}
		return m.reject(c, stageAuthenticate, util.KindTokenExpired)
	}
	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()

	web.SetCookie(c, models.RefreshCookieName, res.RefreshToken, m.cfg.RefreshTTL, m.cfg.SecureCookies)
	c.Response().Header().Set(models.MwNewAccessHeader, res.AccessToken)
	web.SetClaims(c, res.Claims)

	return next(c)
}

// AuthorizeRoles lets the request through when the user's role is one of
// roles. User records come from the role cache when fresh enough.
func (m *AuthMiddleware) AuthorizeRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := web.UserID(c)
			if !ok {
				return m.reject(c, stageAuthorize, util.KindAuthenticationRequired)
			}

			user, err := m.lookupUser(c.Request().Context(), userID)
			if err != nil {
				m.log.Errorw("user lookup failed", append(web.AuditFields(c), "userId", userID, "error", err)...)
				return m.reject(c, stageAuthorize, util.KindAuthorizationFailed)
			}
			if user == nil {
				return m.reject(c, stageAuthorize, util.KindUserNotFound, "userId", userID)
			}

			if !slices.Contains(roles, user.Role) {
				m.events.Notify(c.Request().Context(), securityEvent(c, service.EventPermissionDenied, userID))
				return m.reject(c, stageAuthorize, util.KindPermissionDenied,
					"userId", userID, "userRole", user.Role, "requiredRoles", roles)
			}

			web.SetUser(c, user)
			return next(c)
		}
	}
}

// AuthorizeOwnership lets the request through when resolve names the
// authenticated user as the owner of the targeted resource.
func (m *AuthMiddleware) AuthorizeOwnership(resolve OwnerResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := web.UserID(c)
			if !ok {
				return m.reject(c, stageAuthorize, util.KindAuthenticationRequired)
			}

			ownerID, err := resolve(c)
			if err != nil {
				m.log.Errorw("resource owner lookup failed", append(web.AuditFields(c), "userId", userID, "error", err)...)
				return m.reject(c, stageAuthorize, util.KindAuthorizationFailed)
			}
			if ownerID == "" {
				return m.reject(c, stageAuthorize, util.KindResourceNotFound, "userId", userID)
			}
			if ownerID != userID {
				m.events.Notify(c.Request().Context(), securityEvent(c, service.EventPermissionDenied, userID))
				return m.reject(c, stageAuthorize, util.KindPermissionDenied, "userId", userID, "ownerId", ownerID)
			}

			return next(c)
		}
	}
}

// lookupUser returns (nil, nil) when the user does not exist.
func (m *AuthMiddleware) lookupUser(ctx context.Context, userID string) (*models.User, error) {
	if user, ok := m.cache.Get(userID); ok {
		metrics.RoleCacheLookupsTotal.WithLabelValues("hit").Inc()
		return user, nil
	}
	metrics.RoleCacheLookupsTotal.WithLabelValues("miss").Inc()

	user, err := m.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if user != nil {
		m.cache.Set(userID, user)
	}
	return user, nil
}

func (m *AuthMiddleware) reject(c echo.Context, stage string, kind util.ErrorKind, extra ...interface{}) error {
	metrics.SecurityRejectionsTotal.WithLabelValues(stage, string(kind)).Inc()
	fields := append(web.AuditFields(c), "kind", kind)
	m.log.Warnw("request rejected by "+stage, append(fields, extra...)...)
	return util.NewKindError(kind)
}

func securityEvent(c echo.Context, t service.SecurityEventType, userID string) service.SecurityEvent {
	r := c.Request()
	return service.SecurityEvent{
		Type:      t,
		UserID:    userID,
		Path:      r.URL.Path,
		Method:    r.Method,
		IPAddress: web.ClientIP(c),
		UserAgent: r.UserAgent(),
	}
}

func bearerToken(value string) (string, bool) {
	const prefix = "Bearer "
	if len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", false
	}

	token := strings.TrimSpace(value[len(prefix):])
	if token == "" {
		return "", false
	}

	return token, true
}
