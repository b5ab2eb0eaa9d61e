package api

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/journalgate/internal/metrics"
	"github.com/rryowa/journalgate/internal/storage/memory"
	"github.com/rryowa/journalgate/internal/util"
	"github.com/rryowa/journalgate/internal/web"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimiter admits requests against a sliding window per client IP and,
// once the request is authenticated, per user id.
type RateLimiter struct {
	store                    *memory.RateLimitStore
	maxRequests              int
	maxRequestsAuthenticated int
	log                      *zap.SugaredLogger
}

// NewRateLimiter reads time through store, so a store built with a fake
// clock drives the quota headers too.
func NewRateLimiter(store *memory.RateLimitStore, cfg *util.RateLimiterConfig, log *zap.SugaredLogger) *RateLimiter {
	return &RateLimiter{
		store:                    store,
		maxRequests:              cfg.MaxRequests,
		maxRequestsAuthenticated: cfg.MaxRequestsAuthenticated,
		log:                      log,
	}
}

func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, _ := web.UserID(c)
			d := l.store.Admit(web.ClientIP(c), l.maxRequests, userID, l.maxRequestsAuthenticated)

			window := l.store.Window()
			h := c.Response().Header()
			h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
			h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
			h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				metrics.RateLimitDecisionsTotal.WithLabelValues(string(d.Scope), "rejected").Inc()
				h.Set(echo.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(window.Seconds()))))
				l.log.Warnw("rate limit exceeded", append(web.AuditFields(c), "scope", d.Scope, "userId", userID, "limit", d.Limit)...)
				return util.NewKindError(util.KindRateLimitExceeded)
			}

			metrics.RateLimitDecisionsTotal.WithLabelValues(string(d.Scope), "allowed").Inc()
			return next(c)
		}
	}
}
