package api

import "github.com/labstack/echo/v4"

// SecurityPipeline composes the security stages. Global stages run for every
// request in a fixed order; route stages are attached per route after them.
type SecurityPipeline struct {
	headers echo.MiddlewareFunc
	limiter *RateLimiter
	writes  *RateLimiter
	csrf    *CSRFMiddleware
	auth    *AuthMiddleware
}

func NewSecurityPipeline(enableCSP bool, limiter, writes *RateLimiter, csrf *CSRFMiddleware, auth *AuthMiddleware) *SecurityPipeline {
	return &SecurityPipeline{
		headers: SecureHeaders(enableCSP),
		limiter: limiter,
		writes:  writes,
		csrf:    csrf,
		auth:    auth,
	}
}

// Global returns headers, rate limit and CSRF, in that order.
func (p *SecurityPipeline) Global() []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{p.headers, p.limiter.Middleware(), p.csrf.Protect()}
}

func (p *SecurityPipeline) Authenticated() echo.MiddlewareFunc {
	return p.auth.Authenticate()
}

func (p *SecurityPipeline) Roles(roles ...string) echo.MiddlewareFunc {
	return p.auth.AuthorizeRoles(roles...)
}

func (p *SecurityPipeline) Owner(resolve func(echo.Context) (string, error)) echo.MiddlewareFunc {
	return p.auth.AuthorizeOwnership(resolve)
}

// WriteLimited is the stricter limiter for write routes. Mounted after
// Authenticated, it counts against the user id as well as the client IP.
func (p *SecurityPipeline) WriteLimited() echo.MiddlewareFunc {
	if p.writes == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return p.writes.Middleware()
}
