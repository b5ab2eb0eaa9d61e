package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/journalgate/internal/metrics"
	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/service"
	"github.com/rryowa/journalgate/internal/util"
	"github.com/rryowa/journalgate/internal/web"
)

const (
	stageCSRF = "csrf"

	headerXSRFToken = "X-XSRF-Token"
	maxCSRFBodyPeek = 1 << 20
)

type CSRFConfig struct {
	TokenTTL       time.Duration
	ExemptPrefixes []string
	SecureCookies  bool
	Now            func() time.Time
}

// CSRFMiddleware guards state-changing requests with a double-submit token
// and hands tokens out to clients.
type CSRFMiddleware struct {
	guard  *service.CSRFGuard
	events service.SecurityEventNotifier
	log    *zap.SugaredLogger
	cfg    CSRFConfig
}

func NewCSRFMiddleware(guard *service.CSRFGuard, events service.SecurityEventNotifier, log *zap.SugaredLogger, cfg CSRFConfig) *CSRFMiddleware {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if events == nil {
		events = service.NopNotifier{}
	}
	return &CSRFMiddleware{guard: guard, events: events, log: log, cfg: cfg}
}

func (m *CSRFMiddleware) Protect() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !isMutating(c.Request().Method) || m.exempt(c.Request().URL.Path) {
				return next(c)
			}

			secret := web.CookieValue(c, models.CSRFCookieName)
			if err := m.guard.Verify(secret, requestCSRFToken(c)); err != nil {
				metrics.SecurityRejectionsTotal.WithLabelValues(stageCSRF, string(util.KindCSRFValidationFailed)).Inc()
				m.log.Warnw("csrf validation failed", append(web.AuditFields(c), "hasCookie", secret != "")...)
				m.events.Notify(c.Request().Context(), securityEvent(c, service.EventCSRFFailure, ""))
				return util.NewKindError(util.KindCSRFValidationFailed)
			}

			return next(c)
		}
	}
}

// IssueToken returns a token for the secret already bound to the client,
// creating the secret cookie first when there is none.
func (m *CSRFMiddleware) IssueToken(c echo.Context) (*models.CSRFTokenResponse, error) {
	secret := web.CookieValue(c, models.CSRFCookieName)
	if secret == "" {
		var err error
		if secret, err = m.newSecret(c); err != nil {
			return nil, err
		}
	}
	return m.tokenResponse(secret)
}

// Rotate binds a fresh secret to the client, invalidating every token issued
// before. Called whenever the authentication state changes.
func (m *CSRFMiddleware) Rotate(c echo.Context) (*models.CSRFTokenResponse, error) {
	secret, err := m.newSecret(c)
	if err != nil {
		return nil, err
	}
	return m.tokenResponse(secret)
}

func (m *CSRFMiddleware) newSecret(c echo.Context) (string, error) {
	secret, err := m.guard.NewSecret()
	if err != nil {
		return "", err
	}
	web.SetCookie(c, models.CSRFCookieName, secret, m.cfg.TokenTTL, m.cfg.SecureCookies)
	return secret, nil
}

func (m *CSRFMiddleware) tokenResponse(secret string) (*models.CSRFTokenResponse, error) {
	token, err := m.guard.Token(secret)
	if err != nil {
		return nil, err
	}
	return &models.CSRFTokenResponse{
		CSRFToken: token,
		Expires:   m.cfg.Now().Add(m.cfg.TokenTTL).UTC().Format(time.RFC3339),
	}, nil
}

func (m *CSRFMiddleware) exempt(path string) bool {
	for _, prefix := range m.cfg.ExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

type peekedBody struct {
	io.Reader
	io.Closer
}

// requestCSRFToken looks for the token in the headers, then in a form field,
// then in a JSON body field. The body is restored for the handler.
func requestCSRFToken(c echo.Context) string {
	r := c.Request()
	if tok := r.Header.Get(models.MwCSRFHeader); tok != "" {
		return tok
	}
	if tok := r.Header.Get(headerXSRFToken); tok != "" {
		return tok
	}

	ct := r.Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(ct, echo.MIMEApplicationForm), strings.HasPrefix(ct, echo.MIMEMultipartForm):
		return c.FormValue(models.CSRFFormField)
	case strings.HasPrefix(ct, echo.MIMEApplicationJSON):
		if r.Body == nil {
			return ""
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCSRFBodyPeek))
		// the handler still gets everything past the peeked prefix
		r.Body = peekedBody{Reader: io.MultiReader(bytes.NewReader(body), r.Body), Closer: r.Body}
		if err != nil {
			return ""
		}

		var payload struct {
			CSRF string `json:"_csrf"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return ""
		}
		return payload.CSRF
	}
	return ""
}
