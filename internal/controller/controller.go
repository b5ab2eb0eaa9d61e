package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/service"
	"github.com/rryowa/journalgate/internal/storage"
	"github.com/rryowa/journalgate/internal/util"
	"github.com/rryowa/journalgate/internal/web"
)

const maxWebhookBody = 1 << 20

type TokenIssuer interface {
	IssueAccessToken(userID string) (string, *models.TokenClaims, error)
	IssueRefreshToken(ctx context.Context, userID string, meta models.UserMetadata) (string, error)
	Refresh(ctx context.Context, refreshToken string, meta models.UserMetadata) (*service.RefreshResult, error)
	RevokeRefreshToken(ctx context.Context, refreshToken string) error
	RevokeUserSessions(ctx context.Context, userID string) error
}

type CSRFIssuer interface {
	IssueToken(c echo.Context) (*models.CSRFTokenResponse, error)
	Rotate(c echo.Context) (*models.CSRFTokenResponse, error)
}

type JournalStore interface {
	GetEntry(ctx context.Context, id string) (*models.JournalEntry, error)
	GetEntryOwner(ctx context.Context, id string) (string, error)
	CreateEntryForUser(ctx context.Context, entry models.JournalEntry) (*models.JournalEntry, error)
}

type SignatureVerifier interface {
	Verify(body []byte, signature string) error
}

type Config struct {
	RefreshTTL    time.Duration
	SecureCookies bool
}

type Controller struct {
	zapLogger *zap.SugaredLogger
	users     storage.UserRepository
	journal   JournalStore
	tokens    TokenIssuer
	csrf      CSRFIssuer
	webhooks  SignatureVerifier
	cfg       Config
}

func NewController(
	logger *zap.SugaredLogger,
	users storage.UserRepository,
	journal JournalStore,
	tokens TokenIssuer,
	csrf CSRFIssuer,
	webhooks SignatureVerifier,
	cfg Config,
) *Controller {
	return &Controller{
		zapLogger: logger,
		users:     users,
		journal:   journal,
		tokens:    tokens,
		csrf:      csrf,
		webhooks:  webhooks,
		cfg:       cfg,
	}
}

// (GET /api/ping).
func (c *Controller) Ping(ctx echo.Context) error {
	return web.Success(ctx, http.StatusOK, map[string]string{"status": "ok"})
}

// (GET /api/auth/csrf-token).
func (c *Controller) CSRFToken(ctx echo.Context) error {
	token, err := c.csrf.IssueToken(ctx)
	if err != nil {
		return c.internalError(ctx, err)
	}
	return web.Success(ctx, http.StatusOK, token)
}

// (POST /api/auth/login).
func (c *Controller) Login(ctx echo.Context) error {
	var req models.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return util.NewResponseError(util.KindBadRequest, "Invalid request body")
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return util.NewResponseError(util.KindBadRequest, "Email and password are required")
	}

	reqCtx := ctx.Request().Context()
	user, err := c.users.VerifyCredentials(reqCtx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPassword) {
			c.zapLogger.Warnw("login failed", append(web.AuditFields(ctx), "email", req.Email)...)
			return util.NewKindError(util.KindInvalidCredentials)
		}
		return c.internalError(ctx, err)
	}

	access, claims, err := c.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return c.internalError(ctx, err)
	}
	refresh, err := c.tokens.IssueRefreshToken(reqCtx, user.ID, web.Metadata(ctx))
	if err != nil {
		return c.internalError(ctx, err)
	}
	web.SetCookie(ctx, models.RefreshCookieName, refresh, c.cfg.RefreshTTL, c.cfg.SecureCookies)

	csrf, err := c.csrf.Rotate(ctx)
	if err != nil {
		return c.internalError(ctx, err)
	}

	c.zapLogger.Infow("user logged in", "userId", user.ID, "ip", web.ClientIP(ctx))
	return web.Success(ctx, http.StatusOK, models.LoginResponse{
		AccessToken: access,
		ExpiresAt:   claims.ExpiresAt,
		User:        user,
		CSRFToken:   csrf.CSRFToken,
	})
}

// (POST /api/auth/refresh).
func (c *Controller) Refresh(ctx echo.Context) error {
	refreshToken := web.CookieValue(ctx, models.RefreshCookieName)
	if refreshToken == "" {
		return util.NewKindError(util.KindInvalidRefreshToken)
	}

	res, err := c.tokens.Refresh(ctx.Request().Context(), refreshToken, web.Metadata(ctx))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			web.ClearCookie(ctx, models.RefreshCookieName, c.cfg.SecureCookies)
			return util.NewKindError(util.KindInvalidRefreshToken)
		}
		return c.internalError(ctx, err)
	}

	web.SetCookie(ctx, models.RefreshCookieName, res.RefreshToken, c.cfg.RefreshTTL, c.cfg.SecureCookies)
	return web.Success(ctx, http.StatusOK, models.RefreshResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.Claims.ExpiresAt,
	})
}

// (POST /api/auth/logout).
func (c *Controller) Logout(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	// Authenticate may have rotated the cookie on this very request, so the
	// presented token is not the only live one.
	if userID, ok := web.UserID(ctx); ok {
		if err := c.tokens.RevokeUserSessions(reqCtx, userID); err != nil {
			return c.internalError(ctx, err)
		}
	} else if refreshToken := web.CookieValue(ctx, models.RefreshCookieName); refreshToken != "" {
		if err := c.tokens.RevokeRefreshToken(reqCtx, refreshToken); err != nil {
			return c.internalError(ctx, err)
		}
	}
	web.ClearCookie(ctx, models.RefreshCookieName, c.cfg.SecureCookies)

	csrf, err := c.csrf.Rotate(ctx)
	if err != nil {
		return c.internalError(ctx, err)
	}
	return web.Success(ctx, http.StatusOK, csrf)
}

// (GET /api/users/me).
func (c *Controller) Me(ctx echo.Context) error {
	user, ok := web.User(ctx)
	if !ok {
		return util.NewKindError(util.KindAuthenticationRequired)
	}
	return web.Success(ctx, http.StatusOK, user)
}

// (GET /api/admin/users/{id}).
func (c *Controller) AdminGetUser(ctx echo.Context, id string) error {
	user, err := c.users.GetUserByID(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return util.NewKindError(util.KindUserNotFound)
		}
		return c.internalError(ctx, err)
	}
	return web.Success(ctx, http.StatusOK, user)
}

// (POST /api/journal).
func (c *Controller) CreateJournalEntry(ctx echo.Context) error {
	userID, ok := web.UserID(ctx)
	if !ok {
		return util.NewKindError(util.KindAuthenticationRequired)
	}

	var req models.CreateJournalEntryRequest
	if err := ctx.Bind(&req); err != nil {
		return util.NewResponseError(util.KindBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Title) == "" {
		return util.NewResponseError(util.KindBadRequest, "Title is required")
	}

	entry, err := c.journal.CreateEntryForUser(ctx.Request().Context(), models.JournalEntry{
		UserID: userID,
		Title:  req.Title,
		Body:   req.Body,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return util.NewKindError(util.KindUserNotFound)
		}
		return c.internalError(ctx, err)
	}
	return web.Success(ctx, http.StatusCreated, entry)
}

// (GET /api/journal/{id}).
func (c *Controller) GetJournalEntry(ctx echo.Context, id string) error {
	entry, err := c.journal.GetEntry(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrEntryNotFound) {
			return util.NewKindError(util.KindResourceNotFound)
		}
		return c.internalError(ctx, err)
	}
	return web.Success(ctx, http.StatusOK, entry)
}

// JournalOwner returns "" for ids that cannot name an entry.
func (c *Controller) JournalOwner(ctx echo.Context) (string, error) {
	id := ctx.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", nil
	}
	return c.journal.GetEntryOwner(ctx.Request().Context(), id)
}

// (POST /api/webhooks/{source}).
func (c *Controller) ReceiveWebhook(ctx echo.Context, source string) error {
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBody))
	if err != nil {
		return util.NewResponseError(util.KindBadRequest, "Invalid request body")
	}

	if err := c.webhooks.Verify(body, ctx.Request().Header.Get(service.SignatureHeader)); err != nil {
		c.zapLogger.Warnw("webhook signature rejected", append(web.AuditFields(ctx), "source", source)...)
		return util.NewKindError(util.KindInvalidSignature)
	}

	c.zapLogger.Infow("webhook received", "source", source, "bytes", len(body))
	return web.Success(ctx, http.StatusAccepted, map[string]string{"source": source})
}

// internalError logs err and hides it behind a generic 500.
func (c *Controller) internalError(ctx echo.Context, err error) error {
	var re *util.ResponseError
	if errors.As(err, &re) {
		return re
	}
	c.zapLogger.Errorw("internal error", append(web.AuditFields(ctx), "error", err)...)
	return util.NewKindError(util.KindInternal)
}
