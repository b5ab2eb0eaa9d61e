package controller

import (
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"github.com/rryowa/journalgate/internal/models"
)

//go:embed openapi.yaml
var openapiSpec []byte

// GetSwagger parses the embedded OpenAPI document used for request
// validation.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	return swagger, nil
}

// ServerInterface lists the handlers behind the routes of openapi.yaml.
type ServerInterface interface {
	// (GET /api/ping)
	Ping(ctx echo.Context) error
	// (GET /api/auth/csrf-token)
	CSRFToken(ctx echo.Context) error
	// (POST /api/auth/login)
	Login(ctx echo.Context) error
	// (POST /api/auth/refresh)
	Refresh(ctx echo.Context) error
	// (POST /api/auth/logout)
	Logout(ctx echo.Context) error
	// (GET /api/users/me)
	Me(ctx echo.Context) error
	// (GET /api/admin/users/{id})
	AdminGetUser(ctx echo.Context, id string) error
	// (POST /api/journal)
	CreateJournalEntry(ctx echo.Context) error
	// (GET /api/journal/{id})
	GetJournalEntry(ctx echo.Context, id string) error
	// (POST /api/webhooks/{source})
	ReceiveWebhook(ctx echo.Context, source string) error
	// JournalOwner resolves the owner of the entry named by the id path
	// parameter for ownership checks.
	JournalOwner(ctx echo.Context) (string, error)
}

// RouteGuards supplies the per-route stages of the security pipeline.
type RouteGuards interface {
	Authenticated() echo.MiddlewareFunc
	Roles(roles ...string) echo.MiddlewareFunc
	Owner(resolve func(echo.Context) (string, error)) echo.MiddlewareFunc
	WriteLimited() echo.MiddlewareFunc
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) AdminGetUser(ctx echo.Context) error {
	id, err := pathParam(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.AdminGetUser(ctx, id)
}

func (w *ServerInterfaceWrapper) GetJournalEntry(ctx echo.Context) error {
	id, err := pathParam(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.GetJournalEntry(ctx, id)
}

func (w *ServerInterfaceWrapper) ReceiveWebhook(ctx echo.Context) error {
	source, err := pathParam(ctx, "source")
	if err != nil {
		return err
	}
	return w.Handler.ReceiveWebhook(ctx, source)
}

func pathParam(ctx echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return value, nil
}

// EchoRouter is satisfied by *echo.Echo and *echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlersWithBaseURL mounts every route with its guards. validate
// runs last so unauthenticated requests are rejected before their payload
// is inspected.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, guards RouteGuards, validate echo.MiddlewareFunc, baseURL string) {
	w := &ServerInterfaceWrapper{Handler: si}
	chain := func(m ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
		if validate != nil {
			m = append(m, validate)
		}
		return m
	}

	router.GET(baseURL+"/api/ping", si.Ping, chain()...)
	router.GET(baseURL+"/api/auth/csrf-token", si.CSRFToken, chain()...)
	router.POST(baseURL+"/api/auth/login", si.Login, chain()...)
	router.POST(baseURL+"/api/auth/refresh", si.Refresh, chain()...)
	router.POST(baseURL+"/api/auth/logout", si.Logout, chain(guards.Authenticated())...)
	router.GET(baseURL+"/api/users/me", si.Me,
		chain(guards.Authenticated(), guards.Roles(models.RoleUser, models.RoleAdmin))...)
	router.GET(baseURL+"/api/admin/users/:id", w.AdminGetUser,
		chain(guards.Authenticated(), guards.Roles(models.RoleAdmin))...)
	router.POST(baseURL+"/api/journal", si.CreateJournalEntry,
		chain(guards.Authenticated(), guards.WriteLimited())...)
	router.GET(baseURL+"/api/journal/:id", w.GetJournalEntry,
		chain(guards.Authenticated(), guards.Owner(si.JournalOwner))...)
	router.POST(baseURL+"/api/webhooks/:source", w.ReceiveWebhook, chain()...)
}
