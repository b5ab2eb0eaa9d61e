package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	middleware "github.com/oapi-codegen/echo-middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rryowa/journalgate/internal/controller"
	"github.com/rryowa/journalgate/internal/storage/memory"
	"github.com/rryowa/journalgate/internal/util"
)

const (
	shutdownTimeout = 5 * time.Second
	metricsPath     = "/internal/metrics"
)

type API struct {
	server          *echo.Echo
	controller      *controller.Controller
	pipeline        *SecurityPipeline
	apiKeys         APIKeyValidator
	limitStores     []*memory.RateLimitStore
	log             *zap.SugaredLogger
	gracefulTimeout time.Duration
	cleanupFuncs    []func()
}

func NewAPI(
	c *controller.Controller,
	pipeline *SecurityPipeline,
	apiKeys APIKeyValidator,
	limitStores []*memory.RateLimitStore,
	sc *util.ServerConfig,
	l *zap.SugaredLogger,
	cleanupFuncs []func(),
) *API {
	e := echo.New()
	e.HideBanner = true

	e.Server.Addr = sc.ServerAddr
	e.Server.WriteTimeout = sc.WriteTimeout
	e.Server.ReadTimeout = sc.ReadTimeout
	e.Server.IdleTimeout = sc.IdleTimeout
	e.HTTPErrorHandler = ErrorHandler(l)
	e.IPExtractor = IPExtractor(sc.TrustedProxies)

	return &API{
		server:          e,
		controller:      c,
		pipeline:        pipeline,
		apiKeys:         apiKeys,
		limitStores:     limitStores,
		log:             l,
		gracefulTimeout: sc.GracefulTimeout,
		cleanupFuncs:    cleanupFuncs,
	}
}

// IPExtractor resolves the client address used for rate limiting. Without
// trusted proxies forwarding headers are ignored; with them, X-Forwarded-For
// is walked from the right and only hops inside trusted are skipped.
func IPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, ipNet := range trusted {
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// Setup mounts middleware and routes. Run calls it; tests call it directly
// and drive Handler.
func (a *API) Setup() error {
	swagger, err := controller.GetSwagger()
	if err != nil {
		return err
	}
	swagger.Servers = nil

	a.server.Use(echomiddleware.Recover())
	a.server.Use(echomiddleware.RequestID())
	a.server.Use(echomiddleware.RequestLoggerWithConfig(RequestLoggerConfig(a.log)))
	a.server.Use(a.pipeline.Global()...)

	controller.RegisterHandlersWithBaseURL(a.server, a.controller, a.pipeline, middleware.OapiRequestValidator(swagger), "")

	a.server.GET(metricsPath, echo.WrapHandler(promhttp.Handler()), APIKeyAuthMiddleware(a.apiKeys, a.log))

	return nil
}

func (a *API) Handler() http.Handler {
	return a.server
}

func (a *API) Run(ctxBackground context.Context) {
	ctx, stop := signal.NotifyContext(ctxBackground, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Setup(); err != nil {
		a.log.Fatalf("Failed to load OpenAPI specification: %v", err)
	}

	for _, s := range a.limitStores {
		s.Start(ctx)
	}

	a.ListenGracefulShutdown(ctx)
}

func (a *API) ListenGracefulShutdown(ctx context.Context) {
	go func() {
		err := a.server.Start(a.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()
	a.log.Infof("Listening on: %s", a.server.Server.Addr)

	<-ctx.Done()
	a.log.Info("Shutting down server...")

	timeout := a.gracefulTimeout
	if timeout <= 0 {
		timeout = shutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Errorf("shutdown: %v", err)
	}

	for _, s := range a.limitStores {
		s.Stop()
	}
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	a.log.Info("server shutdown completed")
}
