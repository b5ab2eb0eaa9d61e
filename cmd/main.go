package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/rryowa/journalgate/internal/api"
	"github.com/rryowa/journalgate/internal/controller"
	"github.com/rryowa/journalgate/internal/migrations"
	"github.com/rryowa/journalgate/internal/service"
	"github.com/rryowa/journalgate/internal/storage"
	"github.com/rryowa/journalgate/internal/storage/memory"
	"github.com/rryowa/journalgate/internal/storage/postgres"
	"github.com/rryowa/journalgate/internal/storage/redis"
	"github.com/rryowa/journalgate/internal/util"
)

func main() {
	ctx := context.Background()
	logger := util.NewZapLogger(util.NewLogConfig())
	defer logger.Sync() //nolint:errcheck // stdout sync fails on some terminals

	serverConfig := util.NewServerConfig()
	tokenConfig := util.NewTokenConfig()
	webhookConfig := util.NewWebhookConfig()
	csrfConfig := util.NewCSRFConfig()
	roleCacheConfig := util.NewRoleCacheConfig()
	limitConfig := util.NewRateLimiterConfig()
	writeLimitConfig := util.NewWriteRateLimiterConfig()

	db, dbCleanup, err := util.NewDBConnection(logger)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	if err := migrations.RunMigrations(db, logger); err != nil {
		logger.Fatal(zap.Error(err))
	}

	redisClient, redisCleanup, err := util.NewRedisClient(ctx, logger, util.NewRedisConfig())
	if err != nil {
		logger.Fatal(zap.Error(err))
	}

	apiKeyService := service.NewAPIKeyService(redisClient, logger)
	if err := apiKeyService.SyncAPIKey(ctx, util.NewAPIKeyConfig().Key); err != nil {
		logger.Fatal(zap.Error(err))
	}

	store := postgres.NewStorage(db)
	cleanupFuncs := []func(){dbCleanup, redisCleanup}

	var events service.SecurityEventNotifier = service.NopNotifier{}
	if webhookConfig.SecurityEventsURL != "" {
		var signer *service.WebhookVerifier
		if len(webhookConfig.InboundSecret) > 0 {
			signer = service.NewWebhookVerifier(webhookConfig.InboundSecret)
		}
		events = service.NewWebhookService(logger, webhookConfig.SecurityEventsURL, signer)
	}

	var sessions storage.SessionRepository = redis.NewSessionStorage(redisClient)
	if tokenConfig.SessionStore == "memory" {
		logger.Warn("refresh sessions kept in process memory; they are lost on restart")
		sessions = memory.NewSessionRepository(logger, nil)
	}
	tokenService := service.NewTokenService(tokenConfig, sessions, service.WithSecurityEvents(events))

	roleCache, err := memory.NewRoleCache(roleCacheConfig.TTL, roleCacheConfig.Size, nil)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}

	secureCookies := serverConfig.Production()

	auth := api.NewAuthMiddleware(tokenService, store, roleCache, events, logger, api.AuthConfig{
		ExpiringThreshold: tokenConfig.ExpiringThreshold,
		RefreshTTL:        tokenConfig.RefreshTTL,
		SecureCookies:     secureCookies,
	})
	csrf := api.NewCSRFMiddleware(service.NewCSRFGuard(), events, logger, api.CSRFConfig{
		TokenTTL:       csrfConfig.TokenTTL,
		ExemptPrefixes: csrfConfig.ExemptPrefixes,
		SecureCookies:  secureCookies,
	})

	limitStore := memory.NewRateLimitStore(limitConfig.Window, nil)
	writeLimitStore := memory.NewRateLimitStore(writeLimitConfig.Window, nil)
	pipeline := api.NewSecurityPipeline(
		!serverConfig.LocalDev(),
		api.NewRateLimiter(limitStore, limitConfig, logger),
		api.NewRateLimiter(writeLimitStore, writeLimitConfig, logger),
		csrf,
		auth,
	)

	ctrl := controller.NewController(
		logger,
		store,
		store,
		tokenService,
		csrf,
		service.NewWebhookVerifier(webhookConfig.InboundSecret),
		controller.Config{RefreshTTL: tokenConfig.RefreshTTL, SecureCookies: secureCookies},
	)

	apiServer := api.NewAPI(
		ctrl,
		pipeline,
		apiKeyService,
		[]*memory.RateLimitStore{limitStore, writeLimitStore},
		serverConfig,
		logger,
		cleanupFuncs,
	)
	apiServer.Run(ctx)
}
