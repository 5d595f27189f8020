package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/dadyutenga/ShopApI/internal/abuse"
	"github.com/dadyutenga/ShopApI/internal/cache"
	"github.com/dadyutenga/ShopApI/internal/config"
	httptransport "github.com/dadyutenga/ShopApI/internal/http"
	"github.com/dadyutenga/ShopApI/internal/http/handler"
	httpmiddleware "github.com/dadyutenga/ShopApI/internal/http/middleware"
	"github.com/dadyutenga/ShopApI/internal/keys"
	apimiddleware "github.com/dadyutenga/ShopApI/internal/middleware"
	"github.com/dadyutenga/ShopApI/internal/otp"
	"github.com/dadyutenga/ShopApI/internal/repository"
	"github.com/dadyutenga/ShopApI/internal/server"
	"github.com/dadyutenga/ShopApI/internal/service"
	"github.com/dadyutenga/ShopApI/internal/telemetry"
	"github.com/dadyutenga/ShopApI/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newPGXPool,
			newRedisClient,
			newStore,
			newUserRepository,
			newKeyManager,
			newRefreshStore,
			newTokenService,
			newOTPManager,
			newLimiter,
			newRateLimiter,
			service.NewAuthService,
			newAuthHandler,
			newAuthMiddleware,
			newRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})
	return provider, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newStore(client *redis.Client) cache.Store {
	return cache.NewRedis(client)
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newKeyManager(store cache.Store, cfg config.Config, logger *zap.Logger) *keys.Manager {
	return keys.NewManager(store, cfg.SigningKeyTTL, logger)
}

func newRefreshStore(store cache.Store, pool *pgxpool.Pool, cfg config.Config) token.RefreshStore {
	if cfg.RefreshTokenStore == "postgres" {
		return repository.NewPostgresRefreshTokenRepo(pool)
	}
	return token.NewCacheRefreshStore(store)
}

func newTokenService(keyManager *keys.Manager, refresh token.RefreshStore, store cache.Store, cfg config.Config, logger *zap.Logger) *token.Service {
	return token.NewService(keyManager, refresh, store, cfg, logger)
}

func newOTPManager(store cache.Store, cfg config.Config, logger *zap.Logger) *otp.Manager {
	return otp.NewManager(store, cfg, logger)
}

func newLimiter(store cache.Store, logger *zap.Logger) *abuse.Limiter {
	return abuse.NewLimiter(store, logger)
}

func newRateLimiter(limiter *abuse.Limiter, cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(limiter, cfg)
}

func newAuthHandler(auth *service.AuthService, keyManager *keys.Manager, cfg config.Config, logger *zap.Logger) *handler.AuthHandler {
	return handler.NewAuthHandler(auth, keyManager, cfg, logger)
}

func newAuthMiddleware(auth *service.AuthService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{AuthService: auth}
}

func newRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *apimiddleware.RateLimiter) *gin.Engine {
	return httptransport.NewRouter(cfg, authHandler, authMiddleware, rateLimiter)
}

func useTelemetry(*telemetry.Provider) {}

func startHTTPServer(*http.Server) {}
