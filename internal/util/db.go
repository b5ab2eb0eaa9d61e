package util

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

const (
	defaultDBMaxOpenConns    = 20
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 30 * time.Minute
	connectTimeout           = 5 * time.Second
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func NewDBConfig() *DBConfig {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	return &DBConfig{
		DSN:             dsn,
		MaxOpenConns:    parseIntOrDefault("DB_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
		MaxIdleConns:    parseIntOrDefault("DB_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
		ConnMaxLifetime: parseDurationOrDefault("DB_CONN_MAX_LIFETIME", defaultDBConnMaxLifetime),
	}
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisConfig() *RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Fatal("REDIS_ADDR is not set")
	}

	return &RedisConfig{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       parseIntOrDefault("REDIS_DB", 0),
	}
}

// NewDBConnection opens the Postgres pool holding users and journal
// entries and returns a cleanup closing it.
func NewDBConnection(logger *zap.SugaredLogger) (*sql.DB, func(), error) {
	cfg := NewDBConfig()
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Infow("connected to postgres", "maxOpenConns", cfg.MaxOpenConns)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Errorf("Failed to close database connection: %v", err)
			return
		}
		logger.Info("Database connection closed.")
	}

	return db, cleanup, nil
}

// NewRedisClient connects to the Redis instance keeping refresh sessions
// and the internal API key.
func NewRedisClient(ctx context.Context, logger *zap.SugaredLogger, cfg *RedisConfig) (*redis.Client, func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Infow("connected to redis", "addr", cfg.Addr, "db", cfg.DB)

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Errorf("Failed to close Redis connection: %v", err)
			return
		}
		logger.Info("Redis connection closed.")
	}

	return client, cleanup, nil
}
