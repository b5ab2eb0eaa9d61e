package util

import (
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//nolint:gochecknoglobals // here its ok
var once sync.Once

func init() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

const (
	defaultServerAddr      = "localhost:8080"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second
	defaultEnv             = "development"

	defaultAccessTTL         = time.Hour
	defaultRefreshTTL        = 7 * 24 * time.Hour
	defaultExpiringThreshold = 5 * time.Minute
	defaultIssuer            = "journal-gate"

	defaultRateWindow           = 15 * time.Minute
	defaultRateMax              = 100
	defaultRateMaxAuthenticated = 1000
	defaultWriteRateWindow      = time.Minute
	defaultWriteRateMax         = 10
	defaultWriteRateMaxAuth     = 20

	defaultRoleCacheTTL  = 5 * time.Minute
	defaultRoleCacheSize = 10000

	defaultCSRFTokenTTL = time.Hour

	TokenPartsExpected = 2
	RawTokenLength     = 32
)

type ServerConfig struct {
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
	Env             string
	// TrustedProxies are the peers whose X-Forwarded-For is believed. Empty
	// means the socket address is the client address.
	TrustedProxies []*net.IPNet
}

// Production reports whether cookies must be Secure and CSP enforced.
func (c *ServerConfig) Production() bool {
	return c.Env == "production"
}

// LocalDev reports whether the service runs in a local or development setup.
func (c *ServerConfig) LocalDev() bool {
	return c.Env == "development" || c.Env == "local"
}

func NewServerConfig() *ServerConfig {
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = defaultServerAddr
	}
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		env = defaultEnv
	}

	return &ServerConfig{
		ServerAddr:      addr,
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
		Env:             env,
		TrustedProxies:  parseCIDRList("TRUSTED_PROXIES"),
	}
}

// parseCIDRList reads a comma separated list of CIDRs or bare IPs.
func parseCIDRList(key string) []*net.IPNet {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var nets []*net.IPNet
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			if ip := net.ParseIP(item); ip != nil && ip.To4() != nil {
				item += "/32"
			} else {
				item += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(item)
		if err != nil {
			log.Fatalf("invalid %s entry %q: %v", key, item, err)
		}
		nets = append(nets, ipNet)
	}
	return nets
}

type TokenConfig struct {
	JwtSecretKey      []byte
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	ExpiringThreshold time.Duration
	// SessionStore is "redis" (default) or "memory".
	SessionStore      string
}

func NewTokenConfig() *TokenConfig {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	sessionStore := strings.ToLower(os.Getenv("SESSION_STORE"))
	if sessionStore != "memory" {
		sessionStore = "redis"
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &TokenConfig{
		JwtSecretKey:      []byte(secret),
		Issuer:            issuer,
		AccessTTL:         parseDurationOrDefault("ACCESS_TOKEN_TTL", defaultAccessTTL),
		RefreshTTL:        parseDurationOrDefault("REFRESH_TOKEN_TTL", defaultRefreshTTL),
		ExpiringThreshold: parseDurationOrDefault("TOKEN_EXPIRING_THRESHOLD", defaultExpiringThreshold),
		SessionStore:      sessionStore,
	}
}

type RateLimiterConfig struct {
	Window                   time.Duration
	MaxRequests              int
	MaxRequestsAuthenticated int
}

// NewRateLimiterConfig reads the global limiter settings.
func NewRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		Window:                   parseDurationOrDefault("RATE_LIMIT_WINDOW", defaultRateWindow),
		MaxRequests:              parseIntOrDefault("RATE_LIMIT_MAX", defaultRateMax),
		MaxRequestsAuthenticated: parseIntOrDefault("RATE_LIMIT_MAX_AUTHENTICATED", defaultRateMaxAuthenticated),
	}
}

// NewWriteRateLimiterConfig reads the settings of the stricter limiter
// mounted on write routes behind authentication.
func NewWriteRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		Window:                   parseDurationOrDefault("WRITE_RATE_LIMIT_WINDOW", defaultWriteRateWindow),
		MaxRequests:              parseIntOrDefault("WRITE_RATE_LIMIT_MAX", defaultWriteRateMax),
		MaxRequestsAuthenticated: parseIntOrDefault("WRITE_RATE_LIMIT_MAX_AUTHENTICATED", defaultWriteRateMaxAuth),
	}
}

type RoleCacheConfig struct {
	TTL  time.Duration
	Size int
}

func NewRoleCacheConfig() *RoleCacheConfig {
	return &RoleCacheConfig{
		TTL:  parseDurationOrDefault("ROLE_CACHE_TTL", defaultRoleCacheTTL),
		Size: parseIntOrDefault("ROLE_CACHE_SIZE", defaultRoleCacheSize),
	}
}

type CSRFConfig struct {
	TokenTTL       time.Duration
	ExemptPrefixes []string
}

func NewCSRFConfig() *CSRFConfig {
	exempt := []string{"/api/webhooks/", "/internal/"}
	if v := os.Getenv("CSRF_EXEMPT_PREFIXES"); v != "" {
		exempt = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				exempt = append(exempt, p)
			}
		}
	}
	return &CSRFConfig{
		TokenTTL:       parseDurationOrDefault("CSRF_TOKEN_TTL", defaultCSRFTokenTTL),
		ExemptPrefixes: exempt,
	}
}

type WebhookConfig struct {
	SecurityEventsURL string
	InboundSecret     []byte
}

func NewWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		SecurityEventsURL: os.Getenv("SECURITY_WEBHOOK_URL"),
		InboundSecret:     []byte(os.Getenv("WEBHOOK_SECRET")),
	}
}

type APIKeyConfig struct {
	Key string
}

func NewAPIKeyConfig() *APIKeyConfig {
	key := os.Getenv("AUTH_SERVICE_API_KEY")
	if key == "" {
		log.Fatal("AUTH_SERVICE_API_KEY is not set")
	}
	return &APIKeyConfig{Key: key}
}

type LogConfig struct {
	Level string
	File  string
}

func NewLogConfig() *LogConfig {
	return &LogConfig{
		Level: os.Getenv("LOG_LEVEL"),
		File:  os.Getenv("LOG_FILE"),
	}
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}

func parseIntOrDefault(varName string, def int) int {
	if v := os.Getenv(varName); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid %s: %s, using default %d", varName, v, def)
	}
	return def
}
