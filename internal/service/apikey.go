package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// APIKeyRingRedisKey holds the internal API keyring as a hash of
// fieldCurrent, fieldPrevious and fieldRotatedAt (unix seconds). Keys are
// stored as SHA-256 hex digests.
const APIKeyRingRedisKey = "internal:apikey"

const (
	fieldCurrent   = "current"
	fieldPrevious  = "previous"
	fieldRotatedAt = "rotated_at"

	defaultAPIKeyGrace = 24 * time.Hour
)

var ErrEmptyAPIKey = errors.New("api key is empty")

// APIKeyService guards internal-only routes. After a rotation the previous
// key keeps working until grace has passed since the rotation.
type APIKeyService struct {
	rdb   redis.UniversalClient
	log   *zap.SugaredLogger
	now   func() time.Time
	grace time.Duration
}

type APIKeyOption func(*APIKeyService)

func WithAPIKeyClock(now func() time.Time) APIKeyOption {
	return func(s *APIKeyService) { s.now = now }
}

// WithAPIKeyGrace overrides how long a rotated-out key is still accepted.
func WithAPIKeyGrace(d time.Duration) APIKeyOption {
	return func(s *APIKeyService) { s.grace = d }
}

func NewAPIKeyService(rdb redis.UniversalClient, log *zap.SugaredLogger, opts ...APIKeyOption) *APIKeyService {
	s := &APIKeyService{rdb: rdb, log: log, now: time.Now, grace: defaultAPIKeyGrace}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type keyring struct {
	current   string
	previous  string
	rotatedAt time.Time
}

func (s *APIKeyService) load(ctx context.Context) (keyring, error) {
	vals, err := s.rdb.HMGet(ctx, APIKeyRingRedisKey, fieldCurrent, fieldPrevious, fieldRotatedAt).Result()
	if err != nil {
		return keyring{}, fmt.Errorf("load api keyring: %w", err)
	}

	field := func(i int) string {
		v, _ := vals[i].(string)
		return v
	}
	ring := keyring{current: field(0), previous: field(1)}
	if raw := field(2); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return keyring{}, fmt.Errorf("parse api key rotation time: %w", err)
		}
		ring.rotatedAt = time.Unix(sec, 0).UTC()
	}
	return ring, nil
}

// SyncAPIKey makes newKey the current key. A different stored key becomes
// the previous one and starts its grace window; syncing the same key again
// changes nothing.
func (s *APIKeyService) SyncAPIKey(ctx context.Context, newKey string) error {
	if newKey == "" {
		return fmt.Errorf("sync api key: %w", ErrEmptyAPIKey)
	}

	digest := digestAPIKey(newKey)
	ring, err := s.load(ctx)
	if err != nil {
		return err
	}
	if ring.current != "" && equalDigests(digest, ring.current) {
		s.log.Debug("API key unchanged")
		return nil
	}

	fields := map[string]interface{}{
		fieldCurrent:   digest,
		fieldRotatedAt: strconv.FormatInt(s.now().Unix(), 10),
	}
	pipe := s.rdb.TxPipeline()
	if ring.current != "" {
		fields[fieldPrevious] = ring.current
	} else {
		pipe.HDel(ctx, APIKeyRingRedisKey, fieldPrevious)
	}
	pipe.HSet(ctx, APIKeyRingRedisKey, fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store api keyring: %w", err)
	}

	if ring.current == "" {
		s.log.Info("API key initialized")
	} else {
		s.log.Infow("API key rotated", "graceUntil", s.now().Add(s.grace).UTC())
	}
	return nil
}

// IsValidAPIKey accepts the current key, or the previous one while its grace
// window is open.
func (s *APIKeyService) IsValidAPIKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	ring, err := s.load(ctx)
	if err != nil {
		return false, err
	}

	digest := digestAPIKey(key)
	if ring.current != "" && equalDigests(digest, ring.current) {
		return true, nil
	}
	if ring.previous == "" || !equalDigests(digest, ring.previous) {
		return false, nil
	}
	return !s.now().After(ring.rotatedAt.Add(s.grace)), nil
}

func digestAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func equalDigests(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
