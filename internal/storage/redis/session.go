package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/storage"
)

const (
	sessionKeyPrefix     = "refresh:session:"
	userSessionKeyPrefix = "refresh:user:"
)

type SessionStorage struct {
	client redis.UniversalClient
}

func NewSessionStorage(client redis.UniversalClient) *SessionStorage {
	return &SessionStorage{client: client}
}

func sessionKey(selector string) string { return sessionKeyPrefix + selector }

func userSessionsKey(userID string) string { return userSessionKeyPrefix + userID }

func (s *SessionStorage) CreateSession(ctx context.Context, session models.RefreshSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.Selector), payload, ttl)
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.Selector)
	pipe.Expire(ctx, userSessionsKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SessionStorage) GetSession(ctx context.Context, selector string) (*models.RefreshSession, error) {
	raw, err := s.client.Get(ctx, sessionKey(selector)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session models.RefreshSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// MarkSessionAsUsed flips an active session to used and keeps its remaining
// TTL so a replayed token can still be recognised until it would have
// expired. The read and write run under WATCH; losing the race to another
// consumer reports ErrSessionAlreadyUsed.
func (s *SessionStorage) MarkSessionAsUsed(ctx context.Context, selector string) error {
	key := sessionKey(selector)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return storage.ErrSessionNotFound
			}
			return fmt.Errorf("get session: %w", err)
		}

		var session models.RefreshSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		if session.Status != models.SessionActive {
			return storage.ErrSessionAlreadyUsed
		}

		ttl, err := tx.TTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("get session ttl: %w", err)
		}
		if ttl <= 0 {
			return storage.ErrSessionNotFound
		}

		session.Status = models.SessionUsed
		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return storage.ErrSessionAlreadyUsed
	case errors.Is(err, storage.ErrSessionNotFound), errors.Is(err, storage.ErrSessionAlreadyUsed):
		return err
	default:
		return fmt.Errorf("mark session as used: %w", err)
	}
}

func (s *SessionStorage) DeleteSession(ctx context.Context, selector string) error {
	session, err := s.GetSession(ctx, selector)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(selector))
	pipe.SRem(ctx, userSessionsKey(session.UserID), selector)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStorage) DeleteAllUserSessions(ctx context.Context, userID string) error {
	selectors, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}

	keys := make([]string, 0, len(selectors)+1)
	for _, sel := range selectors {
		keys = append(keys, sessionKey(sel))
	}
	keys = append(keys, userSessionsKey(userID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}
