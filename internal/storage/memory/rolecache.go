package memory

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rryowa/journalgate/internal/models"
)

type roleCacheEntry struct {
	user     models.User
	cachedAt time.Time
}

// RoleCache remembers user records for authorization checks. An entry is
// served until ttl has elapsed since it was stored; role changes made in the
// user store are not seen before that. Capacity is bounded by an LRU.
type RoleCache struct {
	entries *lru.Cache[string, roleCacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

func NewRoleCache(ttl time.Duration, size int, now func() time.Time) (*RoleCache, error) {
	entries, err := lru.New[string, roleCacheEntry](size)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &RoleCache{entries: entries, ttl: ttl, now: now}, nil
}

// Get returns a copy of the cached user if the entry is younger than the TTL.
func (c *RoleCache) Get(userID string) (*models.User, bool) {
	entry, ok := c.entries.Get(userID)
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.cachedAt) >= c.ttl {
		c.entries.Remove(userID)
		return nil, false
	}
	user := entry.user
	return &user, true
}

func (c *RoleCache) Set(userID string, user *models.User) {
	if user == nil {
		return
	}
	c.entries.Add(userID, roleCacheEntry{user: *user, cachedAt: c.now()})
}

func (c *RoleCache) Len() int {
	return c.entries.Len()
}
