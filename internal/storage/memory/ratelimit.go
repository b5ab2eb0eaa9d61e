package memory

import (
	"context"
	"sync"
	"time"
)

type Keyspace string

const (
	KeyspaceIP   Keyspace = "ip"
	KeyspaceUser Keyspace = "user"
)

// Decision is the outcome of a single Admit call. Limit, Remaining and
// ResetAt describe the bound that decided the outcome; ResetAt is when the
// oldest timestamp counted against that bound leaves the window.
type Decision struct {
	Allowed   bool
	Scope     Keyspace
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitStore keeps sliding-window request timestamps for two independent
// keyspaces. Every stored timestamp is younger than window after a prune.
type RateLimitStore struct {
	mu     sync.Mutex
	hits   map[Keyspace]map[string][]time.Time
	window time.Duration
	now    func() time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewRateLimitStore(window time.Duration, now func() time.Time) *RateLimitStore {
	if now == nil {
		now = time.Now
	}
	return &RateLimitStore{
		hits: map[Keyspace]map[string][]time.Time{
			KeyspaceIP:   make(map[string][]time.Time),
			KeyspaceUser: make(map[string][]time.Time),
		},
		window: window,
		now:    now,
	}
}

func (s *RateLimitStore) Window() time.Duration { return s.window }

// Admit checks the user bound first (when userKey is set), then the IP
// bound, and records the request in every applicable keyspace when both
// have capacity.
func (s *RateLimitStore) Admit(ipKey string, ipMax int, userKey string, userMax int) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var userHits []time.Time
	if userKey != "" {
		userHits = s.prune(KeyspaceUser, userKey, now)
		if len(userHits) >= userMax {
			return Decision{Scope: KeyspaceUser, Limit: userMax, ResetAt: s.resetAt(userHits, userMax, now)}
		}
	}

	ipHits := s.prune(KeyspaceIP, ipKey, now)
	if len(ipHits) >= ipMax {
		return Decision{Scope: KeyspaceIP, Limit: ipMax, ResetAt: s.resetAt(ipHits, ipMax, now)}
	}

	ipHits = append(ipHits, now)
	s.hits[KeyspaceIP][ipKey] = ipHits
	d := Decision{
		Allowed:   true,
		Scope:     KeyspaceIP,
		Limit:     ipMax,
		Remaining: ipMax - len(ipHits),
		ResetAt:   ipHits[0].Add(s.window),
	}

	if userKey != "" {
		userHits = append(userHits, now)
		s.hits[KeyspaceUser][userKey] = userHits
		if remaining := userMax - len(userHits); remaining < d.Remaining {
			d = Decision{
				Allowed:   true,
				Scope:     KeyspaceUser,
				Limit:     userMax,
				Remaining: remaining,
				ResetAt:   userHits[0].Add(s.window),
			}
		}
	}

	return d
}

// resetAt is when enough of hits ages out for one more request under limit.
func (s *RateLimitStore) resetAt(hits []time.Time, limit int, now time.Time) time.Time {
	if len(hits) == 0 {
		return now.Add(s.window)
	}
	i := len(hits) - limit
	if i < 0 {
		i = 0
	}
	return hits[i].Add(s.window)
}

// prune drops timestamps outside the window. Caller holds s.mu.
func (s *RateLimitStore) prune(space Keyspace, key string, now time.Time) []time.Time {
	hits := s.hits[space][key]
	kept := hits[:0]
	for _, t := range hits {
		if now.Sub(t) < s.window {
			kept = append(kept, t)
		}
	}
	s.hits[space][key] = kept
	return kept
}

// Sweep prunes every key and deletes the ones left empty.
func (s *RateLimitStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for space, keys := range s.hits {
		for key := range keys {
			if len(s.prune(space, key, now)) == 0 {
				delete(keys, key)
			}
		}
	}
}

// Len reports the number of tracked keys in a keyspace.
func (s *RateLimitStore) Len(space Keyspace) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.hits[space])
}

// Start runs Sweep every window until ctx is cancelled or Stop is called.
func (s *RateLimitStore) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.window)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop cancels the sweeper and waits for it to exit. Safe to call more than
// once and without Start.
func (s *RateLimitStore) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
	})
}
