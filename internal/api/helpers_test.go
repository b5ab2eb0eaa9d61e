package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/service"
	"github.com/rryowa/journalgate/internal/storage"
	"github.com/rryowa/journalgate/internal/storage/memory"
	"github.com/rryowa/journalgate/internal/util"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []service.SecurityEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e service.SecurityEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) Types() []service.SecurityEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]service.SecurityEventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeUser struct {
	user         models.User
	passwordHash []byte
}

// fakeUsers is an in-memory UserRepository that counts lookups.
type fakeUsers struct {
	mu      sync.Mutex
	users   map[string]fakeUser
	lookups map[string]int
	err     error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]fakeUser), lookups: make(map[string]int)}
}

func (f *fakeUsers) add(t *testing.T, id, email, role, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	u := models.User{ID: id, Email: email, Role: role, CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	f.users[id] = fakeUser{user: u, passwordHash: hash}
	return &u
}

func (f *fakeUsers) setRole(id, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	u.user.Role = role
	f.users[id] = u
}

func (f *fakeUsers) lookupCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups[id]
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[id]++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	user := u.user
	return &user, nil
}

func (f *fakeUsers) VerifyCredentials(_ context.Context, email, password string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.user.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
			return nil, storage.ErrInvalidPassword
		}
		user := u.user
		return &user, nil
	}
	return nil, storage.ErrInvalidPassword
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func testTokenConfig() *util.TokenConfig {
	return &util.TokenConfig{
		JwtSecretKey:      []byte("test-secret"),
		Issuer:            "journal-gate-test",
		AccessTTL:         time.Hour,
		RefreshTTL:        7 * 24 * time.Hour,
		ExpiringThreshold: 5 * time.Minute,
	}
}

type authEnv struct {
	clock  *fakeClock
	tokens *service.TokenService
	users  *fakeUsers
	cache  *memory.RoleCache
	events *recordingNotifier
	auth   *AuthMiddleware
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	clock := newFakeClock()
	events := &recordingNotifier{}
	cfg := testTokenConfig()

	sessions := memory.NewSessionRepository(testLogger(), clock.Now)
	tokens := service.NewTokenService(cfg, sessions, service.WithClock(clock.Now), service.WithSecurityEvents(events))

	cache, err := memory.NewRoleCache(5*time.Minute, 100, clock.Now)
	require.NoError(t, err)

	users := newFakeUsers()
	auth := NewAuthMiddleware(tokens, users, cache, events, testLogger(), AuthConfig{
		ExpiringThreshold: cfg.ExpiringThreshold,
		RefreshTTL:        cfg.RefreshTTL,
		Now:               clock.Now,
	})

	return &authEnv{clock: clock, tokens: tokens, users: users, cache: cache, events: events, auth: auth}
}

func newEchoContext(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

// okHandler records that it ran and what user id it saw.
type okHandler struct {
	called bool
	userID string
}

func (h *okHandler) handle(c echo.Context) error {
	h.called = true
	h.userID, _ = c.Get(models.MwUserIDKey).(string)
	return c.NoContent(http.StatusOK)
}

func requireKind(t *testing.T, err error, kind util.ErrorKind) *util.ResponseError {
	t.Helper()
	var re *util.ResponseError
	require.True(t, errors.As(err, &re), "expected ResponseError, got %v", err)
	require.Equal(t, kind, re.Kind)
	return re
}
