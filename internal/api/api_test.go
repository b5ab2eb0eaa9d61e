package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rryowa/journalgate/internal/controller"
	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/service"
	"github.com/rryowa/journalgate/internal/storage"
	"github.com/rryowa/journalgate/internal/storage/memory"
	"github.com/rryowa/journalgate/internal/util"
)

const (
	testAPIKey        = "internal-key"
	testWebhookSecret = "hook-secret"
)

type fakeJournal struct {
	mu      sync.Mutex
	entries map[string]models.JournalEntry
	users   storage.UserLookup
}

func (f *fakeJournal) GetEntry(_ context.Context, id string) (*models.JournalEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, storage.ErrEntryNotFound
	}
	return &e, nil
}

func (f *fakeJournal) GetEntryOwner(ctx context.Context, id string) (string, error) {
	e, err := f.GetEntry(ctx, id)
	if err != nil {
		return "", nil //nolint:nilerr // unknown entry has no owner
	}
	return e.UserID, nil
}

func (f *fakeJournal) CreateEntryForUser(ctx context.Context, entry models.JournalEntry) (*models.JournalEntry, error) {
	if _, err := f.users.GetUserByID(ctx, entry.UserID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	f.entries[entry.ID] = entry
	return &entry, nil
}

type staticAPIKey string

func (k staticAPIKey) IsValidAPIKey(_ context.Context, key string) (bool, error) {
	return key == string(k), nil
}

type testServer struct {
	env     *authEnv
	handler http.Handler
}

func newTestServer(t *testing.T, globalMax int) *testServer {
	t.Helper()
	env := newAuthEnv(t)
	env.users.add(t, "11111111-1111-1111-1111-111111111111", "alice@example.com", models.RoleUser, "alice-pw")
	env.users.add(t, "22222222-2222-2222-2222-222222222222", "bob@example.com", models.RoleUser, "bob-pw")
	env.users.add(t, "33333333-3333-3333-3333-333333333333", "root@example.com", models.RoleAdmin, "root-pw")

	csrf := NewCSRFMiddleware(service.NewCSRFGuard(), env.events, testLogger(), CSRFConfig{
		TokenTTL:       time.Hour,
		ExemptPrefixes: []string{"/api/webhooks/", "/internal/"},
		Now:            env.clock.Now,
	})
	limitStore := memory.NewRateLimitStore(15*time.Minute, env.clock.Now)
	writeStore := memory.NewRateLimitStore(time.Minute, env.clock.Now)
	pipeline := NewSecurityPipeline(true,
		NewRateLimiter(limitStore, &util.RateLimiterConfig{MaxRequests: globalMax, MaxRequestsAuthenticated: globalMax}, testLogger()),
		NewRateLimiter(writeStore, &util.RateLimiterConfig{MaxRequests: 100, MaxRequestsAuthenticated: 2}, testLogger()),
		csrf,
		env.auth,
	)

	journal := &fakeJournal{entries: make(map[string]models.JournalEntry), users: env.users}
	ctrl := controller.NewController(testLogger(), env.users, journal, env.tokens, csrf,
		service.NewWebhookVerifier([]byte(testWebhookSecret)),
		controller.Config{RefreshTTL: 7 * 24 * time.Hour})

	a := NewAPI(ctrl, pipeline, staticAPIKey(testAPIKey), []*memory.RateLimitStore{limitStore, writeStore},
		&util.ServerConfig{ServerAddr: "127.0.0.1:0"}, testLogger(), nil)
	require.NoError(t, a.Setup())

	return &testServer{env: env, handler: a.Handler()}
}

// client keeps cookies between requests like a browser would.
type client struct {
	t       *testing.T
	srv     *testServer
	cookies map[string]*http.Cookie
	ip      string
	access  string
	csrf    string
}

func (s *testServer) client(t *testing.T, ip string) *client {
	return &client{t: t, srv: s, cookies: make(map[string]*http.Cookie), ip: ip}
}

type response struct {
	rec  *httptest.ResponseRecorder
	body models.Envelope
	data map[string]interface{}
}

func (cl *client) do(method, path, body string, headers map[string]string) *response {
	cl.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = cl.ip + ":5555"
	for _, ck := range cl.cookies {
		req.AddCookie(ck)
	}
	if cl.access != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+cl.access)
	}
	if cl.csrf != "" {
		req.Header.Set(models.MwCSRFHeader, cl.csrf)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	cl.srv.handler.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(cl.cookies, ck.Name)
			continue
		}
		cl.cookies[ck.Name] = ck
	}

	resp := &response{rec: rec}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(cl.t, json.Unmarshal(rec.Body.Bytes(), &resp.body))
		resp.data, _ = resp.body.Data.(map[string]interface{})
	}
	return resp
}

func (cl *client) fetchCSRF() {
	cl.t.Helper()
	resp := cl.do(http.MethodGet, "/api/auth/csrf-token", "", nil)
	require.Equal(cl.t, http.StatusOK, resp.rec.Code)
	cl.csrf = resp.data["csrfToken"].(string)
}

func (cl *client) login(email, password string) *response {
	cl.t.Helper()
	cl.fetchCSRF()
	resp := cl.do(http.MethodPost, "/api/auth/login", `{"email":"`+email+`","password":"`+password+`"}`, nil)
	if resp.rec.Code == http.StatusOK {
		cl.access = resp.data["accessToken"].(string)
		cl.csrf = resp.data["csrfToken"].(string)
	}
	return resp
}

func TestAPI_PingCarriesPipelineHeaders(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	resp := srv.client(t, "10.1.0.1").do(http.MethodGet, "/api/ping", "", nil)

	require.Equal(t, http.StatusOK, resp.rec.Code)
	assert.True(t, resp.body.Success)
	assert.Equal(t, http.StatusOK, resp.body.Status)
	assert.Equal(t, "ok", resp.data["status"])

	h := resp.rec.Header()
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.NotEmpty(t, h.Get("Content-Security-Policy"))
	assert.Equal(t, "100", h.Get(HeaderRateLimitLimit))
	assert.Equal(t, "99", h.Get(HeaderRateLimitRemaining))
}

func TestAPI_LoginAndAccess(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	alice := srv.client(t, "10.1.0.2")

	resp := alice.login("alice@example.com", "alice-pw")
	require.Equal(t, http.StatusOK, resp.rec.Code)
	assert.NotEmpty(t, alice.cookies[models.RefreshCookieName])

	me := alice.do(http.MethodGet, "/api/users/me", "", nil)
	require.Equal(t, http.StatusOK, me.rec.Code)
	assert.Equal(t, "alice@example.com", me.data["email"])

	admin := alice.do(http.MethodGet, "/api/admin/users/33333333-3333-3333-3333-333333333333", "", nil)
	assert.Equal(t, http.StatusForbidden, admin.rec.Code)
	assert.Equal(t, "Insufficient permissions", admin.body.Error)
}

func TestAPI_AdminRoute(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	root := srv.client(t, "10.1.0.3")
	require.Equal(t, http.StatusOK, root.login("root@example.com", "root-pw").rec.Code)

	resp := root.do(http.MethodGet, "/api/admin/users/11111111-1111-1111-1111-111111111111", "", nil)
	require.Equal(t, http.StatusOK, resp.rec.Code)
	assert.Equal(t, "alice@example.com", resp.data["email"])

	missing := root.do(http.MethodGet, "/api/admin/users/99999999-9999-9999-9999-999999999999", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.rec.Code)
	assert.Equal(t, "User not found", missing.body.Error)
}

func TestAPI_LoginFailures(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)

	t.Run("wrong password", func(t *testing.T) {
		cl := srv.client(t, "10.1.0.4")
		resp := cl.login("alice@example.com", "nope")
		assert.Equal(t, http.StatusUnauthorized, resp.rec.Code)
		assert.Equal(t, "Invalid email or password", resp.body.Error)
		assert.Empty(t, cl.cookies[models.RefreshCookieName])
	})

	t.Run("missing csrf token", func(t *testing.T) {
		cl := srv.client(t, "10.1.0.5")
		resp := cl.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"alice-pw"}`, nil)
		assert.Equal(t, http.StatusForbidden, resp.rec.Code)
		assert.Equal(t, "Invalid CSRF token", resp.body.Error)
	})

	t.Run("invalid body", func(t *testing.T) {
		cl := srv.client(t, "10.1.0.6")
		cl.fetchCSRF()
		resp := cl.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com"}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.rec.Code)
		assert.False(t, resp.body.Success)
	})
}

func TestAPI_JournalOwnership(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	alice := srv.client(t, "10.1.0.7")
	bob := srv.client(t, "10.1.0.8")
	require.Equal(t, http.StatusOK, alice.login("alice@example.com", "alice-pw").rec.Code)
	require.Equal(t, http.StatusOK, bob.login("bob@example.com", "bob-pw").rec.Code)

	created := alice.do(http.MethodPost, "/api/journal", `{"title":"day one","body":"hello"}`, nil)
	require.Equal(t, http.StatusCreated, created.rec.Code)
	id := created.data["id"].(string)

	own := alice.do(http.MethodGet, "/api/journal/"+id, "", nil)
	require.Equal(t, http.StatusOK, own.rec.Code)
	assert.Equal(t, "day one", own.data["title"])

	foreign := bob.do(http.MethodGet, "/api/journal/"+id, "", nil)
	assert.Equal(t, http.StatusForbidden, foreign.rec.Code)

	missing := alice.do(http.MethodGet, "/api/journal/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, missing.rec.Code)
	assert.Equal(t, "Resource not found", missing.body.Error)
}

func TestAPI_AuthRunsBeforeBodyValidation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)

	anon := srv.client(t, "10.1.0.9")
	anon.fetchCSRF()
	resp := anon.do(http.MethodPost, "/api/journal", `{"title":""}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.rec.Code)
	assert.Equal(t, "Authentication required", resp.body.Error)

	alice := srv.client(t, "10.1.0.10")
	require.Equal(t, http.StatusOK, alice.login("alice@example.com", "alice-pw").rec.Code)
	resp = alice.do(http.MethodPost, "/api/journal", `{"title":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.rec.Code)
}

func TestAPI_WriteLimiterCountsPerUser(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	alice := srv.client(t, "10.1.0.11")
	require.Equal(t, http.StatusOK, alice.login("alice@example.com", "alice-pw").rec.Code)

	for i := 0; i < 2; i++ {
		resp := alice.do(http.MethodPost, "/api/journal", `{"title":"t","body":"b"}`, nil)
		require.Equal(t, http.StatusCreated, resp.rec.Code)
	}

	alice.ip = "10.1.0.12"
	resp := alice.do(http.MethodPost, "/api/journal", `{"title":"t","body":"b"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.rec.Code)
	assert.NotEmpty(t, resp.rec.Header().Get(echo.HeaderRetryAfter))
}

func TestAPI_RateLimitBeforeCSRF(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 3)
	cl := srv.client(t, "10.1.0.13")

	for i := 0; i < 3; i++ {
		resp := cl.do(http.MethodPost, "/api/journal", `{}`, nil)
		require.Equal(t, http.StatusForbidden, resp.rec.Code)
	}

	resp := cl.do(http.MethodPost, "/api/journal", `{}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.rec.Code)
	assert.Equal(t, "Too many requests, please try again later.", resp.body.Error)
	assert.Equal(t, "900", resp.rec.Header().Get(echo.HeaderRetryAfter))
	assert.Equal(t, "nosniff", resp.rec.Header().Get("X-Content-Type-Options"), "headers are set before the limiter rejects")

	srv.env.clock.Advance(15*time.Minute + time.Second)
	resp = cl.do(http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.rec.Code)
}

func TestAPI_ForwardedForIsIgnoredWithoutTrustedProxies(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 3)
	cl := srv.client(t, "10.1.0.30")

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		resp := cl.do(http.MethodGet, "/api/ping", "", map[string]string{
			echo.HeaderXForwardedFor: fmt.Sprintf("1.2.3.%d", i),
			echo.HeaderXRealIP:       fmt.Sprintf("5.6.7.%d", i),
		})
		codes = append(codes, resp.rec.Code)
	}
	assert.Equal(t, []int{200, 200, 200, 429, 429}, codes)

	other := srv.client(t, "10.1.0.31")
	assert.Equal(t, http.StatusOK, other.do(http.MethodGet, "/api/ping", "", nil).rec.Code)
}

func TestIPExtractor(t *testing.T) {
	t.Parallel()
	_, proxies, err := net.ParseCIDR("10.9.0.0/16")
	require.NoError(t, err)

	newReq := func(remote, xff string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set(echo.HeaderXForwardedFor, xff)
		}
		return req
	}

	direct := IPExtractor(nil)
	assert.Equal(t, "10.9.0.5", direct(newReq("10.9.0.5:80", "1.2.3.4")))

	trusted := IPExtractor([]*net.IPNet{proxies})
	assert.Equal(t, "1.2.3.4", trusted(newReq("10.9.0.5:80", "1.2.3.4")))
	assert.Equal(t, "1.2.3.4", trusted(newReq("10.9.0.5:80", "9.9.9.9, 1.2.3.4, 10.9.0.7")))
	assert.Equal(t, "192.168.1.1", trusted(newReq("192.168.1.1:80", "1.2.3.4")), "untrusted peer keeps its own address")
}

func TestAPI_RefreshAndLogout(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	alice := srv.client(t, "10.1.0.14")
	require.Equal(t, http.StatusOK, alice.login("alice@example.com", "alice-pw").rec.Code)

	firstRefresh := alice.cookies[models.RefreshCookieName].Value
	resp := alice.do(http.MethodPost, "/api/auth/refresh", "", nil)
	require.Equal(t, http.StatusOK, resp.rec.Code)
	assert.NotEmpty(t, resp.data["accessToken"])
	assert.NotEqual(t, firstRefresh, alice.cookies[models.RefreshCookieName].Value)

	resp = alice.do(http.MethodPost, "/api/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, resp.rec.Code)
	assert.NotContains(t, alice.cookies, models.RefreshCookieName)
	alice.csrf = resp.data["csrfToken"].(string)

	alice.cookies[models.RefreshCookieName] = &http.Cookie{Name: models.RefreshCookieName, Value: firstRefresh}
	resp = alice.do(http.MethodPost, "/api/auth/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.rec.Code)
	assert.Equal(t, "Invalid refresh token", resp.body.Error)
}

func TestAPI_LogoutWithExpiredAccessRevokesRotatedSession(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	alice := srv.client(t, "10.1.0.19")
	require.Equal(t, http.StatusOK, alice.login("alice@example.com", "alice-pw").rec.Code)

	srv.env.clock.Advance(2 * time.Hour)
	alice.fetchCSRF()

	resp := alice.do(http.MethodPost, "/api/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, resp.rec.Code)

	var minted string
	for _, ck := range resp.rec.Result().Cookies() {
		if ck.Name == models.RefreshCookieName && ck.MaxAge > 0 {
			minted = ck.Value
		}
	}
	require.NotEmpty(t, minted, "authentication rotated the refresh cookie")
	assert.NotContains(t, alice.cookies, models.RefreshCookieName)

	_, err := srv.env.tokens.Refresh(context.Background(), minted, models.UserMetadata{})
	require.ErrorIs(t, err, service.ErrInvalidRefreshToken)
}

func TestAPI_ExpiredAccessTokenIsReplaced(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	alice := srv.client(t, "10.1.0.15")
	require.Equal(t, http.StatusOK, alice.login("alice@example.com", "alice-pw").rec.Code)

	srv.env.clock.Advance(2 * time.Hour)
	resp := alice.do(http.MethodGet, "/api/users/me", "", nil)
	require.Equal(t, http.StatusOK, resp.rec.Code)
	assert.NotEmpty(t, resp.rec.Header().Get(models.MwNewAccessHeader))
}

func TestAPI_Webhook(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	cl := srv.client(t, "10.1.0.16")
	body := `{"event":"push"}`
	signer := service.NewWebhookVerifier([]byte(testWebhookSecret))

	ok := cl.do(http.MethodPost, "/api/webhooks/github", body, map[string]string{service.SignatureHeader: signer.Sign([]byte(body))})
	require.Equal(t, http.StatusAccepted, ok.rec.Code, "no CSRF token needed")
	assert.Equal(t, "github", ok.data["source"])

	bad := cl.do(http.MethodPost, "/api/webhooks/github", body, map[string]string{service.SignatureHeader: "sha256=00"})
	assert.Equal(t, http.StatusUnauthorized, bad.rec.Code)
	assert.Equal(t, "Invalid signature", bad.body.Error)
}

func TestAPI_InternalMetrics(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	cl := srv.client(t, "10.1.0.17")

	resp := cl.do(http.MethodGet, "/internal/metrics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.rec.Code)

	resp = cl.do(http.MethodGet, "/internal/metrics", "", map[string]string{models.MwAPIKeyHeader: "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.rec.Code)

	resp = cl.do(http.MethodGet, "/internal/metrics", "", map[string]string{models.MwAPIKeyHeader: testAPIKey})
	require.Equal(t, http.StatusOK, resp.rec.Code)
	assert.Contains(t, resp.rec.Body.String(), "journalgate_")
}

func TestAPI_UnknownRoute(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, 100)
	resp := srv.client(t, "10.1.0.18").do(http.MethodGet, "/api/nope", "", nil)

	assert.Equal(t, http.StatusNotFound, resp.rec.Code)
	assert.False(t, resp.body.Success)
	assert.Equal(t, "Not Found", resp.body.Error)
}
