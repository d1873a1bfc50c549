package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"auth-gateway/internal/cache"
	clientdomain "auth-gateway/internal/client/domain"
	"auth-gateway/internal/ratelimit"
	"auth-gateway/internal/security"
	sessiondomain "auth-gateway/internal/session/domain"
	userdomain "auth-gateway/internal/user/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeClients struct {
	mu           sync.Mutex
	clients      map[string]*clientdomain.Client
	roles        map[string][]string
	restrictions map[string][]*clientdomain.AccessRestriction
}

func (f *fakeClients) GetByID(ctx context.Context, id string) (*clientdomain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.clients[id]
	if c != nil && c.DeletedAt != nil {
		return nil, nil
	}
	return c, nil
}

func (f *fakeClients) ListRoles(ctx context.Context, clientID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[clientID], nil
}

func (f *fakeClients) ListAccessRestrictions(ctx context.Context, clientID string) ([]*clientdomain.AccessRestriction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restrictions[clientID], nil
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
	roles map[string][]string
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeUsers) ListRoles(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[userID], nil
}

type fakeSessions struct {
	mu     sync.Mutex
	byHash map[string]*sessiondomain.SessionWithToken
}

func (f *fakeSessions) GetByTokenHash(ctx context.Context, hash string) (*sessiondomain.SessionWithToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byHash[hash], nil
}

type fakeAPIs struct {
	allowUnidentified map[string]bool
}

func (f *fakeAPIs) AllowsUnidentified(ctx context.Context, apiDomain, version string) (bool, error) {
	return f.allowUnidentified[apiDomain+"/"+version], nil
}

type testEnv struct {
	clients  *fakeClients
	users    *fakeUsers
	sessions *fakeSessions
	apis     *fakeAPIs
	hasher   *security.Hasher
	router   *gin.Engine

	mu       sync.Mutex
	lastAuth *AuthContext
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		clients: &fakeClients{
			clients:      map[string]*clientdomain.Client{},
			roles:        map[string][]string{},
			restrictions: map[string][]*clientdomain.AccessRestriction{},
		},
		users:    &fakeUsers{users: map[string]*userdomain.User{}, roles: map[string][]string{}},
		sessions: &fakeSessions{byHash: map[string]*sessiondomain.SessionWithToken{}},
		apis:     &fakeAPIs{allowUnidentified: map[string]bool{}},
		hasher:   security.NewHasher(4),
	}

	mw := New(Options{
		Clients:            env.clients,
		Users:              env.users,
		Sessions:           env.sessions,
		APIs:               env.apis,
		Cache:              cache.NewMemory(),
		Hasher:             env.hasher,
		Limiter:            ratelimit.New(),
		CacheTTL:           time.Minute,
		SecretTTL:          time.Minute,
		DebugKey:           "debug-key",
		UnidentifiedPerSec: 100,
		SkipPaths:          []string{"/healthz"},
	})

	capture := func(c *gin.Context) {
		env.mu.Lock()
		env.lastAuth = GetAuthContext(c)
		env.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}

	r := gin.New()
	r.Use(mw.Handler())
	r.GET("/healthz", capture)
	r.GET("/ping", capture)
	r.NoRoute(capture)
	env.router = r
	return env
}

func (env *testEnv) addClient(t *testing.T, id, secret string, reqsPerSec int) {
	t.Helper()
	hash, err := env.hasher.Hash([]byte(secret))
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	env.clients.clients[id] = &clientdomain.Client{
		ID:           id,
		Name:         id,
		SecretBcrypt: hash,
		ReqsPerSec:   reqsPerSec,
	}
}

func (env *testEnv) do(method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func basicAuth(id, secret string) string {
	s := id
	if secret != "" {
		s += ":" + secret
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(s))
}

func bodyCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Error.Code
}

func TestMiddleware_UnknownClientNamesTheID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/ping", map[string]string{
		"Authorization": basicAuth("unknown-client", "secret"),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code := bodyCode(t, w); code != "CLIENT-NOT-FOUND" {
		t.Errorf("code = %q, want CLIENT-NOT-FOUND", code)
	}
	if !strings.Contains(w.Body.String(), "unknown-client") {
		t.Errorf("message does not name the client id: %s", w.Body.String())
	}
}

func TestMiddleware_WrongSecretIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "c1", "right-secret", ratelimit.Unlimited)

	w := env.do("GET", "/ping", map[string]string{
		"Authorization": basicAuth("c1", "wrong-secret"),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code := bodyCode(t, w); code != "INVALID-SECRET" {
		t.Errorf("code = %q, want INVALID-SECRET", code)
	}
}

func TestMiddleware_CorrectSecretAuthenticates(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "c1", "s3cret", ratelimit.Unlimited)
	env.clients.roles["c1"] = []string{"internal"}

	w := env.do("GET", "/ping", map[string]string{
		"Authorization": basicAuth("c1", "s3cret"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	auth := env.lastAuth
	if auth == nil {
		t.Fatal("no AuthContext attached")
	}
	if !auth.Authenticated {
		t.Error("Authenticated = false after correct secret")
	}
	if auth.ClientID != "c1" {
		t.Errorf("ClientID = %q, want c1", auth.ClientID)
	}
	if len(auth.ClientRoles) != 1 || auth.ClientRoles[0] != "internal" {
		t.Errorf("ClientRoles = %v, want [internal]", auth.ClientRoles)
	}
}

func TestMiddleware_MissingSecretIsIdentifiedNotAuthenticated(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "c1", "s3cret", ratelimit.Unlimited)

	w := env.do("GET", "/ping", map[string]string{
		"Authorization": basicAuth("c1", ""),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if env.lastAuth.Authenticated {
		t.Error("Authenticated = true without a secret")
	}
	if env.lastAuth.ClientID != "c1" {
		t.Errorf("ClientID = %q, want c1", env.lastAuth.ClientID)
	}
}

func TestMiddleware_IPRestrictionApplies(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "c1", "s3cret", ratelimit.Unlimited)
	env.clients.restrictions["c1"] = []*clientdomain.AccessRestriction{
		{ClientID: "c1", Type: clientdomain.RestrictionIP, Value: "10.0.0.0/8"},
	}

	// httptest requests come from 192.0.2.1, outside the allowed range.
	w := env.do("GET", "/ping", map[string]string{
		"Authorization": basicAuth("c1", "s3cret"),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code := bodyCode(t, w); code != "ACCESS-RESTRICTION-IP" {
		t.Errorf("code = %q, want ACCESS-RESTRICTION-IP", code)
	}
}

func TestMiddleware_RateLimitsPerClient(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "c1", "s3cret", 1)

	headers := map[string]string{"Authorization": basicAuth("c1", "s3cret")}
	if w := env.do("GET", "/ping", headers); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	w := env.do("GET", "/ping", headers)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if code := bodyCode(t, w); code != "RATE-LIMIT-EXCEEDED" {
		t.Errorf("code = %q, want RATE-LIMIT-EXCEEDED", code)
	}
}

func TestMiddleware_UnidentifiedProxyRequestNeedsAllowance(t *testing.T) {
	env := newTestEnv(t)
	env.apis.allowUnidentified["open/v1"] = true

	if w := env.do("GET", "/open/v1/things", nil); w.Code != http.StatusOK {
		t.Fatalf("allowed api status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if env.lastAuth.ClientID == "" {
		t.Error("unidentified request should carry the caller ip as client id")
	}

	w := env.do("GET", "/closed/v1/things", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("closed api status = %d, want 401", w.Code)
	}
	if code := bodyCode(t, w); code != "MISSING-BASIC-AUTH" {
		t.Errorf("code = %q, want MISSING-BASIC-AUTH", code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 is missing the WWW-Authenticate header")
	}
}

func TestMiddleware_SkipPathBypassesPipeline(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do("GET", "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
}

func (env *testEnv) addSession(t *testing.T, userID string, tokenType sessiondomain.TokenType, opts func(*sessiondomain.SessionWithToken)) string {
	t.Helper()
	raw, err := security.NewRawToken()
	if err != nil {
		t.Fatalf("NewRawToken: %v", err)
	}
	now := time.Now().UTC()
	st := &sessiondomain.SessionWithToken{
		Session: sessiondomain.Session{
			ID:        "sess-" + raw[:8],
			UserID:    userID,
			IP:        "192.0.2.1",
			CreatedAt: now,
			ExpiresAt: now.Add(48 * time.Hour),
		},
		Token: sessiondomain.Token{
			TokenSHA256: security.HashToken(raw),
			Type:        tokenType,
			CreatedAt:   now,
			ExpiresAt:   now.Add(20 * time.Minute),
		},
	}
	st.Token.SessionID = st.Session.ID
	if opts != nil {
		opts(st)
	}
	env.sessions.byHash[st.Token.TokenSHA256] = st
	return raw
}

func TestMiddleware_ValidSessionTokenResolvesUser(t *testing.T) {
	env := newTestEnv(t)
	env.users.users["u1"] = &userdomain.User{ID: "u1", Name: "User One"}
	env.users.roles["u1"] = []string{"employee"}
	raw := env.addSession(t, "u1", sessiondomain.TokenSession, nil)

	w := env.do("GET", "/ping", map[string]string{
		"Authorization": "Bearer session:" + raw,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	auth := env.lastAuth
	if auth.User == nil {
		t.Fatal("no user resolved")
	}
	if auth.User.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", auth.User.UserID)
	}
	if len(auth.User.Roles) != 1 || auth.User.Roles[0] != "employee" {
		t.Errorf("Roles = %v, want [employee]", auth.User.Roles)
	}
}

func TestMiddleware_RefreshTokenAsBearerIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	env.users.users["u1"] = &userdomain.User{ID: "u1"}
	raw := env.addSession(t, "u1", sessiondomain.TokenRefresh, nil)

	w := env.do("GET", "/ping", map[string]string{
		"Authorization": "Bearer session:" + raw,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := bodyCode(t, w); code != "REFRESH-TOKEN-PASSED" {
		t.Errorf("code = %q, want REFRESH-TOKEN-PASSED", code)
	}
}

func TestMiddleware_BearerWithoutProtocolPrefixIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("GET", "/ping", map[string]string{
		"Authorization": "Bearer some-opaque-token",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := bodyCode(t, w); code != "UNSUPPORTED-TOKEN-PROTOCOL" {
		t.Errorf("code = %q, want UNSUPPORTED-TOKEN-PROTOCOL", code)
	}
}

func TestMiddleware_SessionTokenErrorsInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.users.users["u1"] = &userdomain.User{ID: "u1"}
	now := time.Now().UTC()

	expiredSession := env.addSession(t, "u1", sessiondomain.TokenSession, func(st *sessiondomain.SessionWithToken) {
		st.Session.ExpiresAt = now.Add(-time.Hour)
	})
	expiredToken := env.addSession(t, "u1", sessiondomain.TokenSession, func(st *sessiondomain.SessionWithToken) {
		st.Token.ExpiresAt = now.Add(-time.Minute)
	})
	invalidated := env.addSession(t, "u1", sessiondomain.TokenSession, func(st *sessiondomain.SessionWithToken) {
		at := now.Add(-time.Minute)
		st.Session.InvalidatedAt = &at
	})
	unknown, _ := security.NewRawToken()

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"unknown token", unknown, "SESSION-TOKEN-NOT-FOUND"},
		{"junk token", "abc", "SESSION-TOKEN-NOT-FOUND"},
		{"expired session", expiredSession, "SESSION-EXPIRED"},
		{"expired token", expiredToken, "SESSION-TOKEN-EXPIRED"},
		{"invalidated session", invalidated, "SESSION-INVALIDATED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", "/ping", map[string]string{
				"Authorization": "Bearer session:" + tt.token,
			})
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if code := bodyCode(t, w); code != tt.code {
				t.Errorf("code = %q, want %q", code, tt.code)
			}
		})
	}
}

func TestMiddleware_BannedAndDeletedUsersAreForbidden(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	env.users.users["banned"] = &userdomain.User{ID: "banned", BannedAt: &now}
	env.users.users["deleted"] = &userdomain.User{ID: "deleted", DeletedAt: &now}

	bannedToken := env.addSession(t, "banned", sessiondomain.TokenSession, nil)
	deletedToken := env.addSession(t, "deleted", sessiondomain.TokenSession, nil)

	w := env.do("GET", "/ping", map[string]string{"Authorization": "Bearer session:" + bannedToken})
	if w.Code != http.StatusForbidden || bodyCode(t, w) != "USER-BANNED" {
		t.Errorf("banned: status %d code %q, want 403 USER-BANNED", w.Code, bodyCode(t, w))
	}

	w = env.do("GET", "/ping", map[string]string{"Authorization": "Bearer session:" + deletedToken})
	if w.Code != http.StatusForbidden || bodyCode(t, w) != "USER-DELETED" {
		t.Errorf("deleted: status %d code %q, want 403 USER-DELETED", w.Code, bodyCode(t, w))
	}
}

func TestMiddleware_DebugFlagRequiresMatchingKey(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "c1", "s3cret", ratelimit.Unlimited)
	headers := map[string]string{
		"Authorization": basicAuth("c1", "s3cret"),
		"X-Debug-Key":   "debug-key",
	}
	if w := env.do("GET", "/ping", headers); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !env.lastAuth.Debug {
		t.Error("Debug = false with the correct debug key")
	}

	headers["X-Debug-Key"] = "wrong"
	if w := env.do("GET", "/ping", headers); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if env.lastAuth.Debug {
		t.Error("Debug = true with a wrong debug key")
	}
}
