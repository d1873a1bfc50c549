// Package gateway implements the request authentication pipeline: credential
// parsing, client authentication, access restrictions, rate limiting, bearer
// session validation, and the AuthContext every downstream handler consumes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"auth-gateway/internal/cache"
	clientdomain "auth-gateway/internal/client/domain"
	"auth-gateway/internal/httperr"
	"auth-gateway/internal/metrics"
	"auth-gateway/internal/ratelimit"
	"auth-gateway/internal/security"
	sessiondomain "auth-gateway/internal/session/domain"
	userdomain "auth-gateway/internal/user/domain"
)

// ClientDirectory is the client lookup surface the middleware needs.
type ClientDirectory interface {
	GetByID(ctx context.Context, id string) (*clientdomain.Client, error)
	ListRoles(ctx context.Context, clientID string) ([]string, error)
	ListAccessRestrictions(ctx context.Context, clientID string) ([]*clientdomain.AccessRestriction, error)
}

// UserDirectory is the user lookup surface the middleware needs.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	ListRoles(ctx context.Context, userID string) ([]string, error)
}

// SessionResolver resolves a bearer token digest to its session.
type SessionResolver interface {
	GetByTokenHash(ctx context.Context, tokenSHA256 string) (*sessiondomain.SessionWithToken, error)
}

// APIResolver resolves a requested API name and version to its directory
// entry.
type APIResolver interface {
	AllowsUnidentified(ctx context.Context, apiDomain, version string) (bool, error)
}

// Options configures the middleware.
type Options struct {
	Clients       ClientDirectory
	Users         UserDirectory
	Sessions      SessionResolver
	APIs          APIResolver
	Cache         cache.Cache
	Hasher        *security.Hasher
	Limiter       *ratelimit.Limiter
	CacheTTL      time.Duration
	SecretTTL     time.Duration
	DebugKey      string
	UnidentifiedPerSec int
	// SkipPaths are exact paths the pipeline ignores (health, metrics).
	SkipPaths []string
}

// Middleware is the gateway authentication pipeline, applied to every route
// including the proxied ones.
type Middleware struct {
	opts Options
	skip map[string]bool
	nowF func() time.Time
}

// New returns the pipeline middleware.
func New(opts Options) *Middleware {
	skip := make(map[string]bool, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = true
	}
	return &Middleware{
		opts: opts,
		skip: skip,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// clientRecord is the cached shape of a client lookup. The secret hash is
// carried explicitly because Client never serializes it.
type clientRecord struct {
	Client       *clientdomain.Client              `json:"client"`
	SecretBcrypt string                            `json:"secretBcrypt"`
	Roles        []string                          `json:"roles"`
	Restrictions []*clientdomain.AccessRestriction `json:"restrictions"`
}

// Handler runs the pipeline. On success it attaches an AuthContext and calls
// the next handler; on failure it renders the error and aborts.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		creds := ParseCredentials(c.GetHeader("Authorization"))
		ip := c.ClientIP()
		host := c.GetHeader("Origin")
		apiName, apiVersion := splitAPIPath(c.Request.URL.Path)

		auth := &AuthContext{
			IP:    ip,
			Debug: m.opts.DebugKey != "" && c.GetHeader("X-Debug-Key") == m.opts.DebugKey,
		}

		if creds.ClientID != "" {
			record, err := m.resolveClient(ctx, creds.ClientID)
			if err != nil {
				m.fail(c, err)
				return
			}
			if record == nil {
				m.fail(c, httperr.Unauthorized("CLIENT-NOT-FOUND",
					fmt.Sprintf("Client '%s' does not exist.", creds.ClientID)))
				return
			}

			if creds.ClientSecret != "" {
				ok, err := m.checkSecret(ctx, creds.ClientSecret, record.SecretBcrypt)
				if err != nil {
					m.fail(c, err)
					return
				}
				if !ok {
					m.fail(c, httperr.Unauthorized("INVALID-SECRET",
						"The supplied client secret is not valid."))
					return
				}
				auth.Authenticated = true
			}

			if err := EnforceRestrictions(record.Restrictions, ip, host, apiName); err != nil {
				m.fail(c, err)
				return
			}

			if !m.opts.Limiter.Allow("client:"+record.Client.ID, record.Client.ReqsPerSec) {
				m.fail(c, httperr.TooManyRequests("RATE-LIMIT-EXCEEDED",
					"Too many requests. Please slow down."))
				return
			}

			auth.ClientID = record.Client.ID
			auth.ClientRoles = record.Roles
		} else {
			// Unidentified requests reach backends only when the requested
			// API explicitly allows them, and are rate limited per ip.
			// Requests to the gateway's own routes (login etc.) skip the
			// directory check.
			if c.FullPath() == "" {
				allowed, err := m.opts.APIs.AllowsUnidentified(ctx, apiName, apiVersion)
				if err != nil {
					m.fail(c, err)
					return
				}
				if !allowed {
					e := httperr.Unauthorized("MISSING-BASIC-AUTH",
						"This API does not accept unidentified requests. Supply client credentials.")
					e.Headers = map[string]string{"WWW-Authenticate": `Basic realm="api"`}
					m.fail(c, e)
					return
				}
			}

			if !m.opts.Limiter.Allow("ip:"+ip, m.opts.UnidentifiedPerSec) {
				m.fail(c, httperr.TooManyRequests("RATE-LIMIT-EXCEEDED",
					"Too many requests. Please slow down."))
				return
			}

			auth.ClientID = ip
		}

		if creds.Bearer != "" {
			su, err := m.resolveSessionUser(ctx, creds.Bearer)
			if err != nil {
				m.fail(c, err)
				return
			}
			auth.User = su
		}

		metrics.RequestsTotal.WithLabelValues(metrics.DecisionAllowed).Inc()
		SetAuthContext(c, auth)
		c.Next()
	}
}

// resolveClient loads the client with roles and restrictions through the
// cache. Unknown and soft-deleted clients yield nil.
func (m *Middleware) resolveClient(ctx context.Context, id string) (*clientRecord, error) {
	record, err := cache.GetOrFillJSON(ctx, m.opts.Cache, "client:"+id, m.opts.CacheTTL,
		func(ctx context.Context) (*clientRecord, error) {
			cl, err := m.opts.Clients.GetByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if cl == nil {
				return &clientRecord{}, nil
			}
			roles, err := m.opts.Clients.ListRoles(ctx, cl.ID)
			if err != nil {
				return nil, err
			}
			restrictions, err := m.opts.Clients.ListAccessRestrictions(ctx, cl.ID)
			if err != nil {
				return nil, err
			}
			return &clientRecord{
				Client:       cl,
				SecretBcrypt: cl.SecretBcrypt,
				Roles:        roles,
				Restrictions: restrictions,
			}, nil
		})
	if err != nil {
		return nil, err
	}
	if record == nil || record.Client == nil {
		return nil, nil
	}
	record.Client.SecretBcrypt = record.SecretBcrypt
	return record, nil
}

// checkSecret verifies the supplied secret against the stored bcrypt hash,
// caching the boolean result keyed by a digest of the pair so repeated
// requests skip the deliberately expensive comparison.
func (m *Middleware) checkSecret(ctx context.Context, secret, hash string) (bool, error) {
	key := "secret-check:" + security.HashToken(secret+":"+hash)
	b, err := m.opts.Cache.GetOrFill(ctx, key, m.opts.SecretTTL,
		func(ctx context.Context) ([]byte, error) {
			err := m.opts.Hasher.Compare(hash, []byte(secret))
			if err == nil {
				return []byte("1"), nil
			}
			if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				// Corrupt stored hash. Counts as a mismatch.
				slog.Error("client secret comparison failed", "error", err)
			}
			return []byte("0"), nil
		})
	if err != nil {
		return false, err
	}
	return string(b) == "1", nil
}

// resolveSessionUser validates the bearer token and loads the user behind it.
func (m *Middleware) resolveSessionUser(ctx context.Context, bearer string) (*SessionUser, error) {
	raw, ok := strings.CutPrefix(bearer, "session:")
	if !ok {
		return nil, httperr.BadRequest("UNSUPPORTED-TOKEN-PROTOCOL",
			"Bearer tokens must carry a supported protocol prefix, e.g. 'session:<token>'.")
	}
	if !security.IsRawToken(raw) {
		return nil, httperr.Unauthorized("SESSION-TOKEN-NOT-FOUND",
			"The supplied session token does not exist.")
	}

	st, err := m.opts.Sessions.GetByTokenHash(ctx, security.HashToken(raw))
	if err != nil {
		return nil, err
	}
	now := m.nowF()
	switch {
	case st == nil:
		return nil, httperr.Unauthorized("SESSION-TOKEN-NOT-FOUND",
			"The supplied session token does not exist.")
	case st.Token.Type != sessiondomain.TokenSession:
		return nil, httperr.BadRequest("REFRESH-TOKEN-PASSED",
			"A refresh token cannot be used as a session token.")
	case now.After(st.Session.ExpiresAt):
		return nil, httperr.Unauthorized("SESSION-EXPIRED", "The session has expired.")
	case now.After(st.Token.ExpiresAt):
		return nil, httperr.Unauthorized("SESSION-TOKEN-EXPIRED",
			"The session token has expired. Refresh the session.")
	case st.Session.InvalidatedAt != nil || st.Token.InvalidatedAt != nil:
		return nil, httperr.Unauthorized("SESSION-INVALIDATED", "The session has been invalidated.")
	}

	u, err := m.opts.Users.GetByID(ctx, st.Session.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.DeletedAt != nil {
		return nil, httperr.Forbidden("USER-DELETED", "This account has been deleted.")
	}
	if u.BannedAt != nil {
		return nil, httperr.Forbidden("USER-BANNED", "This account has been banned.")
	}

	roles, err := m.opts.Users.ListRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &SessionUser{SessionID: st.Session.ID, UserID: u.ID, Roles: roles}, nil
}

func (m *Middleware) fail(c *gin.Context, err error) {
	e := httperr.From(err)
	switch e.Status {
	case http.StatusUnauthorized:
		metrics.RequestsTotal.WithLabelValues(metrics.DecisionUnauthenticated).Inc()
	case http.StatusForbidden:
		metrics.RequestsTotal.WithLabelValues(metrics.DecisionRestricted).Inc()
	case http.StatusTooManyRequests:
		metrics.RequestsTotal.WithLabelValues(metrics.DecisionRateLimited).Inc()
	default:
		metrics.RequestsTotal.WithLabelValues(metrics.DecisionBadRequest).Inc()
	}
	httperr.Render(c, err)
}

// splitAPIPath extracts the API name and version from the first two path
// segments of a proxied request (/accounts/v1/... yields "accounts", "v1").
func splitAPIPath(path string) (name, version string) {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) > 0 {
		name = parts[0]
	}
	if len(parts) > 1 {
		version = parts[1]
	}
	return name, version
}
