package gateway

import "github.com/gin-gonic/gin"

// SessionUser is the resolved end user on an authenticated request.
type SessionUser struct {
	SessionID string   `json:"sid"`
	UserID    string   `json:"id"`
	Roles     []string `json:"r,omitempty"`
}

// AuthContext is the resolved identity of a request, built once by the
// gateway middleware and consumed by every downstream handler and the proxy.
// The JSON field names are the wire format of the identity assertion sent to
// backends, so they stay short.
type AuthContext struct {
	// ClientID is the authenticated or identified client, or the caller ip
	// for unidentified requests.
	ClientID string `json:"c"`
	// Authenticated is true only when a client secret was verified.
	Authenticated bool     `json:"a"`
	ClientRoles   []string `json:"r,omitempty"`
	Debug         bool     `json:"d,omitempty"`
	IP            string   `json:"ip"`
	User          *SessionUser `json:"u,omitempty"`
}

const authContextKey = "gateway.authcontext"

// SetAuthContext attaches auth to the request context.
func SetAuthContext(c *gin.Context, auth *AuthContext) {
	c.Set(authContextKey, auth)
}

// GetAuthContext returns the request's AuthContext, or nil if the gateway
// middleware has not run.
func GetAuthContext(c *gin.Context) *AuthContext {
	v, ok := c.Get(authContextKey)
	if !ok {
		return nil
	}
	auth, _ := v.(*AuthContext)
	return auth
}
