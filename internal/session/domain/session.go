package domain

import "time"

// TokenType distinguishes the two credentials a session rotates through.
type TokenType string

const (
	// TokenSession is the short-lived credential presented on API requests.
	TokenSession TokenType = "session"
	// TokenRefresh is the single-use credential exchanged for a new pair.
	TokenRefresh TokenType = "refresh"
)

// Session is a logged-in user's authenticated period.
type Session struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	UserAgent     string     `json:"userAgent,omitempty"`
	IP            string     `json:"ip"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	InvalidatedAt *time.Time `json:"invalidatedAt,omitempty"`
}

// Token is one session or refresh token row. Only the sha-256 digest of the
// raw token is stored; TokenSHA256 is that digest, hex-encoded, and is the
// primary key.
type Token struct {
	TokenSHA256   string
	Type          TokenType
	SessionID     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ConsumedAt    *time.Time // refresh tokens only; set exactly once
	InvalidatedAt *time.Time
}

// SessionWithToken is the join result of looking a session up by one of its
// tokens.
type SessionWithToken struct {
	Session Session
	Token   Token
}
