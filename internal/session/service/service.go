// Package service implements the session lifecycle: multi-step login,
// session issuance, refresh with single-use token consumption, and logout.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	clientdomain "auth-gateway/internal/client/domain"
	"auth-gateway/internal/httperr"
	"auth-gateway/internal/mailer"
	"auth-gateway/internal/security"
	"auth-gateway/internal/session/domain"
	"auth-gateway/internal/session/repository"
	"auth-gateway/internal/throttle"
	userdomain "auth-gateway/internal/user/domain"
	verification "auth-gateway/internal/verification"
	verifdomain "auth-gateway/internal/verification/domain"
)

// StepTotp is returned from the password and code steps when the account
// requires a TOTP second factor before a session is issued.
const StepTotp = "totp-step"

// UserDirectory is the user lookup surface the lifecycle needs.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetEmail(ctx context.Context, address string) (*userdomain.Email, error)
}

// TokenPair is a freshly issued session. The raw tokens appear here exactly
// once; only their digests are stored.
type TokenPair struct {
	SessionID             string    `json:"sessionId"`
	SessionToken          string    `json:"sessionToken"`
	RefreshToken          string    `json:"refreshToken"`
	SessionTokenExpiresAt time.Time `json:"sessionTokenExpiresAt"`
	SessionExpiresAt      time.Time `json:"sessionExpiresAt"`
}

// LoginResult is the outcome of a login step: either a session, or the name
// of the step still required.
type LoginResult struct {
	Step    string     `json:"step,omitempty"`
	Session *TokenPair `json:"session,omitempty"`
}

// Caller identifies who is asking for a privileged operation, as resolved by
// the gateway pipeline.
type Caller struct {
	SessionID           string
	UserID              string
	UserRoles           []string
	ClientRoles         []string
	ClientAuthenticated bool
}

// Artifact is one item of a logout request: a session id or a raw token.
type Artifact struct {
	Type  string `json:"t"`
	Value string `json:"value"`
}

// Artifact types accepted by Invalidate.
const (
	ArtifactSessions      = "sessions"
	ArtifactSessionTokens = "session-tokens"
	ArtifactRefreshTokens = "refresh-tokens"
)

// Service drives the session lifecycle.
type Service struct {
	sessions repository.Repository
	users    UserDirectory
	codes    *verification.Service
	mail     mailer.Mailer
	hasher   *security.Hasher
	throttle *throttle.Throttle

	sessionTTL   time.Duration
	tokenTTL     time.Duration
	loginCodeTTL time.Duration

	nowF func() time.Time
}

// Config carries the lifecycle's collaborators and TTLs.
type Config struct {
	Sessions repository.Repository
	Users    UserDirectory
	Codes    *verification.Service
	// Mail may be nil; the email login channel then reports itself as not
	// implemented.
	Mail     mailer.Mailer
	Hasher   *security.Hasher
	Throttle *throttle.Throttle

	SessionTTL   time.Duration
	TokenTTL     time.Duration
	LoginCodeTTL time.Duration
}

// New returns a session lifecycle service.
func New(cfg Config) *Service {
	return &Service{
		sessions:     cfg.Sessions,
		users:        cfg.Users,
		codes:        cfg.Codes,
		mail:         cfg.Mail,
		hasher:       cfg.Hasher,
		throttle:     cfg.Throttle,
		sessionTTL:   cfg.SessionTTL,
		tokenTTL:     cfg.TokenTTL,
		loginCodeTTL: cfg.LoginCodeTTL,
		nowF:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession issues a session for the user with a fresh token pair. Both
// tokens are random and independent; the session token is short-lived, the
// refresh token lives as long as the session.
func (s *Service) CreateSession(ctx context.Context, userID, ip, userAgent string) (*TokenPair, error) {
	now := s.nowF()
	sess := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	rawSession, err := security.NewRawToken()
	if err != nil {
		return nil, err
	}
	rawRefresh, err := security.NewRawToken()
	if err != nil {
		return nil, err
	}

	tokenExpiry := now.Add(s.tokenTTL)
	if err := s.sessions.CreateToken(ctx, &domain.Token{
		TokenSHA256: security.HashToken(rawSession),
		Type:        domain.TokenSession,
		SessionID:   sess.ID,
		CreatedAt:   now,
		ExpiresAt:   tokenExpiry,
	}); err != nil {
		return nil, err
	}
	if err := s.sessions.CreateToken(ctx, &domain.Token{
		TokenSHA256: security.HashToken(rawRefresh),
		Type:        domain.TokenRefresh,
		SessionID:   sess.ID,
		CreatedAt:   now,
		ExpiresAt:   sess.ExpiresAt,
	}); err != nil {
		return nil, err
	}

	return &TokenPair{
		SessionID:             sess.ID,
		SessionToken:          rawSession,
		RefreshToken:          rawRefresh,
		SessionTokenExpiresAt: tokenExpiry,
		SessionExpiresAt:      sess.ExpiresAt,
	}, nil
}

// LoginWithEmail starts a code-based login: it issues a login code bound to
// the caller's state token and delivers it to the address.
func (s *Service) LoginWithEmail(ctx context.Context, email, state string) error {
	if s.mail == nil {
		return httperr.NotImplemented("NOT-IMPLEMENTED",
			"Logging in by emailed code is not available.")
	}
	if _, err := s.loginUser(ctx, email); err != nil {
		return err
	}
	code, err := s.issueLoginCode(ctx, email, state)
	if err != nil {
		return err
	}
	return s.mail.SendLoginCode(ctx, email, code)
}

// LoginWithPassword checks the password and either issues a session or, for
// accounts enrolled in TOTP, parks the login behind a second-factor step.
func (s *Service) LoginWithPassword(ctx context.Context, email, password, state, ip, userAgent string) (*LoginResult, error) {
	u, err := s.loginUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if u.PasswordBcrypt == "" {
		return nil, httperr.Unauthorized("INCORRECT-PASSWORD", "The password is not correct.")
	}
	if err := s.hasher.Compare(u.PasswordBcrypt, []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, err
		}
		return nil, httperr.Unauthorized("INCORRECT-PASSWORD", "The password is not correct.")
	}
	return s.finishLogin(ctx, u, email, state, ip, userAgent)
}

// LoginWithCode redeems an emailed login code.
func (s *Service) LoginWithCode(ctx context.Context, code, state, ip, userAgent string) (*LoginResult, error) {
	redeemed, err := s.codes.Redeem(ctx, verifdomain.KindLogin, code, state)
	if err != nil {
		return nil, mapCodeError(err)
	}
	u, err := s.loginUser(ctx, redeemed.Email)
	if err != nil {
		return nil, err
	}
	return s.finishLogin(ctx, u, redeemed.Email, state, ip, userAgent)
}

// LoginWithTotp completes a login parked behind the TOTP step. The pending
// login is found by the caller's state token.
func (s *Service) LoginWithTotp(ctx context.Context, totpCode, state, ip, userAgent string) (*LoginResult, error) {
	pending, err := s.codes.PendingLogin(ctx, state)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, httperr.Unauthorized("CODE-NOT-FOUND", "There is no login in progress for this state.")
	}
	if s.nowF().After(pending.ExpiresAt) {
		return nil, httperr.Unauthorized("CODE-EXPIRED", "The login attempt has expired. Start over.")
	}
	u, err := s.loginUser(ctx, pending.Email)
	if err != nil {
		return nil, err
	}
	if !u.TOTPRequired() {
		return nil, httperr.BadRequest("TOTP-NOT-ENROLLED", "This account has no second factor enrolled.")
	}
	if !totp.Validate(totpCode, u.TOTPSecret) {
		return nil, httperr.Unauthorized("INCORRECT-TOTP", "The one-time code is not correct.")
	}
	if err := s.codes.ConsumePending(ctx, pending.CodeSHA256); err != nil {
		return nil, mapCodeError(err)
	}
	pair, err := s.CreateSession(ctx, u.ID, ip, userAgent)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: pair}, nil
}

// Refresh exchanges a refresh token for a new token pair on the same session.
// Consumption is a single conditional update so a token can be spent once.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	if !security.IsRawToken(rawRefresh) {
		return nil, httperr.Unauthorized("REFRESH-TOKEN-NOT-FOUND",
			"The supplied refresh token does not exist.")
	}
	st, err := s.sessions.GetByTokenHash(ctx, security.HashToken(rawRefresh))
	if err != nil {
		return nil, err
	}
	now := s.nowF()
	switch {
	case st == nil:
		return nil, httperr.Unauthorized("REFRESH-TOKEN-NOT-FOUND",
			"The supplied refresh token does not exist.")
	case st.Token.Type != domain.TokenRefresh:
		return nil, httperr.BadRequest("SESSION-TOKEN-PASSED",
			"A session token cannot be used to refresh a session.")
	case st.Token.ConsumedAt != nil:
		return nil, httperr.Unauthorized("REFRESH-TOKEN-CONSUMED",
			"The refresh token has already been used.")
	case st.Token.InvalidatedAt != nil || st.Session.InvalidatedAt != nil:
		return nil, httperr.Unauthorized("SESSION-INVALIDATED", "The session has been invalidated.")
	case now.After(st.Token.ExpiresAt):
		return nil, httperr.Unauthorized("REFRESH-TOKEN-EXPIRED", "The refresh token has expired.")
	case now.After(st.Session.ExpiresAt):
		return nil, httperr.Unauthorized("SESSION-EXPIRED", "The session has expired.")
	}

	won, err := s.sessions.ConsumeToken(ctx, st.Token.TokenSHA256, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, httperr.Unauthorized("REFRESH-TOKEN-CONSUMED",
			"The refresh token has already been used.")
	}

	rawSession, err := security.NewRawToken()
	if err != nil {
		return nil, err
	}
	rawNext, err := security.NewRawToken()
	if err != nil {
		return nil, err
	}
	tokenExpiry := now.Add(s.tokenTTL)
	if err := s.sessions.CreateToken(ctx, &domain.Token{
		TokenSHA256: security.HashToken(rawSession),
		Type:        domain.TokenSession,
		SessionID:   st.Session.ID,
		CreatedAt:   now,
		ExpiresAt:   tokenExpiry,
	}); err != nil {
		return nil, err
	}
	if err := s.sessions.CreateToken(ctx, &domain.Token{
		TokenSHA256: security.HashToken(rawNext),
		Type:        domain.TokenRefresh,
		SessionID:   st.Session.ID,
		CreatedAt:   now,
		ExpiresAt:   st.Session.ExpiresAt,
	}); err != nil {
		return nil, err
	}

	return &TokenPair{
		SessionID:             st.Session.ID,
		SessionToken:          rawSession,
		RefreshToken:          rawNext,
		SessionTokenExpiresAt: tokenExpiry,
		SessionExpiresAt:      st.Session.ExpiresAt,
	}, nil
}

// Invalidate logs sessions out. Each artifact resolves to a session; the
// caller must own it or be privileged, otherwise the artifact is skipped
// without revealing whether it exists. With no artifacts the caller's own
// session is invalidated. Returns the invalidated session ids.
func (s *Service) Invalidate(ctx context.Context, caller Caller, artifacts []Artifact) ([]string, error) {
	if len(artifacts) == 0 {
		if caller.SessionID == "" {
			return nil, httperr.BadRequest("NO-SESSION-TO-INVALIDATE",
				"There is no session to invalidate.")
		}
		artifacts = []Artifact{{Type: ArtifactSessions, Value: caller.SessionID}}
	}

	privileged := caller.ClientAuthenticated && contains(caller.ClientRoles, clientdomain.RoleInternal) ||
		contains(caller.UserRoles, userdomain.RoleSysadmin) ||
		contains(caller.UserRoles, userdomain.RoleEmployee)

	now := s.nowF()
	var invalidated []string
	for _, a := range artifacts {
		sess, token, err := s.resolveArtifact(ctx, a)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			continue
		}
		if sess.UserID != caller.UserID && !privileged {
			continue
		}
		if err := s.sessions.Invalidate(ctx, sess.ID, now); err != nil {
			return nil, err
		}
		if token != nil && token.Type == domain.TokenRefresh {
			if _, err := s.sessions.ConsumeToken(ctx, token.TokenSHA256, now); err != nil {
				return nil, err
			}
		}
		invalidated = append(invalidated, sess.ID)
	}
	return invalidated, nil
}

// List returns sessions matching filter for the page, without token material.
func (s *Service) List(ctx context.Context, filter *domain.Filter, page domain.Page) ([]*domain.Session, error) {
	return s.sessions.List(ctx, filter, page)
}

func (s *Service) resolveArtifact(ctx context.Context, a Artifact) (*domain.Session, *domain.Token, error) {
	switch a.Type {
	case ArtifactSessions:
		sess, err := s.sessions.GetByID(ctx, a.Value)
		return sess, nil, err
	case ArtifactSessionTokens, ArtifactRefreshTokens:
		if !security.IsRawToken(a.Value) {
			return nil, nil, nil
		}
		st, err := s.sessions.GetByTokenHash(ctx, security.HashToken(a.Value))
		if err != nil || st == nil {
			return nil, nil, err
		}
		return &st.Session, &st.Token, nil
	default:
		return nil, nil, httperr.BadRequest("INVALID-ARTIFACT-TYPE",
			"Artifacts must be of type 'sessions', 'session-tokens', or 'refresh-tokens'.")
	}
}

// loginUser throttles the attempt and resolves the address to a usable
// account.
func (s *Service) loginUser(ctx context.Context, email string) (*userdomain.User, error) {
	if !s.throttle.Hit("login:" + email) {
		return nil, httperr.TooManyRequests("TOO-MANY-LOGIN-ATTEMPTS",
			"Too many login attempts. Try again later.")
	}
	e, err := s.users.GetEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, httperr.Unauthorized("EMAIL-NOT-FOUND",
			"There is no account for this email address.")
	}
	u, err := s.users.GetByID(ctx, e.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.DeletedAt != nil {
		return nil, httperr.Forbidden("USER-DELETED", "This account has been deleted.")
	}
	if u.BannedAt != nil {
		return nil, httperr.Forbidden("USER-BANNED", "This account has been banned.")
	}
	return u, nil
}

// finishLogin issues the session, or parks the login behind the TOTP step by
// recording a pending login code for the state.
func (s *Service) finishLogin(ctx context.Context, u *userdomain.User, email, state, ip, userAgent string) (*LoginResult, error) {
	if u.TOTPRequired() {
		if _, err := s.issueLoginCode(ctx, email, state); err != nil {
			return nil, err
		}
		return &LoginResult{Step: StepTotp}, nil
	}
	pair, err := s.CreateSession(ctx, u.ID, ip, userAgent)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: pair}, nil
}

func (s *Service) issueLoginCode(ctx context.Context, email, state string) (string, error) {
	code, err := s.codes.Issue(ctx, verifdomain.KindLogin, email, state, s.loginCodeTTL)
	if err != nil {
		return "", mapCodeError(err)
	}
	return code, nil
}

func mapCodeError(err error) error {
	switch {
	case errors.Is(err, verification.ErrInvalidState):
		return httperr.BadRequest("INVALID-STATE",
			"The state must be a 32 character hex token.")
	case errors.Is(err, verification.ErrNotFound):
		return httperr.Unauthorized("CODE-NOT-FOUND", "The code does not exist.")
	case errors.Is(err, verification.ErrWrongType):
		return httperr.BadRequest("CODE-NOT-VALID-TYPE", "The code is of a different type.")
	case errors.Is(err, verification.ErrStateMismatch):
		return httperr.Unauthorized("CODE-NOT-VALID", "The code is not valid for this state.")
	case errors.Is(err, verification.ErrExpired):
		return httperr.Unauthorized("CODE-EXPIRED", "The code has expired.")
	case errors.Is(err, verification.ErrConsumed):
		return httperr.Unauthorized("CODE-CONSUMED", "The code has already been used.")
	case errors.Is(err, verification.ErrInvalidated):
		return httperr.Unauthorized("CODE-INVALIDATED", "The code has been invalidated.")
	default:
		return err
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
