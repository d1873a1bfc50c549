package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"auth-gateway/internal/httperr"
	"auth-gateway/internal/security"
	"auth-gateway/internal/session/domain"
	"auth-gateway/internal/throttle"
	userdomain "auth-gateway/internal/user/domain"
	"auth-gateway/internal/verification"
	verifdomain "auth-gateway/internal/verification/domain"
)

const testState = "0123456789abcdef0123456789abcdef"

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	tokens   map[string]*domain.Token
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: map[string]*domain.Session{},
		tokens:   map[string]*domain.Token{},
	}
}

func (r *memSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) CreateToken(ctx context.Context, t *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.TokenSHA256] = &cp
	return nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) GetByTokenHash(ctx context.Context, hash string) (*domain.SessionWithToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[hash]
	if !ok {
		return nil, nil
	}
	s, ok := r.sessions[t.SessionID]
	if !ok {
		return nil, nil
	}
	return &domain.SessionWithToken{Session: *s, Token: *t}, nil
}

func (r *memSessionRepo) Invalidate(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.InvalidatedAt == nil {
		t := at
		s.InvalidatedAt = &t
	}
	return nil
}

func (r *memSessionRepo) ConsumeToken(ctx context.Context, hash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[hash]
	if !ok || t.ConsumedAt != nil {
		return false, nil
	}
	ts := at
	t.ConsumedAt = &ts
	return true, nil
}

func (r *memSessionRepo) List(ctx context.Context, filter *domain.Filter, page domain.Page) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if filter != nil && filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

type memCodeRepo struct {
	mu sync.Mutex
	m  map[string]*verifdomain.Code
}

func newMemCodeRepo() *memCodeRepo {
	return &memCodeRepo{m: map[string]*verifdomain.Code{}}
}

func (r *memCodeRepo) Create(ctx context.Context, c *verifdomain.Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.m[c.CodeSHA256] = &cp
	return nil
}

func (r *memCodeRepo) GetByHash(ctx context.Context, hash string) (*verifdomain.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[hash]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memCodeRepo) GetPendingLogin(ctx context.Context, state string) (*verifdomain.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *verifdomain.Code
	for _, c := range r.m {
		if c.Type != verifdomain.KindLogin || c.State != state || c.ConsumedAt != nil || c.InvalidatedAt != nil {
			continue
		}
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			newest = c
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (r *memCodeRepo) Consume(ctx context.Context, hash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[hash]
	if !ok || c.ConsumedAt != nil {
		return false, nil
	}
	t := at
	c.ConsumedAt = &t
	return true, nil
}

func (r *memCodeRepo) InvalidateOutstanding(ctx context.Context, email string, kind verifdomain.Kind, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.m {
		if c.Email == email && c.Type == kind && c.ConsumedAt == nil && c.InvalidatedAt == nil {
			t := at
			c.InvalidatedAt = &t
		}
	}
	return nil
}

type memUsers struct {
	mu     sync.Mutex
	byID   map[string]*userdomain.User
	emails map[string]*userdomain.Email
}

func (r *memUsers) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *memUsers) GetEmail(ctx context.Context, address string) (*userdomain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emails[address], nil
}

type recordingMailer struct {
	mu    sync.Mutex
	codes []string
}

func (m *recordingMailer) SendLoginCode(ctx context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
	return nil
}

func (m *recordingMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	return m.SendLoginCode(ctx, email, code)
}

func (m *recordingMailer) last(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		t.Fatal("no code was delivered")
	}
	return m.codes[len(m.codes)-1]
}

type fixture struct {
	svc      *Service
	sessions *memSessionRepo
	users    *memUsers
	mail     *recordingMailer
	hasher   *security.Hasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions: newMemSessionRepo(),
		users:    &memUsers{byID: map[string]*userdomain.User{}, emails: map[string]*userdomain.Email{}},
		mail:     &recordingMailer{},
		hasher:   security.NewHasher(4),
	}
	f.svc = New(Config{
		Sessions:     f.sessions,
		Users:        f.users,
		Codes:        verification.NewService(newMemCodeRepo()),
		Mail:         f.mail,
		Hasher:       f.hasher,
		Throttle:     throttle.New(100, time.Minute),
		SessionTTL:   48 * time.Hour,
		TokenTTL:     20 * time.Minute,
		LoginCodeTTL: 10 * time.Minute,
	})
	return f
}

func (f *fixture) addUser(t *testing.T, id, email, password, totpSecret string) {
	t.Helper()
	u := &userdomain.User{ID: id, Name: id, TOTPSecret: totpSecret}
	if password != "" {
		hash, err := f.hasher.Hash([]byte(password))
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		u.PasswordBcrypt = hash
	}
	f.users.byID[id] = u
	f.users.emails[email] = &userdomain.Email{Email: email, UserID: id}
}

func codeOf(err error) string {
	if err == nil {
		return ""
	}
	return httperr.From(err).Code
}

func statusOf(err error) int {
	if err == nil {
		return 0
	}
	return httperr.From(err).Status
}

func TestLoginWithPassword_IssuesDistinctTokenPair(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "hunter2", "")

	result, err := f.svc.LoginWithPassword(context.Background(), "a@example.com", "hunter2", testState, "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("LoginWithPassword: %v", err)
	}
	if result.Session == nil {
		t.Fatal("no session issued")
	}
	pair := result.Session
	if len(pair.SessionToken) != 64 || len(pair.RefreshToken) != 64 {
		t.Errorf("token lengths = %d, %d, want 64", len(pair.SessionToken), len(pair.RefreshToken))
	}
	if pair.SessionToken == pair.RefreshToken {
		t.Error("session token equals refresh token")
	}
	if pair.SessionID == "" {
		t.Error("missing session id")
	}

	st, err := f.sessions.GetByTokenHash(context.Background(), security.HashToken(pair.SessionToken))
	if err != nil || st == nil {
		t.Fatalf("session token not persisted: %v", err)
	}
	if st.Token.Type != domain.TokenSession {
		t.Errorf("stored type = %q, want session", st.Token.Type)
	}
	if st.Session.IP != "10.0.0.1" || st.Session.UserAgent != "test-agent" {
		t.Errorf("session metadata = %q/%q", st.Session.IP, st.Session.UserAgent)
	}
}

func TestLoginWithPassword_WrongPassword(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "hunter2", "")

	_, err := f.svc.LoginWithPassword(context.Background(), "a@example.com", "wrong", testState, "", "")
	if statusOf(err) != http.StatusUnauthorized || codeOf(err) != "INCORRECT-PASSWORD" {
		t.Errorf("error = %v, want 401 INCORRECT-PASSWORD", err)
	}
}

func TestLoginWithPassword_UnknownEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.LoginWithPassword(context.Background(), "none@example.com", "x", testState, "", "")
	if statusOf(err) != http.StatusUnauthorized || codeOf(err) != "EMAIL-NOT-FOUND" {
		t.Errorf("error = %v, want 401 EMAIL-NOT-FOUND", err)
	}
}

func TestLoginWithPassword_BannedUser(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "hunter2", "")
	now := time.Now().UTC()
	f.users.byID["u1"].BannedAt = &now

	_, err := f.svc.LoginWithPassword(context.Background(), "a@example.com", "hunter2", testState, "", "")
	if statusOf(err) != http.StatusForbidden || codeOf(err) != "USER-BANNED" {
		t.Errorf("error = %v, want 403 USER-BANNED", err)
	}
}

func TestLoginThrottle(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "hunter2", "")
	f.svc.throttle = throttle.New(2, time.Minute)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := f.svc.LoginWithPassword(ctx, "a@example.com", "wrong", testState, "", ""); codeOf(err) != "INCORRECT-PASSWORD" {
			t.Fatalf("attempt %d error = %v", i+1, err)
		}
	}
	_, err := f.svc.LoginWithPassword(ctx, "a@example.com", "hunter2", testState, "", "")
	if statusOf(err) != http.StatusTooManyRequests || codeOf(err) != "TOO-MANY-LOGIN-ATTEMPTS" {
		t.Errorf("error = %v, want 429 TOO-MANY-LOGIN-ATTEMPTS", err)
	}
}

func TestEmailAndCodeLogin_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "", "")
	ctx := context.Background()

	if err := f.svc.LoginWithEmail(ctx, "a@example.com", testState); err != nil {
		t.Fatalf("LoginWithEmail: %v", err)
	}
	code := f.mail.last(t)

	result, err := f.svc.LoginWithCode(ctx, code, testState, "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("LoginWithCode: %v", err)
	}
	if result.Session == nil {
		t.Fatal("no session issued")
	}

	// The code is single use.
	_, err = f.svc.LoginWithCode(ctx, code, testState, "10.0.0.1", "agent")
	if codeOf(err) != "CODE-CONSUMED" {
		t.Errorf("second redemption error = %v, want CODE-CONSUMED", err)
	}
}

func TestLoginWithEmail_NoMailerIsNotImplemented(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "", "")
	f.svc.mail = nil

	err := f.svc.LoginWithEmail(context.Background(), "a@example.com", testState)
	if statusOf(err) != http.StatusNotImplemented {
		t.Errorf("error = %v, want 501", err)
	}
}

func TestLoginWithCode_WrongState(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "", "")
	ctx := context.Background()

	if err := f.svc.LoginWithEmail(ctx, "a@example.com", testState); err != nil {
		t.Fatalf("LoginWithEmail: %v", err)
	}
	otherState := "ffffffffffffffffffffffffffffffff"
	_, err := f.svc.LoginWithCode(ctx, f.mail.last(t), otherState, "", "")
	if codeOf(err) != "CODE-NOT-VALID" {
		t.Errorf("error = %v, want CODE-NOT-VALID", err)
	}
}

func TestTotpLogin_CompletesPasswordStep(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "gateway-test", AccountName: "a@example.com"})
	if err != nil {
		t.Fatalf("generate totp secret: %v", err)
	}

	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "hunter2", key.Secret())
	ctx := context.Background()

	result, err := f.svc.LoginWithPassword(ctx, "a@example.com", "hunter2", testState, "", "")
	if err != nil {
		t.Fatalf("LoginWithPassword: %v", err)
	}
	if result.Session != nil {
		t.Fatal("session issued before the second factor")
	}
	if result.Step != StepTotp {
		t.Fatalf("step = %q, want %q", result.Step, StepTotp)
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("generate totp code: %v", err)
	}
	done, err := f.svc.LoginWithTotp(ctx, code, testState, "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("LoginWithTotp: %v", err)
	}
	if done.Session == nil {
		t.Fatal("no session after valid totp code")
	}

	// The parked login is consumed; replaying the step fails.
	if _, err := f.svc.LoginWithTotp(ctx, code, testState, "", ""); codeOf(err) != "CODE-NOT-FOUND" {
		t.Errorf("replay error = %v, want CODE-NOT-FOUND", err)
	}
}

func TestLoginWithTotp_WrongCode(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "gateway-test", AccountName: "a@example.com"})
	if err != nil {
		t.Fatalf("generate totp secret: %v", err)
	}

	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "hunter2", key.Secret())
	ctx := context.Background()

	if _, err := f.svc.LoginWithPassword(ctx, "a@example.com", "hunter2", testState, "", ""); err != nil {
		t.Fatalf("LoginWithPassword: %v", err)
	}
	_, err = f.svc.LoginWithTotp(ctx, "000000", testState, "", "")
	if codeOf(err) != "INCORRECT-TOTP" {
		t.Errorf("error = %v, want INCORRECT-TOTP", err)
	}
}

func TestRefresh_IssuesNewPairOnce(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "a@example.com", "hunter2", "")
	ctx := context.Background()

	pair, err := f.svc.CreateSession(ctx, "u1", "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.SessionID != pair.SessionID {
		t.Errorf("refresh moved to session %q, want %q", next.SessionID, pair.SessionID)
	}
	if next.SessionToken == pair.SessionToken || next.RefreshToken == pair.RefreshToken {
		t.Error("refresh reissued an old token")
	}

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	if statusOf(err) != http.StatusUnauthorized || codeOf(err) != "REFRESH-TOKEN-CONSUMED" {
		t.Errorf("second refresh error = %v, want 401 REFRESH-TOKEN-CONSUMED", err)
	}
}

func TestRefresh_ConcurrentAttemptsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.svc.CreateSession(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	results := make(chan error, 2)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < 2; i++ {
		go func() {
			start.Wait()
			_, err := f.svc.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	start.Done()

	var wins, losses int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case codeOf(err) == "REFRESH-TOKEN-CONSUMED":
			losses++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Errorf("wins = %d losses = %d, want exactly one of each", wins, losses)
	}
}

func TestRefresh_RejectsSessionToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.svc.CreateSession(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err = f.svc.Refresh(ctx, pair.SessionToken)
	if statusOf(err) != http.StatusBadRequest || codeOf(err) != "SESSION-TOKEN-PASSED" {
		t.Errorf("error = %v, want 400 SESSION-TOKEN-PASSED", err)
	}
}

func TestRefresh_UnknownToken(t *testing.T) {
	f := newFixture(t)
	raw, _ := security.NewRawToken()
	_, err := f.svc.Refresh(context.Background(), raw)
	if codeOf(err) != "REFRESH-TOKEN-NOT-FOUND" {
		t.Errorf("error = %v, want REFRESH-TOKEN-NOT-FOUND", err)
	}
	_, err = f.svc.Refresh(context.Background(), "junk")
	if codeOf(err) != "REFRESH-TOKEN-NOT-FOUND" {
		t.Errorf("junk error = %v, want REFRESH-TOKEN-NOT-FOUND", err)
	}
}

func TestRefresh_InvalidatedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.svc.CreateSession(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := f.sessions.Invalidate(ctx, pair.SessionID, time.Now().UTC()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	if codeOf(err) != "SESSION-INVALIDATED" {
		t.Errorf("error = %v, want SESSION-INVALIDATED", err)
	}
}

func TestInvalidate_OwnerLogsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.svc.CreateSession(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	caller := Caller{SessionID: pair.SessionID, UserID: "u1"}
	ids, err := f.svc.Invalidate(ctx, caller, nil)
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if len(ids) != 1 || ids[0] != pair.SessionID {
		t.Errorf("invalidated = %v, want [%s]", ids, pair.SessionID)
	}

	s, err := f.sessions.GetByID(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if s.InvalidatedAt == nil {
		t.Error("session not marked invalidated")
	}
}

func TestInvalidate_RefreshArtifactIsConsumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.svc.CreateSession(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	caller := Caller{SessionID: pair.SessionID, UserID: "u1"}
	artifacts := []Artifact{{Type: ArtifactRefreshTokens, Value: pair.RefreshToken}}
	if _, err := f.svc.Invalidate(ctx, caller, artifacts); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	st, err := f.sessions.GetByTokenHash(ctx, security.HashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("GetByTokenHash: %v", err)
	}
	if st.Token.ConsumedAt == nil {
		t.Error("refresh token artifact was not consumed")
	}
	if st.Session.InvalidatedAt == nil {
		t.Error("session was not invalidated")
	}
}

func TestInvalidate_NonOwnerIsSilentlySkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.svc.CreateSession(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	caller := Caller{SessionID: "other-session", UserID: "u2"}
	ids, err := f.svc.Invalidate(ctx, caller, []Artifact{{Type: ArtifactSessions, Value: pair.SessionID}})
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("invalidated = %v, want none", ids)
	}

	s, _ := f.sessions.GetByID(ctx, pair.SessionID)
	if s.InvalidatedAt != nil {
		t.Error("non-owner invalidated a session without privilege")
	}
}

func TestInvalidate_SysadminMayLogOutAnyone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.svc.CreateSession(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	caller := Caller{UserID: "admin", UserRoles: []string{userdomain.RoleSysadmin}}
	ids, err := f.svc.Invalidate(ctx, caller, []Artifact{{Type: ArtifactSessions, Value: pair.SessionID}})
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("invalidated = %v, want one session", ids)
	}
}

func TestInvalidate_NoArtifactsAndNoSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Invalidate(context.Background(), Caller{}, nil)
	if statusOf(err) != http.StatusBadRequest || codeOf(err) != "NO-SESSION-TO-INVALIDATE" {
		t.Errorf("error = %v, want 400 NO-SESSION-TO-INVALIDATE", err)
	}
}

func TestInvalidate_UnknownArtifactType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Invalidate(context.Background(), Caller{UserID: "u1"},
		[]Artifact{{Type: "nonsense", Value: "x"}})
	if statusOf(err) != http.StatusBadRequest {
		t.Errorf("error = %v, want 400", err)
	}
}
