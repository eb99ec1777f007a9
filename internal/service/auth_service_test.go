package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/config"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/repository"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	seq   int
	users map[string]*domain.User
	err   error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.seq++
	user.ID = fmt.Sprintf("user-%d", r.seq)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.users[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id })
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == username })
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Email == email })
}

func (r *fakeUserRepo) find(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if match(u) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type fakeResetRepo struct {
	mu     sync.Mutex
	seq    int
	tokens map[string]*repository.PasswordResetToken
}

func newFakeResetRepo() *fakeResetRepo {
	return &fakeResetRepo{tokens: make(map[string]*repository.PasswordResetToken)}
}

func (r *fakeResetRepo) Create(_ context.Context, token *repository.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	token.ID = fmt.Sprintf("reset-%d", r.seq)
	token.CreatedAt = time.Now()
	clone := *token
	r.tokens[token.Token] = &clone
	return nil
}

func (r *fakeResetRepo) GetByToken(_ context.Context, tokenStr string) (*repository.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenStr]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *token
	return &clone, nil
}

func (r *fakeResetRepo) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, token := range r.tokens {
		if token.ID == id {
			token.UsedAt = &now
			return nil
		}
	}
	return pgx.ErrNoRows
}

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	svc      *AuthService
	users    *fakeUserRepo
	tokens   *auth.TokenManager
	registry *auth.MemoryRevocationRegistry
}

func newTestEnv(t *testing.T, tm *auth.TokenManager) *testEnv {
	t.Helper()
	if tm == nil {
		tm = auth.NewTokenManager(testSecret, 15*time.Minute, 24*time.Hour)
	}
	users := newFakeUserRepo()
	registry := auth.NewMemoryRevocationRegistry()
	cfg := config.Config{
		Auth: config.AuthConfig{
			BcryptCost:              bcrypt.MinCost,
			PasswordResetTTLMinutes: 30,
		},
	}
	svc := NewAuthService(cfg, AuthDependencies{
		UserRepo:          users,
		PasswordResetRepo: newFakeResetRepo(),
		TokenManager:      tm,
		Revocations:       registry,
	})
	return &testEnv{svc: svc, users: users, tokens: tm, registry: registry}
}

func mustRegister(t *testing.T, env *testEnv, username, email, password string) *domain.User {
	t.Helper()
	user, err := env.svc.Register(context.Background(), username, email, password)
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return user
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("error %v is not a DomainError", err)
	}
	return domainErr.Code
}

func TestRegisterForcesDefaultRole(t *testing.T) {
	env := newTestEnv(t, nil)

	user := mustRegister(t, env, "alice", "a@x.com", "pw123")
	if user.Role != domain.DefaultRole {
		t.Errorf("role = %q, want %q", user.Role, domain.DefaultRole)
	}
	if user.PasswordHash == "pw123" || user.PasswordHash == "" {
		t.Error("password stored unhashed")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	mustRegister(t, env, "alice", "a@x.com", "pw123")

	_, err := env.svc.Register(ctx, "alice", "other@x.com", "pw456")
	if err == nil {
		t.Fatal("duplicate username accepted")
	}
	if code := errCode(t, err); code != "ALREADY_EXISTS" {
		t.Errorf("code = %q, want ALREADY_EXISTS", code)
	}

	_, err = env.svc.Register(ctx, "bob", "a@x.com", "pw456")
	if err == nil {
		t.Fatal("duplicate email accepted")
	}
	if code := errCode(t, err); code != "ALREADY_EXISTS" {
		t.Errorf("code = %q, want ALREADY_EXISTS", code)
	}
}

func TestLoginIssuesSessionPair(t *testing.T) {
	env := newTestEnv(t, nil)
	mustRegister(t, env, "alice", "a@x.com", "pw123")

	user, pair, err := env.svc.Login(context.Background(), "alice", "pw123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("username = %q", user.Username)
	}

	accessClaims, err := env.tokens.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if accessClaims.Role == nil || *accessClaims.Role != domain.DefaultRole {
		t.Errorf("access token role = %v, want default", accessClaims.Role)
	}

	refreshClaims, err := env.tokens.Verify(pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh token does not verify: %v", err)
	}
	if refreshClaims.Role != nil {
		t.Error("refresh token carries a role")
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Error("refresh token does not outlive access token")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	mustRegister(t, env, "alice", "a@x.com", "pw123")

	_, _, errWrongPassword := env.svc.Login(ctx, "alice", "wrong")
	_, _, errUnknownUser := env.svc.Login(ctx, "nobody", "pw123")

	if errWrongPassword == nil || errUnknownUser == nil {
		t.Fatal("bad login succeeded")
	}
	codeA := errCode(t, errWrongPassword)
	codeB := errCode(t, errUnknownUser)
	if codeA != codeB || codeA != "INVALID_CREDENTIALS" {
		t.Errorf("codes differ: wrong-password=%q unknown-user=%q", codeA, codeB)
	}
	if errWrongPassword.Error() != errUnknownUser.Error() {
		t.Errorf("messages differ: %q vs %q", errWrongPassword, errUnknownUser)
	}
}

func TestRefreshPicksUpRoleChange(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	mustRegister(t, env, "alice", "a@x.com", "pw123")

	_, pair, err := env.svc.Login(ctx, "alice", "pw123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Promote after the refresh token was issued.
	stored, err := env.users.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	stored.Role = domain.RoleAdmin
	if err := env.users.Update(ctx, stored); err != nil {
		t.Fatalf("Update: %v", err)
	}

	user, next, err := env.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if user.Role != domain.RoleAdmin {
		t.Errorf("refreshed role = %q, want ADMIN", user.Role)
	}
	claims, err := env.tokens.Verify(next.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Role == nil || *claims.Role != domain.RoleAdmin {
		t.Errorf("new access token role = %v, want ADMIN", claims.Role)
	}
}

func TestRefreshRotationRevokesConsumedToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	mustRegister(t, env, "alice", "a@x.com", "pw123")

	_, pair, err := env.svc.Login(ctx, "alice", "pw123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, _, err := env.svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	_, _, err = env.svc.Refresh(ctx, pair.RefreshToken)
	if err == nil {
		t.Fatal("consumed refresh token accepted again")
	}
	if code := errCode(t, err); code != "TOKEN_REVOKED" {
		t.Errorf("code = %q, want TOKEN_REVOKED", code)
	}
}

func TestRefreshRejectsInvalidAndExpired(t *testing.T) {
	now := time.Now()
	tm := auth.NewTokenManager(testSecret, time.Minute, time.Hour).WithClock(func() time.Time { return now })
	env := newTestEnv(t, tm)
	ctx := context.Background()
	mustRegister(t, env, "alice", "a@x.com", "pw123")

	_, _, err := env.svc.Refresh(ctx, "not-a-token")
	if err == nil {
		t.Fatal("garbage refresh token accepted")
	}
	if code := errCode(t, err); code != "TOKEN_INVALID" {
		t.Errorf("code = %q, want TOKEN_INVALID", code)
	}

	_, pair, err := env.svc.Login(ctx, "alice", "pw123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	now = now.Add(2 * time.Hour)
	_, _, err = env.svc.Refresh(ctx, pair.RefreshToken)
	if err == nil {
		t.Fatal("expired refresh token accepted")
	}
	if code := errCode(t, err); code != "TOKEN_EXPIRED" {
		t.Errorf("code = %q, want TOKEN_EXPIRED", code)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	mustRegister(t, env, "alice", "a@x.com", "pw123")

	err := env.svc.ChangePassword(ctx, "alice", "wrong", "pw456")
	if err == nil {
		t.Fatal("wrong current password accepted")
	}
	if code := errCode(t, err); code != "INVALID_CREDENTIALS" {
		t.Errorf("code = %q, want INVALID_CREDENTIALS", code)
	}

	if err := env.svc.ChangePassword(ctx, "alice", "pw123", "pw456"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := env.svc.Login(ctx, "alice", "pw123"); err == nil {
		t.Error("old password still valid")
	}
	if _, _, err := env.svc.Login(ctx, "alice", "pw456"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestUpstreamFailureSurfacesDistinctly(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	mustRegister(t, env, "alice", "a@x.com", "pw123")

	env.users.err = errors.New("connection refused")
	_, _, err := env.svc.Login(ctx, "alice", "pw123")
	if err == nil {
		t.Fatal("login succeeded against failing store")
	}
	if code := errCode(t, err); code != "UPSTREAM_UNAVAILABLE" {
		t.Errorf("code = %q, want UPSTREAM_UNAVAILABLE", code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	mustRegister(t, env, "alice", "a@x.com", "pw123")

	token, err := env.svc.RequestPasswordReset(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := env.svc.ConfirmPasswordReset(ctx, token.Token, "pw789"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if _, _, err := env.svc.Login(ctx, "alice", "pw789"); err != nil {
		t.Errorf("login with reset password failed: %v", err)
	}

	// A reset token is single use.
	if err := env.svc.ConfirmPasswordReset(ctx, token.Token, "pw000"); err == nil {
		t.Error("used reset token accepted again")
	}
}

// TestSessionLifecycle walks the full register, login, tamper, logout story.
func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	resolver := auth.NewResolver(env.tokens, env.registry, zap.NewNop())
	ctx := context.Background()

	user := mustRegister(t, env, "alice", "a@x.com", "pw123")
	if user.Role != domain.DefaultRole {
		t.Fatalf("role = %q, want default", user.Role)
	}

	_, pair, err := env.svc.Login(ctx, "alice", "pw123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := env.svc.Register(ctx, "alice", "b@x.com", "pw456"); err == nil {
		t.Fatal("duplicate registration accepted")
	}

	if p := resolver.Resolve(ctx, "Bearer "+pair.AccessToken); p.IsAnonymous() {
		t.Fatal("fresh access token resolved to anonymous")
	}

	flipped := byte('x')
	if pair.AccessToken[10] == 'x' {
		flipped = 'y'
	}
	tampered := pair.AccessToken[:10] + string(flipped) + pair.AccessToken[11:]
	if p := resolver.Resolve(ctx, "Bearer "+tampered); !p.IsAnonymous() {
		t.Error("tampered token resolved to a principal")
	}

	if err := env.svc.Logout(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if p := resolver.Resolve(ctx, "Bearer "+pair.AccessToken); !p.IsAnonymous() {
		t.Error("revoked token still resolves even though unexpired")
	}
}
