package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/auth-service/internal/domain"
)

// Verification failures. Expiry is deliberately not part of verification;
// callers check it separately so "expired" and "tampered" stay
// distinguishable error kinds.
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
)

// TokenManager issues and verifies signed session tokens. The signing key
// is set once at construction and never changes.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock overrides the time source, used by tests to pin expiry.
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

// Claims describes the JWT payload. Role is nil on refresh tokens: a token
// whose only purpose is minting new access tokens must not carry privilege
// information.
type Claims struct {
	Role *domain.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueAccessToken signs a short-lived token carrying subject and role.
func (tm *TokenManager) IssueAccessToken(subject string, role domain.Role) (string, *Claims, error) {
	return tm.issue(subject, &role, tm.accessTTL)
}

// IssueRefreshToken signs a longer-lived token carrying the subject only.
func (tm *TokenManager) IssueRefreshToken(subject string) (string, *Claims, error) {
	return tm.issue(subject, nil, tm.refreshTTL)
}

func (tm *TokenManager) issue(subject string, role *domain.Role, ttl time.Duration) (string, *Claims, error) {
	issuedAt := tm.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks structure and signature only. The jwt library compares the
// HMAC with a constant-time primitive. Expiry is the caller's explicit
// follow-up via IsExpired.
func (tm *TokenManager) Verify(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenSignatureInvalid
		}
		return tm.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, ErrTokenSignatureInvalid) {
			return nil, ErrTokenSignatureInvalid
		}
		return nil, ErrTokenMalformed
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// IsExpired reports whether the claims are past expiry at the given time.
func (tm *TokenManager) IsExpired(claims *Claims, now time.Time) bool {
	return !now.Before(claims.ExpiresAt.Time)
}

// Now exposes the manager's clock so collaborators share one time source.
func (tm *TokenManager) Now() time.Time {
	return tm.now()
}
