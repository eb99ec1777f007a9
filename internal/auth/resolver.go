package auth

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/domain"
)

// Principal is the identity resolved for one request. The zero value is the
// anonymous principal.
type Principal struct {
	Subject string
	Role    domain.Role
}

// Anonymous returns the unauthenticated principal.
func Anonymous() Principal {
	return Principal{}
}

// IsAnonymous reports whether no identity was established.
func (p Principal) IsAnonymous() bool {
	return p.Subject == ""
}

const bearerScheme = "Bearer"

// Resolver turns an Authorization header into a Principal. Every failure
// mode collapses to anonymous: callers above this boundary never learn why
// a token was rejected, only that identity could not be established.
type Resolver struct {
	tokens  *TokenManager
	revoked RevocationRegistry
	logger  *zap.Logger
}

// NewResolver constructs a resolver.
func NewResolver(tokens *TokenManager, revoked RevocationRegistry, logger *zap.Logger) *Resolver {
	return &Resolver{tokens: tokens, revoked: revoked, logger: logger}
}

// Resolve performs one terminal pass: no token, malformed, bad signature,
// expired, or revoked all yield anonymous. It never returns an error to the
// transport layer.
func (r *Resolver) Resolve(ctx context.Context, authHeader string) Principal {
	if authHeader == "" {
		return Anonymous()
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], bearerScheme) {
		return Anonymous()
	}
	tokenStr := parts[1]

	claims, err := r.tokens.Verify(tokenStr)
	if err != nil {
		r.logger.Debug("token rejected", zap.Error(err))
		return Anonymous()
	}

	if r.tokens.IsExpired(claims, r.tokens.Now()) {
		return Anonymous()
	}

	revoked, err := r.revoked.IsRevoked(ctx, tokenStr)
	if err != nil {
		// Fail closed: an unreachable registry must not let a possibly
		// revoked token through.
		r.logger.Warn("revocation lookup failed", zap.Error(err))
		return Anonymous()
	}
	if revoked {
		return Anonymous()
	}

	principal := Principal{Subject: claims.Subject}
	if claims.Role != nil {
		principal.Role = *claims.Role
	}
	return principal
}
