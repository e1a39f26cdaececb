package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope names accepted in access tokens.
const (
	ScopeImagesWrite = "images:write"
	ScopeImagesRead  = "images:read"
	ScopeSearch      = "search:read"
	ScopeBatchAdmin  = "batch:admin"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	ClientID uuid.UUID
	Scopes   []string
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued to API clients.
type AccessTokenClaims struct {
	ClientID uuid.UUID `json:"client_id"`
	Scopes   []string  `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants the named scope.
func (c *AccessTokenClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
