package service

import (
	"fmt"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// Caller tokens — issued by the admin login, verified here
// ============================================================

// CallerClaims are the claims of an internal access token.
type CallerClaims struct {
	Email  string   `json:"email"`
	Role   string   `json:"role"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// CallerAuth verifies HS256 access tokens.
type CallerAuth struct {
	secret []byte
}

// NewCallerAuth creates a verifier for tokens signed with secret.
func NewCallerAuth(secret string) *CallerAuth {
	return &CallerAuth{secret: []byte(secret)}
}

// ValidateToken parses and verifies tokenString and returns its caller.
func (a *CallerAuth) ValidateToken(tokenString string) (*domain.Caller, error) {
	if len(a.secret) == 0 {
		return nil, &domain.ErrUnauthorized{Message: "Autenticação não configurada."}
	}

	claims := &CallerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido."}
	}
	if claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido."}
	}

	return &domain.Caller{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
		Scopes: claims.Scopes,
	}, nil
}
