// Package authtoken validates actor tokens minted by the external auth
// collaborator. Authentication and session management live there; this
// service only reads the asserted identity and role out of the claims.
package authtoken

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"permitgate/internal/platform/middleware"
	dErrors "permitgate/pkg/domain-errors"
)

// Claims represents the actor claims the auth collaborator asserts.
type Claims struct {
	ActorName string `json:"actor_name"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Validator parses and verifies actor tokens.
type Validator struct {
	signingKey []byte
}

func NewValidator(signingKey string) *Validator {
	return &Validator{signingKey: []byte(signingKey)}
}

// ValidateActorToken implements middleware.ActorValidator.
func (v *Validator) ValidateActorToken(tokenString string) (*middleware.ActorClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing actor identity")
	}

	return &middleware.ActorClaims{
		ActorID:   claims.Subject,
		ActorName: claims.ActorName,
		Role:      claims.Role,
	}, nil
}
