// Package identity is the boundary to the identity/session collaborator.
// The core never authenticates anyone itself; it only unpacks an
// already-issued token into an opaque actor identity.
package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
)

// Claims are what the core needs from the identity collaborator: who the
// actor is, and whether they carry the administrative override claim used
// for grant revocation.
type Claims struct {
	ActorID id.UserID
	Admin   bool
}

type tokenClaims struct {
	ActorID string `json:"actor_id"`
	Admin   bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTService validates tokens issued by the identity collaborator.
type JWTService struct {
	signingKey []byte
}

func NewJWTService(signingKey string) *JWTService {
	return &JWTService{signingKey: []byte(signingKey)}
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
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
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	actorID, err := id.ParseUserID(claims.ActorID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid actor identity")
	}
	return &Claims{ActorID: actorID, Admin: claims.Admin}, nil
}
