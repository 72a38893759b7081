package realtime

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	appErr "emc/pkg/errors"
)

// TokenVerifier authenticates connection tokens into identities.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier for HS256 tokens.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

type connClaims struct {
	Admin     bool   `json:"admin"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Verify parses and validates the raw token.
func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	if raw == "" || len(v.secret) == 0 {
		return Identity{}, appErr.New(appErr.Unauthorized)
	}
	parsed, err := jwt.ParseWithClaims(raw, &connClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, appErr.New(appErr.Unauthorized).WithMessage("token expired")
		}
		return Identity{}, appErr.New(appErr.Unauthorized)
	}
	claims, ok := parsed.Claims.(*connClaims)
	if !ok || !parsed.Valid {
		return Identity{}, appErr.New(appErr.Unauthorized)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Identity{}, appErr.New(appErr.Unauthorized)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, appErr.New(appErr.Unauthorized)
	}
	return Identity{UserID: userID, Admin: claims.Admin}, nil
}
