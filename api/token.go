package api

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/swifthaul/logistics-api/models"
)

// Token lifetimes. Map tokens are handed to a browser map SDK, so they stay
// short; access tokens match the bearer cache TTL in SetupGoGuardian.
const (
	AccessTokenTTL = 24 * time.Hour
	MapTokenTTL    = 15 * time.Minute
)

// Token scopes carried in the scope claim.
const (
	ScopeAPI  = "api"
	ScopeMaps = "maps"
)

// AccessClaims is the claim set of every JWT this service signs. Role gates
// privileged routes, Scope separates API access from map SDK tokens.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Scope string `json:"scope"`
	Typ   string `json:"typ"`
	jwt.RegisteredClaims
}

// SignAccessToken issues the login JWT for a user.
func SignAccessToken(user *models.User) (string, error) {
	return signToken(AccessClaims{
		Email: user.Details.Email,
		Role:  user.Details.Role,
		Scope: ScopeAPI,
		Typ:   "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.Hex(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(AccessTokenTTL)),
		},
	})
}

// SignMapToken issues a short-lived token for the map SDK. It carries the
// maps scope only, so it cannot be replayed against API routes.
func SignMapToken(uid string) (string, error) {
	return signToken(AccessClaims{
		Scope: ScopeMaps,
		Typ:   "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(MapTokenTTL)),
		},
	})
}

// ParseAccessToken verifies a signed JWT and returns its claims. Tokens with
// the maps scope are rejected here; they are not API credentials.
func ParseAccessToken(token string) (*AccessClaims, error) {
	secret, err := jwtSecret()
	if err != nil {
		return nil, err
	}

	claims := &AccessClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeAPI {
		return nil, errors.New("token scope does not grant api access")
	}
	return claims, nil
}

func signToken(claims AccessClaims) (string, error) {
	secret, err := jwtSecret()
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func jwtSecret() ([]byte, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	return []byte(secret), nil
}
