package utils

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer token claims issued by the auth service. The subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// Role claims issued by the auth service.
const (
	RoleAuthenticated = "authenticated"
	RoleAdmin         = "admin"
	RoleService       = "service_role"
)

// operatorRoles may read payment internals and the admin stream.
var operatorRoles = []string{RoleAdmin, RoleService}

// IsOperator reports whether the token carries an operator role.
func (c *Claims) IsOperator() bool {
	return slices.Contains(operatorRoles, c.Role)
}

// GenerateJWT signs an HS256 token for userID. Used by tooling and tests; production
// tokens come from the hosted auth service with the same shared secret.
func GenerateJWT(secret, userID, email string, ttl time.Duration) (string, error) {
	return GenerateJWTWithRole(secret, userID, email, RoleAuthenticated, ttl)
}

// GenerateJWTWithRole is GenerateJWT with an explicit role claim.
func GenerateJWTWithRole(secret, userID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateJWT parses and validates an HS256 token.
func ValidateJWT(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, errors.New("jwt secret not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
