// Package auth validates operator bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/utafrali/hdpay/pkg/middleware"
)

// Operator roles. Admins may refund; services may only start checkouts.
const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

// ErrNoSecret is returned for every token when no signing secret is configured.
var ErrNoSecret = errors.New("admin token secret is not configured")

// Claims are the JWT claims of an operator token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validator checks HS256 operator tokens.
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for tokens signed with secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses and validates a token, returning the claims the HTTP
// middleware stores in the request context.
func (v *Validator) Validate(tokenString string) (*middleware.Claims, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse admin token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid admin token claims")
	}

	return &middleware.Claims{Subject: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for subject with role, valid for ttl.
func (v *Validator) Issue(subject, role string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}

	now := time.Now().UTC()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "hdpay-gateway",
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}
