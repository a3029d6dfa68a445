package mw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const CustomerCtxKey contextKey = "customer_id"

// clockSkew tolerated when checking exp and iat.
const clockSkew = 30 * time.Second

var (
	ErrMissingToken    = errors.New("missing bearer token")
	ErrMissingCustomer = errors.New("customer_id not found in token")
)

// CustomerClaims is the token payload shared with the identity provider.
type CustomerClaims struct {
	CustomerID string `json:"customer_id"`
	jwt.RegisteredClaims
}

// CustomerID returns the authenticated customer id stored by AuthMiddleware.
func CustomerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(CustomerCtxKey).(string)
	return id, ok && id != ""
}

// IssueToken signs a token in the identity provider's format. Used by local
// tooling and tests.
func IssueToken(secret, customerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomerClaims{
		CustomerID: customerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   customerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token and returns its customer id. Tokens
// without an expiry are rejected.
func ParseToken(secret, raw string) (string, error) {
	var claims CustomerClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.CustomerID == "" {
		return "", ErrMissingCustomer
	}
	return claims.CustomerID, nil
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid token format")
	}
	return strings.TrimSpace(token), nil
}

// AuthMiddleware accepts bearer tokens issued by the identity provider and puts
// their customer_id claim into the request context.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="orderledger"`)
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			customerID, err := ParseToken(jwtSecret, raw)
			switch {
			case errors.Is(err, ErrMissingCustomer):
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			case err != nil:
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), CustomerCtxKey, customerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
