// Package security handles API authentication: HS256 bearer tokens whose
// claims carry a role and the tool permissions the holder may grant to a plan.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opera-os/opera/internal/tools"
)

var (
	// ErrMissingToken is returned when no Authorization header is present.
	ErrMissingToken = errors.New("security: missing authorization token")
	// ErrInvalidToken is returned when the JWT is malformed or signature is invalid.
	ErrInvalidToken = errors.New("security: invalid token")
	// ErrExpiredToken is returned when the JWT has expired.
	ErrExpiredToken = errors.New("security: token expired")
	// ErrInsufficientRole is returned when the role may not call a route.
	ErrInsufficientRole = errors.New("security: insufficient role")
	// ErrPermissionNotGranted is returned when a request asks for more than the token allows.
	ErrPermissionNotGranted = errors.New("security: permission not granted")
)

type contextKey string

const claimsKey contextKey = "jwt_claims"

// Claims is the verified content of a token.
type Claims struct {
	Subject     string             `json:"sub"`
	Role        string             `json:"role"`
	Permissions []tools.Permission `json:"permissions,omitempty"`
	IssuedAt    int64              `json:"iat"`
	ExpiresAt   int64              `json:"exp"`
}

type jwtClaims struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for subject. A nil perms leaves the role's
// defaults in force when the token is used.
func GenerateToken(subject, role string, perms []tools.Permission, secret []byte, expiry time.Duration) (string, error) {
	if !ValidRole(role) {
		return "", fmt.Errorf("security: unknown role %q", role)
	}
	now := time.Now()
	claims := jwtClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	for _, p := range perms {
		claims.Permissions = append(claims.Permissions, string(p))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and validates a JWT string, returning the claims.
func ValidateToken(tokenStr string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwtClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	jc, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid || !ValidRole(jc.Role) {
		return nil, ErrInvalidToken
	}
	var perms []tools.Permission
	if jc.Permissions != nil {
		if perms, err = tools.ParsePermissions(jc.Permissions); err != nil {
			return nil, ErrInvalidToken
		}
	}

	c := &Claims{Subject: jc.Subject, Role: jc.Role, Permissions: perms}
	if jc.IssuedAt != nil {
		c.IssuedAt = jc.IssuedAt.Unix()
	}
	if jc.ExpiresAt != nil {
		c.ExpiresAt = jc.ExpiresAt.Unix()
	}
	return c, nil
}

// Granted returns the permissions the token holder may use: the explicit
// claim when present, otherwise the role's defaults.
func (c *Claims) Granted() []tools.Permission {
	if c.Permissions != nil {
		return c.Permissions
	}
	return RolePermissions(c.Role)
}

// Authorize resolves the permissions for one request. A nil requested set
// means "everything the token grants". A requested permission outside the
// grant fails with ErrPermissionNotGranted.
func (c *Claims) Authorize(requested []tools.Permission) ([]tools.Permission, error) {
	granted := c.Granted()
	if requested == nil {
		return granted, nil
	}
	for _, p := range requested {
		ok := false
		for _, g := range granted {
			if g == p {
				ok = true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPermissionNotGranted, p)
		}
	}
	return requested, nil
}

// WithClaims returns a context carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// GetClaims extracts JWT claims from the request context.
func GetClaims(r *http.Request) (*Claims, error) {
	claims, ok := r.Context().Value(claimsKey).(*Claims)
	if !ok || claims == nil {
		return nil, ErrMissingToken
	}
	return claims, nil
}

// BearerToken returns the token from an Authorization header, or from the
// "token" query parameter for WebSocket clients that cannot set headers.
func BearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, nil
		}
		return "", ErrMissingToken
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrInvalidToken
	}
	return parts[1], nil
}

// AuthMiddleware validates bearer tokens and stores the claims in the
// request context. If secret is empty, dev mode is enabled and every request
// passes through unauthenticated.
func AuthMiddleware(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	if len(secret) == 0 {
		logger.Warn("JWT authentication disabled (dev mode): no auth.jwtSecret configured")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, err := BearerToken(r)
			if err != nil {
				http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusUnauthorized)
				return
			}
			claims, err := ValidateToken(tokenStr, secret)
			if err != nil {
				http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
