package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim that unlocks the administrative inventory routes.
const RoleAdmin = "admin"

type authClaimsKey struct{}

// AuthClaims holds the caller identity extracted from the JWT.
type AuthClaims struct {
	SessionID string
	Role      string
}

// authFromContext returns the auth claims stored in ctx, or nil.
func authFromContext(ctx context.Context) *AuthClaims {
	v, _ := ctx.Value(authClaimsKey{}).(*AuthClaims)
	return v
}

// jwtClaims is the JWT payload struct used for signing and parsing.
type jwtClaims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// MintToken signs an HS256 token carrying sessionID and role, valid for ttl.
// The storefront's auth service issues these; inventoryctl uses it for operators.
func MintToken(secret, sessionID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &jwtClaims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// tokenFromRequest reads the bearer token, falling back to the auth_token cookie.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func (h *Handler) parseClaims(raw string) (*AuthClaims, error) {
	if h.jwtSecret == "" {
		return nil, errors.New("token verification is not configured")
	}
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return &AuthClaims{SessionID: claims.SessionID, Role: claims.Role}, nil
}

// authenticate validates the token and injects AuthClaims into the request context.
// allow decides whether the verified claims may use the route.
func (h *Handler) authenticate(next http.Handler, allow func(*AuthClaims) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		claims, err := h.parseClaims(raw)
		if err != nil {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		if !allow(claims) {
			writeError(w, r, "insufficient permissions", "FORBIDDEN", http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), authClaimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession admits tokens that carry a cart session ID.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return h.authenticate(next, func(c *AuthClaims) bool { return c.SessionID != "" })
}

// RequireAdmin admits tokens whose role is admin.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return h.authenticate(next, func(c *AuthClaims) bool { return c.Role == RoleAdmin })
}
