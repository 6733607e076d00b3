package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names expected in the bearer token.
const (
	claimEmail = "email"
	claimRole  = "role"
	claimPods  = "pods"
)

// NewJWTHandler verifies an HS256 bearer token on every request and places
// the resulting principal in the request context. Requests without a valid
// token are rejected with 401.
func NewJWTHandler(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := principalFromToken(r, secret)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func principalFromToken(r *http.Request, secret []byte) (Principal, error) {
	raw := r.Header.Get("Authorization")
	if !strings.HasPrefix(raw, "Bearer ") {
		return Principal{}, fmt.Errorf("auth: missing bearer token")
	}

	token, err := jwt.Parse(strings.TrimPrefix(raw, "Bearer "),
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Principal{}, fmt.Errorf("auth: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("auth: unexpected claims type")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, fmt.Errorf("auth: missing subject claim")
	}

	p := Principal{
		UserID: sub,
		Role:   RoleDeveloper,
	}
	if v, ok := claims[claimEmail].(string); ok {
		p.Email = v
	}
	if v, ok := claims[claimRole].(string); ok && v != "" {
		p.Role = Role(v)
	}
	if pods, ok := claims[claimPods].([]any); ok {
		for _, pod := range pods {
			if s, ok := pod.(string); ok {
				p.ManagedPods = append(p.ManagedPods, s)
			}
		}
	}
	return p, nil
}

// Development header names accepted when header auth is enabled.
const (
	HeaderUserID = "X-User-ID"
	HeaderEmail  = "X-User-Email"
	HeaderRole   = "X-User-Role"
	HeaderPods   = "X-User-Pods"
)

// NewHeaderHandler trusts identity headers. Development use only: it lets
// clients claim any identity.
func NewHeaderHandler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(HeaderUserID)
			if userID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			p := Principal{
				UserID: userID,
				Email:  r.Header.Get(HeaderEmail),
				Role:   RoleDeveloper,
			}
			if v := r.Header.Get(HeaderRole); v != "" {
				p.Role = Role(v)
			}
			if v := r.Header.Get(HeaderPods); v != "" {
				p.ManagedPods = strings.Split(v, ",")
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
