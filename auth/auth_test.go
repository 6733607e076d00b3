package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanModerate(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		pod  string
		want bool
	}{
		{name: "manager in pod", p: Principal{Role: RoleManager, ManagedPods: []string{"pod-a", "pod-b"}}, pod: "pod-b", want: true},
		{name: "manager outside pod", p: Principal{Role: RoleManager, ManagedPods: []string{"pod-a"}}, pod: "pod-c", want: false},
		{name: "admin any pod", p: Principal{Role: RoleAdmin}, pod: "pod-z", want: true},
		{name: "developer", p: Principal{Role: RoleDeveloper, ManagedPods: []string{"pod-a"}}, pod: "pod-a", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.p.CanModerate(tc.pod))
		})
	}
}

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestJWTHandler(t *testing.T) {
	secret := []byte("test-secret")

	var got Principal
	h := NewJWTHandler(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := FromRequest(r)
		require.NoError(t, err)
		got = p
	}))

	token := signToken(t, secret, jwt.MapClaims{
		"sub":   "u1",
		"email": "mgr@example.com",
		"role":  "manager",
		"pods":  []any{"pod-a", "pod-b"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "mgr@example.com", got.Email)
	assert.Equal(t, RoleManager, got.Role)
	assert.Equal(t, []string{"pod-a", "pod-b"}, got.ManagedPods)
}

func TestJWTHandler_RejectsBadTokens(t *testing.T) {
	secret := []byte("test-secret")
	h := NewJWTHandler(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	for _, header := range []string{
		"",
		"Bearer not-a-token",
		"Bearer " + signToken(t, []byte("wrong-secret"), jwt.MapClaims{"sub": "u1"}),
	} {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestHeaderHandler(t *testing.T) {
	var got Principal
	h := NewHeaderHandler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromRequest(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderUserID, "u2")
	req.Header.Set(HeaderRole, "manager")
	req.Header.Set(HeaderPods, "pod-a,pod-b")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u2", got.UserID)
	assert.Equal(t, RoleManager, got.Role)
	assert.Equal(t, []string{"pod-a", "pod-b"}, got.ManagedPods)
}
