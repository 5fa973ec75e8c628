package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestAuthenticatorVerify(t *testing.T) {
	authn, err := NewAuthenticator("test-secret", WithIssuer("phonemart"))
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}

	t.Run("valid token", func(t *testing.T) {
		raw := signToken(t, "test-secret", jwt.MapClaims{
			"sub":  "usr_001",
			"role": "staff",
			"iss":  "phonemart",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})

		identity, err := authn.Verify(raw)
		if err != nil {
			t.Fatalf("Verify returned error: %v", err)
		}
		if identity.UserID != "usr_001" || identity.Role != RoleStaff {
			t.Fatalf("unexpected identity: %+v", identity)
		}
	})

	t.Run("unknown role falls back to customer", func(t *testing.T) {
		raw := signToken(t, "test-secret", jwt.MapClaims{
			"sub":  "usr_001",
			"role": "superuser",
			"iss":  "phonemart",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})

		identity, err := authn.Verify(raw)
		if err != nil {
			t.Fatalf("Verify returned error: %v", err)
		}
		if identity.Role != RoleCustomer {
			t.Fatalf("expected customer fallback, got %q", identity.Role)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		raw := signToken(t, "test-secret", jwt.MapClaims{
			"sub": "usr_001",
			"iss": "phonemart",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		if _, err := authn.Verify(raw); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		raw := signToken(t, "other-secret", jwt.MapClaims{
			"sub": "usr_001",
			"iss": "phonemart",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		if _, err := authn.Verify(raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		raw := signToken(t, "test-secret", jwt.MapClaims{
			"sub": "usr_001",
			"iss": "someone-else",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		if _, err := authn.Verify(raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		raw := signToken(t, "test-secret", jwt.MapClaims{
			"iss": "phonemart",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		if _, err := authn.Verify(raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})
}

func TestAuthenticatorMiddleware(t *testing.T) {
	authn, err := NewAuthenticator("test-secret")
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}

	var seen *Identity
	handler := authn.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		seen = identity
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("attaches identity", func(t *testing.T) {
		seen = nil
		raw := signToken(t, "test-secret", jwt.MapClaims{
			"sub":  "usr_001",
			"role": "admin",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if seen == nil || seen.UserID != "usr_001" || seen.Role != RoleAdmin {
			t.Fatalf("unexpected identity: %+v", seen)
		}
	})

	t.Run("passes through without token", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if seen != nil {
			t.Fatalf("expected no identity, got %+v", seen)
		}
	})

	t.Run("rejects malformed token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rr.Code)
		}
	})
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleStaff, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allows matching role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{UserID: "usr_staff", Role: RoleStaff}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("rejects other role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{UserID: "usr_001", Role: RoleCustomer}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rr.Code)
		}
	})

	t.Run("rejects anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rr.Code)
		}
	})
}
