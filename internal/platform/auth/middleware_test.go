package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareVerifiesBearerToken(t *testing.T) {
	verifier := TokenVerifierFunc(func(_ context.Context, token string) (*Identity, error) {
		if token != "good-token" {
			return nil, ErrInvalidToken
		}
		return &Identity{UID: "user-1", Roles: []string{RoleUser}}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	identity, ok := captureIdentity(t, Middleware(verifier), req)
	if !ok {
		t.Fatal("identity missing from context")
	}
	if identity.UID != "user-1" {
		t.Errorf("uid = %q, want user-1", identity.UID)
	}
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	verifier := TokenVerifierFunc(func(context.Context, string) (*Identity, error) {
		return nil, ErrInvalidToken
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad-token")

	called := false
	handler := Middleware(verifier)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Error("handler ran despite the rejected token")
	}
}

func TestMiddlewareAnonymousWithoutToken(t *testing.T) {
	verifier := TokenVerifierFunc(func(context.Context, string) (*Identity, error) {
		t.Fatal("verifier must not run without a token")
		return nil, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	identity, ok := captureIdentity(t, Middleware(verifier), req)
	if ok || identity != nil {
		t.Fatalf("identity = %+v, want none", identity)
	}
}

func TestMiddlewareIgnoresNonBearerSchemes(t *testing.T) {
	verifier := TokenVerifierFunc(func(context.Context, string) (*Identity, error) {
		t.Fatal("verifier must not run for non-bearer credentials")
		return nil, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	if _, ok := captureIdentity(t, Middleware(verifier), req); ok {
		t.Fatal("identity set for a basic-auth request")
	}
}

func TestRequireRoles(t *testing.T) {
	protected := RequireRoles(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("admin passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "staff", Roles: []string{RoleAdmin}}))
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("user forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "user-1", Roles: []string{RoleUser}}))
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("anonymous unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}
