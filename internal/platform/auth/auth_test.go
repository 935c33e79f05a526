package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func signToken(t *testing.T, secret []byte, sub string, roles []string) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestMiddleware_ValidToken(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "officer-1", []string{"compliance-officer"}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotUser string
	var gotRoles []string
	h := Middleware(Config{SigningKey: secret})(func(c echo.Context) error {
		gotUser = UserFromContext(c.Request().Context())
		gotRoles = RolesFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if gotUser != "officer-1" {
		t.Errorf("user = %q, want officer-1", gotUser)
	}
	if len(gotRoles) != 1 || gotRoles[0] != "compliance-officer" {
		t.Errorf("roles = %v", gotRoles)
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Middleware(Config{SigningKey: []byte("x")})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestMiddleware_WrongSecret(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("other"), "u", nil))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Middleware(Config{SigningKey: []byte("test-secret")})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestMiddleware_DevMode(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Middleware(Config{DevMode: true})(func(c echo.Context) error {
		roles := RolesFromContext(c.Request().Context())
		if len(roles) != 1 || roles[0] != "admin" {
			t.Errorf("dev roles = %v, want [admin]", roles)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()

	run := func(roles []string) error {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetRequest(req.WithContext(WithIdentity(context.Background(), "u", roles)))
		h := RequireRole("compliance-officer", "qp")(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})
		return h(c)
	}

	if err := run([]string{"qp"}); err != nil {
		t.Errorf("qp should pass: %v", err)
	}
	if err := run([]string{"admin"}); err != nil {
		t.Errorf("admin should pass: %v", err)
	}
	err := run([]string{"order-system"})
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("order-system should be forbidden, got %v", err)
	}
}

func TestHasAnyRole_NoAdminImplication(t *testing.T) {
	if HasAnyRole([]string{"admin"}, []string{"qp"}) {
		t.Error("admin must not satisfy approver-role membership implicitly")
	}
	if !HasAnyRole([]string{"viewer", "qp"}, []string{"compliance-officer", "qp"}) {
		t.Error("expected intersection on qp")
	}
}
