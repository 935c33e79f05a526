package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Claims are the JWT claims the compliance service understands. Roles drive
// both route-level RBAC and the override-workflow approver check.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Config configures the JWT middleware.
type Config struct {
	Issuer   string
	Audience string
	// SigningKey is the HS256 shared secret.
	SigningKey []byte
	// DevMode grants admin access to unauthenticated requests. Never enable
	// outside local development.
	DevMode bool
}

// Middleware returns echo middleware that validates the bearer token and
// stores the caller's identity and roles on the request context.
func Middleware(cfg Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				if cfg.DevMode {
					ctx := WithIdentity(c.Request().Context(), "dev-user", []string{"admin"})
					c.SetRequest(c.Request().WithContext(ctx))
					return next(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			raw := strings.TrimPrefix(header, "Bearer ")
			if raw == header {
				return echo.NewHTTPError(http.StatusUnauthorized, "authorization header must use the Bearer scheme")
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			}

			ctx := WithIdentity(c.Request().Context(), claims.Subject, claims.Roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// WithIdentity returns a context carrying the caller's id and roles.
func WithIdentity(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

// UserFromContext returns the authenticated caller's id, or "".
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// RolesFromContext returns the authenticated caller's roles.
func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
