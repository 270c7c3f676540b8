package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cartzy_auth/internal/apperr"
	"github.com/Skotchmaster/cartzy_auth/internal/logging"
)

// AuthorizeTo admits only users whose role is one of roles. It must run after
// Protect.
func AuthorizeTo(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[strings.ToUpper(strings.TrimSpace(r))] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			l := logging.FromContext(ctx).With("mw", "authorize")

			user, ok := CurrentUser(ctx)
			if !ok || user.Role == "" {
				l.Warn("authorize_failed", "status", 401, "reason", "no authenticated user")
				return apperr.Fail(http.StatusUnauthorized, "Not authenticated")
			}

			if _, ok := allowed[strings.ToUpper(user.Role)]; !ok {
				l.Warn("authorize_failed", "status", 403, "reason", "role not allowed", "role", user.Role)
				return apperr.Fail(http.StatusForbidden, "Forbidden")
			}
			return next(c)
		}
	}
}
