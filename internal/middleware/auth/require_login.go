package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cartzy_auth/internal/apperr"
	"github.com/Skotchmaster/cartzy_auth/internal/logging"
	"github.com/Skotchmaster/cartzy_auth/internal/models"
	"github.com/Skotchmaster/cartzy_auth/internal/repo"
	"github.com/Skotchmaster/cartzy_auth/internal/tokens"
)

type UserFinder interface {
	FindByID(ctx context.Context, id uuid.UUID, fields ...string) (*models.User, error)
}

type Guard struct {
	Tokens *tokens.Manager
	Users  UserFinder
}

const bearerPrefix = "Bearer "

// Protect requires a valid access token in the Authorization header and
// attaches the user it belongs to to the request context.
func (g *Guard) Protect(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		l := logging.FromContext(ctx).With("mw", "protect")

		raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			l.Warn("protect_failed", "status", 403, "reason", "missing or malformed authorization header")
			return apperr.Fail(http.StatusForbidden, "Not authorized")
		}

		claims := g.Tokens.VerifyAccess(ctx, raw)
		if claims == nil {
			l.Warn("protect_failed", "status", 401, "reason", "invalid token")
			return apperr.Fail(http.StatusUnauthorized, "Invalid token")
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			l.Warn("protect_failed", "status", 401, "reason", "bad subject")
			return apperr.Fail(http.StatusUnauthorized, "Invalid token")
		}

		user, err := g.Users.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				l.Warn("protect_failed", "status", 401, "reason", "user not found", "user_id", claims.UserID)
				return apperr.Fail(http.StatusUnauthorized, "User no longer exists")
			}
			l.Error("protect_failed", "status", 500, "reason", "db_error", "error", err)
			return apperr.Internal(err)
		}

		ctx = WithUser(ctx, user)
		ctx = logging.IntoContext(ctx, logging.FromContext(ctx).With("user_id", user.ID.String()))
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	if raw == "" {
		return "", false
	}
	return raw, true
}
