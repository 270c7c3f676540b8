package auth

import (
	"context"

	"github.com/Skotchmaster/cartzy_auth/internal/models"
)

type userCtxKey struct{}

func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// CurrentUser returns the user attached by Protect.
func CurrentUser(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(*models.User)
	return u, ok && u != nil
}
