package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"github.com/Skotchmaster/cartzy_auth/internal/apperr"
	"github.com/Skotchmaster/cartzy_auth/internal/db"
	authmw "github.com/Skotchmaster/cartzy_auth/internal/middleware/auth"
	"github.com/Skotchmaster/cartzy_auth/internal/models"
)

type Deps struct {
	DB           *gorm.DB
	AuthHandler  *AuthHTTP
	UsersHandler *UsersHTTP
	Guard        *authmw.Guard
}

// NewEcho builds the echo instance with the shared middleware chain and the
// centralized error handler.
func NewEcho(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(
		middleware.RequestID(),
		RequestLogger(logger),
		middleware.Recover(),
		middleware.Secure(),
		middleware.BodyLimit("1M"),
	)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if err := db.Ping(c.Request().Context(), d.DB); err != nil {
			return apperr.New(http.StatusServiceUnavailable, "Database unavailable").Wrap(err)
		}
		return c.NoContent(http.StatusOK)
	})

	v1 := e.Group("/api/v1")

	auth := v1.Group("/auth")
	auth.POST("/register", d.AuthHandler.Register)
	auth.POST("/login", d.AuthHandler.Login)
	auth.POST("/refresh-token", d.AuthHandler.Refresh)
	auth.POST("/forgot-password", d.AuthHandler.ForgotPassword)
	auth.POST("/reset-password", d.AuthHandler.ResetPassword)

	private := auth.Group("", d.Guard.Protect)
	private.POST("/logout", d.AuthHandler.LogOut)
	private.GET("/me", d.AuthHandler.Me)

	users := v1.Group("/users", d.Guard.Protect, authmw.AuthorizeTo(models.RoleAdmin))
	users.GET("", d.UsersHandler.ListUsers)
	users.GET("/:id", d.UsersHandler.GetUser)
}
