package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cartzy_auth/internal/apperr"
	"github.com/Skotchmaster/cartzy_auth/internal/logging"
	authmw "github.com/Skotchmaster/cartzy_auth/internal/middleware/auth"
	"github.com/Skotchmaster/cartzy_auth/internal/service"
	"github.com/Skotchmaster/cartzy_auth/internal/transport"
)

type AuthHTTP struct {
	Svc     *service.AuthService
	Cookies CookieConfig
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		logging.FromContext(c.Request().Context()).Warn("bind_failed", "status", 400, "error", err)
		return apperr.Fail(http.StatusBadRequest, "Invalid request body").Wrap(err)
	}
	return nil
}

func success(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, transport.Envelope{
		Status:  apperr.StatusSuccess,
		Message: message,
		Data:    data,
	})
}

func (h *AuthHTTP) Register(c echo.Context) error {
	var req transport.RegisterRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := h.Svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}

	c.SetCookie(h.Cookies.refresh(res.RefreshToken))
	return success(c, http.StatusCreated, "User created successfully", transport.TokenResponse{AccessToken: res.AccessToken})
}

func (h *AuthHTTP) Login(c echo.Context) error {
	var req transport.LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := h.Svc.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}

	c.SetCookie(h.Cookies.refresh(res.RefreshToken))
	return success(c, http.StatusOK, "Logged in successfully", transport.TokenResponse{AccessToken: res.AccessToken})
}

// Refresh reads the refresh token from its cookie only.
func (h *AuthHTTP) Refresh(c echo.Context) error {
	var raw string
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		raw = cookie.Value
	}

	res, err := h.Svc.Refresh(c.Request().Context(), raw)
	if err != nil {
		return err
	}

	c.SetCookie(h.Cookies.refresh(res.RefreshToken))
	return success(c, http.StatusOK, "Token refreshed successfully", transport.TokenResponse{AccessToken: res.AccessToken})
}

func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	var raw string
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		raw = cookie.Value
	}

	c.SetCookie(h.Cookies.clearRefresh())
	if err := h.Svc.LogOut(ctx, raw); err != nil {
		return err
	}

	l.Info("successful_logout")
	return success(c, http.StatusOK, "Logged out successfully", nil)
}

func (h *AuthHTTP) ForgotPassword(c echo.Context) error {
	var req transport.ForgotPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if err := h.Svc.ForgotPassword(c.Request().Context(), req); err != nil {
		return err
	}
	return success(c, http.StatusOK, "Password reset link sent to your email", nil)
}

func (h *AuthHTTP) ResetPassword(c echo.Context) error {
	var req transport.ResetPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if err := h.Svc.ResetPassword(c.Request().Context(), req); err != nil {
		return err
	}
	c.SetCookie(h.Cookies.clearRefresh())
	return success(c, http.StatusOK, "Password has been reset", nil)
}

func (h *AuthHTTP) Me(c echo.Context) error {
	user, ok := authmw.CurrentUser(c.Request().Context())
	if !ok {
		return apperr.Fail(http.StatusUnauthorized, "Not authenticated")
	}
	return success(c, http.StatusOK, "Current user", user)
}
