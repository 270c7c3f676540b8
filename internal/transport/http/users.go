package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cartzy_auth/internal/apperr"
	"github.com/Skotchmaster/cartzy_auth/internal/service"
	"github.com/Skotchmaster/cartzy_auth/internal/util"
)

type UsersHTTP struct {
	Svc *service.AuthService
}

func (h *UsersHTTP) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Fail(http.StatusBadRequest, "Invalid user id").Wrap(err)
	}

	user, err := h.Svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, "User found", user)
}

func (h *UsersHTTP) ListUsers(c echo.Context) error {
	page, size := util.ParsePage(c.QueryParam("page"), c.QueryParam("size"))

	res, err := h.Svc.ListUsers(c.Request().Context(), page, size)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, "Users found", res)
}
