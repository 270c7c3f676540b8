package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cartzy_auth/internal/apperr"
	"github.com/Skotchmaster/cartzy_auth/internal/logging"
	authmw "github.com/Skotchmaster/cartzy_auth/internal/middleware/auth"
	"github.com/Skotchmaster/cartzy_auth/internal/transport"
)

// ErrorHandler is the only place error responses are written. The stack
// trace is logged and never sent to the client.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	ae := toAppErr(err)

	ctx := c.Request().Context()
	l := logging.FromContext(ctx)
	attrs := []any{
		"status", ae.Code,
		"message", ae.Message,
		"method", c.Request().Method,
		"path", c.Path(),
	}
	if u, ok := authmw.CurrentUser(ctx); ok {
		attrs = append(attrs, "actor_id", u.ID.String())
	}
	attrs = append(attrs, "stack", ae.Stack())
	if ae.Code >= http.StatusInternalServerError {
		attrs = append(attrs, "error", errString(ae.Err))
		l.Error("request_error", attrs...)
	} else {
		l.Warn("request_error", attrs...)
	}

	body := transport.Envelope{Status: ae.Status, Message: ae.Message}
	if len(ae.Details) > 0 {
		body.Data = ae.Details
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(ae.Code)
	} else {
		werr = c.JSON(ae.Code, body)
	}
	if werr != nil {
		l.Error("error_response_failed", "error", werr)
	}
}

func toAppErr(err error) *apperr.Error {
	if ae, ok := apperr.As(err); ok {
		return ae
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code >= http.StatusInternalServerError {
			return apperr.Internal(err)
		}
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		if he.Code == http.StatusNotFound {
			return apperr.NotFound(msg).Wrap(err)
		}
		return apperr.Fail(he.Code, msg).Wrap(err)
	}

	return apperr.Internal(err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
