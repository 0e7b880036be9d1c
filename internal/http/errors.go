package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextdb/internal/manager"
)

// validationError is a malformed request body. It maps to 422 like a
// schema validation failure.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error {
	return &validationError{msg: msg}
}

// statusFor maps Manager errors to HTTP status codes.
func statusFor(err error) int {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, manager.ErrInvalidName),
		errors.Is(err, manager.ErrEmptyText),
		errors.Is(err, manager.ErrEmptyQuery),
		errors.Is(err, manager.ErrAlreadyExists),
		errors.Is(err, manager.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, manager.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrReadOnly),
		errors.Is(err, manager.ErrCorruptIndex),
		errors.Is(err, manager.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, manager.ErrPartialCreate),
		errors.Is(err, manager.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// detailFor returns the client-facing message. Known errors use fixed
// wording; unexpected errors are not echoed.
func detailFor(err error, status int) string {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		return ve.msg
	case errors.Is(err, manager.ErrInvalidName):
		return "Database name can only contain letters, numbers, spaces, hyphens, and underscores"
	case errors.Is(err, manager.ErrAlreadyExists):
		return "Database already exists"
	case errors.Is(err, manager.ErrNotFound):
		return "Database not found"
	case errors.Is(err, manager.ErrEmptyText):
		return "Text cannot be empty"
	case errors.Is(err, manager.ErrEmptyQuery):
		return "Query cannot be empty"
	case status == http.StatusInternalServerError:
		return "Internal server error"
	default:
		return err.Error()
	}
}

// errorHandler renders every error as {"detail": ...}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var status int
	var detail string
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			detail = msg
		} else {
			detail = http.StatusText(status)
		}
	} else {
		status = statusFor(err)
		detail = detailFor(err, status)
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed",
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorResponse{Detail: detail})
	}
	if err != nil {
		s.logger.Warn(c.Request().Context(), "writing error response", zap.Error(err))
	}
}
