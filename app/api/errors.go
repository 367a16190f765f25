package api

import (
	"errors"
	"net/http"

	"docintel/store"
	"docintel/types"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// NewErrorHandler maps pipeline errors to HTTP statuses. Bodies always carry
// "error"; typed pipeline errors add their kind as "code".
func NewErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		var (
			apiErr  Error
			valErr  types.ValidationError
			fiberEr *fiber.Error
			pipeErr *types.Error
		)
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &valErr):
			return c.Status(valErr.Status).JSON(valErr)
		case errors.Is(err, store.ErrNotFound):
			apiErr = NewError(fiber.StatusNotFound, err.Error())
		case errors.As(err, &fiberEr):
			apiErr = NewError(fiberEr.Code, fiberEr.Message)
		case errors.As(err, &pipeErr):
			if pipeErr.Kind == types.KindNoEvidence {
				return c.JSON(insufficient())
			}
			apiErr = Error{Code: statusFor(pipeErr.Kind), Kind: pipeErr.Kind.String(), Message: pipeErr.Error()}
		default:
			apiErr = NewError(fiber.StatusInternalServerError, "internal server error")
		}

		log := logger.With(
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", apiErr.Code),
			zap.Error(err))
		if apiErr.Code >= http.StatusInternalServerError {
			log.Error("request failed")
		} else {
			log.Info("request rejected")
		}
		return c.Status(apiErr.Code).JSON(apiErr)
	}
}

func statusFor(kind types.Kind) int {
	switch kind {
	case types.KindInvalidInput:
		return fiber.StatusBadRequest
	case types.KindUpstreamJobFailed:
		return fiber.StatusBadGateway
	case types.KindUpstreamUnavailable:
		return fiber.StatusServiceUnavailable
	case types.KindTimedOut:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

type Error struct {
	Code    int    `json:"-"`
	Kind    string `json:"code,omitempty"`
	Message string `json:"error"`
}

func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrMissingKey() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "Missing required PDF key.",
	}
}
