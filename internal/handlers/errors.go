package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"table-service/internal/apperrors"
	"table-service/internal/utils"
)

// statusFor maps an error kind to its HTTP status. Rejected QR tokens are
// the caller's credentials, so they get 401 instead of 502.
func statusFor(err error) int {
	switch {
	case apperrors.HasCode(err, apperrors.CodeTokenExpired),
		apperrors.HasCode(err, apperrors.CodeTokenInvalid),
		apperrors.HasCode(err, apperrors.CodeTokenMalformed):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		detail := appErr.Message
		if status == http.StatusInternalServerError {
			detail = "internal error"
		}
		c.JSON(status, utils.CodedErrorResponse(message, detail, appErr.Code, appErr.Details))
		return
	}
	c.JSON(status, utils.ErrorResponse(message, err.Error()))
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, utils.CodedErrorResponse(message, err.Error(), apperrors.CodeValidationFailed, nil))
}
