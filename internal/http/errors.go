package httpx

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/target/sessionsync/internal/errors"
)

// ErrorStatus maps an error to an HTTP status and a stable error code.
func ErrorStatus(err error) (int, string) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodeValidation:
			return http.StatusBadRequest, string(appErr.Code)
		case apperrors.ErrCodeRoleNotFound:
			return http.StatusNotFound, string(appErr.Code)
		case apperrors.ErrCodeConflict, apperrors.ErrCodeRoleAmbiguous:
			return http.StatusConflict, string(appErr.Code)
		case apperrors.ErrCodeProviderUnavailable, apperrors.ErrCodeCacheUnavailable:
			return http.StatusServiceUnavailable, string(appErr.Code)
		case apperrors.ErrCodeTimeout:
			return http.StatusGatewayTimeout, string(appErr.Code)
		case apperrors.ErrCodeCanceled:
			return http.StatusServiceUnavailable, string(appErr.Code)
		case apperrors.ErrCodeInternal:
			return http.StatusInternalServerError, string(appErr.Code)
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, string(apperrors.ErrCodeTimeout)
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, string(apperrors.ErrCodeCanceled)
	default:
		return http.StatusInternalServerError, string(apperrors.ErrCodeInternal)
	}
}

// writeAppError writes err with the status ErrorStatus picks for it.
func writeAppError(w http.ResponseWriter, err error) {
	code, errCode := ErrorStatus(err)
	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err})
}
