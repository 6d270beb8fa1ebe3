package httpx

import (
	"net/http"

	apperrors "github.com/countyops/countysync/internal/errors"
)

// statusForCode maps the application error taxonomy onto HTTP statuses.
// Unknown codes are treated as internal failures.
func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeUnknownPlugin, apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		// Includes invalid_transition and execution_failure: both mean
		// something went wrong server-side, not in the request.
		return http.StatusInternalServerError
	}
}

// WriteAppError renders an application error as a JSON error response. Error
// payloads never reuse the "status" key, which belongs to job lifecycle state
// in job payloads.
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	if code == "" {
		code = apperrors.ErrCodeInternal
	}
	WriteError(w, ErrorParams{Code: statusForCode(code), ErrCode: string(code), Err: err})
}
