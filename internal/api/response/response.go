// Package response writes the JSON envelopes shared by every endpoint.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/newthinker/arena/internal/core"
)

// Meta contains response metadata.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
}

// SuccessResponse is the standard success response format.
type SuccessResponse struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

var statusByCode = map[string]int{
	core.ErrInvalidParameter.Code:       http.StatusBadRequest,
	core.ErrInvalidRequest.Code:         http.StatusBadRequest,
	core.ErrSymbolInvalid.Code:          http.StatusBadRequest,
	core.ErrConfigInvalid.Code:          http.StatusBadRequest,
	core.ErrConfigMissing.Code:          http.StatusBadRequest,
	core.ErrUnauthorized.Code:           http.StatusUnauthorized,
	core.ErrDataUnavailable.Code:        http.StatusNotFound,
	core.ErrStrategyNotFound.Code:       http.StatusNotFound,
	core.ErrSessionNotFound.Code:        http.StatusNotFound,
	core.ErrPositionNotFound.Code:       http.StatusNotFound,
	core.ErrStrategyConfigNotFound.Code: http.StatusNotFound,
	core.ErrJobNotFound.Code:            http.StatusNotFound,
	core.ErrConcurrentMutation.Code:     http.StatusConflict,
	core.ErrSessionAlreadyActive.Code:   http.StatusConflict,
	core.ErrSessionNotActive.Code:       http.StatusConflict,
	core.ErrResumeNotAllowed.Code:       http.StatusConflict,
	core.ErrProviderFailed.Code:         http.StatusBadGateway,
	core.ErrOrderFailed.Code:            http.StatusBadGateway,
	core.ErrNotifierFailed.Code:         http.StatusBadGateway,
	core.ErrBrokerUnreachable.Code:      http.StatusServiceUnavailable,
}

// StatusFor maps err's code to an HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	if s, ok := statusByCode[core.CodeOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// JSON writes a success response with data.
func JSON(w http.ResponseWriter, status int, data any) {
	resp := SuccessResponse{
		Data: data,
		Meta: Meta{Timestamp: time.Now().UTC()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Fail writes err with the status derived from its code.
func Fail(w http.ResponseWriter, err error) {
	Error(w, StatusFor(err), err)
}

// Error writes an error response.
func Error(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: Describe(err)})
}

// Describe renders err as an ErrorDetail. Errors without a code are
// reported as INTERNAL_ERROR without leaking their text.
func Describe(err error) ErrorDetail {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return ErrorDetail{
			Code:    coreErr.Code,
			Message: coreErr.Message,
			Detail:  coreErr.Detail(),
		}
	}
	return ErrorDetail{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
	}
}
