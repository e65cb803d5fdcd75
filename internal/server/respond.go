package server

import (
	"encoding/json"
	"net/http"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
)

// errorResponse is the JSON body of a failed request.
type errorResponse struct {
	Type        string              `json:"type"`
	Code        string              `json:"code"`
	Message     string              `json:"message"`
	Target      string              `json:"target,omitempty"`
	Fields      map[string]any      `json:"fields,omitempty"`
	Diagnostics []errors.Diagnostic `json:"diagnostics,omitempty"`
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps an error to its HTTP status: validation failures are the
// client's fault, an empty bundle means the bundler has nothing to serve
// yet, everything else is a server error.
func statusFor(err error) int {
	switch {
	case errors.IsValidationError(err):
		return http.StatusBadRequest
	case errors.IsEmptyOutput(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	body := errorResponse{
		Type:    "internal",
		Code:    errors.ErrCodeInternalError,
		Message: err.Error(),
	}

	var be *errors.BundlerError
	if errors.As(err, &be) {
		body.Type = string(be.Type)
		body.Code = be.Code
		body.Target = be.Target
		body.Diagnostics = errors.DiagnosticsOf(err)
		if errors.IsValidationError(err) {
			body.Fields = be.Context
		}
	}

	respondJSON(w, body, statusFor(err))
}
