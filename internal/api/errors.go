package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/points-leaderboard/internal/errors"
	"github.com/points-leaderboard/internal/logging"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse is the error envelope returned by every route
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: code, Message: message})
}

// respondServiceError maps err to its status and code and logs it. Errors
// that are not categorized are reported under fallbackCode.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallbackCode string) {
	catErr := errors.Categorize(err, fallbackCode)

	logger := logging.FromContext(r.Context()).WithFields(map[string]interface{}{
		"code":     catErr.Code,
		"category": catErr.Category,
		"status":   catErr.StatusCode,
	})
	if catErr.StatusCode >= http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed")
	} else {
		logger.Debug(catErr.Message)
	}

	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message)
}

// notFoundHandler answers unmatched paths with the error envelope
func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	catErr := errors.NewRouteNotFoundError(r.Method, r.URL.Path)
	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message)
}

// methodNotAllowedHandler answers known paths hit with the wrong method
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	catErr := errors.NewMethodNotAllowedError(r.Method, r.URL.Path)
	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody decodes an optional JSON body into v. An empty body leaves
// v untouched; anything undecodable is an INVALID_REQUEST_BODY error.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		return errors.NewInvalidRequestBodyError(err)
	}
	return nil
}
