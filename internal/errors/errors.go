package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents request validation errors (400)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing entities (404)
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryRateLimit represents rate limit errors (429)
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryUpstream represents indexer failures and malformed responses (500)
	CategoryUpstream ErrorCategory = "upstream"
	// CategorySystem represents anything else that went wrong (500)
	CategorySystem ErrorCategory = "system"
)

// Error codes returned in the error envelope
const (
	CodeInvalidRequestBody      = "INVALID_REQUEST_BODY"
	CodeMissingAddress          = "MISSING_ADDRESS"
	CodeInvalidAddress          = "INVALID_ADDRESS"
	CodeInvalidWeek             = "INVALID_WEEK"
	CodeInvalidSortField        = "INVALID_SORT_FIELD"
	CodeInvalidSortOrder        = "INVALID_SORT_ORDER"
	CodeInvalidTierFilter       = "INVALID_TIER_FILTER"
	CodeUserNotFound            = "USER_NOT_FOUND"
	CodeFetchUsersFailed        = "FETCH_USERS_FAILED"
	CodeFetchUserFailed         = "FETCH_USER_FAILED"
	CodeFetchWeeklyPointsFailed = "FETCH_WEEKLY_POINTS_FAILED"
	CodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	CodeRouteNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed        = "METHOD_NOT_ALLOWED"
	CodeInternalError           = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Validation Errors (400)

// NewValidationError creates a 400 error with the given code
func NewValidationError(code, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       code,
		Message:    message,
	}
}

// NewInvalidRequestBodyError creates an error for an undecodable JSON body
func NewInvalidRequestBodyError(cause error) *CategorizedError {
	err := NewValidationError(CodeInvalidRequestBody, "Request body must be a valid JSON object")
	err.Cause = cause
	return err
}

// NewMissingAddressError creates an error for a request without an address
func NewMissingAddressError() *CategorizedError {
	return NewValidationError(CodeMissingAddress, "Address is required in request body")
}

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string) *CategorizedError {
	err := NewValidationError(CodeInvalidAddress, "Invalid Ethereum address format")
	err.Details = map[string]interface{}{"address": address}
	return err
}

// NewInvalidWeekError creates an error for a week that is not YYYY-MM-DD
func NewInvalidWeekError(week string) *CategorizedError {
	err := NewValidationError(CodeInvalidWeek, fmt.Sprintf("week must be a YYYY-MM-DD date, got %q", week))
	err.Details = map[string]interface{}{"week": week}
	return err
}

// NewInvalidSortFieldError creates an error for a sort field outside the allow-list
func NewInvalidSortFieldError(field string) *CategorizedError {
	err := NewValidationError(CodeInvalidSortField, fmt.Sprintf("cannot sort by %q", field))
	err.Details = map[string]interface{}{"sortBy": field}
	return err
}

// NewInvalidSortOrderError creates an error for a sort order other than asc/desc
func NewInvalidSortOrderError(order string) *CategorizedError {
	err := NewValidationError(CodeInvalidSortOrder, fmt.Sprintf("sortOrder must be asc or desc, got %q", order))
	err.Details = map[string]interface{}{"sortOrder": order}
	return err
}

// NewInvalidTierFilterError creates an error for a tier outside 0-4
func NewInvalidTierFilterError(tier int) *CategorizedError {
	err := NewValidationError(CodeInvalidTierFilter, fmt.Sprintf("tierFilter must be between 0 and 4, got %d", tier))
	err.Details = map[string]interface{}{"tierFilter": tier}
	return err
}

// Not Found Errors (404)

// NewUserNotFoundError creates a not found error for an address
func NewUserNotFoundError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeUserNotFound,
		Message:    fmt.Sprintf("User with address %s not found", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewRouteNotFoundError is returned for paths no route serves
func NewRouteNotFoundError(method, path string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeRouteNotFound,
		Message:    fmt.Sprintf("No route for %s %s", method, path),
	}
}

// NewMethodNotAllowedError is returned when a route exists but not for method
func NewMethodNotAllowedError(method, path string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusMethodNotAllowed,
		Code:       CodeMethodNotAllowed,
		Message:    fmt.Sprintf("Method %s is not allowed on %s", method, path),
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "Rate limit exceeded. Please try again later.",
	}
}

// Upstream Errors (500)

// NewUpstreamError wraps an indexer failure under the given code. The
// cause's message is surfaced to the client.
func NewUpstreamError(code string, cause error) *CategorizedError {
	message := "indexer request failed"
	if cause != nil {
		message = cause.Error()
	}
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusInternalServerError,
		Code:       code,
		Message:    message,
		Cause:      cause,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize returns err as a CategorizedError. Anything not already
// categorized is treated as an upstream failure reported under fallbackCode.
func Categorize(err error, fallbackCode string) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewUpstreamError(fallbackCode, err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err, CodeInternalError); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	status := GetHTTPStatusCode(err)
	return status >= 400 && status < 500
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	var catErr *CategorizedError
	return errors.As(err, &catErr) && catErr.Category == CategoryNotFound
}
