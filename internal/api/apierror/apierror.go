// Package apierror renders the JSON error documents the location
// endpoints answer with. The shape follows the Google geolocation API
// so existing clients can reuse their error handling:
//
//	{"error": {"errors": [{"domain": ..., "reason": ..., "message": ...}],
//	           "code": 403, "message": ...}}
package apierror

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// Error is a static error document. The predefined values below are
// the only ones the API ever returns.
type Error struct {
	Code    int
	Domain  string
	Reason  string
	Message string
}

var (
	// ParseError covers undecodable bodies: broken gzip, malformed
	// JSON, or a top level that is not an object.
	ParseError = &Error{
		Code:    http.StatusBadRequest,
		Domain:  "global",
		Reason:  "parseError",
		Message: "Parse Error",
	}

	// InvalidAPIKey covers missing and unknown API keys.
	InvalidAPIKey = &Error{
		Code:    http.StatusForbidden,
		Domain:  "usageLimits",
		Reason:  "keyInvalid",
		Message: "Missing or invalid API key.",
	}

	// DailyLimitExceeded means the key spent its daily request quota.
	DailyLimitExceeded = &Error{
		Code:    http.StatusForbidden,
		Domain:  "usageLimits",
		Reason:  "dailyLimitExceeded",
		Message: "You have exceeded your daily limit.",
	}

	// NotFound means no data source produced a usable position.
	NotFound = &Error{
		Code:    http.StatusNotFound,
		Domain:  "geolocation",
		Reason:  "notFound",
		Message: "Not found",
	}

	// ServiceUnavailable covers unexpected internal failures.
	ServiceUnavailable = &Error{
		Code:    http.StatusServiceUnavailable,
		Domain:  "global",
		Reason:  "serviceUnavailable",
		Message: "Service unavailable",
	}
)

type errorEntry struct {
	Domain  string `json:"domain"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type errorBody struct {
	Errors  []errorEntry `json:"errors"`
	Code    int          `json:"code"`
	Message string       `json:"message"`
}

type document struct {
	Error errorBody `json:"error"`
}

// Write renders the error document and logs the underlying cause when
// there is one. Expected outcomes like a locate miss pass a nil cause
// and stay out of the logs.
func Write(w http.ResponseWriter, r *http.Request, apiErr *Error, cause error) {
	if cause != nil {
		logger := zerolog.Ctx(r.Context())
		event := logger.Warn()
		if apiErr.Code >= 500 {
			event = logger.Error()
		}
		event.
			Err(cause).
			Int("status", apiErr.Code).
			Str("reason", apiErr.Reason).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg(apiErr.Message)
	}

	doc := document{
		Error: errorBody{
			Errors: []errorEntry{{
				Domain:  apiErr.Domain,
				Reason:  apiErr.Reason,
				Message: apiErr.Message,
			}},
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Code)
	_ = json.NewEncoder(w).Encode(doc)
}
