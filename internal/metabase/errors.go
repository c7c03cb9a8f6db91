package metabase

import (
	"encoding/json"
	"errors"
)

// APIError is the single error type returned by the client. StatusCode is
// zero when no HTTP response was received (timeouts, transport failures).
type APIError struct {
	Message    string
	StatusCode int
	// Body is the decoded error response. A body that is not a JSON object is
	// stored under the "raw" key.
	Body map[string]any
	// Err is the underlying transport or decode failure, if any.
	Err error
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried by err, or zero when err is not
// an *APIError or carries no status.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// decodeErrorBody parses a failed response body. A JSON object is returned as
// is; anything else is wrapped as {"raw": text}.
func decodeErrorBody(data []byte) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"raw": string(data)}
}

// Detail describes err including the response body Metabase sent with it,
// which usually names the offending field on validation failures.
func Detail(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || len(apiErr.Body) == 0 {
		return err.Error()
	}
	body, mErr := json.Marshal(apiErr.Body)
	if mErr != nil {
		return err.Error()
	}
	return apiErr.Message + ": " + string(body)
}
