// jamferrors/http_error_handling.go
package jamferrors

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIErrorKind identifies the classified category of an HTTP failure response.
type APIErrorKind string

const (
	KindNotFound     APIErrorKind = "NotFound"
	KindConflict     APIErrorKind = "Conflict"
	KindBadRequest   APIErrorKind = "BadRequest"
	KindUnauthorized APIErrorKind = "Unauthorized"
	KindServerError  APIErrorKind = "ServerError"
	KindRequestError APIErrorKind = "RequestError"
)

// APIError represents a classified HTTP failure from the Classic API.
type APIError struct {
	StatusCode int          // HTTP status code
	Kind       APIErrorKind // Category derived from the HTTP status
	Method     string       // HTTP method used for the request
	URL        string       // The URL of the HTTP request
	Message    string       // Human-readable summary
	RawBody    string       // Raw response body for debugging
}

// Error returns a string representation of the APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("API Error (Kind: %s, Code: %d): %s", e.Kind, e.StatusCode, e.Message)
}

// ObjectID is the offending object's id in an error descriptor. The server
// emits it as a JSON string on some endpoints and a number on others, so both
// decode; null and absence decode to the empty value.
type ObjectID string

func (o *ObjectID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*o = ObjectID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*o = ObjectID(n.String())
	}
	return nil
}

// ErrorInfo holds one structured error descriptor from a Jamf Pro API failure
// body.
type ErrorInfo struct {
	Code        string   `json:"code,omitempty"`
	Field       string   `json:"field,omitempty"`
	Description string   `json:"description,omitempty"`
	ID          ObjectID `json:"id,omitempty"`
}

// JamfProAPIError represents a failure from the Jamf Pro API, which reports a
// structured list of per-field error descriptors rather than a single message.
type JamfProAPIError struct {
	StatusCode int
	Method     string
	URL        string
	Errors     []ErrorInfo
	RawBody    string
}

// Error joins every descriptor's description into one message.
func (e *JamfProAPIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("Jamf Pro API Error (Code: %d): %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	descs := make([]string, 0, len(e.Errors))
	for _, ei := range e.Errors {
		if ei.Description != "" {
			descs = append(descs, ei.Description)
		} else if ei.Code != "" {
			descs = append(descs, ei.Code)
		}
	}
	return fmt.Sprintf("Jamf Pro API Error (Code: %d): %s", e.StatusCode, strings.Join(descs, "; "))
}

// jamfProErrorBody matches the failure envelope the Jamf Pro API returns.
type jamfProErrorBody struct {
	HTTPStatus int         `json:"httpStatus,omitempty"`
	Errors     []ErrorInfo `json:"errors,omitempty"`
}

// ClassifyClassicAPIError converts a failed Classic API response into an
// APIError per the status classification table. The response body is consumed.
func ClassifyClassicAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
	}
	if resp.Request != nil {
		apiErr.Method = resp.Request.Method
		apiErr.URL = resp.Request.URL.String()
	}

	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(resp.Body)
		apiErr.RawBody = string(body)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		apiErr.Kind = KindNotFound
		apiErr.Message = "Not Found"
	case resp.StatusCode == http.StatusConflict:
		apiErr.Kind = KindConflict
		apiErr.Message = ExtractConflictMessage(body)
	case resp.StatusCode == http.StatusBadRequest:
		apiErr.Kind = KindBadRequest
		apiErr.Message = ExtractBadRequestMessage(body)
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.Kind = KindUnauthorized
		apiErr.Message = "You are not authorized to do that"
	case resp.StatusCode >= 500 && resp.StatusCode <= 599:
		apiErr.Kind = KindServerError
		apiErr.Message = "Internal server error"
	default:
		apiErr.Kind = KindRequestError
		apiErr.Message = fmt.Sprintf("There was a problem with your request (HTTP %d)", resp.StatusCode)
	}

	return apiErr
}

// ClassifyJamfProAPIError converts a failed Jamf Pro API response into a
// JamfProAPIError, parsing the structured errors array when present. The
// response body is consumed.
func ClassifyJamfProAPIError(resp *http.Response) *JamfProAPIError {
	jpErr := &JamfProAPIError{
		StatusCode: resp.StatusCode,
	}
	if resp.Request != nil {
		jpErr.Method = resp.Request.Method
		jpErr.URL = resp.Request.URL.String()
	}

	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(resp.Body)
		jpErr.RawBody = string(body)
	}

	var envelope jamfProErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		jpErr.Errors = envelope.Errors
		return jpErr
	}

	// Unstructured body. Synthesize a single descriptor from the status code
	// so callers always have at least one entry to inspect.
	jpErr.Errors = []ErrorInfo{{
		Code:        fmt.Sprintf("%d", resp.StatusCode),
		Description: http.StatusText(resp.StatusCode),
	}}
	return jpErr
}
