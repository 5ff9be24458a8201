// jamferrors/errors.go
/* The jamferrors package defines the typed error kinds raised by the connection
and token subsystems, plus the classification of raw HTTP failures into those
kinds. Resource-layer code matches on these types with errors.As rather than
inspecting message strings. */
package jamferrors

import "fmt"

// MissingDataError indicates a required argument or credential was not supplied.
type MissingDataError struct {
	Message string
}

func (e *MissingDataError) Error() string { return e.Message }

// InvalidDataError indicates a supplied value is structurally wrong, e.g. an
// unusable token string or an unknown response format.
type InvalidDataError struct {
	Message string
}

func (e *InvalidDataError) Error() string { return e.Message }

// InvalidConnectionError indicates an operation was attempted while not
// connected, or a stored connection handle is unusable.
type InvalidConnectionError struct {
	Message string
}

func (e *InvalidConnectionError) Error() string { return e.Message }

// InvalidTokenError indicates the token has expired and cannot be recovered.
type InvalidTokenError struct {
	Message string
}

func (e *InvalidTokenError) Error() string { return e.Message }

// AuthenticationError indicates the server rejected the supplied credentials.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// TokenRefreshError indicates a keep-alive refresh failed and no password was
// retained to fall back on.
type TokenRefreshError struct {
	Message string
}

func (e *TokenRefreshError) Error() string { return e.Message }

// AlreadyExistsError is raised by the resource layer when creating a resource
// that already exists. Defined here so it propagates through Connection
// un-swallowed alongside the transport kinds.
type AlreadyExistsError struct {
	Message string
}

func (e *AlreadyExistsError) Error() string { return e.Message }

// AmbiguousError is raised by the resource layer when a lookup value matches
// more than one object.
type AmbiguousError struct {
	Message string
}

func (e *AmbiguousError) Error() string { return e.Message }

// UnsupportedError indicates the server or an operation is outside the
// supported range, e.g. a Jamf Pro version below the minimum.
type UnsupportedError struct {
	Message string
}

func (e *UnsupportedError) Error() string { return e.Message }

// NewMissingDataError formats and returns a MissingDataError.
func NewMissingDataError(format string, args ...interface{}) *MissingDataError {
	return &MissingDataError{Message: fmt.Sprintf(format, args...)}
}

// NewInvalidDataError formats and returns an InvalidDataError.
func NewInvalidDataError(format string, args ...interface{}) *InvalidDataError {
	return &InvalidDataError{Message: fmt.Sprintf(format, args...)}
}

// NewInvalidConnectionError formats and returns an InvalidConnectionError.
func NewInvalidConnectionError(format string, args ...interface{}) *InvalidConnectionError {
	return &InvalidConnectionError{Message: fmt.Sprintf(format, args...)}
}
