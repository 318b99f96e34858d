package job

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is against an *Error to classify it.
var (
	ErrArgument        = errors.New("argument error")
	ErrAuthentication  = errors.New("authentication error")
	ErrInput           = errors.New("input error")
	ErrGeometry        = errors.New("geometry error")
	ErrDataUnavailable = errors.New("data unavailable")
	ErrAnalysis        = errors.New("analysis error")
)

// Reported messages.
const (
	MsgMissingCredentials   = "Missing credentials file path argument."
	MsgMissingKind          = "Missing analysis type argument."
	MsgAuthenticationFailed = "GEE initialization failed."
	prefixInput             = "Invalid Stdin Parameters: "
	prefixGeometry          = "Invalid GeoJSON Geometry: "
	prefixAnalysis          = "GEE Computation Error: "
	prefixUnexpected        = "Unexpected error: "
)

// Error is a classified failure carrying the message reported to callers.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ArgumentError reports a missing command-line argument.
func ArgumentError() *Error {
	return &Error{Kind: ErrArgument, Message: MsgMissingCredentials}
}

// UnknownKindError reports an analysis name that ParseKind rejects, or a
// missing one when name is empty.
func UnknownKindError(name string) *Error {
	if name == "" {
		return &Error{Kind: ErrArgument, Message: MsgMissingKind}
	}
	return &Error{Kind: ErrArgument, Message: fmt.Sprintf("Unknown analysis type: %s.", name)}
}

// ConfigurationError reports an unusable process configuration.
func ConfigurationError(cause error) *Error {
	return &Error{Kind: ErrArgument, Message: "Invalid configuration: " + cause.Error(), Err: cause}
}

// UsageError reports command-line arguments that could not be parsed.
func UsageError(cause error) *Error {
	return &Error{Kind: ErrArgument, Message: "Invalid arguments: " + cause.Error(), Err: cause}
}

// AuthenticationError reports unusable credentials. The cause is logged only.
func AuthenticationError(cause error) *Error {
	return &Error{Kind: ErrAuthentication, Message: MsgAuthenticationFailed, Err: cause}
}

// InputError reports a malformed job request.
func InputError(cause error) *Error {
	return &Error{Kind: ErrInput, Message: prefixInput + cause.Error(), Err: cause}
}

// GeometryError reports an unusable region.
func GeometryError(cause error) *Error {
	return &Error{Kind: ErrGeometry, Message: prefixGeometry + cause.Error(), Err: cause}
}

// DataUnavailableError reports that the backend had nothing to analyze.
func DataUnavailableError(format string, args ...any) *Error {
	return &Error{Kind: ErrDataUnavailable, Message: fmt.Sprintf(format, args...)}
}

// AnalysisError reports a backend failure, keeping its message verbatim.
func AnalysisError(cause error) *Error {
	return &Error{Kind: ErrAnalysis, Message: prefixAnalysis + cause.Error(), Err: cause}
}

// Message returns what is reported for err: the message of an *Error, or an
// unexpected-error message for anything else.
func Message(err error) string {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Message
	}
	return prefixUnexpected + err.Error()
}
