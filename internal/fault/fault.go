// Package fault defines the error taxonomy shared by the sandbox, the archiver
// backends and the HTTP layer. Every error is a PlatformError so the transport
// can render it with errors.ToJSON and map its code to a status.
package fault

import (
	"net/http"

	"github.com/jmgilman/go/errors"
)

const (
	// CodeOutOfBounds marks a path that canonicalizes outside its sandbox root.
	CodeOutOfBounds errors.ErrorCode = "OUT_OF_BOUNDS"

	// CodeExtractionFailed marks a non-zero exit of the archiver in extract mode.
	CodeExtractionFailed errors.ErrorCode = "EXTRACTION_FAILED"

	// CodeCompressionFailed marks a non-zero exit of the archiver in create mode.
	CodeCompressionFailed errors.ErrorCode = "COMPRESSION_FAILED"
)

func OutOfBounds(root, raw, resolved string) error {
	return errors.WithContextMap(
		errors.Newf(CodeOutOfBounds, "path outside allowed base: %s", resolved),
		map[string]interface{}{"root": root, "requested": raw},
	)
}

func NotFound(format string, args ...interface{}) error {
	return errors.Newf(errors.CodeNotFound, format, args...)
}

func InvalidArgument(format string, args ...interface{}) error {
	return errors.Newf(errors.CodeInvalidInput, format, args...)
}

func Conflict(destination string) error {
	return errors.WithContext(
		errors.Newf(errors.CodeConflict, "destination exists: %s", destination),
		"destination", destination,
	)
}

func Unauthorized() error {
	return errors.New(errors.CodeUnauthorized, "unauthorized")
}

func Forbidden(format string, args ...interface{}) error {
	return errors.Newf(errors.CodeForbidden, format, args...)
}

// ToolFailed wraps an archiver failure. code is CodeExtractionFailed or
// CodeCompressionFailed; diagnostic is the text surfaced to the caller.
func ToolFailed(code errors.ErrorCode, tool string, cause error, diagnostic string, exitCode int) error {
	return errors.WrapWithContext(cause, code, tool+" failed: "+diagnostic, map[string]interface{}{
		"diagnostic": diagnostic,
		"exit_code":  exitCode,
	})
}

func Timeout(cause error, format string, args ...interface{}) error {
	return errors.Wrapf(cause, errors.CodeTimeout, format, args...)
}

func Internal(cause error, message string) error {
	return errors.Wrap(cause, errors.CodeInternal, message)
}

// Is reports whether the outermost PlatformError in err's chain carries code.
func Is(err error, code errors.ErrorCode) bool {
	return err != nil && errors.GetCode(err) == code
}

// HTTPStatus maps an error code onto the response status the API returns.
func HTTPStatus(err error) int {
	switch errors.GetCode(err) {
	case CodeOutOfBounds, errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeUnauthorized:
		return http.StatusUnauthorized
	case errors.CodeForbidden:
		return http.StatusForbidden
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
