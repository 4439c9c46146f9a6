package apierr

import (
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable rejection code returned to agents.
type Code string

const (
	CodeUnauthorized             Code = "UNAUTHORIZED"
	CodeUnsupportedMediaType     Code = "UNSUPPORTED_MEDIA_TYPE"
	CodeMissingRequiredHeader    Code = "MISSING_REQUIRED_HEADER"
	CodeInvalidRequest           Code = "INVALID_REQUEST"
	CodeInvalidHeaderFormat      Code = "INVALID_HEADER_FORMAT"
	CodePayloadTooLarge          Code = "PAYLOAD_TOO_LARGE"
	CodePackageHashMismatch      Code = "PACKAGE_HASH_MISMATCH"
	CodeInvalidZip               Code = "INVALID_ZIP"
	CodeMissingManifest          Code = "MISSING_MANIFEST"
	CodeInvalidManifest          Code = "INVALID_MANIFEST"
	CodeMissingManifestSignature Code = "MISSING_MANIFEST_SIGNATURE"
	CodeInvalidManifestSignature Code = "INVALID_MANIFEST_SIGNATURE"
	CodeIdempotencyConflict      Code = "IDEMPOTENCY_CONFLICT"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeInternal                 Code = "INTERNAL_ERROR"
)

// HTTPStatus maps a code to its fixed HTTP status.
// Unknown codes map to 500 so a typo never masquerades as a client error.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case CodeMissingRequiredHeader, CodeInvalidRequest, CodeInvalidHeaderFormat:
		return http.StatusBadRequest
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodePackageHashMismatch,
		CodeInvalidZip,
		CodeMissingManifest,
		CodeInvalidManifest,
		CodeMissingManifestSignature,
		CodeInvalidManifestSignature:
		return http.StatusUnprocessableEntity
	case CodeIdempotencyConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed rejection. Details must never carry secret material.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

// New builds an Error without details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details map[string]any) *Error {
	out := *e
	out.Details = details
	return &out
}

// HTTPStatus is shorthand for e.Code.HTTPStatus().
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
