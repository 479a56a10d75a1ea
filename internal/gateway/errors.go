package gateway

import (
	"context"
	"errors"
	"net/http"

	"toolgate/internal/apikey"
	"toolgate/internal/codec"
	"toolgate/internal/connection"
	"toolgate/internal/integration"
	"toolgate/internal/oauth"
	"toolgate/internal/registry"
)

// ErrorKind is the stable classification of a gateway failure. Kinds
// are part of the API surface; callers branch on them, so they never
// change meaning between releases.
type ErrorKind string

const (
	KindUnauthenticated         ErrorKind = "unauthenticated"
	KindInvalidRequest          ErrorKind = "invalid_request"
	KindMalformedToolName       ErrorKind = "malformed_tool_name"
	KindIntegrationNotConnected ErrorKind = "integration_not_connected"
	KindIntegrationNotFound     ErrorKind = "integration_not_found"
	KindAuthRefreshFailed       ErrorKind = "auth_refresh_failed"
	KindProxyFailure            ErrorKind = "proxy_failure"
	KindGatewayTimeout          ErrorKind = "gateway_timeout"
	KindInternal                ErrorKind = "internal"
)

// Error is the caller-visible form of every gateway failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps a cause with a stable kind and message.
func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// classify translates component sentinel errors into the gateway's
// error taxonomy. Errors already carrying a kind pass through.
func classify(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}

	switch {
	case errors.Is(err, apikey.ErrUnauthenticated):
		return newError(KindUnauthenticated, "invalid or missing API key", err)
	case errors.Is(err, ErrMalformedName):
		return newError(KindMalformedToolName, "name must be <integration>/<tool>", err)
	case errors.Is(err, registry.ErrIntegrationNotFound):
		return newError(KindIntegrationNotFound, "unknown integration", err)
	case errors.Is(err, connection.ErrNotConnected):
		return newError(KindIntegrationNotConnected, "integration not connected or disabled", err)
	case errors.Is(err, connection.ErrCredentialExpired),
		errors.Is(err, oauth.ErrRefreshFailed),
		errors.Is(err, codec.ErrCorruptCredential):
		return newError(KindAuthRefreshFailed, "credential unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindGatewayTimeout, "integration handler timed out", err)
	case errors.Is(err, integration.ErrHandlerUnavailable):
		return newError(KindProxyFailure, "integration handler unavailable", err)
	default:
		return newError(KindInternal, "internal error", err)
	}
}

// classifyProxy translates a failed proxy round trip. Anything that is
// not a timeout counts as a proxy failure; the handler is a black box
// at this point.
func classifyProxy(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindGatewayTimeout, "integration handler timed out", err)
	}
	return newError(KindProxyFailure, "integration handler call failed", err)
}

// HTTPStatus maps an error kind to the status the HTTP surface returns.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInvalidRequest, KindMalformedToolName:
		return http.StatusBadRequest
	case KindIntegrationNotConnected:
		return http.StatusForbidden
	case KindIntegrationNotFound:
		return http.StatusNotFound
	case KindAuthRefreshFailed, KindProxyFailure:
		return http.StatusBadGateway
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
