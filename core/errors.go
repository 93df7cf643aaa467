package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorFetchFailed         = "MAILBOX_FETCH_FAILED"
	ErrorRevisionConflict    = "MAILBOX_REVISION_CONFLICT"
	ErrorTransportFailed     = "MAILBOX_TRANSPORT_FAILED"
	ErrorBlobWriteFailed     = "MAILBOX_BLOB_WRITE_FAILED"
	ErrorSerializationFailed = "MAILBOX_SERIALIZATION_FAILED"
	ErrorRouteNotFound       = "MAILBOX_ROUTE_NOT_FOUND"
	ErrorHandlerFailed       = "MAILBOX_HANDLER_FAILED"
	ErrorTimeout             = "MAILBOX_TIMEOUT"
	ErrorBadInput            = "MAILBOX_BAD_INPUT"
	ErrorInternal            = "MAILBOX_INTERNAL_ERROR"
)

func mailboxError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(cloneFields(metadata))
	}
	return err
}

func mailboxWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return mailboxError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(cloneFields(metadata))
	}
	return err
}

// NewFetchError reports a failure reading the mailbox document.
func NewFetchError(source error, message string, metadata map[string]any) error {
	if strings.TrimSpace(message) == "" {
		message = "mailbox: fetch document failed"
	}
	return mailboxWrapError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, ErrorFetchFailed, metadata)
}

// NewDecodeError reports a mailbox document that could not be parsed.
func NewDecodeError(source error, metadata map[string]any) error {
	return mailboxWrapError(
		source,
		goerrors.CategoryBadInput,
		"mailbox: document content is not valid",
		http.StatusUnprocessableEntity,
		ErrorFetchFailed,
		metadata,
	)
}

// NewConflictError reports a write rejected because the revision token is
// stale.
func NewConflictError(expected string, current string, metadata map[string]any) error {
	fields := cloneFields(metadata)
	fields["expected_revision"] = strings.TrimSpace(expected)
	if strings.TrimSpace(current) != "" {
		fields["current_revision"] = strings.TrimSpace(current)
	}
	return mailboxError(
		"mailbox: revision conflict",
		goerrors.CategoryConflict,
		http.StatusConflict,
		ErrorRevisionConflict,
		fields,
	)
}

// NewTransportError reports a network, auth or provider failure while writing.
func NewTransportError(source error, message string, metadata map[string]any) error {
	if strings.TrimSpace(message) == "" {
		message = "mailbox: transport failure"
	}
	return mailboxWrapError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, ErrorTransportFailed, metadata)
}

func NewBlobWriteError(source error, name string, metadata map[string]any) error {
	fields := cloneFields(metadata)
	fields["blob"] = strings.TrimSpace(name)
	return mailboxWrapError(
		source,
		goerrors.CategoryExternal,
		"mailbox: blob write failed",
		http.StatusBadGateway,
		ErrorBlobWriteFailed,
		fields,
	)
}

func NewSerializationError(source error) error {
	return mailboxWrapError(
		source,
		goerrors.CategoryInternal,
		"mailbox: serialize document failed",
		http.StatusInternalServerError,
		ErrorSerializationFailed,
		nil,
	)
}

// NewRoutingError reports a request whose routing key has no handler.
func NewRoutingError(key string, requestID string) error {
	return mailboxError(
		fmt.Sprintf("mailbox: no handler registered for %q", key),
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		ErrorRouteNotFound,
		map[string]any{"route": key, "request_id": requestID},
	)
}

func NewHandlerError(source error, key string, requestID string) error {
	return mailboxWrapError(
		source,
		goerrors.CategoryOperation,
		fmt.Sprintf("mailbox: handler for %q failed", key),
		http.StatusInternalServerError,
		ErrorHandlerFailed,
		map[string]any{"route": key, "request_id": requestID},
	)
}

func NewTimeoutError(source error, operation string) error {
	return mailboxWrapError(
		source,
		goerrors.CategoryExternal,
		fmt.Sprintf("mailbox: %s timed out", strings.TrimSpace(operation)),
		http.StatusGatewayTimeout,
		ErrorTimeout,
		map[string]any{"operation": strings.TrimSpace(operation)},
	)
}

func ErrorTextCode(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.TrimSpace(richErr.TextCode)
	}
	return ""
}

func IsConflict(err error) bool {
	return ErrorTextCode(err) == ErrorRevisionConflict
}

func IsRoutingError(err error) bool {
	return ErrorTextCode(err) == ErrorRouteNotFound
}

func IsTimeout(err error) bool {
	if ErrorTextCode(err) == ErrorTimeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// errorResponseBody renders an error as the body of an error response.
func errorResponseBody(err error) string {
	if err == nil {
		return ""
	}
	code := ErrorTextCode(err)
	if code == "" {
		code = ErrorInternal
	}
	message := err.Error()
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && strings.TrimSpace(richErr.Message) != "" {
		message = richErr.Message
	}
	return code + ": " + strings.TrimSpace(message)
}
