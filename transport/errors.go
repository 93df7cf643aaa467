package transport

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-mailbox/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryConflict:
		return core.ErrorRevisionConflict
	case goerrors.CategoryExternal, goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryRateLimit:
		return core.ErrorTransportFailed
	default:
		return core.ErrorInternal
	}
}

// statusCategory maps a non-2xx provider status onto an error category.
func statusCategory(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status >= 400 && status < 500:
		return goerrors.CategoryBadInput
	default:
		return goerrors.CategoryExternal
	}
}

// isConflictStatus reports statuses the contents APIs use for a stale sha.
func isConflictStatus(status int) bool {
	switch status {
	case http.StatusConflict, http.StatusPreconditionFailed, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// statusError describes a non-2xx response, keeping a short body preview.
func statusError(operation string, status int, body []byte) error {
	return goerrors.New(
		fmt.Sprintf("transport: %s returned status %d", operation, status),
		statusCategory(status),
	).WithCode(status).WithMetadata(map[string]any{
		"operation":    operation,
		"status_code":  status,
		"body_preview": previewBody(body),
	})
}

func previewBody(body []byte) string {
	const limit = 256
	preview := strings.TrimSpace(string(body))
	if len(preview) <= limit {
		return preview
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(preview[cut]) {
		cut--
	}
	return preview[:cut]
}
