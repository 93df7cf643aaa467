// Package handlers provides ready-made route handlers for a mailbox router.
package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-mailbox/core"
)

// Static answers every request with the same text.
func Static(text string) core.Handler {
	return core.HandlerFunc(func(context.Context) (core.Result, error) {
		return core.InlineResult(text), nil
	})
}

// Echo answers with the id of the request being handled.
func Echo() core.Handler {
	return core.HandlerFunc(func(ctx context.Context) (core.Result, error) {
		request, ok := core.RequestFromContext(ctx)
		if !ok {
			return core.Result{}, fmt.Errorf("handlers: request missing from context")
		}
		return core.InlineResult(request.Head.ID), nil
	})
}

// Snapshot captures binary content, such as a camera frame or screenshot.
type Snapshot func(ctx context.Context) ([]byte, error)

// Blob answers with the bytes returned by capture, uploaded out of band.
func Blob(capture Snapshot) core.Handler {
	return core.HandlerFunc(func(ctx context.Context) (core.Result, error) {
		if capture == nil {
			return core.Result{}, fmt.Errorf("handlers: snapshot source is not configured")
		}
		data, err := capture(ctx)
		if err != nil {
			return core.Result{}, err
		}
		if len(data) == 0 {
			return core.Result{}, fmt.Errorf("handlers: snapshot is empty")
		}
		return core.BlobResult(data), nil
	})
}

// File answers with the current contents of path.
func File(path string) core.Handler {
	path = strings.TrimSpace(path)
	return Blob(func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if path == "" {
			return nil, fmt.Errorf("handlers: snapshot path is required")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("handlers: read snapshot: %w", err)
		}
		return data, nil
	})
}
