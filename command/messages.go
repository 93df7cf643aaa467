package command

import (
	"strings"

	"github.com/goliatone/go-mailbox/core"
)

const (
	TypeAccept          = "mailbox.command.accept"
	TypeStash           = "mailbox.command.stash"
	TypeDispatchOnce    = "mailbox.command.dispatch_once"
	TypeInvalidateRoute = "mailbox.command.route.invalidate"
)

// AcceptMessage runs one accept step without dispatching the units.
type AcceptMessage struct{}

func (AcceptMessage) Type() string { return TypeAccept }

func (AcceptMessage) Validate() error { return nil }

type StashMessage struct {
	Response core.Response
}

func (StashMessage) Type() string { return TypeStash }

func (m StashMessage) Validate() error {
	inline := m.Response.Inline != nil
	blob := m.Response.Blob != nil
	if inline == blob {
		return commandValidationError("response", "exactly one of inline or blob is required")
	}
	var id string
	if inline {
		id = m.Response.Inline.Head.ID
	} else {
		id = m.Response.Blob.Head.ID
	}
	if strings.TrimSpace(id) == "" {
		return commandValidationError("response.head.id", "response id is required")
	}
	return nil
}

// DispatchOnceMessage runs one full poll cycle.
type DispatchOnceMessage struct{}

func (DispatchOnceMessage) Type() string { return TypeDispatchOnce }

func (DispatchOnceMessage) Validate() error { return nil }

type InvalidateRouteMessage struct {
	Key string
}

func (InvalidateRouteMessage) Type() string { return TypeInvalidateRoute }

func (m InvalidateRouteMessage) Validate() error {
	if strings.TrimSpace(m.Key) == "" {
		return commandValidationError("key", "route key is required")
	}
	return nil
}
