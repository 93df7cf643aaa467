package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-mailbox/core"
)

type Dispatcher interface {
	RunOnce(ctx context.Context) (core.DispatchStats, error)
}

type RouteInvalidator interface {
	InvalidateRoute(ctx context.Context, key string) error
}

// AcceptCommand stores the accepted units in the result collector.
type AcceptCommand struct {
	session core.Acceptor
}

func NewAcceptCommand(session core.Acceptor) *AcceptCommand {
	return &AcceptCommand{session: session}
}

func (c *AcceptCommand) Execute(ctx context.Context, _ AcceptMessage) error {
	if c == nil || c.session == nil {
		return commandDependencyError("command: mailbox session is required")
	}
	units, err := c.session.Accept(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, units)
	return nil
}

type StashCommand struct {
	session core.Acceptor
}

func NewStashCommand(session core.Acceptor) *StashCommand {
	return &StashCommand{session: session}
}

func (c *StashCommand) Execute(_ context.Context, msg StashMessage) error {
	if c == nil || c.session == nil {
		return commandDependencyError("command: mailbox session is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	c.session.Stash(msg.Response)
	return nil
}

type DispatchOnceCommand struct {
	dispatcher Dispatcher
}

func NewDispatchOnceCommand(dispatcher Dispatcher) *DispatchOnceCommand {
	return &DispatchOnceCommand{dispatcher: dispatcher}
}

func (c *DispatchOnceCommand) Execute(ctx context.Context, _ DispatchOnceMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: mailbox router is required")
	}
	stats, err := c.dispatcher.RunOnce(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

type InvalidateRouteCommand struct {
	routes RouteInvalidator
}

func NewInvalidateRouteCommand(routes RouteInvalidator) *InvalidateRouteCommand {
	return &InvalidateRouteCommand{routes: routes}
}

func (c *InvalidateRouteCommand) Execute(ctx context.Context, msg InvalidateRouteMessage) error {
	if c == nil || c.routes == nil {
		return commandDependencyError("command: route invalidator is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.routes.InvalidateRoute(ctx, msg.Key)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
