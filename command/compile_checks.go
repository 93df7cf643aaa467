package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[AcceptMessage]          = (*AcceptCommand)(nil)
	_ gocmd.Commander[StashMessage]           = (*StashCommand)(nil)
	_ gocmd.Commander[DispatchOnceMessage]    = (*DispatchOnceCommand)(nil)
	_ gocmd.Commander[InvalidateRouteMessage] = (*InvalidateRouteCommand)(nil)
)
