package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Acceptor = (*Session)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
