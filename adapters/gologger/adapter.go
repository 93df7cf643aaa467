package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-mailbox/core"
)

const DefaultName = "mailbox"

// Resolve uses deterministic precedence provider > logger > nop. An empty
// name resolves the mailbox logger.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	return glog.Resolve(name, provider, logger)
}

// SessionOptions resolves named loggers for the session and router.
func SessionOptions(provider glog.LoggerProvider, logger glog.Logger) ([]core.SessionOption, []core.RouterOption) {
	_, sessionLogger := Resolve(DefaultName+".session", provider, logger)
	_, routerLogger := Resolve(DefaultName+".router", provider, logger)
	return []core.SessionOption{core.WithSessionLogger(sessionLogger)},
		[]core.RouterOption{core.WithRouterLogger(routerLogger)}
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
