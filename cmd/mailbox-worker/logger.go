package main

import (
	"io"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// newLogger builds the root go-logger for the worker. Named children created
// through GetLogger share its handler and level.
func newLogger(format string, level string, out io.Writer) *glog.BaseLogger {
	if out == nil {
		out = os.Stdout
	}
	opts := []glog.Option{
		glog.WithName("mailbox-worker"),
		glog.WithWriter(out),
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case glog.LoggerTypeJSON:
		opts = append(opts, glog.WithLoggerTypeJSON())
	case glog.LoggerTypePretty:
		opts = append(opts, glog.WithLoggerTypePretty())
	default:
		opts = append(opts, glog.WithLoggerTypeConsole())
	}
	if trimmed := strings.TrimSpace(level); trimmed != "" {
		opts = append(opts, glog.WithLevel(trimmed))
	}
	return glog.NewLogger(opts...)
}
