package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// DocumentStore reads and replaces the mailbox document. Write must fail with
// a revision conflict when revision is not the token from the latest Fetch.
type DocumentStore interface {
	Fetch(ctx context.Context) (Document, error)
	Write(ctx context.Context, content []byte, revision string) error
}

// BlobStore uploads named out-of-band response bodies.
type BlobStore interface {
	Put(ctx context.Context, name string, content []byte) error
}

// Acceptor is the part of a Session the Router drives.
type Acceptor interface {
	Accept(ctx context.Context) ([]*Unit, error)
	Stash(response Response)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// DispatchEvent describes one unit going through a route handler.
type DispatchEvent struct {
	RequestID string
	Route     string
	Timestamp int64
	Attempt   int
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type DispatchHook interface {
	OnStart(ctx context.Context, event DispatchEvent)
	OnSuccess(ctx context.Context, event DispatchEvent)
	OnFailure(ctx context.Context, event DispatchEvent)
}

type Clock func() time.Time

type NameGenerator func() string
