package mailbox

import (
	"context"

	"github.com/goliatone/go-mailbox/core"
)

type Config = core.Config

type StoreConfig = core.StoreConfig

type Entry = core.Entry

type EntryHead = core.EntryHead

type Document = core.Document

type Response = core.Response

type Result = core.Result

type Unit = core.Unit

type Handler = core.Handler

type HandlerFunc = core.HandlerFunc

type Session = core.Session

type Router = core.Router

type DocumentStore = core.DocumentStore

type BlobStore = core.BlobStore

type DispatchHook = core.DispatchHook
type DispatchEvent = core.DispatchEvent
type DispatchStats = core.DispatchStats
type MetricsRecorder = core.MetricsRecorder

var (
	InlineResult       = core.InlineResult
	BlobResult         = core.BlobResult
	ErrorResult        = core.ErrorResult
	NewRequestEntry    = core.NewRequestEntry
	RequestFromContext = core.RequestFromContext
	IsConflict         = core.IsConflict
	IsRoutingError     = core.IsRoutingError
	IsTimeout          = core.IsTimeout
	ErrorTextCode      = core.ErrorTextCode
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig resolves defaults < JSON file at path < MAILBOX_* environment.
func LoadConfig(ctx context.Context, path string) (Config, error) {
	return core.LoadConfig(ctx, path)
}
