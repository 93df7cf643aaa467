package sqlstore

import "github.com/goliatone/go-mailbox/core"

var (
	_ core.DocumentStore = (*DocumentStore)(nil)
	_ core.BlobStore     = (*BlobStore)(nil)
)
