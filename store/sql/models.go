package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type documentRecord struct {
	bun.BaseModel `bun:"table:mailbox_documents,alias:md"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	Revision  int64     `bun:"revision,notnull"`
	Content   string    `bun:"content,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type blobRecord struct {
	bun.BaseModel `bun:"table:mailbox_blobs,alias:mb"`

	ID           string    `bun:"id,pk"`
	DocumentName string    `bun:"document_name,notnull"`
	Name         string    `bun:"name,notnull"`
	Content      []byte    `bun:"content,notnull"`
	SizeBytes    int64     `bun:"size_bytes,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
