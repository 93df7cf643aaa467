package core

import (
	"strings"
	"time"
)

const (
	StatePending = "Pending"
	StateDone    = "Done"
)

const (
	ContentTypeString = "string"
	ContentTypeFile   = "file"
	ContentTypeError  = "error"
)

// EntryHead is the correlation header shared by requests and responses.
// ID and Timestamp are set by the requester and never change afterwards.
type EntryHead struct {
	ID          string  `json:"id"`
	ContentType *string `json:"content_type"`
	State       string  `json:"state"`
	Timestamp   int64   `json:"timestamp"`
}

// Entry is a mailbox document item: a pending request or an inline response.
type Entry struct {
	Head EntryHead `json:"head"`
	Body string    `json:"body"`
}

// BlobEntry is a response whose body is uploaded out of band. It is never
// written into the mailbox document.
type BlobEntry struct {
	Head EntryHead
	Body []byte
}

// Document is a fetched mailbox snapshot plus the revision token required to
// replace it.
type Document struct {
	Entries  []Entry
	Revision string
}

// Response carries exactly one of Inline or Blob.
type Response struct {
	Inline *Entry
	Blob   *BlobEntry
}

func (r Response) ID() string {
	switch {
	case r.Inline != nil:
		return r.Inline.Head.ID
	case r.Blob != nil:
		return r.Blob.Head.ID
	default:
		return ""
	}
}

func (r Response) IsZero() bool {
	return r.Inline == nil && r.Blob == nil
}

type ResultKind string

const (
	ResultInline ResultKind = "inline"
	ResultBlob   ResultKind = "blob"
	ResultError  ResultKind = "error"
)

// Result is what a route handler produces for one request.
type Result struct {
	Kind ResultKind
	Text string
	Data []byte
}

func InlineResult(text string) Result {
	return Result{Kind: ResultInline, Text: text}
}

func BlobResult(data []byte) Result {
	return Result{Kind: ResultBlob, Data: append([]byte(nil), data...)}
}

func ErrorResult(message string) Result {
	return Result{Kind: ResultError, Text: strings.TrimSpace(message)}
}

// NewRequestEntry builds a pending request the way an external caller would.
func NewRequestEntry(id string, body string, createdAt time.Time) Entry {
	return Entry{
		Head: EntryHead{
			ID:        strings.TrimSpace(id),
			State:     StatePending,
			Timestamp: createdAt.UnixMilli(),
		},
		Body: body,
	}
}

func (e Entry) IsPending() bool {
	return e.Head.State == StatePending
}

// Age is measured from the original request timestamp, for requests and
// responses alike.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.Head.Timestamp))
}

func (h EntryHead) ContentTypeValue() string {
	if h.ContentType == nil {
		return ""
	}
	return *h.ContentType
}

func contentTypePtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func cloneEntry(entry Entry) Entry {
	cloned := entry
	if entry.Head.ContentType != nil {
		value := *entry.Head.ContentType
		cloned.Head.ContentType = &value
	}
	return cloned
}

func cloneEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return []Entry{}
	}
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, cloneEntry(entry))
	}
	return out
}
