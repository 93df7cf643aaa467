package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const emptyDocumentContent = "[]"

// DocumentCodec converts the mailbox document between its wire form and
// entries.
type DocumentCodec interface {
	Encode(entries []Entry) ([]byte, error)
	Decode(content []byte) ([]Entry, error)
}

type JSONDocumentCodec struct{}

func (JSONDocumentCodec) Encode(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("core: encode mailbox document: %w", err)
	}
	return encoded, nil
}

func (JSONDocumentCodec) Decode(content []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return []Entry{}, nil
	}
	entries := []Entry{}
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("core: decode mailbox document: %w", err)
	}
	return entries, nil
}

var _ DocumentCodec = JSONDocumentCodec{}
