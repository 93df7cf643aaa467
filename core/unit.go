package core

// Unit wraps one pending request for the duration of a poll cycle.
type Unit struct {
	request Entry
}

func NewUnit(request Entry) *Unit {
	return &Unit{request: cloneEntry(request)}
}

// Get returns the request body, which is the routing key.
func (u *Unit) Get() string {
	if u == nil {
		return ""
	}
	return u.request.Body
}

func (u *Unit) ID() string {
	if u == nil {
		return ""
	}
	return u.request.Head.ID
}

func (u *Unit) Request() Entry {
	if u == nil {
		return Entry{}
	}
	return cloneEntry(u.request)
}

// Set builds the response correlated with the wrapped request. The id and
// timestamp are copied from the request; the state is always Done.
func (u *Unit) Set(result Result) Response {
	if u == nil {
		return Response{}
	}
	switch result.Kind {
	case ResultBlob:
		return Response{Blob: &BlobEntry{
			Head: u.responseHead(ContentTypeFile),
			Body: append([]byte(nil), result.Data...),
		}}
	case ResultError:
		return Response{Inline: &Entry{
			Head: u.responseHead(ContentTypeError),
			Body: result.Text,
		}}
	default:
		return Response{Inline: &Entry{
			Head: u.responseHead(ContentTypeString),
			Body: result.Text,
		}}
	}
}

func (u *Unit) responseHead(contentType string) EntryHead {
	return EntryHead{
		ID:          u.request.Head.ID,
		ContentType: contentTypePtr(contentType),
		State:       StateDone,
		Timestamp:   u.request.Head.Timestamp,
	}
}

// timeoutResponse answers a request that expired before it was dispatched.
func timeoutResponse(request Entry) Entry {
	unit := NewUnit(request)
	response := unit.Set(ErrorResult(ErrorTimeout + ": mailbox: request expired before dispatch"))
	return *response.Inline
}
