package model

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// RelayedRequest is one inbound request arriving over the tunnel connection
type RelayedRequest struct {
	// Method is the textual HTTP method as received
	Method string
	// Header holds the inbound headers; treat as read-only once constructed
	Header http.Header
	// Body is the inbound body stream, nil when the request has none
	Body io.Reader
	// Path is the relative path and query, e.g. /foo?x=1
	Path string
	// ArrivedAt is when the tunnel delivered the request
	ArrivedAt time.Time
}

// NewRelayedRequest creates a RelayedRequest that owns an independent copy of header
func NewRelayedRequest(method, path string, header http.Header, body io.Reader, arrivedAt time.Time) *RelayedRequest {
	if header == nil {
		header = http.Header{}
	}
	return &RelayedRequest{
		Method:    method,
		Header:    header.Clone(),
		Body:      body,
		Path:      path,
		ArrivedAt: arrivedAt,
	}
}

// Clone returns a deep copy with its own header map and body stream.
// The receiver's body is buffered and replaced so both copies read the same bytes
// independently. Clone must not run concurrently with a reader of r.Body.
func (r *RelayedRequest) Clone() (*RelayedRequest, error) {
	body, err := r.bufferBody()
	if err != nil {
		return nil, err
	}
	clone := &RelayedRequest{
		Method:    r.Method,
		Header:    r.Header.Clone(),
		Path:      r.Path,
		ArrivedAt: r.ArrivedAt,
	}
	if body != nil {
		clone.Body = bytes.NewReader(body)
	}
	return clone, nil
}

func (r *RelayedRequest) bufferBody() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		r.Body = replayBody(body, err)
		return nil, errors.Wrap(err, "failed to buffer relayed request body")
	}
	r.Body = bytes.NewReader(body)
	return body, nil
}
