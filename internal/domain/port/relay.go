package port

import (
	"context"
	"io"
	"net/http"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
)

// RelayContext is one inbound request on the tunnel together with its response sink
type RelayContext interface {
	// Method is the textual HTTP method
	Method() string
	// RequestURI is the relative path and query
	RequestURI() string
	// Header holds the inbound headers
	Header() http.Header
	// Body is the inbound body stream, nil when empty
	Body() io.Reader
	// Response is the tunnel-side response sink for this request
	Response() RelayResponseWriter
}

// RelayResponseWriter is the tunnel-side response sink of one relayed request
type RelayResponseWriter interface {
	// Header is the response header map; changes after WriteStatus are ignored
	Header() http.Header
	// WriteStatus sets status code and reason phrase
	WriteStatus(code int, reason string)
	// Write appends to the response body
	Write(p []byte) (int, error)
	// Reset discards status, headers and body written so far; no-op after Close
	Reset()
	// Close completes the response; further calls are no-ops
	Close() error
}

// RelayRequestHandler is invoked by a RelayListener for each inbound request
type RelayRequestHandler func(RelayContext)

// RelayListener is the bidirectional tunnel primitive
type RelayListener interface {
	// SetRequestHandler registers the inbound-request callback; call before Open
	SetRequestHandler(handler RelayRequestHandler)
	// Open establishes the tunnel connection
	Open(ctx context.Context) error
	// Close tears the connection down; idempotent
	Close(ctx context.Context) error
}

// RelayListenerFactory creates a listener for a connection string
type RelayListenerFactory func(cs model.ConnectionString) (RelayListener, error)

// RequestHandler is the contract the connection manager dispatches into
type RequestHandler interface {
	HandleRelayRequest(ctx context.Context, req *model.RelayedRequest) (*model.RelayResponse, error)
}
