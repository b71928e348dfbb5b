package transport

import (
	"bytes"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// ErrResponseClosed is returned when writing to a response that was already sent
var ErrResponseClosed = errors.New("relay response already closed")

// relayContext is one http_request frame together with its response writer
type relayContext struct {
	request *model.HTTPRequest
	writer  *responseWriter
}

func newRelayContext(request *model.HTTPRequest, send func(*model.Message) error) *relayContext {
	header := request.Headers
	if header == nil {
		header = http.Header{}
	}
	request.Headers = header
	return &relayContext{
		request: request,
		writer: &responseWriter{
			id:     request.ID,
			send:   send,
			header: http.Header{},
		},
	}
}

func (rc *relayContext) Method() string {
	return rc.request.Method
}

func (rc *relayContext) RequestURI() string {
	return rc.request.URL
}

func (rc *relayContext) Header() http.Header {
	return rc.request.Headers
}

func (rc *relayContext) Body() io.Reader {
	if len(rc.request.Body) == 0 {
		return nil
	}
	return bytes.NewReader(rc.request.Body)
}

func (rc *relayContext) Response() port.RelayResponseWriter {
	return rc.writer
}

// responseWriter buffers a response and emits it as a single http_response frame on Close
type responseWriter struct {
	id   string
	send func(*model.Message) error

	mu      sync.Mutex
	header  http.Header
	status  int
	reason  string
	frozen  http.Header
	body    bytes.Buffer
	closed  bool
	sendErr error
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

// WriteStatus records status and reason and freezes the header set.
// Only the first call takes effect.
func (w *responseWriter) WriteStatus(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.frozen != nil || w.closed {
		return
	}
	w.status = code
	w.reason = reason
	w.frozen = w.header.Clone()
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrResponseClosed
	}
	if w.frozen == nil {
		w.status = http.StatusOK
		w.reason = http.StatusText(http.StatusOK)
		w.frozen = w.header.Clone()
	}
	return w.body.Write(p)
}

// Reset clears everything buffered so far. Nothing has reached the tunnel before Close.
func (w *responseWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	for key := range w.header {
		delete(w.header, key)
	}
	w.status = 0
	w.reason = ""
	w.frozen = nil
	w.body.Reset()
}

// Close sends the response frame. Further calls return the first result.
func (w *responseWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.sendErr
	}
	w.closed = true

	if w.frozen == nil {
		w.status = http.StatusOK
		w.reason = http.StatusText(http.StatusOK)
		w.frozen = w.header.Clone()
	}

	msg, err := model.NewHTTPResponseMessage(&model.HTTPResponse{
		ID:         w.id,
		StatusCode: w.status,
		Status:     w.reason,
		Headers:    w.frozen,
		Body:       w.body.Bytes(),
	})
	if err != nil {
		w.sendErr = errors.Wrap(err, "failed to create HTTP response message")
		return w.sendErr
	}
	w.sendErr = w.send(msg)
	return w.sendErr
}

var (
	_ port.RelayContext        = (*relayContext)(nil)
	_ port.RelayResponseWriter = (*responseWriter)(nil)
)
