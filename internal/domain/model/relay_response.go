package model

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// HeaderTransferEncoding is never copied between the local and relay legs
const HeaderTransferEncoding = "Transfer-Encoding"

// RelayResponse is the result written back onto the tunnel for one RelayedRequest
type RelayResponse struct {
	// StatusCode is the numeric HTTP status
	StatusCode int
	// Reason is the status reason text, e.g. "Bad Gateway"
	Reason string
	// Header holds the response headers, never including Transfer-Encoding
	Header http.Header
	// Body is the response body stream, nil when the response has none
	Body io.ReadCloser
	// CompletedAt is when the pipeline finished producing the response
	CompletedAt time.Time
}

// Clone returns a deep copy with its own header map and body stream.
// The receiver's body is buffered and replaced, so it must not be read concurrently.
func (r *RelayResponse) Clone() (*RelayResponse, error) {
	clone := &RelayResponse{
		StatusCode:  r.StatusCode,
		Reason:      r.Reason,
		Header:      r.Header.Clone(),
		CompletedAt: r.CompletedAt,
	}
	if r.Body == nil {
		return clone, nil
	}

	body, err := io.ReadAll(r.Body)
	closeErr := r.Body.Close()
	if err != nil {
		// the receiver keeps the bytes read so far followed by the read error
		r.Body = io.NopCloser(replayBody(body, err))
		return nil, errors.Wrap(err, "failed to buffer relay response body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if closeErr != nil {
		return nil, errors.Wrap(closeErr, "failed to close relay response body")
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return clone, nil
}

// replayBody yields data and then fails with err
func replayBody(data []byte, err error) io.Reader {
	return io.MultiReader(bytes.NewReader(data), errReader{err: err})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
