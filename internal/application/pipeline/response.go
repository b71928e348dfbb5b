package pipeline

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
)

// toRelayResponse converts the local response into the relay response,
// handing its body stream over without buffering.
func toRelayResponse(resp *http.Response, now time.Time) *model.RelayResponse {
	out := &model.RelayResponse{
		StatusCode:  resp.StatusCode,
		Reason:      reasonPhrase(resp),
		Header:      make(http.Header, len(resp.Header)),
		CompletedAt: now,
	}
	for key, values := range resp.Header {
		if strings.EqualFold(key, model.HeaderTransferEncoding) {
			continue
		}
		out.Header[key] = append([]string(nil), values...)
	}
	if resp.Body != nil && resp.Body != http.NoBody {
		out.Body = resp.Body
	}
	return out
}

// reasonPhrase extracts "Not Found" from a Status of "404 Not Found"
func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// badGatewayResponse synthesizes the 502 returned when the local service is unreachable
func badGatewayResponse(req *http.Request, cause error) *http.Response {
	body := cause.Error()
	return &http.Response{
		Status:        strconv.Itoa(http.StatusBadGateway) + " " + http.StatusText(http.StatusBadGateway),
		StatusCode:    http.StatusBadGateway,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// isTransportError reports whether err means the local service could not be reached:
// refused or reset connections, DNS failures, timeouts, or a connection closed mid-response.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	// *url.Error itself satisfies net.Error, so look at what it wraps
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
