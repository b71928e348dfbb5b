package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

var knownMethods = map[string]string{
	"GET":     http.MethodGet,
	"HEAD":    http.MethodHead,
	"POST":    http.MethodPost,
	"PUT":     http.MethodPut,
	"PATCH":   http.MethodPatch,
	"DELETE":  http.MethodDelete,
	"OPTIONS": http.MethodOptions,
	"TRACE":   http.MethodTrace,
	"CONNECT": http.MethodConnect,
}

// ParseMethod maps a textual method to its token, case-insensitively
func ParseMethod(method string) (string, error) {
	m, ok := knownMethods[strings.ToUpper(strings.TrimSpace(method))]
	if !ok {
		return "", errors.Wrapf(model.ErrNotSupported, "http method %q", method)
	}
	return m, nil
}

// JoinURL joins base and a relative path+query, trimming exactly one slash on each
// side of the seam so the result has a single separator.
func JoinURL(base, pathAndQuery string) string {
	base = strings.TrimSuffix(base, "/")
	pathAndQuery = strings.TrimPrefix(pathAndQuery, "/")
	return base + "/" + pathAndQuery
}

// buildLocalRequest converts a relayed request into a request against the local service
func buildLocalRequest(ctx context.Context, baseURL string, in *model.RelayedRequest, logger port.Logger) (*http.Request, error) {
	target, err := url.Parse(JoinURL(baseURL, in.Path))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid local url for %q", in.Path)
	}

	method, err := ParseMethod(in.Method)
	if err != nil {
		return nil, err
	}

	out, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create local request")
	}

	// bodies on GET and HEAD are never forwarded
	if in.Body != nil && method != http.MethodGet && method != http.MethodHead {
		body, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to buffer relayed request body")
		}
		if len(body) > 0 {
			out.Body = io.NopCloser(bytes.NewReader(body))
			out.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}
			out.ContentLength = int64(len(body))
			checkContentLength(in.Header, len(body), logger)
		}
	}

	// copy verbatim, keys are not canonicalised or validated.
	// Framing headers are derived from out.ContentLength by the transport.
	for key, values := range in.Header {
		if isFramingHeader(key) {
			continue
		}
		out.Header[key] = append(out.Header[key], values...)
	}

	// the relay's inbound Host must not leak to the local service
	out.Host = target.Host

	return out, nil
}

func checkContentLength(header http.Header, actual int, logger port.Logger) {
	declared := headerValue(header, "Content-Length")
	if declared == "" {
		return
	}
	n, err := strconv.Atoi(declared)
	if err != nil || n != actual {
		logger.Warn("Content-Length header %q does not match body length %d", declared, actual)
	}
}

func isFramingHeader(key string) bool {
	return strings.EqualFold(key, "Host") ||
		strings.EqualFold(key, "Content-Length") ||
		strings.EqualFold(key, model.HeaderTransferEncoding)
}

// headerValue reads a header case-insensitively without requiring canonical keys
func headerValue(header http.Header, name string) string {
	if v := header.Get(name); v != "" {
		return v
	}
	for k, vv := range header {
		if strings.EqualFold(k, name) && len(vv) > 0 {
			return vv[0]
		}
	}
	return ""
}
