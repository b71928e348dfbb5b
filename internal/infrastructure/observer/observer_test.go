package observer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func request(method, path, body string) *model.RelayedRequest {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return model.NewRelayedRequest(method, path, http.Header{"X-Req": {"1"}}, r, epoch)
}

func response(code int, body string, after time.Duration) *model.RelayResponse {
	resp := &model.RelayResponse{
		StatusCode:  code,
		Reason:      http.StatusText(code),
		Header:      http.Header{"Content-Type": {"text/plain"}},
		CompletedAt: epoch.Add(after),
	}
	if body != "" {
		resp.Body = io.NopCloser(strings.NewReader(body))
	}
	return resp
}

type bodyReader struct {
	requests  []string
	responses []string
	err       error
	panics    bool
}

func (b *bodyReader) OnRequestReceived(_ context.Context, _ string, req *model.RelayedRequest) error {
	if b.panics {
		panic("listener bug")
	}
	var data []byte
	if req.Body != nil {
		data, _ = io.ReadAll(req.Body)
	}
	b.requests = append(b.requests, string(data))
	return b.err
}

func (b *bodyReader) OnResponseSent(_ context.Context, _ string, resp *model.RelayResponse) error {
	var data []byte
	if resp.Body != nil {
		data, _ = io.ReadAll(resp.Body)
	}
	b.responses = append(b.responses, string(data))
	return b.err
}

func TestFanout_EachListenerGetsItsOwnBody(t *testing.T) {
	first, second := &bodyReader{}, &bodyReader{}
	f := NewFanout(first, nil, second)

	require.NoError(t, f.OnRequestReceived(context.Background(), "1", request("POST", "/", "payload")))
	require.NoError(t, f.OnResponseSent(context.Background(), "1", response(200, "answer", 0)))

	assert.Equal(t, []string{"payload"}, first.requests)
	assert.Equal(t, []string{"payload"}, second.requests)
	assert.Equal(t, []string{"answer"}, first.responses)
	assert.Equal(t, []string{"answer"}, second.responses)
}

func TestFanout_CombinesErrors(t *testing.T) {
	failing := &bodyReader{err: errors.New("first failed")}
	panicking := &bodyReader{panics: true}
	healthy := &bodyReader{}
	f := NewFanout(failing, panicking, healthy)

	err := f.OnRequestReceived(context.Background(), "1", request("GET", "/", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Contains(t, err.Error(), "listener panic: listener bug")
	assert.NotContains(t, err.Error(), "nil pointer")
	assert.Len(t, healthy.requests, 1, "later listeners still run")
	assert.Equal(t, []string{""}, healthy.requests)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c, err := NewConsole(&buf)
	require.NoError(t, err)

	require.NoError(t, c.OnRequestReceived(context.Background(), "abc", request("GET", "/foo?x=1", "")))
	require.NoError(t, c.OnResponseSent(context.Background(), "abc", response(404, "", 1500*time.Millisecond)))
	require.NoError(t, c.OnResponseSent(context.Background(), "unknown", response(502, "", 0)))

	assert.Equal(t,
		"--> GET /foo?x=1 [abc]\n"+
			"<-- 404 Not Found [abc] (1.5s)\n"+
			"<-- 502 Bad Gateway [unknown]\n",
		buf.String())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.OnRequestReceived(ctx, "1", request("get", "/", "")))
	require.NoError(t, m.OnRequestReceived(ctx, "2", request("POST", "/", "x")))
	require.NoError(t, m.OnResponseSent(ctx, "1", response(200, "ok", time.Second)))
	require.NoError(t, m.OnResponseSent(ctx, "2", response(502, "", 2*time.Second)))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsReceived.WithLabelValues("GET")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsReceived.WithLabelValues("POST")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responsesSent.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responsesSent.WithLabelValues("502")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice fails")
}

func TestHistory_CapturesBothSides(t *testing.T) {
	h, err := NewHistory(10)
	require.NoError(t, err)
	ctx := context.Background()

	// the response notification may arrive first
	require.NoError(t, h.OnResponseSent(ctx, "1", response(201, "created", time.Second)))
	require.NoError(t, h.OnRequestReceived(ctx, "1", request("POST", "/items", `{"a":1}`)))

	e, err := h.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "/items", e.Path)
	assert.Equal(t, `{"a":1}`, string(e.RequestBody))
	assert.Equal(t, 201, e.StatusCode)
	assert.Equal(t, "created", string(e.ResponseBody))
	assert.Equal(t, time.Second, e.Duration())

	req, err := h.Request("1")
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "1", req.Header.Get("X-Req"))
	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = h.Get("missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestHistory_RequestNeedsCapturedRequest(t *testing.T) {
	h, err := NewHistory(10)
	require.NoError(t, err)
	require.NoError(t, h.OnResponseSent(context.Background(), "1", response(200, "", 0)))

	_, err = h.Request("1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestHistory_EvictsOldestAndTruncates(t *testing.T) {
	h, err := NewHistory(2)
	require.NoError(t, err)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		req := request("GET", "/"+id, "")
		req.ArrivedAt = epoch.Add(time.Duration(i) * time.Second)
		require.NoError(t, h.OnRequestReceived(ctx, id, req))
	}
	require.NoError(t, h.OnResponseSent(ctx, "c", response(200, strings.Repeat("x", MaxCapturedResponseBody+10), 0)))

	list := h.List()
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.True(t, list[0].ResponseTruncated)
	assert.Len(t, list[0].ResponseBody, MaxCapturedResponseBody)

	_, err = h.Get("a")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
