package pipeline

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
	"github.com/haxorport/haxorport-relay-agent/internal/infrastructure/logger"
)

type staticPlugins []port.Plugin

func (s staticPlugins) EnabledPlugins() []port.Plugin { return s }

type funcPlugin struct {
	name string
	pre  func(*http.Request) (*http.Request, error)
	post func(*http.Response) (*http.Response, error)
}

func (p *funcPlugin) Name() string     { return p.name }
func (p *funcPlugin) HelpText() string { return "test plugin" }

func (p *funcPlugin) PreProcessRequest(_ context.Context, req *http.Request) (*http.Request, error) {
	if p.pre == nil {
		return req, nil
	}
	return p.pre(req)
}

func (p *funcPlugin) PostProcessResponse(_ context.Context, resp *http.Response) (*http.Response, error) {
	if p.post == nil {
		return resp, nil
	}
	return p.post(resp)
}

type recordingListener struct {
	received chan *model.RelayedRequest
	sent     chan *model.RelayResponse
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		received: make(chan *model.RelayedRequest, 1),
		sent:     make(chan *model.RelayResponse, 1),
	}
}

func (l *recordingListener) OnRequestReceived(_ context.Context, _ string, req *model.RelayedRequest) error {
	l.received <- req
	return nil
}

func (l *recordingListener) OnResponseSent(_ context.Context, _ string, resp *model.RelayResponse) error {
	l.sent <- resp
	return nil
}

type recorded struct {
	method string
	uri    string
	host   string
	header http.Header
	body   string
}

func newLocalService(t *testing.T, handler http.HandlerFunc) (*httptest.Server, chan recorded) {
	t.Helper()
	calls := make(chan recorded, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls <- recorded{method: r.Method, uri: r.RequestURI, host: r.Host, header: r.Header.Clone(), body: string(body)}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func newTestManager(t *testing.T, target string, plugins []port.Plugin, opts ...Option) (*RequestManager, *logtest.Hook) {
	t.Helper()
	base, hook := logtest.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	monitor := NewOptionsMonitor(model.RelayOptions{TargetURL: target})
	return NewRequestManager(monitor, staticPlugins(plugins), logger.FromLogrus(base), opts...), hook
}

func readBody(t *testing.T, resp *model.RelayResponse) string {
	t.Helper()
	if resp.Body == nil {
		return ""
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestHandleRelayRequest_GetJoinsPathAndRewritesHost(t *testing.T) {
	srv, calls := newLocalService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Local", "yes")
		_, _ = w.Write([]byte("hello"))
	})
	m, _ := newTestManager(t, srv.URL+"/base/", nil)

	in := model.NewRelayedRequest("get", "/foo?x=1", http.Header{
		"Host":    {"relay.example.com"},
		"x-trace": {"abc"},
	}, nil, time.Now())

	resp, err := m.HandleRelayRequest(context.Background(), in)
	require.NoError(t, err)

	call := <-calls
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, "/base/foo?x=1", call.uri)
	assert.Equal(t, strings.TrimPrefix(srv.URL, "http://"), call.host)
	assert.Equal(t, "abc", call.header.Get("X-Trace"))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, "yes", resp.Header.Get("X-Local"))
	assert.Equal(t, "hello", readBody(t, resp))
}

func TestHandleRelayRequest_PostForwardsBodyThroughPlugins(t *testing.T) {
	srv, calls := newLocalService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	addHeader := &funcPlugin{name: "AddHeaders", pre: func(req *http.Request) (*http.Request, error) {
		req.Header.Set("X-Added", "1")
		return req, nil
	}}
	m, _ := newTestManager(t, srv.URL, []port.Plugin{addHeader})

	in := model.NewRelayedRequest("POST", "/items", http.Header{
		"Content-Type":   {"application/json"},
		"Content-Length": {"7"},
	}, strings.NewReader(`{"a":1}`), time.Now())

	resp, err := m.HandleRelayRequest(context.Background(), in)
	require.NoError(t, err)

	call := <-calls
	assert.Equal(t, `{"a":1}`, call.body)
	assert.Equal(t, "1", call.header.Get("X-Added"))
	assert.Equal(t, "application/json", call.header.Get("Content-Type"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Created", resp.Reason)
}

func TestHandleRelayRequest_GetBodyIsNotForwarded(t *testing.T) {
	srv, calls := newLocalService(t, func(http.ResponseWriter, *http.Request) {})
	m, _ := newTestManager(t, srv.URL, nil)

	in := model.NewRelayedRequest("GET", "/", nil, strings.NewReader("ignored"), time.Now())
	_, err := m.HandleRelayRequest(context.Background(), in)
	require.NoError(t, err)

	assert.Empty(t, (<-calls).body)
}

func TestHandleRelayRequest_UnreachableServiceAnswers502(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	var postRan bool
	post := &funcPlugin{name: "Observe", post: func(resp *http.Response) (*http.Response, error) {
		postRan = true
		return resp, nil
	}}
	m, hook := newTestManager(t, target, []port.Plugin{post})

	resp, err := m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/x", nil, nil, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Bad Gateway", resp.Reason)
	assert.Contains(t, readBody(t, resp), "connection refused")
	assert.True(t, postRan, "post-process plugins run on the synthesized 502")

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "unreachable") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestHandleRelayRequest_PreProcessFailureSkipsLocalCall(t *testing.T) {
	srv, calls := newLocalService(t, func(http.ResponseWriter, *http.Request) {})
	failing := &funcPlugin{name: "Broken", pre: func(*http.Request) (*http.Request, error) {
		return nil, errors.New("boom")
	}}
	m, hook := newTestManager(t, srv.URL, []port.Plugin{failing})

	_, err := m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/", nil, nil, time.Now()))
	require.Error(t, err)

	var perr *model.PluginError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Broken", perr.Plugin)
	assert.Equal(t, model.PhasePreProcess, perr.Phase)
	assert.Empty(t, calls)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "Broken", entry.Data["plugin"])
	assert.Equal(t, model.PhasePreProcess, entry.Data["phase"])
}

func TestHandleRelayRequest_PluginContractViolations(t *testing.T) {
	srv, _ := newLocalService(t, func(http.ResponseWriter, *http.Request) {})

	tests := []struct {
		name   string
		plugin *funcPlugin
		phase  model.PluginPhase
		target error
	}{
		{
			name: "nil request",
			plugin: &funcPlugin{name: "Nil", pre: func(*http.Request) (*http.Request, error) {
				return nil, nil
			}},
			phase:  model.PhasePreProcess,
			target: model.ErrContractViolation,
		},
		{
			name: "nil response",
			plugin: &funcPlugin{name: "Nil", post: func(*http.Response) (*http.Response, error) {
				return nil, nil
			}},
			phase:  model.PhasePostProcess,
			target: model.ErrContractViolation,
		},
		{
			name: "panic",
			plugin: &funcPlugin{name: "Panics", post: func(*http.Response) (*http.Response, error) {
				panic("kaboom")
			}},
			phase: model.PhasePostProcess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, srv.URL, []port.Plugin{tt.plugin})
			_, err := m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/", nil, nil, time.Now()))

			var perr *model.PluginError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.phase, perr.Phase)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestHandleRelayRequest_PluginsRunInOrder(t *testing.T) {
	srv, _ := newLocalService(t, func(http.ResponseWriter, *http.Request) {})

	var mu sync.Mutex
	var order []string
	track := func(name string) *funcPlugin {
		return &funcPlugin{
			name: name,
			pre: func(req *http.Request) (*http.Request, error) {
				mu.Lock()
				order = append(order, "pre:"+name)
				mu.Unlock()
				return req, nil
			},
			post: func(resp *http.Response) (*http.Response, error) {
				mu.Lock()
				order = append(order, "post:"+name)
				mu.Unlock()
				return resp, nil
			},
		}
	}
	m, _ := newTestManager(t, srv.URL, []port.Plugin{track("a"), track("b")})

	_, err := m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/", nil, nil, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, []string{"pre:a", "pre:b", "post:a", "post:b"}, order)
}

func TestHandleRelayRequest_ListenerReceivesIndependentClones(t *testing.T) {
	srv, calls := newLocalService(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("response-body"))
	})
	listener := newRecordingListener()
	m, _ := newTestManager(t, srv.URL, nil,
		WithLifecycleListener(listener),
		WithIDGenerator(func() string { return "req-1" }),
	)

	in := model.NewRelayedRequest("PUT", "/doc", http.Header{"X-A": {"1"}}, strings.NewReader("request-body"), time.Now())
	resp, err := m.HandleRelayRequest(context.Background(), in)
	require.NoError(t, err)

	// the local service still got the full body although the listener owns a copy
	assert.Equal(t, "request-body", (<-calls).body)
	assert.Equal(t, "response-body", readBody(t, resp))

	select {
	case got := <-listener.received:
		got.Header.Set("X-A", "mutated")
		data, err := io.ReadAll(got.Body)
		require.NoError(t, err)
		assert.Equal(t, "request-body", string(data))
		assert.Equal(t, "1", in.Header.Get("X-A"))
	case <-time.After(2 * time.Second):
		t.Fatal("request notification not delivered")
	}

	select {
	case got := <-listener.sent:
		assert.Equal(t, http.StatusOK, got.StatusCode)
		assert.Equal(t, "response-body", readBody(t, got))
	case <-time.After(2 * time.Second):
		t.Fatal("response notification not delivered")
	}
}

type failingListener struct{ done chan struct{} }

func (l *failingListener) OnRequestReceived(context.Context, string, *model.RelayedRequest) error {
	panic("listener exploded")
}

func (l *failingListener) OnResponseSent(context.Context, string, *model.RelayResponse) error {
	defer close(l.done)
	return errors.New("listener failed")
}

func TestHandleRelayRequest_ListenerFailuresDoNotAffectResponse(t *testing.T) {
	srv, _ := newLocalService(t, func(http.ResponseWriter, *http.Request) {})
	listener := &failingListener{done: make(chan struct{})}
	m, _ := newTestManager(t, srv.URL, nil, WithLifecycleListener(listener))

	resp, err := m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/", nil, nil, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-listener.done:
	case <-time.After(2 * time.Second):
		t.Fatal("response notification not delivered")
	}
}

func TestHandleRelayRequest_RejectsBadInput(t *testing.T) {
	m, _ := newTestManager(t, "http://127.0.0.1:1", nil)

	_, err := m.HandleRelayRequest(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrNilRequest)

	_, err = m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("BREW", "/pot", nil, nil, time.Now()))
	assert.ErrorIs(t, err, model.ErrNotSupported)
	assert.ErrorIs(t, err, model.ErrConversion)
}

func TestHandleRelayRequest_DoesNotFollowRedirects(t *testing.T) {
	srv, calls := newLocalService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	})
	m, _ := newTestManager(t, srv.URL, nil, WithHTTPClient(NewHTTPClient(5*time.Second)))

	resp, err := m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/start", nil, nil, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/elsewhere", resp.Header.Get("Location"))
	assert.Len(t, calls, 1)
}

func TestHandleRelayRequest_FollowsTargetChanges(t *testing.T) {
	first, firstCalls := newLocalService(t, func(http.ResponseWriter, *http.Request) {})
	second, secondCalls := newLocalService(t, func(http.ResponseWriter, *http.Request) {})
	m, _ := newTestManager(t, first.URL, nil)

	_, err := m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/", nil, nil, time.Now()))
	require.NoError(t, err)
	require.NoError(t, m.Options().Update(model.RelayOptions{TargetURL: second.URL}))
	_, err = m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/", nil, nil, time.Now()))
	require.NoError(t, err)

	assert.Len(t, firstCalls, 1)
	assert.Len(t, secondCalls, 1)
}

func TestToRelayResponse_StripsTransferEncoding(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header: http.Header{
			"Transfer-Encoding": {"chunked"},
			"transfer-encoding": {"chunked"},
			"Content-Type":      {"text/plain"},
		},
		Body: http.NoBody,
	}
	out := toRelayResponse(resp, time.Now())
	assert.Equal(t, http.Header{"Content-Type": {"text/plain"}}, out.Header)
	assert.Nil(t, out.Body)
}

func TestReasonPhrase(t *testing.T) {
	assert.Equal(t, "Not Found", reasonPhrase(&http.Response{StatusCode: 404, Status: "404 Not Found"}))
	assert.Equal(t, "Teapot Time", reasonPhrase(&http.Response{StatusCode: 418, Status: "418 Teapot Time"}))
	assert.Equal(t, "No Content", reasonPhrase(&http.Response{StatusCode: 204}))
}

// newTruncatingService answers every request with a 200 whose body ends early
func newTruncatingService(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
					return
				}
				_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\npartial")
			}(conn)
		}
	}()
	return "http://" + ln.Addr().String()
}

func TestHandleRelayRequest_TruncatedBodyWithListenerIsAnError(t *testing.T) {
	listener := newRecordingListener()
	m, _ := newTestManager(t, newTruncatingService(t), nil, WithLifecycleListener(listener))

	resp, err := m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/", nil, nil, time.Now()))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, model.ErrConversion), "got %v", err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)

	select {
	case <-listener.sent:
		t.Fatal("a response that was never produced must not be reported as sent")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleRelayRequest_TruncatedBodyWithoutListenerFailsOnRead(t *testing.T) {
	m, _ := newTestManager(t, newTruncatingService(t), nil)

	resp, err := m.HandleRelayRequest(context.Background(), model.NewRelayedRequest("GET", "/", nil, nil, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, resp.Body)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	assert.Equal(t, "partial", string(data))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "the failure must reach whoever writes the tunnel response")
}
