package pipeline

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/infrastructure/logger"
)

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"http://localhost:8080", "/foo?x=1", "http://localhost:8080/foo?x=1"},
		{"http://localhost:8080/", "/foo", "http://localhost:8080/foo"},
		{"http://localhost:8080/", "foo", "http://localhost:8080/foo"},
		{"http://localhost:8080/api", "v1/items", "http://localhost:8080/api/v1/items"},
		{"http://localhost:8080/api/", "/", "http://localhost:8080/api/"},
		{"http://localhost:8080", "", "http://localhost:8080/"},
		{"http://localhost:8080//", "//x", "http://localhost:8080///x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinURL(tt.base, tt.path), "JoinURL(%q, %q)", tt.base, tt.path)
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("patch")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, m)

	_, err = ParseMethod("PROPFIND")
	assert.ErrorIs(t, err, model.ErrNotSupported)
}

func TestBuildLocalRequest_Headers(t *testing.T) {
	base, hook := logtest.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	in := model.NewRelayedRequest("POST", "/x", http.Header{
		"host":              {"relay.example.com"},
		"content-length":    {"99"},
		"Transfer-Encoding": {"chunked"},
		"x-custom":          {"a", "b"},
	}, strings.NewReader("abc"), time.Now())

	req, err := buildLocalRequest(context.Background(), "http://127.0.0.1:9000/", in, logger.FromLogrus(base))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", req.Host)
	assert.Equal(t, int64(3), req.ContentLength)
	assert.Equal(t, []string{"a", "b"}, req.Header["x-custom"])
	assert.NotContains(t, req.Header, "host")
	assert.NotContains(t, req.Header, "content-length")
	assert.NotContains(t, req.Header, "Transfer-Encoding")

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "does not match")
}

func TestOptionsMonitor(t *testing.T) {
	m := NewOptionsMonitor(model.RelayOptions{TargetURL: "http://localhost:1"})
	assert.Equal(t, "http://localhost:1", m.Current().TargetURL)

	var seen []string
	cancel := m.OnChange(func(o model.RelayOptions) { seen = append(seen, o.TargetURL) })

	require.NoError(t, m.Update(model.RelayOptions{TargetURL: "http://localhost:2"}))
	assert.ErrorIs(t, m.Update(model.RelayOptions{TargetURL: "not a url"}), model.ErrConfiguration)
	assert.Equal(t, "http://localhost:2", m.Current().TargetURL)

	cancel()
	require.NoError(t, m.Update(model.RelayOptions{TargetURL: "http://localhost:3"}))
	assert.Equal(t, []string{"http://localhost:2"}, seen)
}
