package service

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
)

func TestRelayService_StartStop(t *testing.T) {
	tunnel := &fakeTunnel{}
	s := NewRelayService(tunnel, &optionsCell{opts: model.RelayOptions{TargetURL: "http://localhost:1"}}, nil, newTestLogger())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 1, tunnel.initialized)
	assert.Equal(t, 1, tunnel.closed)

	tunnel.initErr = model.ErrConfiguration
	err := s.Start(context.Background())
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestRelayService_RunStopsWithLiveContext(t *testing.T) {
	tunnel := &fakeTunnel{}
	s := NewRelayService(tunnel, &optionsCell{opts: model.RelayOptions{TargetURL: "http://localhost:1"}}, nil, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1, tunnel.closed)
	assert.NoError(t, tunnel.closeCtxErr)
}

func TestRelayService_RunReturnsStartError(t *testing.T) {
	tunnel := &fakeTunnel{initErr: errors.New("dial failed")}
	s := NewRelayService(tunnel, &optionsCell{opts: model.RelayOptions{TargetURL: "http://localhost:1"}}, nil, newTestLogger())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial failed")
	assert.Zero(t, tunnel.closed)
}

func TestRelayService_ApplyConfig(t *testing.T) {
	options := &optionsCell{opts: model.RelayOptions{TargetURL: "http://localhost:1"}}
	levels := &levelRecorder{}
	s := NewRelayService(&fakeTunnel{}, options, levels, newTestLogger())

	cfg := model.NewConfig()
	cfg.TargetURL = "http://localhost:2"
	cfg.LogLevel = model.LogLevelDebug
	s.ApplyConfig(cfg)
	assert.Equal(t, "http://localhost:2", options.Current().TargetURL)
	assert.Equal(t, []string{"debug"}, levels.levels)

	cfg.TargetURL = "not a url"
	s.ApplyConfig(cfg)
	assert.Equal(t, "http://localhost:2", options.Current().TargetURL)
}
