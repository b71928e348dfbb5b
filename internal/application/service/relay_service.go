package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// DefaultShutdownTimeout bounds how long Run waits for in-flight requests on shutdown
const DefaultShutdownTimeout = 10 * time.Second

// Tunnel is the connection to the relay
type Tunnel interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
}

// OptionsStore holds the live relay options
type OptionsStore interface {
	Current() model.RelayOptions
	Update(opts model.RelayOptions) error
}

// LevelSetter changes the logging level at runtime
type LevelSetter interface {
	SetLevel(level string)
}

// RelayService runs the tunnel and applies configuration changes while it runs
type RelayService struct {
	tunnel  Tunnel
	options OptionsStore
	levels  LevelSetter
	logger  port.Logger

	shutdownTimeout time.Duration
}

// NewRelayService creates a new RelayService instance. levels may be nil.
func NewRelayService(tunnel Tunnel, options OptionsStore, levels LevelSetter, logger port.Logger) *RelayService {
	return &RelayService{
		tunnel:          tunnel,
		options:         options,
		levels:          levels,
		logger:          logger,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// Start opens the tunnel
func (s *RelayService) Start(ctx context.Context) error {
	s.logger.Info("Starting relay agent, forwarding to %s", s.options.Current().TargetURL)
	if err := s.tunnel.Initialize(ctx); err != nil {
		return errors.Wrap(err, "failed to start relay agent")
	}
	return nil
}

// Stop closes the tunnel and waits for in-flight requests until ctx is done
func (s *RelayService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping relay agent")
	return s.tunnel.Close(ctx)
}

// Run starts the tunnel, blocks until ctx is cancelled and then stops it
func (s *RelayService) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Retarget points the pipeline at a new local service
func (s *RelayService) Retarget(targetURL string) error {
	opts := s.options.Current()
	if opts.TargetURL == targetURL {
		return nil
	}
	opts.TargetURL = targetURL
	if err := s.options.Update(opts); err != nil {
		return err
	}
	s.logger.Info("Forwarding to %s", targetURL)
	return nil
}

// ApplyConfig applies the settings of a reloaded configuration that can change without a reconnect
func (s *RelayService) ApplyConfig(config *model.Config) {
	if s.levels != nil && config.LogLevel != "" {
		s.levels.SetLevel(string(config.LogLevel))
	}
	if err := s.Retarget(config.TargetURL); err != nil {
		s.logger.Warn("Ignoring target_url %q from reloaded configuration: %v", config.TargetURL, err)
	}
}
