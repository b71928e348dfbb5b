package di

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/haxorport/haxorport-relay-agent/internal/application/pipeline"
	"github.com/haxorport/haxorport-relay-agent/internal/application/plugin"
	"github.com/haxorport/haxorport-relay-agent/internal/application/service"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
	"github.com/haxorport/haxorport-relay-agent/internal/infrastructure/api"
	"github.com/haxorport/haxorport-relay-agent/internal/infrastructure/config"
	"github.com/haxorport/haxorport-relay-agent/internal/infrastructure/logger"
	"github.com/haxorport/haxorport-relay-agent/internal/infrastructure/observer"
	"github.com/haxorport/haxorport-relay-agent/internal/infrastructure/transport"
)

// Container is a container for dependency injection
type Container struct {
	// Logger
	Logger *logger.Logger

	// Repositories
	ConfigRepository *config.ConfigRepository

	// Services
	ConfigService *service.ConfigService
	RelayService  *service.RelayService

	// Pipeline
	Plugins        *plugin.Registry
	Options        *pipeline.OptionsMonitor
	RequestManager *pipeline.RequestManager

	// Observers
	History         *observer.History
	Metrics         *observer.Metrics
	MetricsRegistry *prometheus.Registry

	// Transport
	ConnectionManager *transport.ConnectionManager

	// Config
	Config *model.Config

	// Console receives the per-request lines, defaults to stdout
	Console io.Writer
}

// NewContainer creates a new Container instance
func NewContainer() *Container {
	return &Container{Console: os.Stdout}
}

// Initialize loads the configuration and wires every component.
// A non-empty logLevel overrides the configured level.
func (c *Container) Initialize(configPath, logLevel string) error {
	// Bootstrap logger until the configuration is known
	c.Logger = logger.NewLogger(os.Stdout, "info")
	c.ConfigRepository = config.NewConfigRepository(c.Logger)
	c.ConfigService = service.NewConfigService(c.ConfigRepository, c.Logger)

	cfg, err := c.ConfigService.LoadConfig(configPath)
	if err != nil {
		return err
	}
	c.Config = cfg
	if logLevel != "" {
		c.Config.LogLevel = model.LogLevel(logLevel)
	}

	if err := c.initLogger(); err != nil {
		return err
	}

	c.Plugins = plugin.NewRegistry(c.ConfigService, c.Logger)
	if err := c.Plugins.Discover(context.Background(), plugin.Builtins()...); err != nil {
		return errors.Wrap(err, "failed to load plugins")
	}

	if err := c.initObservers(); err != nil {
		return err
	}

	c.Options = pipeline.NewOptionsMonitor(c.Config.Options())
	c.RequestManager = pipeline.NewRequestManager(c.Options, c.Plugins, c.Logger,
		pipeline.WithHTTPClient(pipeline.NewHTTPClient(c.Config.RequestTimeout)),
		pipeline.WithLifecycleListener(observer.NewFanout(c.consoleListener(), c.Metrics, c.History)),
	)

	factory := transport.NewRelayListenerFactory(c.Config.TLSEnabled, c.Logger)
	c.ConnectionManager = transport.NewConnectionManager(c.Config, c.RequestManager, factory, c.Logger)
	c.RelayService = service.NewRelayService(c.ConnectionManager, c.Options, c.Logger, c.Logger)

	return nil
}

func (c *Container) initLogger() error {
	level := string(c.Config.LogLevel)
	if c.Config.LogFile != "" {
		fileLogger, err := logger.NewFileLogger(c.Config.LogFile, level)
		if err != nil {
			return errors.Wrap(err, "failed to create file logger")
		}
		c.Logger = fileLogger
	} else {
		c.Logger.SetLevel(level)
	}
	c.Logger.SetJSON(c.Config.LogFormat == model.LogFormatJSON)
	return nil
}

func (c *Container) initObservers() error {
	var err error
	if c.History, err = observer.NewHistory(c.Config.HistorySize); err != nil {
		return err
	}

	c.MetricsRegistry = prometheus.NewRegistry()
	if err := c.MetricsRegistry.Register(collectors.NewGoCollector()); err != nil {
		return errors.Wrap(err, "failed to register go collector")
	}
	if err := c.MetricsRegistry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return errors.Wrap(err, "failed to register process collector")
	}
	c.Metrics, err = observer.NewMetrics(c.MetricsRegistry)
	return err
}

// consoleListener returns nil when the console is disabled
func (c *Container) consoleListener() port.LifecycleListener {
	if c.Console == nil {
		return nil
	}
	console, err := observer.NewConsole(c.Console)
	if err != nil {
		c.Logger.Warn("Console output disabled: %v", err)
		return nil
	}
	return console
}

// NewAPIServer returns the management server listening on listen
func (c *Container) NewAPIServer(listen string) *api.Server {
	return &api.Server{
		Listen:   listen,
		Plugins:  c.Plugins,
		Options:  c.Options,
		History:  c.History,
		Handler:  c.RequestManager,
		Gatherer: c.MetricsRegistry,
		Logger:   c.Logger,
	}
}

// Close closes all resources
func (c *Container) Close() error {
	var err error
	if c.ConnectionManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = multierr.Append(err, c.ConnectionManager.Close(ctx))
		cancel()
	}
	if c.Logger != nil {
		err = multierr.Append(err, c.Logger.Close())
	}
	return err
}
