package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// PluginSource supplies the ordered snapshot of enabled plugins
type PluginSource interface {
	EnabledPlugins() []port.Plugin
}

// RequestManager turns relayed requests into calls against the local service
// and converts the answers back into relay responses.
type RequestManager struct {
	options  *OptionsMonitor
	plugins  PluginSource
	client   *http.Client
	listener port.LifecycleListener
	logger   port.Logger
	newID    func() string
	now      func() time.Time
}

// Option customizes a RequestManager
type Option func(*RequestManager)

// WithHTTPClient replaces the default pooled client
func WithHTTPClient(client *http.Client) Option {
	return func(m *RequestManager) {
		m.client = client
	}
}

// WithLifecycleListener registers the listener notified of every request and response
func WithLifecycleListener(listener port.LifecycleListener) Option {
	return func(m *RequestManager) {
		m.listener = listener
	}
}

// WithIDGenerator replaces the request id generator
func WithIDGenerator(fn func() string) Option {
	return func(m *RequestManager) {
		m.newID = fn
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(m *RequestManager) {
		m.now = now
	}
}

// NewRequestManager creates a new RequestManager
func NewRequestManager(options *OptionsMonitor, plugins PluginSource, logger port.Logger, opts ...Option) *RequestManager {
	m := &RequestManager{
		options: options,
		plugins: plugins,
		client:  NewHTTPClient(model.DefaultRequestTimeout),
		logger:  logger,
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Options returns the monitor the manager reads its target from
func (m *RequestManager) Options() *OptionsMonitor {
	return m.options
}

// HandleRelayRequest runs one relayed request through the plugin chain and the local service.
//
// An unreachable local service yields a 502 response, not an error. Plugin failures,
// conversion failures and other local call failures are returned as errors.
func (m *RequestManager) HandleRelayRequest(ctx context.Context, in *model.RelayedRequest) (*model.RelayResponse, error) {
	if in == nil {
		return nil, model.ErrNilRequest
	}

	requestID := m.newID()
	log := m.logger.WithField("request_id", requestID)
	log.Debug("Relayed request received: %s %s", in.Method, in.Path)

	if m.listener != nil {
		clone, err := in.Clone()
		if err != nil {
			log.Warn("Failed to clone request for lifecycle listener: %v", err)
		} else {
			m.notify(ctx, log, "request received", func(ctx context.Context) error {
				return m.listener.OnRequestReceived(ctx, requestID, clone)
			})
		}
	}

	// one snapshot per request, later enable/disable calls do not affect it
	var plugins []port.Plugin
	if m.plugins != nil {
		plugins = m.plugins.EnabledPlugins()
	}

	req, err := buildLocalRequest(ctx, m.options.Current().TargetURL, in, log)
	if err != nil {
		log.Error("Failed to build local request: %v", err)
		return nil, model.ConversionError(err)
	}

	req, err = runPreProcess(ctx, plugins, req, log)
	if err != nil {
		return nil, err
	}

	start := m.now()
	resp, err := m.client.Do(req)
	if err != nil {
		if !isTransportError(err) {
			log.Error("Local call failed: %v", err)
			return nil, errors.Wrap(err, "local call failed")
		}
		log.Warn("Local service unreachable, answering 502: %v", err)
		resp = badGatewayResponse(req, err)
	}
	log.Debug("Local service answered %d in %s", resp.StatusCode, m.now().Sub(start))

	local := resp
	resp, err = runPostProcess(ctx, plugins, resp, log)
	if err != nil {
		if local.Body != nil {
			local.Body.Close()
		}
		return nil, err
	}

	out := toRelayResponse(resp, m.now())

	if m.listener != nil {
		clone, err := out.Clone()
		if err != nil {
			// the local body failed mid-read, a truncated response must not reach the caller
			log.Error("Failed to read local response body: %v", err)
			out.Body.Close()
			return nil, model.ConversionError(err)
		}
		m.notify(ctx, log, "response sent", func(ctx context.Context) error {
			return m.listener.OnResponseSent(ctx, requestID, clone)
		})
	}

	log.Info("%s %s -> %d %s", in.Method, in.Path, out.StatusCode, out.Reason)
	return out, nil
}

// notify runs fn in the background. Failures and panics are logged, never propagated.
func (m *RequestManager) notify(ctx context.Context, log port.Logger, event string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Lifecycle listener panicked on %s: %v", event, r)
			}
		}()
		if err := fn(ctx); err != nil {
			log.Warn("Lifecycle listener failed on %s: %v", event, err)
		}
	}()
}
