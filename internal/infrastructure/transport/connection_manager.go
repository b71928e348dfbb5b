package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// ConnectionManager owns the single tunnel connection and feeds every inbound
// request into the request handler on its own goroutine.
type ConnectionManager struct {
	config  *model.Config
	handler port.RequestHandler
	factory port.RelayListenerFactory
	logger  port.Logger

	mutex    sync.Mutex
	listener port.RelayListener
	closed   bool
	inflight sync.WaitGroup
}

// NewConnectionManager creates a new ConnectionManager
func NewConnectionManager(config *model.Config, handler port.RequestHandler, factory port.RelayListenerFactory, logger port.Logger) *ConnectionManager {
	return &ConnectionManager{
		config:  config,
		handler: handler,
		factory: factory,
		logger:  logger,
	}
}

// Initialize validates the relay configuration and opens the tunnel connection
func (m *ConnectionManager) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.config.Validate(); err != nil {
		return err
	}

	cs := m.config.ConnectionString()
	m.logger.Debug("Using connection string %s", cs.Masked())

	listener, err := m.factory(cs)
	if err != nil {
		return errors.Wrap(err, "failed to create relay listener")
	}
	listener.SetRequestHandler(m.dispatch)

	m.mutex.Lock()
	if m.listener != nil {
		m.mutex.Unlock()
		return errors.New("connection manager already initialized")
	}
	m.listener = listener
	m.mutex.Unlock()

	if err := listener.Open(ctx); err != nil {
		m.mutex.Lock()
		m.listener = nil
		m.mutex.Unlock()
		return errors.Wrap(err, "failed to open relay connection")
	}
	m.logger.Info("Listening on relay %s/%s", cs.Endpoint, cs.EntityPath)
	return nil
}

// Close closes the tunnel connection and waits for in-flight requests until ctx is done.
// Closing an already closed manager is a no-op.
func (m *ConnectionManager) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mutex.Lock()
	if m.closed || m.listener == nil {
		m.closed = true
		m.mutex.Unlock()
		return nil
	}
	m.closed = true
	listener := m.listener
	m.mutex.Unlock()

	if err := listener.Close(ctx); err != nil {
		return errors.Wrap(err, "failed to close relay connection")
	}

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch never processes a request inline, so a slow request cannot stall the next
func (m *ConnectionManager) dispatch(rc port.RelayContext) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.serve(rc)
	}()
}

// serve always writes a terminal response onto the tunnel
func (m *ConnectionManager) serve(rc port.RelayContext) {
	w := rc.Response()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic while handling %s %s: %v", rc.Method(), rc.RequestURI(), r)
			m.writeError(w, fmt.Errorf("panic: %v", r))
		}
	}()

	req := model.NewRelayedRequest(rc.Method(), rc.RequestURI(), rc.Header(), rc.Body(), time.Now())
	resp, err := m.handler.HandleRelayRequest(context.Background(), req)
	if err != nil {
		m.logger.Error("Failed to handle %s %s: %v", rc.Method(), rc.RequestURI(), err)
		m.writeError(w, err)
		return
	}
	if err := copyResponse(w, resp); err != nil {
		m.logger.Error("Failed to read local response for %s %s: %v", rc.Method(), rc.RequestURI(), err)
		m.writeError(w, err)
		return
	}
	if err := w.Close(); err != nil {
		m.logger.Error("Failed to write relay response for %s %s: %v", rc.Method(), rc.RequestURI(), err)
	}
}

// copyResponse copies status, headers and body onto the tunnel response without completing it
func copyResponse(w port.RelayResponseWriter, resp *model.RelayResponse) error {
	for key, values := range resp.Header {
		if strings.EqualFold(key, model.HeaderTransferEncoding) {
			continue
		}
		w.Header()[key] = append([]string(nil), values...)
	}
	w.WriteStatus(resp.StatusCode, resp.Reason)

	if resp.Body == nil {
		return nil
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return errors.Wrap(err, "failed to copy response body")
	}
	return nil
}

// writeError replaces anything buffered with a 500 carrying the cause and completes the response
func (m *ConnectionManager) writeError(w port.RelayResponseWriter, cause error) {
	w.Reset()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteStatus(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	if _, err := io.WriteString(w, cause.Error()); err != nil {
		m.logger.Warn("Failed to write error body: %v", err)
	}
	if err := w.Close(); err != nil {
		m.logger.Error("Failed to send error response: %v", err)
	}
}
