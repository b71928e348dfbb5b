package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/service"
)

const (
	// HeaderAuthorization carries the shared access signature on the handshake
	HeaderAuthorization = "ServiceBusAuthorization"

	defaultPingInterval = 30 * time.Second
	handshakeTimeout    = 15 * time.Second
)

// ErrNotConnected is returned when a frame is sent while the tunnel is down
var ErrNotConnected = errors.New("not connected to relay")

// RelayClient is a websocket RelayListener. It keeps one control connection to the
// relay open, reconnecting with exponential backoff until closed.
type RelayClient struct {
	cs           model.ConnectionString
	tlsEnabled   bool
	tokens       service.TokenService
	dialer       *websocket.Dialer
	logger       port.Logger
	pingInterval time.Duration
	newBackOff   func() backoff.BackOff

	mutex   sync.Mutex
	conn    *websocket.Conn
	handler port.RelayRequestHandler
	opened  bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	writeMutex sync.Mutex
}

// ClientOption customizes a RelayClient
type ClientOption func(*RelayClient)

// WithPingInterval changes how often the client pings the relay
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *RelayClient) {
		c.pingInterval = d
	}
}

// WithBackOff changes the reconnect policy
func WithBackOff(fn func() backoff.BackOff) ClientOption {
	return func(c *RelayClient) {
		c.newBackOff = fn
	}
}

// NewRelayClient creates a new RelayClient for the given connection string
func NewRelayClient(cs model.ConnectionString, tlsEnabled bool, logger port.Logger, opts ...ClientOption) *RelayClient {
	c := &RelayClient{
		cs:           cs,
		tlsEnabled:   tlsEnabled,
		tokens:       service.NewTokenService(cs.KeyName, cs.Key),
		dialer:       &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshakeTimeout},
		logger:       logger,
		pingInterval: defaultPingInterval,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRelayListenerFactory returns a factory creating websocket relay clients
func NewRelayListenerFactory(tlsEnabled bool, logger port.Logger, opts ...ClientOption) port.RelayListenerFactory {
	return func(cs model.ConnectionString) (port.RelayListener, error) {
		if err := cs.Validate(); err != nil {
			return nil, err
		}
		return NewRelayClient(cs, tlsEnabled, logger, opts...), nil
	}
}

// SetRequestHandler registers the callback invoked for each inbound request
func (c *RelayClient) SetRequestHandler(handler port.RelayRequestHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.handler = handler
}

// Open connects to the relay and starts serving inbound requests
func (c *RelayClient) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mutex.Lock()
	if c.opened {
		c.mutex.Unlock()
		return errors.New("relay client already opened")
	}
	c.opened = true
	c.mutex.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		cancel()
		conn.Close()
		return errors.New("relay client closed while opening")
	}
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mutex.Unlock()

	go c.run(runCtx, conn)
	return nil
}

// Close disconnects from the relay and stops reconnecting. Closing twice is a no-op.
func (c *RelayClient) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	cancel, conn, done := c.cancel, c.conn, c.done
	c.conn = nil
	c.mutex.Unlock()

	if cancel == nil {
		return nil
	}

	c.logger.Info("Closing relay connection")
	cancel()
	if conn != nil {
		c.writeMutex.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMutex.Unlock()
		conn.Close()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected returns whether a tunnel connection is currently up
func (c *RelayClient) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn != nil
}

// listenURL builds the listener handshake URL with a fresh tracking id
func (c *RelayClient) listenURL() string {
	scheme := "ws"
	if c.tlsEnabled {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   c.cs.Endpoint,
		Path:   "/$hc/" + c.cs.EntityPath,
	}
	q := url.Values{}
	q.Set("sb-hc-action", "listen")
	q.Set("sb-hc-id", uuid.NewString())
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *RelayClient) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.Token(service.ResourceURI(c.cs), service.DefaultTokenTTL)
	if err != nil {
		return nil, err
	}

	target := c.listenURL()
	c.logger.Info("Connecting to relay: %s", target)

	header := http.Header{}
	header.Set(HeaderAuthorization, token)
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "failed to connect to relay (status %d)", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "failed to connect to relay")
	}

	c.logger.Info("Connected to relay: %s/%s", c.cs.Endpoint, c.cs.EntityPath)
	return conn, nil
}

// run serves conn until it drops, then reconnects until ctx is cancelled
func (c *RelayClient) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	for {
		err := c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Relay connection lost: %v", err)
		c.setConn(nil)

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
		c.setConn(conn)
	}
}

func (c *RelayClient) reconnect(ctx context.Context) *websocket.Conn {
	var conn *websocket.Conn
	operation := func() error {
		var err error
		conn, err = c.dial(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Reconnect failed, retrying in %s: %v", wait.Round(time.Millisecond), err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		if ctx.Err() == nil {
			c.logger.Error("Giving up reconnecting to relay: %v", err)
		}
		return nil
	}

	// Close may have won the race against a successful dial
	c.mutex.Lock()
	closed := c.closed
	c.mutex.Unlock()
	if closed {
		conn.Close()
		return nil
	}
	return conn
}

func (c *RelayClient) setConn(conn *websocket.Conn) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.closed {
		c.conn = conn
	}
}

// serve pings the relay and reads frames from conn until it fails
func (c *RelayClient) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go c.pingLoop(conn, stop)

	// unblock ReadMessage when the client is closed
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	defer conn.Close()
	return c.readPump(conn)
}

func (c *RelayClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			msg, err := model.NewMessage(model.MessageTypePing, nil)
			if err != nil {
				c.logger.Error("Failed to create ping message: %v", err)
				continue
			}
			if err := c.writeMessage(conn, msg); err != nil {
				c.logger.Warn("Failed to send ping: %v", err)
				conn.Close()
				return
			}
		}
	}
}

// readPump reads frames until the connection fails
func (c *RelayClient) readPump(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Error("Failed to parse message: %v", err)
			continue
		}
		c.handleMessage(conn, &msg)
	}
}

func (c *RelayClient) handleMessage(conn *websocket.Conn, msg *model.Message) {
	switch msg.Type {
	case model.MessageTypeHTTPRequest:
		request, err := msg.ParseHTTPRequestPayload()
		if err != nil {
			c.logger.Error("Failed to parse HTTP request payload: %v", err)
			return
		}

		c.mutex.Lock()
		handler := c.handler
		c.mutex.Unlock()

		rc := newRelayContext(request, func(m *model.Message) error {
			return c.writeMessage(conn, m)
		})
		if handler == nil {
			c.logger.Error("No request handler registered, rejecting %s %s", request.Method, request.URL)
			rc.writer.WriteStatus(http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
			_ = rc.writer.Close()
			return
		}
		handler(rc)

	case model.MessageTypePing:
		pong, err := model.NewMessage(model.MessageTypePong, nil)
		if err != nil {
			return
		}
		if err := c.writeMessage(conn, pong); err != nil {
			c.logger.Warn("Failed to answer ping: %v", err)
		}

	case model.MessageTypePong:

	case model.MessageTypeError:
		var payload model.ErrorPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.logger.Error("Failed to parse error message: %v", err)
			return
		}
		c.logger.Error("Error from relay: %s - %s", payload.Code, payload.Message)

	default:
		c.logger.Warn("No handler for message type: %s", msg.Type)
	}
}

// writeMessage sends one frame on conn. Frames from concurrent requests are serialized.
func (c *RelayClient) writeMessage(conn *websocket.Conn, msg *model.Message) error {
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to convert message to JSON")
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	return nil
}

var _ port.RelayListener = (*RelayClient)(nil)
