package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultURL is where a local wallet serves XSWD.
	DefaultURL = "ws://localhost:44326/xswd"
	// DefaultPermissionTimeout is how long a non daemon request may stay unanswered
	// before it is reported as waiting for the user's authorization.
	DefaultPermissionTimeout = 2000 * time.Millisecond

	closeWriteTimeout = time.Second
)

// Config holds the configuration for the client.
type Config struct {
	URL               string
	Application       Application
	PermissionTimeout time.Duration
	Logger            Logger
	Registerer        prometheus.Registerer
	// Dialer is optional; websocket.DefaultDialer is used when nil.
	Dialer *websocket.Dialer
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("config: invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: URL scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer is required")
	}
	if c.PermissionTimeout < 0 {
		return errors.New("config: PermissionTimeout must not be negative")
	}
	return c.Application.validate()
}

// session is one transport connection together with its correlator.
type session struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	corr    *correlator
	done    chan struct{}

	closeOnce     sync.Once
	closedLocally atomic.Bool
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.closedLocally.Store(true)
		_ = s.ws.Close()
	})
}

// -----------------------------------------------------------------------------
// Client (ConnectionManager)
// -----------------------------------------------------------------------------

// Client owns the XSWD connection: it performs the application handshake,
// drives the connection state machine and correlates requests with responses.
// It is safe for concurrent use.
type Client struct {
	cfg     Config
	logger  Logger
	metrics *Metrics
	dialer  *websocket.Dialer

	connectMu sync.Mutex

	mu    sync.RWMutex
	state ConnectionState
	sess  *session
	// corr outlives sess so refused permissions stay readable until the next Connect.
	corr *correlator

	stateFeed      event.Feed
	permissionFeed event.Feed
}

// NewClient validates cfg and creates a disconnected client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.PermissionTimeout == 0 {
		cfg.PermissionTimeout = DefaultPermissionTimeout
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: NewMetrics(cfg.Registerer),
		dialer:  dialer,
		state:   StateUnknown,
	}, nil
}

// Connect opens the transport, sends the authorization request and waits for
// the wallet's answer. It returns ErrAppRefused if the wallet refuses.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.RLock()
	busy := c.sess != nil
	c.mu.RUnlock()
	if busy {
		return errors.New("xswd: already connected")
	}

	c.logger.Info("Connecting to XSWD server", "url", c.cfg.URL)
	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(StateServerUnreachable)
		return fmt.Errorf("failed to dial XSWD server %s: %w", c.cfg.URL, err)
	}

	sess := &session{ws: ws, done: make(chan struct{})}
	sess.corr = newCorrelator(correlatorConfig{
		PermissionTimeout: c.cfg.PermissionTimeout,
		Write:             sess.writeJSON,
		CloseTransport:    sess.close,
		OnPermission:      func(ev PermissionEvent) { c.permissionFeed.Send(ev) },
		Metrics:           c.metrics,
		Logger:            c.logger,
	})

	handshake := make(chan bool, 1)
	var once sync.Once
	d := &dispatcher{
		corr:    sess.corr,
		metrics: c.metrics,
		logger:  c.logger,
		onHandshake: func(accepted bool) {
			once.Do(func() {
				if accepted {
					c.setState(StateConnected)
				} else {
					c.setState(StateRefused)
				}
				handshake <- accepted
			})
		},
	}

	c.mu.Lock()
	c.sess = sess
	c.corr = sess.corr
	c.mu.Unlock()

	go c.readLoop(sess, d)

	c.setState(StateWaiting)
	if err := sess.writeJSON(c.cfg.Application); err != nil {
		sess.close()
		<-sess.done
		return fmt.Errorf("failed to send authorization request: %w", err)
	}
	c.logger.Info("Authorization request sent, waiting for the wallet", "app", c.cfg.Application.Name)

	select {
	case accepted := <-handshake:
		return c.handshakeResult(accepted)
	case <-sess.done:
		select {
		case accepted := <-handshake:
			return c.handshakeResult(accepted)
		default:
		}
		return fmt.Errorf("connection lost during authorization: %w", ErrClosed)
	case <-ctx.Done():
		sess.close()
		<-sess.done
		return ctx.Err()
	}
}

func (c *Client) handshakeResult(accepted bool) error {
	if !accepted {
		c.logger.Warn("Application refused by wallet", "app", c.cfg.Application.Name)
		return ErrAppRefused
	}
	c.logger.Info("Application accepted by wallet", "app", c.cfg.Application.Name)
	return nil
}

// readLoop is the only reader of the connection; every frame is dispatched from here.
func (c *Client) readLoop(sess *session, d *dispatcher) {
	defer close(sess.done)
	for {
		_, frame, err := sess.ws.ReadMessage()
		if err != nil {
			c.disconnected(sess, err)
			return
		}
		d.dispatch(frame)
	}
}

func (c *Client) disconnected(sess *session, err error) {
	sess.close()

	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	prev := c.state
	c.mu.Unlock()

	var closeErr *websocket.CloseError
	closeEvent := errors.As(err, &closeErr) || sess.closedLocally.Load()
	switch {
	case !closeEvent:
		c.logger.Error("XSWD connection error", "error", err)
		c.setState(StateServerUnreachable)
	case prev.active():
		c.logger.Info("XSWD connection closed", "previous_state", prev.String())
		c.setState(StateServerUnreachable)
	}

	sess.corr.closeAll(ErrClosed)
}

// Close closes the connection. Calls still pending fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = sess.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	sess.close()
	<-sess.done
	return nil
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev == s {
		return
	}

	c.metrics.connectionState.Set(float64(s))
	c.logger.Debug("Connection state changed", "from", prev.String(), "to", s.String())
	c.stateFeed.Send(s)
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SubscribeState delivers every connection state change to ch.
// Subscribers must keep up: delivery blocks the connection until ch accepts.
func (c *Client) SubscribeState(ch chan<- ConnectionState) event.Subscription {
	return c.stateFeed.Subscribe(ch)
}

// SubscribePermissions delivers permission status changes to ch.
// Subscribers must keep up: delivery blocks the connection until ch accepts.
func (c *Client) SubscribePermissions(ch chan<- PermissionEvent) event.Subscription {
	return c.permissionFeed.Subscribe(ch)
}

// --- Requests ---

func (c *Client) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// Send writes a request without waiting for its response and returns its id.
func (c *Client) Send(method string, params any) (uint64, error) {
	sess := c.current()
	if sess == nil {
		return 0, ErrNotConnected
	}
	return sess.corr.send(method, params)
}

// Go issues a request and returns its pending call.
func (c *Client) Go(method string, params any) *Call {
	sess := c.current()
	if sess == nil {
		call := newCall(0, method)
		call.finish(nil, ErrNotConnected)
		return call
	}
	return sess.corr.start(method, params)
}

// Call issues a request and waits for its response. A remote error is part of
// the response, not the returned error.
func (c *Client) Call(ctx context.Context, method string, params any) (*Response, error) {
	return c.Go(method, params).Wait(ctx)
}

// CallResult issues a request and decodes its result into out. A remote error
// is returned as *RPCError.
func (c *Client) CallResult(ctx context.Context, method string, params any, out any) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// --- Permission bookkeeping ---

func (c *Client) currentCorrelator() *correlator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.corr
}

// RefusedPermissions returns the methods the user refused during the current connection.
func (c *Client) RefusedPermissions() []string {
	corr := c.currentCorrelator()
	if corr == nil {
		return []string{}
	}
	return corr.refusedPermissions()
}

// IsRefused reports whether the user refused method during the current connection.
func (c *Client) IsRefused(method string) bool {
	corr := c.currentCorrelator()
	return corr != nil && corr.isRefused(method)
}

// PendingPermissions returns the requests currently waiting for the user's authorization.
func (c *Client) PendingPermissions() map[uint64]string {
	corr := c.currentCorrelator()
	if corr == nil {
		return map[uint64]string{}
	}
	return corr.pendingPermissions()
}

// PendingRequests returns the number of requests waiting for a response.
func (c *Client) PendingRequests() int {
	corr := c.currentCorrelator()
	if corr == nil {
		return 0
	}
	return corr.pendingCount()
}
