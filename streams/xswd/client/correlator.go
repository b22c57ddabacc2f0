package client

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// pendingRequest is the handler registration of one outstanding request.
type pendingRequest struct {
	id           uint64
	key          string
	method       string
	registeredAt time.Time
	call         *Call
	timer        *time.Timer
	seq          uint64
}

// handler receives every decoded frame and reports whether the frame was its own.
type handler func(msg *Message) bool

// correlator assigns request ids, keeps one handler per pending request and
// resolves calls when their response is dispatched. One correlator lives for
// exactly one connection.
type correlator struct {
	// eventMu is held from a permission marker change until its event is
	// published, so subscribers see pending and cleared events in order.
	// It is never taken while mu is held.
	eventMu sync.Mutex

	mu           sync.Mutex
	nextID       uint64
	seq          uint64
	handlers     map[string]handler
	pending      map[string]*pendingRequest
	refused      map[string]struct{}
	pendingPerms map[uint64]string
	closed       bool

	permissionTimeout time.Duration
	write             func(v any) error
	closeTransport    func()
	onPermission      func(PermissionEvent)
	metrics           *Metrics
	logger            Logger
}

type correlatorConfig struct {
	PermissionTimeout time.Duration
	Write             func(v any) error
	CloseTransport    func()
	OnPermission      func(PermissionEvent)
	Metrics           *Metrics
	Logger            Logger
}

func newCorrelator(cfg correlatorConfig) *correlator {
	return &correlator{
		nextID:            1,
		handlers:          make(map[string]handler),
		pending:           make(map[string]*pendingRequest),
		refused:           make(map[string]struct{}),
		pendingPerms:      make(map[uint64]string),
		permissionTimeout: cfg.PermissionTimeout,
		write:             cfg.Write,
		closeTransport:    cfg.CloseTransport,
		onPermission:      cfg.OnPermission,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
	}
}

func handlerKey(id uint64) string {
	return "req" + strconv.FormatUint(id, 10)
}

// send writes a request without registering a handler for it.
func (c *correlator) send(method string, params any) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	if err := c.write(&Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		return id, fmt.Errorf("failed to send %s: %w", method, err)
	}
	c.metrics.requestsTotal.WithLabelValues(method).Inc()
	return id, nil
}

// start registers a handler for a fresh id, writes the request and returns its call.
func (c *correlator) start(method string, params any) *Call {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		call := newCall(0, method)
		call.finish(nil, ErrClosed)
		return call
	}

	id := c.nextID
	c.nextID++
	c.seq++
	pr := &pendingRequest{
		id:           id,
		key:          handlerKey(id),
		method:       method,
		registeredAt: time.Now(),
		call:         newCall(id, method),
		seq:          c.seq,
	}
	c.pending[pr.key] = pr
	c.handlers[pr.key] = func(msg *Message) bool { return c.resolve(pr, msg) }

	// Daemon calls never need the user's approval.
	if !IsDaemonMethod(method) {
		pr.timer = time.AfterFunc(c.permissionTimeout, func() { c.markPermissionPending(pr) })
	}
	c.metrics.inflight.Inc()
	c.mu.Unlock()

	err := c.write(&Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		if c.remove(pr) {
			pr.call.finish(nil, fmt.Errorf("failed to send %s: %w", method, err))
		}
		return pr.call
	}
	c.metrics.requestsTotal.WithLabelValues(method).Inc()
	c.logger.Debug("Request sent", "id", id, "method", method)
	return pr.call
}

// resolve is the per-request handler body. Frames for other ids are ignored.
func (c *correlator) resolve(pr *pendingRequest, msg *Message) bool {
	id, ok := msg.RequestID()
	if !ok || id != pr.id {
		return false
	}

	code, hasErr := msg.errorCode()
	daemon := IsDaemonMethod(pr.method)

	if daemon && hasErr && code == CodeMethodNotFound {
		if !c.remove(pr) {
			return true
		}
		c.metrics.responsesTotal.WithLabelValues(pr.method, "unsupported").Inc()
		c.logger.Error("XSWD server does not support daemon method, closing connection", "id", pr.id, "method", pr.method)
		pr.call.finish(nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, pr.method))
		c.closeTransport()
		return true
	}

	outcome := "result"
	if hasErr {
		outcome = "error"
		if !daemon && IsPermissionRefusal(code) {
			outcome = "refused"
			c.mu.Lock()
			c.refused[pr.method] = struct{}{}
			c.mu.Unlock()
			c.logger.Warn("Permission refused by user", "id", pr.id, "method", pr.method, "code", code)
		}
	}

	if !c.remove(pr) {
		return true
	}
	c.metrics.responsesTotal.WithLabelValues(pr.method, outcome).Inc()
	c.metrics.requestDuration.WithLabelValues(pr.method).Observe(time.Since(pr.registeredAt).Seconds())

	pr.call.finish(&Response{ID: pr.id, Method: pr.method, Result: msg.Result, Error: msg.Error}, nil)
	return true
}

// remove deregisters pr, stops its timer and clears its permission marker.
// It reports false if pr was already gone.
func (c *correlator) remove(pr *pendingRequest) bool {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	c.mu.Lock()
	if c.pending[pr.key] != pr {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, pr.key)
	delete(c.handlers, pr.key)
	if pr.timer != nil {
		pr.timer.Stop()
	}
	_, wasMarked := c.pendingPerms[pr.id]
	delete(c.pendingPerms, pr.id)
	c.mu.Unlock()

	c.metrics.inflight.Dec()
	if wasMarked {
		c.metrics.permissionPending.Dec()
		c.publish(PermissionEvent{ID: pr.id, Method: pr.method, Pending: false})
	}
	return true
}

// markPermissionPending runs when a non daemon request is still unanswered after
// the permission timeout. The call itself is left untouched.
func (c *correlator) markPermissionPending(pr *pendingRequest) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	c.mu.Lock()
	if c.pending[pr.key] != pr {
		c.mu.Unlock()
		return
	}
	c.pendingPerms[pr.id] = pr.method
	c.mu.Unlock()

	c.metrics.permissionPending.Inc()
	c.logger.Info("Waiting for the user to authorize request", "id", pr.id, "method", pr.method)
	c.publish(PermissionEvent{ID: pr.id, Method: pr.method, Pending: true})
}

func (c *correlator) publish(ev PermissionEvent) {
	if c.onPermission != nil {
		c.onPermission(ev)
	}
}

// snapshot returns the registered handlers in registration order.
func (c *correlator) snapshot() []handler {
	c.mu.Lock()
	defer c.mu.Unlock()

	prs := make([]*pendingRequest, 0, len(c.pending))
	for _, pr := range c.pending {
		prs = append(prs, pr)
	}
	sort.Slice(prs, func(i, j int) bool { return prs[i].seq < prs[j].seq })

	hs := make([]handler, 0, len(prs))
	for _, pr := range prs {
		hs = append(hs, c.handlers[pr.key])
	}
	return hs
}

// closeAll fails every pending call with err and empties the registry. Requests
// that were waiting for authorization are reported as no longer pending.
func (c *correlator) closeAll(err error) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	prs := make([]*pendingRequest, 0, len(c.pending))
	for _, pr := range c.pending {
		prs = append(prs, pr)
	}
	cleared := make([]PermissionEvent, 0, len(c.pendingPerms))
	for id, method := range c.pendingPerms {
		cleared = append(cleared, PermissionEvent{ID: id, Method: method, Pending: false})
	}
	c.pending = make(map[string]*pendingRequest)
	c.handlers = make(map[string]handler)
	c.pendingPerms = make(map[uint64]string)
	c.mu.Unlock()

	c.metrics.inflight.Sub(float64(len(prs)))
	c.metrics.permissionPending.Sub(float64(len(cleared)))
	for _, pr := range prs {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		pr.call.finish(nil, err)
	}

	sort.Slice(cleared, func(i, j int) bool { return cleared[i].ID < cleared[j].ID })
	for _, ev := range cleared {
		c.publish(ev)
	}
}

func (c *correlator) refusedPermissions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.refused))
	for m := range c.refused {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (c *correlator) isRefused(method string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.refused[method]
	return ok
}

func (c *correlator) pendingPermissions() map[uint64]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint64]string, len(c.pendingPerms))
	for id, m := range c.pendingPerms {
		out[id] = m
	}
	return out
}

func (c *correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
