package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/defistate/xswd-client-go/streams/xswd/xswdtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

var testApp = Application{
	ID:          "ed606a2f4c4f499618a78ff5f7c8e51cd2ca4d8bfa7e2b41a27754bb78b1df1f",
	Name:        "DEROSwap",
	Description: "DEROSwap allows you to easily swap any token on DERO chain",
	URL:         "http://localhost:8080",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoHandler answers every request with its own id and method.
func echoHandler(req xswdtest.Request) *xswdtest.Reply {
	return &xswdtest.Reply{Result: map[string]any{"id": req.ID, "method": req.Method}}
}

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Config{
		URL:               url,
		Application:       testApp,
		PermissionTimeout: timeout,
		Logger:            discardLogger(),
		Registerer:        prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connectedClient(t *testing.T, h xswdtest.Handler, timeout time.Duration) (*Client, *xswdtest.Server) {
	t.Helper()
	srv := xswdtest.NewServer(h)
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL, timeout)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	return c, srv
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// --- Config ---

func TestNewClient_ConfigValidation(t *testing.T) {
	valid := Config{
		URL:         DefaultURL,
		Application: testApp,
		Logger:      discardLogger(),
		Registerer:  prometheus.NewRegistry(),
	}

	testCases := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "missing URL", mutate: func(c *Config) { c.URL = "" }, errMsg: "URL is required"},
		{name: "bad scheme", mutate: func(c *Config) { c.URL = "http://localhost:44326/xswd" }, errMsg: "scheme"},
		{name: "missing logger", mutate: func(c *Config) { c.Logger = nil }, errMsg: "Logger is required"},
		{name: "missing registerer", mutate: func(c *Config) { c.Registerer = nil }, errMsg: "Registerer is required"},
		{name: "negative timeout", mutate: func(c *Config) { c.PermissionTimeout = -time.Second }, errMsg: "PermissionTimeout"},
		{name: "short app id", mutate: func(c *Config) { c.Application.ID = "abc" }, errMsg: "64 hex"},
		{name: "non hex app id", mutate: func(c *Config) { c.Application.ID = "zz" + testApp.ID[2:] }, errMsg: "hex encoded"},
		{name: "missing app name", mutate: func(c *Config) { c.Application.Name = "" }, errMsg: "Name is required"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := NewClient(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := valid
		cfg.Registerer = prometheus.NewRegistry()
		c, err := NewClient(cfg)
		require.NoError(t, err)
		assert.Equal(t, DefaultPermissionTimeout, c.cfg.PermissionTimeout)
		assert.Equal(t, StateUnknown, c.State())
	})
}

// --- Connection state machine ---

func TestClient_HandshakeAccepted(t *testing.T) {
	srv := xswdtest.NewServer(echoHandler)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	states := make(chan ConnectionState, 10)
	sub := c.SubscribeState(states)
	defer sub.Unsubscribe()

	require.NoError(t, c.Connect(waitCtx(t)))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, StateWaiting, <-states)
	assert.Equal(t, StateConnected, <-states)

	handshakes := srv.Handshakes()
	require.Len(t, handshakes, 1, "exactly one handshake per connection attempt")
	assert.Equal(t, testApp.ID, handshakes[0].ID)
	assert.Equal(t, testApp.Name, handshakes[0].Name)
	assert.Equal(t, testApp.Description, handshakes[0].Description)
	assert.Equal(t, testApp.URL, handshakes[0].URL)
}

func TestClient_HandshakeRefused(t *testing.T) {
	srv := xswdtest.NewServer(echoHandler, xswdtest.WithRefusal())
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	err := c.Connect(waitCtx(t))
	require.ErrorIs(t, err, ErrAppRefused)
	assert.Equal(t, StateRefused, c.State())
}

func TestClient_DialFailure(t *testing.T) {
	srv := xswdtest.NewServer(echoHandler)
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, 0)
	err := c.Connect(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, StateServerUnreachable, c.State())
}

func TestClient_ConnectContextCanceledDuringHandshake(t *testing.T) {
	srv := xswdtest.NewServer(echoHandler, xswdtest.WithoutHandshakeReply())
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateServerUnreachable, c.State())
}

func TestClient_ServerDropMarksUnreachable(t *testing.T) {
	c, srv := connectedClient(t, func(req xswdtest.Request) *xswdtest.Reply { return nil }, time.Hour)

	call := c.Go("GetBalance", map[string]string{"scid": "00"})
	require.Eventually(t, func() bool { return len(srv.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	srv.DropConnections()

	_, err := call.Wait(waitCtx(t))
	require.ErrorIs(t, err, ErrClosed)
	assert.Eventually(t, func() bool { return c.State() == StateServerUnreachable }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.PendingRequests())
}

func TestClient_CloseFailsPendingCalls(t *testing.T) {
	c, srv := connectedClient(t, func(req xswdtest.Request) *xswdtest.Reply { return nil }, time.Hour)

	call := c.Go("DERO.GetSC", map[string]any{"scid": "01"})
	require.Eventually(t, func() bool { return len(srv.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	_, err := call.Wait(waitCtx(t))
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateServerUnreachable, c.State())

	_, err = c.Call(waitCtx(t), "GetAddress", nil)
	require.ErrorIs(t, err, ErrNotConnected)
}

// --- Correlation ---

func TestClient_RequestIDsStrictlyIncreasing(t *testing.T) {
	c, srv := connectedClient(t, echoHandler, 0)

	const n = 20
	var wg sync.WaitGroup
	ids := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var res struct {
				ID     uint64 `json:"id"`
				Method string `json:"method"`
			}
			call := c.Go("DERO.Ping", nil)
			resp, err := call.Wait(waitCtx(t))
			if !assert.NoError(t, err) {
				return
			}
			if !assert.NoError(t, resp.Decode(&res)) {
				return
			}
			assert.Equal(t, call.ID, res.ID, "response must be matched to its own request")
			ids[i] = call.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "id %d reused", id)
		assert.GreaterOrEqual(t, id, uint64(1))
		seen[id] = true
	}

	reqs := srv.Requests()
	require.Len(t, reqs, n)
	for _, r := range reqs {
		assert.Equal(t, "2.0", r.JSONRPC)
	}

	// Later requests always get a larger id.
	next := c.Go("DERO.Ping", nil)
	for _, id := range ids {
		assert.Greater(t, next.ID, id)
	}
	_, err := next.Wait(waitCtx(t))
	require.NoError(t, err)
}

func TestClient_HandlerRemovedAfterResponse(t *testing.T) {
	c, _ := connectedClient(t, echoHandler, 0)

	resp, err := c.Call(waitCtx(t), "GetAddress", nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Error)

	assert.Equal(t, 0, c.PendingRequests())
	assert.Empty(t, c.PendingPermissions())

	corr := c.currentCorrelator()
	corr.mu.Lock()
	_, ok := corr.handlers[handlerKey(resp.ID)]
	corr.mu.Unlock()
	assert.False(t, ok, "no handler may remain for a resolved id")
}

func TestClient_UnmatchedFrameIgnored(t *testing.T) {
	c, srv := connectedClient(t, func(req xswdtest.Request) *xswdtest.Reply { return nil }, time.Hour)

	call := c.Go("DERO.GetInfo", nil)
	require.Eventually(t, func() bool { return len(srv.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	srv.Push(xswdtest.Frame(call.ID+100, map[string]any{"stray": true}, nil))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.metrics.unmatchedFrames) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 1, c.PendingRequests())
	assert.Empty(t, c.RefusedPermissions())
	select {
	case <-call.Done():
		t.Fatal("a frame for another id must not resolve the call")
	default:
	}

	srv.Push(xswdtest.Frame(call.ID, "ok", nil))
	resp, err := call.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(resp.Result))
}

func TestClient_SendDoesNotRegisterHandler(t *testing.T) {
	c, srv := connectedClient(t, echoHandler, 0)

	id, err := c.Send("DERO.GetHeight", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, 0, c.PendingRequests())

	require.Eventually(t, func() bool { return len(srv.RequestsFor("DERO.GetHeight")) == 1 }, time.Second, 5*time.Millisecond)

	next := c.Go("DERO.GetHeight", nil)
	assert.Equal(t, uint64(2), next.ID)
	_, err = next.Wait(waitCtx(t))
	require.NoError(t, err)
}

// --- Permissions ---

func TestClient_PermissionRefusal(t *testing.T) {
	testCases := []struct {
		name        string
		method      string
		code        int
		wantRefused bool
	}{
		{name: "denied", method: "GetBalance", code: CodePermissionDenied, wantRefused: true},
		{name: "always denied", method: "transfer", code: CodePermissionAlwaysDenied, wantRefused: true},
		{name: "not found on wallet method", method: "GetAddress", code: CodeMethodNotFound, wantRefused: true},
		{name: "other code", method: "GetBalance", code: -32000, wantRefused: false},
		{name: "daemon method never recorded", method: "DERO.GetSC", code: CodePermissionDenied, wantRefused: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := connectedClient(t, func(req xswdtest.Request) *xswdtest.Reply {
				return &xswdtest.Reply{Error: &xswdtest.Error{Code: tc.code, Message: "Permission not granted"}}
			}, time.Hour)

			resp, err := c.Call(waitCtx(t), tc.method, nil)
			require.NoError(t, err, "a remote error is data, not a transport failure")
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Equal(t, tc.wantRefused, c.IsRefused(tc.method))
			if tc.wantRefused {
				assert.Equal(t, []string{tc.method}, c.RefusedPermissions())
			}

			var out map[string]any
			err = resp.Decode(&out)
			var rpcErr *RPCError
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tc.code, rpcErr.Code)
			assert.Equal(t, StateConnected, c.State())
		})
	}
}

func TestClient_UnsupportedDaemonMethodClosesConnection(t *testing.T) {
	c, _ := connectedClient(t, func(req xswdtest.Request) *xswdtest.Reply {
		if req.Method == "DERO.GetGasEstimate" {
			return &xswdtest.Reply{Error: &xswdtest.Error{Code: CodeMethodNotFound, Message: "Method not found"}}
		}
		return nil
	}, time.Hour)

	other := c.Go("GetBalance", nil)

	_, err := c.Call(waitCtx(t), "DERO.GetGasEstimate", nil)
	require.ErrorIs(t, err, ErrUnsupportedMethod)

	_, err = other.Wait(waitCtx(t))
	require.ErrorIs(t, err, ErrClosed)

	require.Eventually(t, func() bool { return c.State() == StateServerUnreachable }, time.Second, 5*time.Millisecond)
	assert.False(t, c.IsRefused("DERO.GetGasEstimate"))

	_, err = c.Call(waitCtx(t), "DERO.GetInfo", nil)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_PermissionTimeoutMarksPendingWithoutFailing(t *testing.T) {
	c, srv := connectedClient(t, func(req xswdtest.Request) *xswdtest.Reply { return nil }, 50*time.Millisecond)

	events := make(chan PermissionEvent, 10)
	sub := c.SubscribePermissions(events)
	defer sub.Unsubscribe()

	call := c.Go("GetBalance", map[string]string{"scid": "00"})

	select {
	case ev := <-events:
		assert.Equal(t, PermissionEvent{ID: call.ID, Method: "GetBalance", Pending: true}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the permission pending event")
	}

	assert.Equal(t, map[uint64]string{call.ID: "GetBalance"}, c.PendingPermissions())
	select {
	case <-call.Done():
		t.Fatal("the permission timeout must not complete the call")
	default:
	}

	srv.Push(xswdtest.Frame(call.ID, map[string]any{"balance": 42}, nil))

	resp, err := call.Wait(waitCtx(t))
	require.NoError(t, err)
	var bal struct {
		Balance uint64 `json:"balance"`
	}
	require.NoError(t, resp.Decode(&bal))
	assert.Equal(t, uint64(42), bal.Balance)

	select {
	case ev := <-events:
		assert.Equal(t, PermissionEvent{ID: call.ID, Method: "GetBalance", Pending: false}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the permission cleared event")
	}
	assert.Empty(t, c.PendingPermissions())
	assert.Equal(t, float64(0), testutil.ToFloat64(c.metrics.permissionPending))
}

func TestClient_ClosePublishesPermissionCleared(t *testing.T) {
	c, _ := connectedClient(t, func(req xswdtest.Request) *xswdtest.Reply { return nil }, 20*time.Millisecond)

	events := make(chan PermissionEvent, 10)
	sub := c.SubscribePermissions(events)
	defer sub.Unsubscribe()

	call := c.Go("transfer", map[string]any{"ringsize": 2})

	select {
	case ev := <-events:
		assert.True(t, ev.Pending)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the permission pending event")
	}

	require.NoError(t, c.Close())

	_, err := call.Wait(waitCtx(t))
	require.ErrorIs(t, err, ErrClosed)

	select {
	case ev := <-events:
		assert.Equal(t, PermissionEvent{ID: call.ID, Method: "transfer", Pending: false}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the permission cleared event")
	}
	assert.Empty(t, c.PendingPermissions())
	assert.Equal(t, float64(0), testutil.ToFloat64(c.metrics.permissionPending))
}

func TestClient_DaemonMethodHasNoPermissionTimeout(t *testing.T) {
	c, _ := connectedClient(t, func(req xswdtest.Request) *xswdtest.Reply { return nil }, 20*time.Millisecond)

	call := c.Go("DERO.GetSC", map[string]any{"scid": "01"})
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, c.PendingPermissions())
	assert.Equal(t, 1, c.PendingRequests())
	select {
	case <-call.Done():
		t.Fatal("call must stay pending")
	default:
	}
}

func TestClient_RefusedPermissionsResetOnReconnect(t *testing.T) {
	srv := xswdtest.NewServer(func(req xswdtest.Request) *xswdtest.Reply {
		return &xswdtest.Reply{Error: &xswdtest.Error{Code: CodePermissionDenied, Message: "denied"}}
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Hour)
	require.NoError(t, c.Connect(waitCtx(t)))
	_, err := c.Call(waitCtx(t), "GetBalance", nil)
	require.NoError(t, err)
	require.True(t, c.IsRefused("GetBalance"))

	require.NoError(t, c.Close())
	assert.True(t, c.IsRefused("GetBalance"), "refusals survive until the connection is reset")

	require.NoError(t, c.Connect(waitCtx(t)))
	assert.False(t, c.IsRefused("GetBalance"))

	call := c.Go("DERO.Ping", nil)
	assert.Equal(t, uint64(1), call.ID, "a new connection restarts the id counter")
	_, err = call.Wait(waitCtx(t))
	require.NoError(t, err)
}

func TestClient_CallResult(t *testing.T) {
	c, _ := connectedClient(t, func(req xswdtest.Request) *xswdtest.Reply {
		switch req.Method {
		case "GetAddress":
			return &xswdtest.Reply{Result: map[string]string{"address": "dero1qy..."}}
		default:
			return &xswdtest.Reply{Result: nil}
		}
	}, 0)

	var addr struct {
		Address string `json:"address"`
	}
	require.NoError(t, c.CallResult(waitCtx(t), "GetAddress", nil, &addr))
	assert.Equal(t, "dero1qy...", addr.Address)

	err := c.CallResult(waitCtx(t), "DERO.Nothing", nil, &addr)
	require.True(t, errors.Is(err, ErrEmptyResult))
}
