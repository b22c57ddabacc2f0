package dero

import (
	"testing"
	"time"

	"github.com/defistate/xswd-client-go/streams/xswd/client"
	"github.com/defistate/xswd-client-go/streams/xswd/xswdtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveWallet adapts a wallet to the in-process XSWD server.
func serveWallet(t *testing.T, w *wallet) *xswdtest.Server {
	t.Helper()
	srv := xswdtest.NewServer(func(req xswdtest.Request) *xswdtest.Reply {
		params, err := decodeTestParams(req)
		if err != nil {
			return &xswdtest.Reply{Error: &xswdtest.Error{Code: -32602, Message: err.Error()}}
		}
		result, rpcErr := w.respond(req.Method, params)
		if rpcErr != nil {
			return &xswdtest.Reply{Error: &xswdtest.Error{Code: rpcErr.Code, Message: rpcErr.Message}}
		}
		return &xswdtest.Reply{Result: result}
	})
	t.Cleanup(srv.Close)
	return srv
}

func decodeTestParams(req xswdtest.Request) (any, error) {
	switch req.Method {
	case MethodGetSC:
		var keys GetSCKeysParams
		if err := req.DecodeParams(&keys); err != nil {
			return nil, err
		}
		if keys.KeysString != nil {
			return keys, nil
		}
		var vars GetSCVariablesParams
		err := req.DecodeParams(&vars)
		return vars, err
	case MethodGetBalance:
		var p GetBalanceParams
		err := req.DecodeParams(&p)
		return p, err
	}
	return nil, nil
}

func dialWallet(t *testing.T, url string) *client.Client {
	t.Helper()
	xc, err := client.NewClient(client.Config{
		URL: url,
		Application: client.Application{
			ID:          "ed606a2f4c4f499618a78ff5f7c8e51cd2ca4d8bfa7e2b41a27754bb78b1df1f",
			Name:        "DEROSwap",
			Description: "Swap assets on the DERO blockchain",
			URL:         "https://deroswap.example",
		},
		Logger:     discardLogger(),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = xc.Close() })
	return xc
}

func TestClient_OverXSWD(t *testing.T) {
	srv := serveWallet(t, newWallet())
	xc := dialWallet(t, srv.URL)
	c := New(xc, discardLogger())

	require.NoError(t, c.Start(testContext(t)))
	assert.Equal(t, client.StateConnected, xc.State())
	assert.Equal(t, testSigner, c.Address())

	pairs, err := c.GetSwapPairs(testContext(t))
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, uint64(5000000000), pairs[0].Val2)
	require.NotNil(t, pairs[0].Asset1.AtomicBalance)
	assert.Equal(t, uint64(700), *pairs[0].Asset1.AtomicBalance)

	res, err := c.Swap(testContext(t), testSwapRequest())
	require.NoError(t, err)
	assert.Equal(t, "txid1", res.TXID)

	transfers := srv.RequestsFor(MethodTransfer)
	require.Len(t, transfers, 1)
	var params TransferParams
	require.NoError(t, transfers[0].DecodeParams(&params))
	assert.Equal(t, uint64(500000), params.Fees)
	assert.Equal(t, uint64(2), params.Ringsize)

	// code:false is sent explicitly for variable fetches
	for _, req := range srv.RequestsFor(MethodGetSC) {
		if assert.NotNil(t, req.Params) {
			var keys GetSCKeysParams
			require.NoError(t, req.DecodeParams(&keys))
			if keys.KeysString == nil {
				assert.Contains(t, string(req.Params), `"code":false`)
			}
		}
	}

	assert.Zero(t, xc.PendingRequests())
}

func TestClient_OverXSWDBalanceRefused(t *testing.T) {
	w := newWallet()
	w.failures["scidTOK"] = &client.RPCError{Code: client.CodePermissionDenied, Message: "Permission denied"}
	srv := serveWallet(t, w)
	xc := dialWallet(t, srv.URL)
	c := New(xc, discardLogger())
	require.NoError(t, c.Start(testContext(t)))

	pairs, err := c.GetSwapPairs(testContext(t))
	require.Error(t, err)
	assert.Nil(t, pairs)

	assert.Eventually(t, func() bool {
		return xc.IsRefused(MethodGetBalance)
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, client.StateConnected, xc.State())
}
