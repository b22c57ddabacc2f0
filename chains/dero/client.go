package dero

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/defistate/xswd-client-go/chains"
	deroswapindexer "github.com/defistate/xswd-client-go/protocols/deroswap/indexer"
)

// ErrNoAddress is returned when the wallet answers an address query with nothing.
var ErrNoAddress = errors.New("dero: wallet returned no address")

// Client drives the swap workflows over an XSWD transport: registry loading,
// gas estimation and contract transfers. It remembers the session address and
// the resolved registry contract between calls.
type Client struct {
	rpc    chains.Transport
	logger chains.Logger

	keystoreSCID    string
	registryIndexer chains.RegistryIndexer

	mu           sync.RWMutex
	registrySCID string
	address      string
	registry     deroswapindexer.IndexedRegistry
}

// Option configures the Client.
// The interface method is unexported to prevent external modification after New.
type Option interface {
	apply(*Client)
}

type funcOption func(*Client)

func (f funcOption) apply(c *Client) {
	f(c)
}

func newOption(f func(*Client)) Option {
	return funcOption(f)
}

// New creates a Client on top of rpc. The transport is not connected until Start.
func New(rpc chains.Transport, logger chains.Logger, opts ...Option) *Client {
	c := &Client{
		rpc:             rpc,
		logger:          logger,
		keystoreSCID:    KeystoreSCID,
		registryIndexer: deroswapindexer.New(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// Start connects the transport and records the session address. An empty
// address is not an error; it is fetched again when a signer is needed.
func (c *Client) Start(ctx context.Context) error {
	if err := c.rpc.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if _, err := c.GetAddress(ctx); err != nil {
		if !errors.Is(err, ErrNoAddress) {
			return err
		}
		c.logger.Warn("Wallet returned no address")
	}
	c.logger.Info("Session started", "address", c.Address())
	return nil
}

// Address returns the session address recorded by GetAddress.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// GetAddress asks the wallet for its address and records it.
func (c *Client) GetAddress(ctx context.Context) (string, error) {
	var res GetAddressResult
	if err := c.call(ctx, MethodGetAddress, nil, &res); err != nil {
		return "", err
	}
	if res.Address == "" {
		return "", ErrNoAddress
	}

	c.mu.Lock()
	c.address = res.Address
	c.mu.Unlock()
	return res.Address, nil
}

// GetRandomAddress returns the first of the daemon's random addresses.
func (c *Client) GetRandomAddress(ctx context.Context) (string, error) {
	var res GetRandomAddressResult
	if err := c.call(ctx, MethodGetRandomAddress, nil, &res); err != nil {
		return "", err
	}
	if len(res.Address) == 0 {
		return "", fmt.Errorf("%s: %w", MethodGetRandomAddress, ErrNoAddress)
	}
	return res.Address[0], nil
}

// signer returns the session address, fetching it if Start never did.
func (c *Client) signer(ctx context.Context) (string, error) {
	if addr := c.Address(); addr != "" {
		return addr, nil
	}
	return c.GetAddress(ctx)
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	resp, err := c.rpc.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return resp.Decode(out)
}

// Options Constructors for the Client

// WithKeystoreSCID overrides the keystore contract the registry is resolved from.
func WithKeystoreSCID(scid string) Option {
	return newOption(func(c *Client) {
		c.keystoreSCID = scid
	})
}

// WithRegistrySCID skips registry resolution.
func WithRegistrySCID(scid string) Option {
	return newOption(func(c *Client) {
		c.registrySCID = scid
	})
}

func WithRegistryIndexer(indexer chains.RegistryIndexer) Option {
	return newOption(func(c *Client) {
		c.registryIndexer = indexer
	})
}
