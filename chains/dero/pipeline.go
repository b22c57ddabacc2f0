package dero

import (
	"context"
	"fmt"
	"time"

	deroswap "github.com/defistate/xswd-client-go/protocols/deroswap"
	deroswapindexer "github.com/defistate/xswd-client-go/protocols/deroswap/indexer"
	"golang.org/x/sync/errgroup"
)

const (
	// KeystoreSCID is the name service contract holding the keystore pointer.
	KeystoreSCID = "0000000000000000000000000000000000000000000000000000000000000001"

	keystoreKey     = "keystore"
	keystorePrefix  = "80"
	scidLength      = 64
	SwapRegistryKey = "k:dex.swap.registry"
)

// ResolveRegistry finds the swap registry contract through the keystore. The
// result is cached for the life of the Client.
func (c *Client) ResolveRegistry(ctx context.Context) (string, error) {
	c.mu.RLock()
	cached := c.registrySCID
	c.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	pointer, err := c.getString(ctx, c.keystoreSCID, keystoreKey)
	if err != nil {
		return "", fmt.Errorf("failed to read keystore pointer: %w", err)
	}
	if len(pointer) < scidLength {
		return "", fmt.Errorf("keystore pointer %q is shorter than %d characters", pointer, scidLength)
	}
	keystore := keystorePrefix + pointer[2:scidLength]

	registry, err := c.getString(ctx, keystore, SwapRegistryKey)
	if err != nil {
		return "", fmt.Errorf("failed to read swap registry key: %w", err)
	}
	if registry == "" {
		return "", fmt.Errorf("keystore %s has no swap registry", keystore)
	}

	c.mu.Lock()
	c.registrySCID = registry
	c.mu.Unlock()

	c.logger.Debug("Swap registry resolved", "keystore", keystore, "registry", registry)
	return registry, nil
}

// FetchRegistry returns the registry contract's variables in daemon order.
func (c *Client) FetchRegistry(ctx context.Context, registrySCID string) (deroswap.StringKeys, error) {
	res, err := c.getVariables(ctx, registrySCID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch swap registry: %w", err)
	}
	return res.StringKeys, nil
}

// Enrich fills in every pair's reserves and fee and every asset's wallet
// balance. Lookups run concurrently and the first failure fails the batch;
// requests already sent stay in flight.
func (c *Client) Enrich(ctx context.Context, reg *deroswap.Registry) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, pair := range reg.Pairs {
		pair := pair
		g.Go(func() error {
			res, err := c.getVariables(gctx, pair.Contract)
			if err != nil {
				return fmt.Errorf("pair %s: %w", pair.Contract, err)
			}
			return pair.ApplyReserves(res.StringKeys)
		})
	}

	for _, asset := range reg.Assets {
		asset := asset
		g.Go(func() error {
			var res GetBalanceResult
			if err := c.call(gctx, MethodGetBalance, GetBalanceParams{SCID: asset.SCID}, &res); err != nil {
				return fmt.Errorf("asset %s balance: %w", asset.Name, err)
			}
			balance := res.Balance
			asset.AtomicBalance = &balance
			return nil
		})
	}

	return g.Wait()
}

// LoadRegistry runs the whole pipeline: resolve, fetch, parse, enrich and index.
// Nothing is kept if any stage fails.
func (c *Client) LoadRegistry(ctx context.Context) (*deroswap.Registry, error) {
	start := time.Now()

	registrySCID, err := c.ResolveRegistry(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := c.FetchRegistry(ctx, registrySCID)
	if err != nil {
		return nil, err
	}

	reg, err := deroswap.ParseRegistry(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to parse swap registry: %w", err)
	}
	if len(reg.Skipped) > 0 {
		c.logger.Warn("Skipped unusable swap registry keys", "registry", registrySCID, "keys", reg.Skipped)
	}

	if err := c.Enrich(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to enrich swap registry: %w", err)
	}

	indexed := c.registryIndexer.Index(reg)
	c.mu.Lock()
	c.registry = indexed
	c.mu.Unlock()

	c.logger.Info("Swap registry loaded",
		"registry", registrySCID,
		"pairs", len(reg.Pairs),
		"assets", len(reg.Assets),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reg, nil
}

// GetSwapPairs loads the registry and returns its fully populated pairs.
func (c *Client) GetSwapPairs(ctx context.Context) ([]*deroswap.Pair, error) {
	reg, err := c.LoadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return reg.Pairs, nil
}

// Registry returns the index built by the last successful LoadRegistry, or nil.
func (c *Client) Registry() deroswapindexer.IndexedRegistry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry
}

func (c *Client) getString(ctx context.Context, scid, key string) (string, error) {
	var res GetSCResult
	params := GetSCKeysParams{SCID: scid, KeysString: []string{key}}
	if err := c.call(ctx, MethodGetSC, params, &res); err != nil {
		return "", err
	}
	if len(res.ValuesString) == 0 {
		return "", fmt.Errorf("%s: no value for %q on %s", MethodGetSC, key, scid)
	}
	return res.ValuesString[0], nil
}

func (c *Client) getVariables(ctx context.Context, scid string) (*GetSCResult, error) {
	var res GetSCResult
	params := GetSCVariablesParams{SCID: scid, Code: false, Variables: true}
	if err := c.call(ctx, MethodGetSC, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
