package dero

import (
	"context"
	"errors"
	"fmt"
	"math"
)

const (
	// gasUnitScale converts between atomic gas units and DERO.
	gasUnitScale = 100000

	ringsize = 2

	entrypointSwap         = "Swap"
	entrypointAddLiquidity = "AddLiquidity"
)

var (
	ErrNilAsset = errors.New("dero: asset is nil")
	ErrNilPair  = errors.New("dero: pair is nil")
)

type burn struct {
	scid   string
	amount uint64
}

// EstimateSwapGas returns the storage gas, in DERO, of swapping req.AmountIn
// of req.Asset through req.PairSCID.
func (c *Client) EstimateSwapGas(ctx context.Context, req SwapRequest) (float64, error) {
	burns, err := swapBurns(req)
	if err != nil {
		return 0, err
	}
	return c.estimateGas(ctx, entrypointSwap, req.PairSCID, burns)
}

// EstimatePoolAddGas returns the storage gas, in DERO, of adding liquidity to req.Pair.
func (c *Client) EstimatePoolAddGas(ctx context.Context, req PoolAddRequest) (float64, error) {
	burns, err := poolAddBurns(req)
	if err != nil {
		return 0, err
	}
	return c.estimateGas(ctx, entrypointAddLiquidity, req.Pair.Contract, burns)
}

// Swap submits a swap transfer paying the estimated gas as fee.
func (c *Client) Swap(ctx context.Context, req SwapRequest) (*TransferResult, error) {
	burns, err := swapBurns(req)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, entrypointSwap, req.PairSCID, burns)
}

// PoolAdd submits an add-liquidity transfer paying the estimated gas as fee.
func (c *Client) PoolAdd(ctx context.Context, req PoolAddRequest) (*TransferResult, error) {
	burns, err := poolAddBurns(req)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, entrypointAddLiquidity, req.Pair.Contract, burns)
}

func (c *Client) estimateGas(ctx context.Context, entrypoint, contract string, burns []burn) (float64, error) {
	destination, err := c.GetRandomAddress(ctx)
	if err != nil {
		return 0, err
	}
	signer, err := c.signer(ctx)
	if err != nil {
		return 0, err
	}

	params := GasEstimateParams{
		SCRPC: []Argument{
			{Name: "entrypoint", DataType: "S", Value: entrypoint},
			{Name: "SC_ID", DataType: "H", Value: contract},
			{Name: "SC_ACTION", DataType: "U", Value: 0},
		},
		Transfers: transfers(burns, destination),
		Signer:    signer,
	}

	var res GasEstimateResult
	if err := c.call(ctx, MethodGetGasEstimate, params, &res); err != nil {
		return 0, err
	}

	c.logger.Debug("Gas estimated", "entrypoint", entrypoint, "contract", contract,
		"gascompute", res.GasCompute, "gasstorage", res.GasStorage, "status", res.Status)
	return float64(res.GasStorage) / gasUnitScale, nil
}

func (c *Client) submit(ctx context.Context, entrypoint, contract string, burns []burn) (*TransferResult, error) {
	destination, err := c.GetRandomAddress(ctx)
	if err != nil {
		return nil, err
	}
	fee, err := c.estimateGas(ctx, entrypoint, contract, burns)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate %s gas: %w", entrypoint, err)
	}

	params := TransferParams{
		SCID:     contract,
		Ringsize: ringsize,
		SCRPC: []Argument{
			{Name: "entrypoint", DataType: "S", Value: entrypoint},
		},
		Transfers: transfers(burns, destination),
		Fees:      uint64(math.Round(fee * gasUnitScale)),
	}

	var res TransferResult
	if err := c.call(ctx, MethodTransfer, params, &res); err != nil {
		return nil, err
	}

	c.logger.Info("Transfer submitted", "entrypoint", entrypoint, "contract", contract,
		"fees", params.Fees, "txid", res.TXID)
	return &res, nil
}

func swapBurns(req SwapRequest) ([]burn, error) {
	if req.Asset == nil {
		return nil, ErrNilAsset
	}
	return []burn{{scid: req.Asset.SCID, amount: req.AmountIn}}, nil
}

func poolAddBurns(req PoolAddRequest) ([]burn, error) {
	p := req.Pair
	if p == nil {
		return nil, ErrNilPair
	}
	if p.Asset1 == nil || p.Asset2 == nil {
		return nil, fmt.Errorf("pair %s: %w", p.Contract, ErrNilAsset)
	}
	return []burn{
		{scid: p.Asset1.SCID, amount: req.Amount1},
		{scid: p.Asset2.SCID, amount: req.Amount2},
	}, nil
}

func transfers(burns []burn, destination string) []Transfer {
	out := make([]Transfer, len(burns))
	for i, b := range burns {
		out[i] = Transfer{SCID: b.scid, Destination: destination, Burn: b.amount}
	}
	return out
}
