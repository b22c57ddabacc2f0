package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/defistate/xswd-client-go/chains/dero"
	deroswap "github.com/defistate/xswd-client-go/protocols/deroswap"
	"github.com/defistate/xswd-client-go/protocols/deroswap/calculator"
	deroswapindexer "github.com/defistate/xswd-client-go/protocols/deroswap/indexer"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Show the wallet address of the session",
		RunE: withSession(func(cmd *cobra.Command, s *session) error {
			pterm.Success.Println(s.dero.Address())
			return nil
		}),
	}
}

func newPairsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pairs",
		Short: "List swap pairs with reserves, fees and wallet balances",
		RunE: withSession(func(cmd *cobra.Command, s *session) error {
			pairs, err := s.dero.GetSwapPairs(cmd.Context())
			if err != nil {
				return err
			}
			return renderPairs(pairs)
		}),
	}
}

func renderPairs(pairs []*deroswap.Pair) error {
	data := pterm.TableData{{"Pair", "Contract", "Reserve 1", "Reserve 2", "Fee", "Balance 1", "Balance 2"}}
	for _, p := range pairs {
		data = append(data, []string{
			p.Asset1.Name + "/" + p.Asset2.Name,
			p.Contract,
			formatAtomic(p.Val1, p.Asset1.Digit),
			formatAtomic(p.Val2, p.Asset2.Digit),
			formatFee(p.Fees),
			formatBalance(p.Asset1),
			formatBalance(p.Asset2),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// --- swaps ---

type swapFlags struct {
	from   string
	to     string
	amount uint64
}

func (f *swapFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "Name of the asset to sell")
	cmd.Flags().StringVar(&f.to, "to", "", "Name of the asset to buy")
	cmd.Flags().Uint64Var(&f.amount, "amount", 0, "Amount to sell, in atomic units")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
}

// quote holds a priced swap.
type quote struct {
	pair      *deroswap.Pair
	assetIn   *deroswap.Asset
	assetOut  *deroswap.Asset
	amountIn  uint64
	amountOut uint64
}

func (s *session) quote(cmd *cobra.Command, f *swapFlags) (*quote, error) {
	if _, err := s.dero.LoadRegistry(cmd.Context()); err != nil {
		return nil, err
	}
	return newQuote(s.dero.Registry(), f)
}

// newQuote prices f against the pair trading f.from for f.to.
func newQuote(idx deroswapindexer.IndexedRegistry, f *swapFlags) (*quote, error) {
	pair, err := findPair(idx, f.from, f.to)
	if err != nil {
		return nil, err
	}
	out, err := calculator.GetAmountOut(f.amount, f.from, f.to, pair)
	if err != nil {
		return nil, fmt.Errorf("failed to quote %s -> %s: %w", f.from, f.to, err)
	}

	q := &quote{pair: pair, amountIn: f.amount, amountOut: out}
	if pair.Asset1.Name == f.from {
		q.assetIn, q.assetOut = pair.Asset1, pair.Asset2
	} else {
		q.assetIn, q.assetOut = pair.Asset2, pair.Asset1
	}
	return q, nil
}

func (q *quote) render() error {
	return pterm.DefaultTable.WithData(pterm.TableData{
		{"Pair", q.pair.Contract},
		{"Sell", formatAtomic(q.amountIn, q.assetIn.Digit) + " " + q.assetIn.Name},
		{"Receive", formatAtomic(q.amountOut, q.assetOut.Digit) + " " + q.assetOut.Name},
		{"Fee", formatFee(q.pair.Fees)},
	}).Render()
}

func findPair(idx deroswapindexer.IndexedRegistry, from, to string) (*deroswap.Pair, error) {
	if idx == nil {
		return nil, errors.New("swap registry not loaded")
	}
	for _, p := range idx.PairsWithAsset(from) {
		if (p.Asset1.Name == from && p.Asset2.Name == to) || (p.Asset2.Name == from && p.Asset1.Name == to) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no pair trades %s for %s", from, to)
}

func newQuoteCmd() *cobra.Command {
	var f swapFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a swap against the current pair reserves",
		RunE: withSession(func(cmd *cobra.Command, s *session) error {
			q, err := s.quote(cmd, &f)
			if err != nil {
				return err
			}
			return q.render()
		}),
	}
	f.register(cmd)
	return cmd
}

func newSwapCmd() *cobra.Command {
	var (
		f   swapFlags
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap one asset for another",
		RunE: withSession(func(cmd *cobra.Command, s *session) error {
			q, err := s.quote(cmd, &f)
			if err != nil {
				return err
			}
			if err := q.render(); err != nil {
				return err
			}

			req := dero.SwapRequest{Asset: q.assetIn, AmountIn: q.amountIn, PairSCID: q.pair.Contract}
			if !yes {
				ok, err := confirmGas(cmd, s.dero.EstimateSwapGas, req)
				if err != nil || !ok {
					return err
				}
			}

			res, err := s.dero.Swap(cmd.Context(), req)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Swap submitted: %s", res.TXID)
			return nil
		}),
	}
	f.register(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Submit without asking for confirmation")
	return cmd
}

// --- liquidity ---

type liquidityFlags struct {
	asset1  string
	asset2  string
	amount1 uint64
	amount2 uint64
}

func (f *liquidityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.asset1, "asset1", "", "Name of the first asset")
	cmd.Flags().StringVar(&f.asset2, "asset2", "", "Name of the second asset")
	cmd.Flags().Uint64Var(&f.amount1, "amount1", 0, "Amount of the first asset, in atomic units")
	cmd.Flags().Uint64Var(&f.amount2, "amount2", 0, "Amount of the second asset, in atomic units")
	for _, name := range []string{"asset1", "asset2", "amount1", "amount2"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (s *session) poolAddRequest(cmd *cobra.Command, f *liquidityFlags) (dero.PoolAddRequest, error) {
	if _, err := s.dero.LoadRegistry(cmd.Context()); err != nil {
		return dero.PoolAddRequest{}, err
	}
	return newPoolAddRequest(s.dero.Registry(), f)
}

// newPoolAddRequest maps the flag amounts onto the pair's asset order.
func newPoolAddRequest(idx deroswapindexer.IndexedRegistry, f *liquidityFlags) (dero.PoolAddRequest, error) {
	pair, err := findPair(idx, f.asset1, f.asset2)
	if err != nil {
		return dero.PoolAddRequest{}, err
	}
	req := dero.PoolAddRequest{Pair: pair, Amount1: f.amount1, Amount2: f.amount2}
	if pair.Asset1.Name != f.asset1 {
		req.Amount1, req.Amount2 = f.amount2, f.amount1
	}
	return req, nil
}

func newAddLiquidityCmd() *cobra.Command {
	var (
		f   liquidityFlags
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "add-liquidity",
		Short: "Add liquidity to a pair",
		RunE: withSession(func(cmd *cobra.Command, s *session) error {
			req, err := s.poolAddRequest(cmd, &f)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := confirmGas(cmd, s.dero.EstimatePoolAddGas, req)
				if err != nil || !ok {
					return err
				}
			}

			res, err := s.dero.PoolAdd(cmd.Context(), req)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Liquidity added: %s", res.TXID)
			return nil
		}),
	}
	f.register(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Submit without asking for confirmation")
	return cmd
}

// --- gas ---

func newEstimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the gas fee of a swap or liquidity add",
	}

	var sf swapFlags
	swap := &cobra.Command{
		Use:   "swap",
		Short: "Estimate the gas fee of a swap",
		RunE: withSession(func(cmd *cobra.Command, s *session) error {
			q, err := s.quote(cmd, &sf)
			if err != nil {
				return err
			}
			fee, err := s.dero.EstimateSwapGas(cmd.Context(), dero.SwapRequest{
				Asset:    q.assetIn,
				AmountIn: q.amountIn,
				PairSCID: q.pair.Contract,
			})
			if err != nil {
				return err
			}
			pterm.Info.Printfln("Estimated fee: %s DERO", formatGas(fee))
			return nil
		}),
	}
	sf.register(swap)

	var lf liquidityFlags
	addLiquidity := &cobra.Command{
		Use:   "add-liquidity",
		Short: "Estimate the gas fee of a liquidity add",
		RunE: withSession(func(cmd *cobra.Command, s *session) error {
			req, err := s.poolAddRequest(cmd, &lf)
			if err != nil {
				return err
			}
			fee, err := s.dero.EstimatePoolAddGas(cmd.Context(), req)
			if err != nil {
				return err
			}
			pterm.Info.Printfln("Estimated fee: %s DERO", formatGas(fee))
			return nil
		}),
	}
	lf.register(addLiquidity)

	cmd.AddCommand(swap, addLiquidity)
	return cmd
}

func confirmGas[R any](cmd *cobra.Command, estimate func(context.Context, R) (float64, error), req R) (bool, error) {
	fee, err := estimate(cmd.Context(), req)
	if err != nil {
		return false, err
	}
	ok, err := pterm.DefaultInteractiveConfirm.
		WithDefaultText("Pay an estimated " + formatGas(fee) + " DERO in fees?").
		Show()
	if err != nil {
		return false, err
	}
	if !ok {
		pterm.Info.Println("Cancelled")
	}
	return ok, nil
}

func formatGas(fee float64) string {
	return strconv.FormatFloat(fee, 'f', 5, 64)
}
