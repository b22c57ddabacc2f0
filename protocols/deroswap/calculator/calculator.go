package calculator

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	deroswap "github.com/defistate/xswd-client-go/protocols/deroswap"
)

var (
	// basisPointDivisor is a constant representing 100% in basis points (10000).
	basisPointDivisor = big.NewInt(10000)

	ten     = big.NewInt(10)
	hundred = big.NewInt(100)

	// precomputed 10^dec for typical asset digits (0..18)
	precomputedScales [19]*big.Int

	// ErrNilPair is returned when no pair is given.
	ErrNilPair = errors.New("nil pair")
	// ErrAssetMismatch is returned when the requested assets are not the pair's assets.
	ErrAssetMismatch = errors.New("asset mismatch")
	// ErrInvalidState is returned for internal calculation errors, like division by zero.
	ErrInvalidState = errors.New("invalid internal state")
	// ErrInsufficientLiquidity is returned when an amountOut is requested that is greater than or equal to the available reserve.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for swap")
	// ErrOverflow is returned when a result does not fit in an atomic amount.
	ErrOverflow = errors.New("amount overflows uint64")
)

func init() {
	precomputedScales[0] = big.NewInt(1)
	for i := 1; i < len(precomputedScales); i++ {
		precomputedScales[i] = new(big.Int).Mul(precomputedScales[i-1], ten)
	}
}

// GetScaledDecimal returns 10^dec. The returned value MUST NOT be modified.
func GetScaledDecimal(dec uint64) *big.Int {
	if dec < uint64(len(precomputedScales)) {
		return precomputedScales[dec]
	}
	return new(big.Int).Exp(ten, new(big.Int).SetUint64(dec), nil)
}

// Calculator holds reusable big.Int objects to avoid memory allocations during calculations.
// Instances are NOT safe for concurrent use; they are handed out by calculatorPool.
type Calculator struct {
	reserveIn       *big.Int
	reserveOut      *big.Int
	amount          *big.Int
	feeMultiplier   *big.Int
	amountInWithFee *big.Int
	numerator       *big.Int
	denominator     *big.Int
	result          *big.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return &Calculator{
			reserveIn:       new(big.Int),
			reserveOut:      new(big.Int),
			amount:          new(big.Int),
			feeMultiplier:   new(big.Int),
			amountInWithFee: new(big.Int),
			numerator:       new(big.Int),
			denominator:     new(big.Int),
			result:          new(big.Int),
		}
	},
}

// GetAmountOut returns how much of assetOut a swap of amountIn assetIn yields.
// The pair fee is in basis points.
func GetAmountOut(amountIn uint64, assetIn, assetOut string, pair *deroswap.Pair) (uint64, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)
	return calc.getAmountOut(amountIn, assetIn, assetOut, pair)
}

// GetAmountIn returns the assetIn amount needed to receive amountOut of assetOut.
func GetAmountIn(amountOut uint64, assetIn, assetOut string, pair *deroswap.Pair) (uint64, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)
	return calc.getAmountIn(amountOut, assetIn, assetOut, pair)
}

// SimulateSwap returns the swap output and the pair as it would be after the swap.
// The given pair is not modified; the returned pair shares its assets.
func SimulateSwap(amountIn uint64, assetIn, assetOut string, pair *deroswap.Pair) (uint64, deroswap.Pair, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)

	amountOut, err := calc.getAmountOut(amountIn, assetIn, assetOut, pair)
	if err != nil {
		return 0, deroswap.Pair{}, err
	}

	reserveIn, _, _ := GetReserves(assetIn, assetOut, pair)
	if reserveIn > math.MaxUint64-amountIn {
		return 0, deroswap.Pair{}, fmt.Errorf("%w: reserve of %s", ErrOverflow, assetIn)
	}

	next := *pair
	if assetIn == pair.Asset1.Name {
		next.Val1 += amountIn
		next.Val2 -= amountOut
	} else {
		next.Val2 += amountIn
		next.Val1 -= amountOut
	}
	return amountOut, next, nil
}

func (c *Calculator) getAmountOut(amountIn uint64, assetIn, assetOut string, pair *deroswap.Pair) (uint64, error) {
	reserveIn, reserveOut, err := GetReserves(assetIn, assetOut, pair)
	if err != nil {
		return 0, err
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, nil
	}
	if err := c.setFee(pair); err != nil {
		return 0, err
	}

	c.reserveIn.SetUint64(reserveIn)
	c.reserveOut.SetUint64(reserveOut)
	c.amount.SetUint64(amountIn)

	c.amountInWithFee.Mul(c.amount, c.feeMultiplier)
	c.numerator.Mul(c.reserveOut, c.amountInWithFee)
	c.denominator.Mul(c.reserveIn, basisPointDivisor)
	c.denominator.Add(c.denominator, c.amountInWithFee)

	if c.denominator.Sign() == 0 {
		return 0, fmt.Errorf("%w: pair denominator is zero", ErrInvalidState)
	}

	// the result is bounded by reserveOut, so it always fits
	return c.result.Div(c.numerator, c.denominator).Uint64(), nil
}

func (c *Calculator) getAmountIn(amountOut uint64, assetIn, assetOut string, pair *deroswap.Pair) (uint64, error) {
	reserveIn, reserveOut, err := GetReserves(assetIn, assetOut, pair)
	if err != nil {
		return 0, err
	}
	if reserveIn == 0 || reserveOut == 0 || amountOut >= reserveOut {
		return 0, fmt.Errorf("%w: requested amountOut (%d) is >= reserveOut (%d)", ErrInsufficientLiquidity, amountOut, reserveOut)
	}
	if err := c.setFee(pair); err != nil {
		return 0, err
	}

	c.reserveIn.SetUint64(reserveIn)
	c.amount.SetUint64(amountOut)

	// amountIn = (reserveIn * amountOut * 10000) / ((reserveOut - amountOut) * (10000 - fee)) + 1
	c.numerator.Mul(c.reserveIn, c.amount)
	c.numerator.Mul(c.numerator, basisPointDivisor)
	c.denominator.SetUint64(reserveOut - amountOut)
	c.denominator.Mul(c.denominator, c.feeMultiplier)

	if c.denominator.Sign() == 0 {
		return 0, fmt.Errorf("%w: pair denominator is zero", ErrInvalidState)
	}

	c.result.Div(c.numerator, c.denominator)
	c.result.Add(c.result, big.NewInt(1))
	if !c.result.IsUint64() {
		return 0, fmt.Errorf("%w: amountIn for %d %s", ErrOverflow, amountOut, assetOut)
	}
	return c.result.Uint64(), nil
}

func (c *Calculator) setFee(pair *deroswap.Pair) error {
	if pair.Fees >= 10000 {
		return fmt.Errorf("%w: fee %d bps leaves nothing to swap", ErrInvalidState, pair.Fees)
	}
	c.feeMultiplier.SetUint64(10000 - pair.Fees)
	return nil
}

// GetReserves returns the reserves for the given direction.
func GetReserves(assetIn, assetOut string, pair *deroswap.Pair) (reserveIn, reserveOut uint64, err error) {
	if pair == nil || pair.Asset1 == nil || pair.Asset2 == nil {
		return 0, 0, ErrNilPair
	}
	if assetIn == pair.Asset1.Name && assetOut == pair.Asset2.Name {
		return pair.Val1, pair.Val2, nil
	} else if assetIn == pair.Asset2.Name && assetOut == pair.Asset1.Name {
		return pair.Val2, pair.Val1, nil
	}
	return 0, 0, fmt.Errorf("%w: pair %s does not contain %s -> %s", ErrAssetMismatch, pair.Contract, assetIn, assetOut)
}

// GetExchangeRate returns how much assetOut one whole unit of assetIn buys,
// in atomic units of assetOut, sampled with 1% of the input reserve.
func GetExchangeRate(assetIn, assetOut string, pair *deroswap.Pair) (*big.Int, error) {
	reserveIn, _, err := GetReserves(assetIn, assetOut, pair)
	if err != nil {
		return nil, err
	}
	if reserveIn == 0 {
		return nil, fmt.Errorf("zero reserve for %s", assetIn)
	}

	amountIn := new(big.Int).Div(new(big.Int).SetUint64(reserveIn), hundred)
	if amountIn.Sign() == 0 {
		return nil, errors.New("computed amountIn is zero")
	}

	amountOut, err := GetAmountOut(amountIn.Uint64(), assetIn, assetOut, pair)
	if err != nil {
		return nil, err
	}

	digitsIn := pair.Asset1.Digit
	if assetIn == pair.Asset2.Name {
		digitsIn = pair.Asset2.Digit
	}

	rate := new(big.Int).Mul(GetScaledDecimal(digitsIn), new(big.Int).SetUint64(amountOut))
	return rate.Div(rate, amountIn), nil
}
