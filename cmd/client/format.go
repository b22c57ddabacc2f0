package main

import (
	"math/big"
	"strconv"
	"strings"

	deroswap "github.com/defistate/xswd-client-go/protocols/deroswap"
)

// formatAtomic renders an atomic amount with digit decimals, trimming trailing zeros.
// Precisions beyond deroswap.MaxDigit fall back to scientific notation.
func formatAtomic(amount, digit uint64) string {
	s := new(big.Int).SetUint64(amount).String()
	if digit == 0 {
		return s
	}
	if digit > deroswap.MaxDigit {
		return s + "e-" + strconv.FormatUint(digit, 10)
	}
	d := int(digit)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	whole, frac := s[:len(s)-d], strings.TrimRight(s[len(s)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// formatFee renders a basis point fee as a percentage.
func formatFee(bps uint64) string {
	return formatAtomic(bps, 2) + "%"
}

func formatBalance(a *deroswap.Asset) string {
	if a.AtomicBalance == nil {
		return "-"
	}
	return formatAtomic(*a.AtomicBalance, a.Digit)
}
