package deroswap

import (
	"errors"
	"fmt"
	"strings"
)

const (
	assetKeyPrefix = "t:"
	pairKeyPrefix  = "p:"

	assetDigitSuffix = "d"
	assetSCIDSuffix  = "c"

	// Pair contract variables.
	ReserveKey1 = "val1"
	ReserveKey2 = "val2"
	FeeKey      = "fee"

	// MaxDigit bounds an asset's decimal precision.
	MaxDigit = 38
)

var (
	// ErrInvalidValue is returned when a variable has an unexpected JSON type.
	ErrInvalidValue = errors.New("deroswap: invalid variable value")
	// ErrMissingKey is returned when a required variable is absent.
	ErrMissingKey = errors.New("deroswap: missing variable")
)

// ParseRegistry builds the asset and pair set from the registry contract's
// variables:
//
//	t:<name>:d          asset digits
//	t:<name>:c          asset scid
//	p:<name1>:<name2>   pair contract
//
// Keys are walked from last to first; the daemon lists pair keys before asset
// keys. Assets referenced by a pair before being described get a placeholder
// that later keys fill in. Segments past the expected ones are ignored, pair
// keys naming fewer than two assets are recorded in Skipped, and other keys
// are ignored. Only undecodable values fail the parse.
func ParseRegistry(keys StringKeys) (*Registry, error) {
	reg := NewRegistry()

	for i := len(keys) - 1; i >= 0; i-- {
		kv := keys[i]
		switch {
		case strings.HasPrefix(kv.Key, assetKeyPrefix):
			if err := parseAssetKey(reg, kv); err != nil {
				return nil, err
			}
		case strings.HasPrefix(kv.Key, pairKeyPrefix):
			if err := parsePairKey(reg, kv); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

func parseAssetKey(reg *Registry, kv KeyValue) error {
	parts := strings.Split(kv.Key, ":")
	if parts[1] == "" {
		reg.Skipped = append(reg.Skipped, kv.Key)
		return nil
	}
	asset := reg.asset(parts[1])
	if len(parts) < 3 {
		return nil
	}

	switch parts[2] {
	case assetDigitSuffix:
		digit, err := decodeUint64(kv.Value)
		if err != nil {
			return fmt.Errorf("key %q: %w", kv.Key, err)
		}
		if digit > MaxDigit {
			return fmt.Errorf("key %q: %w: %d digits exceeds %d", kv.Key, ErrInvalidValue, digit, MaxDigit)
		}
		asset.Digit = digit
	case assetSCIDSuffix:
		scid, err := decodeString(kv.Value)
		if err != nil {
			return fmt.Errorf("key %q: %w", kv.Key, err)
		}
		asset.SCID = scid
	}
	return nil
}

func parsePairKey(reg *Registry, kv KeyValue) error {
	parts := strings.Split(kv.Key, ":")
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		reg.Skipped = append(reg.Skipped, kv.Key)
		return nil
	}
	contract, err := decodeString(kv.Value)
	if err != nil {
		return fmt.Errorf("key %q: %w", kv.Key, err)
	}

	reg.Pairs = append(reg.Pairs, &Pair{
		Contract: contract,
		Asset1:   reg.asset(parts[1]),
		Asset2:   reg.asset(parts[2]),
	})
	return nil
}

// ApplyReserves fills the pair's reserves and fee from its contract variables.
func (p *Pair) ApplyReserves(keys StringKeys) error {
	val1, err := keys.Uint64(ReserveKey1)
	if err != nil {
		return fmt.Errorf("pair %s: %w", p.Contract, err)
	}
	val2, err := keys.Uint64(ReserveKey2)
	if err != nil {
		return fmt.Errorf("pair %s: %w", p.Contract, err)
	}
	fee, err := keys.Uint64(FeeKey)
	if err != nil {
		return fmt.Errorf("pair %s: %w", p.Contract, err)
	}

	p.Val1 = val1
	p.Val2 = val2
	p.Fees = fee
	return nil
}
