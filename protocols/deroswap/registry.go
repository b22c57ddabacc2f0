package deroswap

// Asset is a token listed in the swap registry.
type Asset struct {
	Name  string `json:"name"`
	Digit uint64 `json:"digit"` // decimal precision
	SCID  string `json:"scid"`
	// AtomicBalance is the wallet balance in atomic units; nil until fetched.
	AtomicBalance *uint64 `json:"atomicBalance,omitempty"`
}

// Pair is a liquidity pool between two assets. Asset1 and Asset2 point at the
// registry's assets, so a balance update is visible through every pair.
type Pair struct {
	Contract string `json:"contract"`
	Asset1   *Asset `json:"asset1"`
	Asset2   *Asset `json:"asset2"`
	Val1     uint64 `json:"val1"`
	Val2     uint64 `json:"val2"`
	Fees     uint64 `json:"fees"`
}

// Registry is the set of assets and pairs decoded from the swap registry contract.
type Registry struct {
	// Assets in the order they were first referenced.
	Assets []*Asset
	// Pairs in parse order.
	Pairs []*Pair
	// Skipped lists t:/p: keys that named no usable asset.
	Skipped []string

	byName map[string]*Asset
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Asset)}
}

// Asset returns the asset called name.
func (r *Registry) Asset(name string) (*Asset, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// asset returns the asset called name, creating a placeholder on first reference.
func (r *Registry) asset(name string) *Asset {
	if a, ok := r.byName[name]; ok {
		return a
	}
	a := &Asset{Name: name}
	r.byName[name] = a
	r.Assets = append(r.Assets, a)
	return a
}
