package indexer

import deroswap "github.com/defistate/xswd-client-go/protocols/deroswap"

// Indexer builds IndexedRegistry views.
type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed view of reg.
func (i *Indexer) Index(reg *deroswap.Registry) IndexedRegistry {
	return NewIndexableRegistry(reg)
}

// IndexableRegistry provides fast lookups over a swap registry. It indexes the
// registry's own *Asset and *Pair values, it does not copy them.
type IndexableRegistry struct {
	byName     map[string]*deroswap.Asset
	bySCID     map[string]*deroswap.Asset
	byContract map[string]*deroswap.Pair
	byAsset    map[string][]*deroswap.Pair
	assets     []*deroswap.Asset
	pairs      []*deroswap.Pair
}

// NewIndexableRegistry indexes reg. A nil registry yields an empty index.
func NewIndexableRegistry(reg *deroswap.Registry) *IndexableRegistry {
	var (
		assets []*deroswap.Asset
		pairs  []*deroswap.Pair
	)
	if reg != nil {
		assets = reg.Assets
		pairs = reg.Pairs
	}

	ir := &IndexableRegistry{
		byName:     make(map[string]*deroswap.Asset, len(assets)),
		bySCID:     make(map[string]*deroswap.Asset, len(assets)),
		byContract: make(map[string]*deroswap.Pair, len(pairs)),
		byAsset:    make(map[string][]*deroswap.Pair),
		assets:     assets,
		pairs:      pairs,
	}

	for _, a := range assets {
		ir.byName[a.Name] = a
		// placeholders without a scid are only reachable by name
		if a.SCID != "" {
			ir.bySCID[a.SCID] = a
		}
	}
	for _, p := range pairs {
		ir.byContract[p.Contract] = p
		ir.byAsset[p.Asset1.Name] = append(ir.byAsset[p.Asset1.Name], p)
		if p.Asset2.Name != p.Asset1.Name {
			ir.byAsset[p.Asset2.Name] = append(ir.byAsset[p.Asset2.Name], p)
		}
	}
	return ir
}

// AssetByName retrieves an asset by its registry name.
func (ir *IndexableRegistry) AssetByName(name string) (*deroswap.Asset, bool) {
	a, ok := ir.byName[name]
	return a, ok
}

// AssetBySCID retrieves an asset by its contract id.
func (ir *IndexableRegistry) AssetBySCID(scid string) (*deroswap.Asset, bool) {
	a, ok := ir.bySCID[scid]
	return a, ok
}

// PairByContract retrieves a pair by its contract id.
func (ir *IndexableRegistry) PairByContract(contract string) (*deroswap.Pair, bool) {
	p, ok := ir.byContract[contract]
	return p, ok
}

// PairsWithAsset returns the pairs trading the named asset.
func (ir *IndexableRegistry) PairsWithAsset(name string) []*deroswap.Pair {
	pairs := ir.byAsset[name]
	out := make([]*deroswap.Pair, len(pairs))
	copy(out, pairs)
	return out
}

// Assets returns a copy of the asset slice.
func (ir *IndexableRegistry) Assets() []*deroswap.Asset {
	out := make([]*deroswap.Asset, len(ir.assets))
	copy(out, ir.assets)
	return out
}

// Pairs returns a copy of the pair slice.
func (ir *IndexableRegistry) Pairs() []*deroswap.Pair {
	out := make([]*deroswap.Pair, len(ir.pairs))
	copy(out, ir.pairs)
	return out
}
