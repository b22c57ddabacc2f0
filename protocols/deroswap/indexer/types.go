package indexer

import deroswap "github.com/defistate/xswd-client-go/protocols/deroswap"

// IndexedRegistry defines the methods for accessing indexed swap registry data.
type IndexedRegistry interface {
	AssetByName(name string) (*deroswap.Asset, bool)
	AssetBySCID(scid string) (*deroswap.Asset, bool)
	PairByContract(contract string) (*deroswap.Pair, bool)
	PairsWithAsset(name string) []*deroswap.Pair
	Assets() []*deroswap.Asset
	Pairs() []*deroswap.Pair
}
