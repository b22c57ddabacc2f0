package dero

import deroswap "github.com/defistate/xswd-client-go/protocols/deroswap"

// Methods used by the client.
const (
	MethodGetSC            = "DERO.GetSC"
	MethodGetRandomAddress = "DERO.GetRandomAddress"
	MethodGetGasEstimate   = "DERO.GetGasEstimate"
	MethodGetBalance       = "GetBalance"
	MethodGetAddress       = "GetAddress"
	MethodTransfer         = "transfer"
)

// GetSCKeysParams asks for selected string keys of a contract.
type GetSCKeysParams struct {
	SCID       string   `json:"scid"`
	KeysString []string `json:"keysstring"`
}

// GetSCVariablesParams asks for every variable of a contract.
type GetSCVariablesParams struct {
	SCID      string `json:"scid"`
	Code      bool   `json:"code"`
	Variables bool   `json:"variables"`
}

// GetSCResult is the subset of DERO.GetSC the client reads.
type GetSCResult struct {
	ValuesString []string            `json:"valuesstring"`
	StringKeys   deroswap.StringKeys `json:"stringkeys"`
}

// GetBalanceParams selects the asset; the empty scid is DERO itself.
type GetBalanceParams struct {
	SCID string `json:"scid"`
}

type GetBalanceResult struct {
	Balance uint64 `json:"balance"`
}

type GetAddressResult struct {
	Address string `json:"address"`
}

type GetRandomAddressResult struct {
	Address []string `json:"address"`
}

// Argument is a smart contract call argument.
type Argument struct {
	Name     string `json:"name"`
	DataType string `json:"datatype"`
	Value    any    `json:"value"`
}

// Transfer moves Burn atomic units of the SCID asset into the called contract.
type Transfer struct {
	SCID        string `json:"scid"`
	Destination string `json:"destination"`
	Burn        uint64 `json:"burn"`
}

type GasEstimateParams struct {
	SCRPC     []Argument `json:"sc_rpc"`
	Transfers []Transfer `json:"transfers"`
	Signer    string     `json:"signer"`
}

type GasEstimateResult struct {
	GasCompute uint64 `json:"gascompute"`
	GasStorage uint64 `json:"gasstorage"`
	Status     string `json:"status"`
}

type TransferParams struct {
	SCID      string     `json:"scid"`
	Ringsize  uint64     `json:"ringsize"`
	SCRPC     []Argument `json:"sc_rpc"`
	Transfers []Transfer `json:"transfers"`
	Fees      uint64     `json:"fees"`
}

type TransferResult struct {
	TXID string `json:"txid"`
}

// SwapRequest sells AmountIn of Asset through the pair contract PairSCID.
type SwapRequest struct {
	Asset    *deroswap.Asset
	AmountIn uint64
	PairSCID string
}

// PoolAddRequest adds Amount1 of Asset1 and Amount2 of Asset2 to Pair.
type PoolAddRequest struct {
	Pair    *deroswap.Pair
	Amount1 uint64
	Amount2 uint64
}
