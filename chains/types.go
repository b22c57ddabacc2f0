package chains

import (
	"context"

	deroswap "github.com/defistate/xswd-client-go/protocols/deroswap"
	deroswapindexer "github.com/defistate/xswd-client-go/protocols/deroswap/indexer"
	"github.com/defistate/xswd-client-go/streams/xswd/client"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Caller issues a request and waits for its response.
type Caller interface {
	Call(ctx context.Context, method string, params any) (*client.Response, error)
}

// Transport is a Caller that owns its connection.
type Transport interface {
	Caller
	Connect(ctx context.Context) error
}

// RegistryIndexer defines the interface for any component that can index a swap registry.
type RegistryIndexer interface {
	Index(reg *deroswap.Registry) deroswapindexer.IndexedRegistry
}
