package lucid

import (
	"context"
	"math/big"
)

// Extractor turns a supported signing call into a normalized transaction.
// Implementations live in mechanism packages (e.g. mechanisms/evm) and are
// registered per method name on the Interceptor.
type Extractor interface {
	Extract(ctx context.Context, call InterceptedCall) (NormalizedTransaction, error)
}

// ExtractorFunc adapts a function to the Extractor interface
type ExtractorFunc func(ctx context.Context, call InterceptedCall) (NormalizedTransaction, error)

// Extract implements Extractor
func (f ExtractorFunc) Extract(ctx context.Context, call InterceptedCall) (NormalizedTransaction, error) {
	return f(ctx, call)
}

// Submitter relays a normalized transaction to the verification service.
// The relay package implements it on top of the cross-context relay channel.
type Submitter interface {
	Submit(ctx context.Context, tx NormalizedTransaction) error
}

// Notifier is the blocking notification overlay
type Notifier interface {
	Show(title, body string) error
	Hide() error
}

// ChainState resolves the network values callers routinely leave for the
// wallet to fill in.
type ChainState interface {
	// ChainID returns the id of the network the provider is connected to
	ChainID(ctx context.Context) (*big.Int, error)

	// TransactionCount returns the account's transaction count, used as nonce
	TransactionCount(ctx context.Context, address string) (uint64, error)

	// FeeData returns the EIP-1559 fee estimates. Either value may be nil
	// when the network does not report it.
	FeeData(ctx context.Context) (*FeeData, error)
}

// FeeData holds EIP-1559 fee estimates
type FeeData struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}
