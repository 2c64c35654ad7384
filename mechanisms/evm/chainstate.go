package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	lucid "github.com/lucid-sec/lucid/go"
	"github.com/lucid-sec/lucid/go/page"
)

// ProviderChainState reads chain state through a provider's dispatch
// method. Pass the unwrapped dispatch so lookups never re-enter the
// interceptor.
type ProviderChainState struct {
	dispatch page.DispatchFunc
}

// NewProviderChainState creates a chain state reader over a dispatch method
func NewProviderChainState(dispatch page.DispatchFunc) *ProviderChainState {
	return &ProviderChainState{dispatch: dispatch}
}

var _ lucid.ChainState = (*ProviderChainState)(nil)

func (p *ProviderChainState) call(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	if p.dispatch == nil {
		return nil, fmt.Errorf("provider has no dispatch method")
	}
	result, err := p.dispatch(ctx, page.Request{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	return result, nil
}

// ChainID implements lucid.ChainState
func (p *ProviderChainState) ChainID(ctx context.Context) (*big.Int, error) {
	result, err := p.call(ctx, MethodChainID)
	if err != nil {
		return nil, err
	}
	return quantity(result)
}

// TransactionCount implements lucid.ChainState
func (p *ProviderChainState) TransactionCount(ctx context.Context, address string) (uint64, error) {
	result, err := p.call(ctx, MethodGetTransactionCount, address, BlockTagLatest)
	if err != nil {
		return 0, err
	}
	n, err := quantity(result)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("transaction count out of range: %s", n)
	}
	return n.Uint64(), nil
}

// FeeData implements lucid.ChainState. Pre-London networks report no base
// fee and yield empty fee data.
func (p *ProviderChainState) FeeData(ctx context.Context) (*lucid.FeeData, error) {
	result, err := p.call(ctx, MethodGetBlockByNumber, BlockTagLatest, false)
	if err != nil {
		return nil, err
	}

	var block rpcBlock
	if err := remarshal(result, &block); err != nil {
		return nil, fmt.Errorf("unexpected block: %w", err)
	}
	if block.BaseFeePerGas == nil {
		return &lucid.FeeData{}, nil
	}
	baseFee, err := quantity(*block.BaseFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("invalid baseFeePerGas: %w", err)
	}

	tip := new(big.Int).Set(DefaultMaxPriorityFeePerGas)
	if result, err := p.call(ctx, MethodMaxPriorityFeePerGas); err == nil {
		if n, err := quantity(result); err == nil {
			tip = n
		}
	}

	return &lucid.FeeData{
		MaxFeePerGas:         maxFee(baseFee, tip),
		MaxPriorityFeePerGas: tip,
	}, nil
}

// ChainReader is the subset of ethclient.Client RPCChainState needs
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// RPCChainState reads chain state from a JSON-RPC node instead of the
// page's provider
type RPCChainState struct {
	reader ChainReader
}

var _ lucid.ChainState = (*RPCChainState)(nil)

// NewRPCChainState wraps a chain reader such as *ethclient.Client
func NewRPCChainState(reader ChainReader) *RPCChainState {
	return &RPCChainState{reader: reader}
}

// DialRPCChainState connects to a JSON-RPC endpoint
func DialRPCChainState(ctx context.Context, rawURL string) (*RPCChainState, func(), error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", rawURL, err)
	}
	return NewRPCChainState(client), client.Close, nil
}

// ChainID implements lucid.ChainState
func (r *RPCChainState) ChainID(ctx context.Context) (*big.Int, error) {
	return r.reader.ChainID(ctx)
}

// TransactionCount implements lucid.ChainState
func (r *RPCChainState) TransactionCount(ctx context.Context, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("invalid address %q", address)
	}
	return r.reader.NonceAt(ctx, common.HexToAddress(address), nil)
}

// FeeData implements lucid.ChainState
func (r *RPCChainState) FeeData(ctx context.Context) (*lucid.FeeData, error) {
	header, err := r.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest header: %w", err)
	}
	if header.BaseFee == nil {
		return &lucid.FeeData{}, nil
	}

	tip, err := r.reader.SuggestGasTipCap(ctx)
	if err != nil {
		tip = new(big.Int).Set(DefaultMaxPriorityFeePerGas)
	}

	return &lucid.FeeData{
		MaxFeePerGas:         maxFee(header.BaseFee, tip),
		MaxPriorityFeePerGas: tip,
	}, nil
}

// maxFee applies maxFeePerGas = 2 * baseFee + tip
func maxFee(baseFee, tip *big.Int) *big.Int {
	fee := new(big.Int).Mul(baseFee, BaseFeeMultiplier)
	return fee.Add(fee, tip)
}

// quantity decodes a JSON-RPC quantity. Providers return hex strings; some
// test providers return decimal strings or numbers.
func quantity(v interface{}) (*big.Int, error) {
	switch t := v.(type) {
	case string:
		if has0xPrefix(t) {
			if n, err := hexutil.DecodeBig(t); err == nil {
				return n, nil
			}
		}
		return ParseBigInt(t)
	case json.Number:
		return ParseBigInt(t.String())
	case *big.Int:
		if t == nil {
			return nil, fmt.Errorf("nil quantity")
		}
		return new(big.Int).Set(t), nil
	case *hexutil.Big:
		if t == nil {
			return nil, fmt.Errorf("nil quantity")
		}
		return t.ToInt(), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	case int:
		return big.NewInt(int64(t)), nil
	case int64:
		return big.NewInt(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("non-finite quantity %v", t)
		}
		n, _ := big.NewFloat(t).Int(nil)
		return n, nil
	default:
		return nil, fmt.Errorf("unexpected quantity type %T", v)
	}
}

// remarshal converts a loosely typed RPC result into a struct
func remarshal(in interface{}, out interface{}) error {
	var raw []byte
	switch t := in.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, out)
}
