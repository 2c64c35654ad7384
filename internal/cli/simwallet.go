package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lucid-sec/lucid/go/page"
)

// simulatedWallet answers the provider calls a dapp and the extractors
// make, like an injected browser wallet connected to mainnet
type simulatedWallet struct {
	mu    sync.Mutex
	calls []string
}

func (w *simulatedWallet) dispatch(_ context.Context, req page.Request) (interface{}, error) {
	w.mu.Lock()
	w.calls = append(w.calls, req.Method)
	w.mu.Unlock()

	switch req.Method {
	case "eth_chainId":
		return "0x1", nil
	case "eth_getTransactionCount":
		return "0x5", nil
	case "eth_getBlockByNumber":
		return map[string]interface{}{"number": "0x1406f40", "baseFeePerGas": "0x3b9aca00"}, nil
	case "eth_maxPriorityFeePerGas":
		return "0x3b9aca00", nil
	case "eth_sendTransaction":
		return "0x" + strings.Repeat("ab", 32), nil
	case "eth_signTypedData_v4", "personal_sign":
		return "0x" + strings.Repeat("cd", 65), nil
	default:
		return nil, fmt.Errorf("method %s not supported", req.Method)
	}
}

// Calls returns the methods dispatched so far
func (w *simulatedWallet) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

const samplePermit = `{
  "types": {
    "EIP712Domain": [
      {"name": "name", "type": "string"},
      {"name": "version", "type": "string"},
      {"name": "chainId", "type": "uint256"},
      {"name": "verifyingContract", "type": "address"}
    ],
    "Permit": [
      {"name": "owner", "type": "address"},
      {"name": "spender", "type": "address"},
      {"name": "value", "type": "uint256"},
      {"name": "nonce", "type": "uint256"},
      {"name": "deadline", "type": "uint256"}
    ]
  },
  "primaryType": "Permit",
  "domain": {
    "name": "USD Coin",
    "version": "2",
    "chainId": 1,
    "verifyingContract": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
  },
  "message": {
    "owner": "0x1111111111111111111111111111111111111111",
    "spender": "0x2222222222222222222222222222222222222222",
    "value": "1000000",
    "nonce": 0,
    "deadline": 1893456000
  }
}`

// sampleRequests is what the simulated dapp sends, in order
func sampleRequests() []page.Request {
	from := "0x1111111111111111111111111111111111111111"
	return []page.Request{
		{Method: "eth_chainId"},
		{Method: "eth_sendTransaction", Params: []interface{}{map[string]interface{}{
			"from":  from,
			"to":    "0x2222222222222222222222222222222222222222",
			"value": "0xde0b6b3a7640000",
			"gas":   "0x5208",
		}}},
		{Method: "eth_signTypedData_v4", Params: []interface{}{from, samplePermit}},
		{Method: "personal_sign", Params: []interface{}{"0x68656c6c6f", from}},
	}
}
