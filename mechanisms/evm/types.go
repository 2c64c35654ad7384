package evm

import (
	"encoding/json"
)

// TypedDataField is one member of an EIP-712 struct type
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedDataEnvelope is the eth_signTypedData_v4 payload. Domain and message
// keep their decoded JSON values; numbers are json.Number so they retain
// their literal text.
type TypedDataEnvelope struct {
	Types       map[string][]TypedDataField `json:"types"`
	PrimaryType string                      `json:"primaryType"`
	Domain      map[string]interface{}      `json:"domain"`
	Message     map[string]interface{}      `json:"message"`

	// Raw is the envelope exactly as the dapp sent it
	Raw json.RawMessage `json:"-"`
}

// rpcBlock is the subset of an eth_getBlockByNumber result used for fees
type rpcBlock struct {
	BaseFeePerGas *string `json:"baseFeePerGas"`
}
