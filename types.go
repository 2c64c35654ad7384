package lucid

import (
	"github.com/lucid-sec/lucid/go/page"
)

// RequestType tags the transaction variant carried by a relay submission.
// The relay server recovers the variant from this tag.
type RequestType string

const (
	RequestTypeEoaTransaction RequestType = "eoa_transaction"
	RequestTypeEIP712         RequestType = "eip712"
	RequestTypePermit         RequestType = "permit"
)

// NormalizedTransaction is the tagged variant produced by an extractor.
// Exactly one of EoaTransaction, SafeEip712Transaction or PermitTransaction
// implements it per value.
type NormalizedTransaction interface {
	RequestType() RequestType
}

// EoaTransaction is a plain externally-owned-account transaction.
// Numeric fields are the decimal or hex strings the caller and the chain
// state produced; they are never re-encoded.
type EoaTransaction struct {
	Nonce                string `json:"nonce" codec:"nonce"`
	ChainID              string `json:"chainId" codec:"chainId"`
	From                 string `json:"from" codec:"from"`
	To                   string `json:"to" codec:"to"`
	Value                string `json:"value" codec:"value"`
	Data                 string `json:"data" codec:"data"`
	GasLimit             string `json:"gas" codec:"gas"`
	MaxFeePerGas         string `json:"maxFeePerGas" codec:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas" codec:"maxPriorityFeePerGas"`
}

// RequestType implements NormalizedTransaction
func (EoaTransaction) RequestType() RequestType { return RequestTypeEoaTransaction }

// SafeEip712Transaction is a Safe multisig transaction signed as EIP-712 typed data
type SafeEip712Transaction struct {
	ChainID        string `json:"chainId" codec:"chainId"`
	SafeAddress    string `json:"safeAddress" codec:"safeAddress"`
	From           string `json:"from" codec:"from"`
	To             string `json:"to" codec:"to"`
	Value          string `json:"value" codec:"value"`
	Data           string `json:"data" codec:"data"`
	Operation      string `json:"operation" codec:"operation"`
	SafeTxGas      string `json:"safeTxGas" codec:"safeTxGas"`
	BaseGas        string `json:"baseGas" codec:"baseGas"`
	GasPrice       string `json:"gasPrice" codec:"gasPrice"`
	GasToken       string `json:"gasToken" codec:"gasToken"`
	RefundReceiver string `json:"refundReceiver" codec:"refundReceiver"`
	Nonce          string `json:"nonce" codec:"nonce"`
}

// RequestType implements NormalizedTransaction
func (SafeEip712Transaction) RequestType() RequestType { return RequestTypeEIP712 }

// PermitTransaction is an EIP-2612 permit signature request
type PermitTransaction struct {
	ChainID           string `json:"chainId" codec:"chainId"`
	CoinName          string `json:"coinName" codec:"coinName"`
	VerifyingContract string `json:"verifyingContract" codec:"verifyingContract"`
	Version           string `json:"version" codec:"version"`
	From              string `json:"from" codec:"from"`
	Deadline          string `json:"deadline" codec:"deadline"`
	Nonce             string `json:"nonce" codec:"nonce"`
	Owner             string `json:"owner" codec:"owner"`
	Spender           string `json:"spender" codec:"spender"`
	Value             string `json:"value" codec:"value"`
}

// RequestType implements NormalizedTransaction
func (PermitTransaction) RequestType() RequestType { return RequestTypePermit }

// RequestKind is the classifier's verdict on an intercepted call
type RequestKind int

const (
	// NotSigning calls pass through untouched
	NotSigning RequestKind = iota
	// SigningUnsupported calls are logged but never submitted
	SigningUnsupported
	// SigningSupported calls have a registered extractor
	SigningSupported
)

func (k RequestKind) String() string {
	switch k {
	case NotSigning:
		return "not_signing"
	case SigningUnsupported:
		return "signing_unsupported"
	case SigningSupported:
		return "signing_supported"
	default:
		return "unknown"
	}
}

// InterceptedCall is one dispatch invocation seen by a wrapped provider
type InterceptedCall struct {
	// Provider is the slot name the provider was discovered under
	Provider    string
	Method      string
	Params      []interface{}
	Fingerprint string

	// Origin is the provider's unwrapped dispatch. Extractors use it to
	// query chain state without re-entering the interceptor.
	Origin page.DispatchFunc
}

// TxParams returns the first parameter as an object, if it is one
func (c InterceptedCall) TxParams() (map[string]interface{}, bool) {
	if len(c.Params) == 0 {
		return nil, false
	}
	m, ok := c.Params[0].(map[string]interface{})
	return m, ok
}
