package evm

import (
	"math/big"
)

const (
	// Wallet methods with an extractor
	MethodSendTransaction       = "eth_sendTransaction"
	MethodWalletSendTransaction = "wallet_sendTransaction"
	MethodSignTypedDataV4       = "eth_signTypedData_v4"

	// Chain state RPC methods
	MethodChainID              = "eth_chainId"
	MethodGetTransactionCount  = "eth_getTransactionCount"
	MethodGetBlockByNumber     = "eth_getBlockByNumber"
	MethodMaxPriorityFeePerGas = "eth_maxPriorityFeePerGas"

	BlockTagLatest = "latest"

	// PrimaryTypePermit selects the EIP-2612 permit mapping; any other
	// primary type is read as a Safe transaction
	PrimaryTypePermit = "Permit"
	PrimaryTypeSafeTx = "SafeTx"

	// Defaults for send-transaction fields a dapp may omit
	DefaultValue = "0x0"
	DefaultData  = "0x"

	// ZeroFee is reported when the network exposes no fee data
	ZeroFee = "0"
)

var (
	// DefaultMaxPriorityFeePerGas is used when the node does not implement
	// eth_maxPriorityFeePerGas (1 gwei)
	DefaultMaxPriorityFeePerGas = big.NewInt(1_000_000_000)

	// BaseFeeMultiplier scales the latest base fee into maxFeePerGas
	BaseFeeMultiplier = big.NewInt(2)
)
