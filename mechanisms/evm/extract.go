package evm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	lucid "github.com/lucid-sec/lucid/go"
)

// ChainStateSource picks the chain state reader for a call
type ChainStateSource func(call lucid.InterceptedCall) lucid.ChainState

// FromProvider reads chain state through the intercepted provider itself
func FromProvider(call lucid.InterceptedCall) lucid.ChainState {
	return NewProviderChainState(call.Origin)
}

type extractorConfig struct {
	chainState ChainStateSource
	logger     zerolog.Logger
}

// ExtractorOption configures the EVM extractors
type ExtractorOption func(*extractorConfig)

// WithChainState resolves chain values through a fixed reader, e.g. an
// RPCChainState, instead of the intercepted provider
func WithChainState(cs lucid.ChainState) ExtractorOption {
	return func(c *extractorConfig) {
		c.chainState = func(lucid.InterceptedCall) lucid.ChainState { return cs }
	}
}

// WithLogger sets the extractors' logger
func WithLogger(l zerolog.Logger) ExtractorOption {
	return func(c *extractorConfig) {
		c.logger = l
	}
}

func newExtractorConfig(opts []ExtractorOption) extractorConfig {
	cfg := extractorConfig{
		chainState: FromProvider,
		logger:     log.Logger.With().Str("component", "evm").Logger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ============================================================================
// eth_sendTransaction / wallet_sendTransaction
// ============================================================================

// SendTransactionExtractor maps a send-transaction call to an EoaTransaction.
// Chain id, nonce and fees come from the network, not from the dapp.
type SendTransactionExtractor struct {
	cfg extractorConfig
}

// NewSendTransactionExtractor creates the send-transaction extractor
func NewSendTransactionExtractor(opts ...ExtractorOption) *SendTransactionExtractor {
	return &SendTransactionExtractor{cfg: newExtractorConfig(opts)}
}

var _ lucid.Extractor = (*SendTransactionExtractor)(nil)

// Extract implements lucid.Extractor
func (e *SendTransactionExtractor) Extract(ctx context.Context, call lucid.InterceptedCall) (lucid.NormalizedTransaction, error) {
	params, ok := call.TxParams()
	if !ok {
		return nil, lucid.NewExtractionError("first parameter is not a transaction object", nil)
	}

	from, err := field(params, "from")
	if err != nil || from == "" {
		return nil, lucid.NewExtractionError("transaction has no sender", err)
	}

	tx := lucid.EoaTransaction{
		From:     from,
		To:       optionalField(params, "", "to"),
		Value:    optionalField(params, DefaultValue, "value"),
		Data:     optionalField(params, DefaultData, "data", "input"),
		GasLimit: optionalField(params, "", "gas", "gasLimit"),
	}

	state := e.cfg.chainState(call)

	chainID, err := state.ChainID(ctx)
	if err != nil {
		return nil, lucid.NewExtractionError("could not resolve chain id", err)
	}
	tx.ChainID = chainID.String()

	nonce, err := state.TransactionCount(ctx, from)
	if err != nil {
		return nil, lucid.NewExtractionError("could not resolve nonce", err)
	}
	tx.Nonce = strconv.FormatUint(nonce, 10)

	tx.MaxFeePerGas = ZeroFee
	tx.MaxPriorityFeePerGas = ZeroFee
	fees, err := state.FeeData(ctx)
	if err != nil {
		e.cfg.logger.Warn().Err(err).Msg("fee data unavailable")
	} else if fees != nil {
		if fees.MaxFeePerGas != nil {
			tx.MaxFeePerGas = fees.MaxFeePerGas.String()
		}
		if fees.MaxPriorityFeePerGas != nil {
			tx.MaxPriorityFeePerGas = fees.MaxPriorityFeePerGas.String()
		}
	}

	return tx, nil
}

// optionalField returns the first present scalar among names, or def
func optionalField(obj map[string]interface{}, def string, names ...string) string {
	for _, name := range names {
		if s, err := field(obj, name); err == nil {
			return s
		}
	}
	return def
}

// ============================================================================
// eth_signTypedData_v4
// ============================================================================

// TypedDataV4Extractor maps a typed-data signature request to a
// PermitTransaction or a SafeEip712Transaction depending on its primary type
type TypedDataV4Extractor struct {
	cfg extractorConfig
}

// NewTypedDataV4Extractor creates the typed-data extractor
func NewTypedDataV4Extractor(opts ...ExtractorOption) *TypedDataV4Extractor {
	return &TypedDataV4Extractor{cfg: newExtractorConfig(opts)}
}

var _ lucid.Extractor = (*TypedDataV4Extractor)(nil)

// Extract implements lucid.Extractor
func (e *TypedDataV4Extractor) Extract(_ context.Context, call lucid.InterceptedCall) (lucid.NormalizedTransaction, error) {
	if len(call.Params) < 2 {
		return nil, lucid.NewExtractionError(fmt.Sprintf("expected 2 parameters, got %d", len(call.Params)), nil)
	}
	from, ok := call.Params[0].(string)
	if !ok || from == "" {
		return nil, lucid.NewExtractionError("first parameter is not an address", nil)
	}

	envelope, err := ParseTypedData(call.Params[1])
	if err != nil {
		return nil, lucid.NewExtractionError("malformed typed data", err)
	}

	var tx lucid.NormalizedTransaction
	if envelope.PrimaryType == PrimaryTypePermit {
		tx, err = permitFromEnvelope(from, envelope)
	} else {
		tx, err = safeTxFromEnvelope(from, envelope)
	}
	if err != nil {
		return nil, err
	}

	if digest, err := TypedDataDigest(envelope); err != nil {
		e.cfg.logger.Debug().Err(err).Str("primary_type", envelope.PrimaryType).Msg("could not compute typed data digest")
	} else {
		e.cfg.logger.Debug().
			Str("primary_type", envelope.PrimaryType).
			Str("digest", hexutil.Encode(digest)).
			Msg("typed data digest")
	}

	return tx, nil
}

func permitFromEnvelope(from string, envelope *TypedDataEnvelope) (lucid.NormalizedTransaction, error) {
	if result := ValidatePermit(envelope); !result.Valid {
		return nil, lucid.NewExtractionError("incomplete permit: "+strings.Join(result.Errors, "; "), nil)
	}

	var fe fieldErrors
	tx := lucid.PermitTransaction{
		ChainID:           fe.get(envelope.Domain, "chainId"),
		CoinName:          fe.get(envelope.Domain, "name"),
		VerifyingContract: fe.get(envelope.Domain, "verifyingContract"),
		Version:           fe.get(envelope.Domain, "version"),
		From:              from,
		Deadline:          fe.get(envelope.Message, "deadline"),
		Nonce:             fe.get(envelope.Message, "nonce"),
		Owner:             fe.get(envelope.Message, "owner"),
		Spender:           fe.get(envelope.Message, "spender"),
		Value:             fe.get(envelope.Message, "value"),
	}
	if err := fe.err("permit"); err != nil {
		return nil, err
	}
	return tx, nil
}

func safeTxFromEnvelope(from string, envelope *TypedDataEnvelope) (lucid.NormalizedTransaction, error) {
	if result := ValidateSafeTx(envelope); !result.Valid {
		return nil, lucid.NewExtractionError("incomplete safe transaction: "+strings.Join(result.Errors, "; "), nil)
	}

	var fe fieldErrors
	tx := lucid.SafeEip712Transaction{
		ChainID:        fe.get(envelope.Domain, "chainId"),
		SafeAddress:    fe.get(envelope.Domain, "verifyingContract"),
		From:           from,
		To:             fe.get(envelope.Message, "to"),
		Value:          fe.get(envelope.Message, "value"),
		Data:           fe.get(envelope.Message, "data"),
		Operation:      fe.get(envelope.Message, "operation"),
		SafeTxGas:      fe.get(envelope.Message, "safeTxGas"),
		BaseGas:        fe.get(envelope.Message, "baseGas"),
		GasPrice:       fe.get(envelope.Message, "gasPrice"),
		GasToken:       fe.get(envelope.Message, "gasToken"),
		RefundReceiver: fe.get(envelope.Message, "refundReceiver"),
		Nonce:          fe.get(envelope.Message, "nonce"),
	}
	if err := fe.err("safe transaction"); err != nil {
		return nil, err
	}
	return tx, nil
}

// fieldErrors collects the first failure across a run of field reads
type fieldErrors struct {
	first error
}

func (f *fieldErrors) get(obj map[string]interface{}, name string) string {
	s, err := field(obj, name)
	if err != nil && f.first == nil {
		f.first = err
	}
	return s
}

func (f *fieldErrors) err(kind string) error {
	if f.first == nil {
		return nil
	}
	return lucid.NewExtractionError("incomplete "+kind, f.first)
}
