// Package evm provides the Ethereum extractors: send-transaction calls become
// EoaTransaction records, and eth_signTypedData_v4 requests become Permit or
// Safe records.
package evm

import (
	lucid "github.com/lucid-sec/lucid/go"
)

// Extractors returns the baseline {method → extractor} registry
func Extractors(opts ...ExtractorOption) map[string]lucid.Extractor {
	send := NewSendTransactionExtractor(opts...)
	return map[string]lucid.Extractor{
		MethodSendTransaction:       send,
		MethodWalletSendTransaction: send,
		MethodSignTypedDataV4:       NewTypedDataV4Extractor(opts...),
	}
}

// Register installs the EVM extractors on an interceptor
func Register(interceptor *lucid.Interceptor, opts ...ExtractorOption) error {
	for method, extractor := range Extractors(opts...) {
		if err := interceptor.RegisterExtractor(method, extractor); err != nil {
			return err
		}
	}
	return nil
}

// InterceptorOptions returns the EVM extractors as interceptor options
func InterceptorOptions(opts ...ExtractorOption) []lucid.InterceptorOption {
	var out []lucid.InterceptorOption
	for method, extractor := range Extractors(opts...) {
		out = append(out, lucid.WithExtractor(method, extractor))
	}
	return out
}
