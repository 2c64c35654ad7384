package lucid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigningMethodsBaseline(t *testing.T) {
	assert.Len(t, SigningMethods, 12)
	for _, m := range SigningMethods {
		assert.True(t, IsSigningMethod(m), m)
	}
	for _, m := range []string{"eth_sendRawTransaction", "eth_chainId", "eth_accounts", ""} {
		assert.False(t, IsSigningMethod(m), m)
	}
}

func TestMethodRegistry_Classify(t *testing.T) {
	r := NewMethodRegistry()
	noop := ExtractorFunc(func(context.Context, InterceptedCall) (NormalizedTransaction, error) { return nil, nil })
	require.NoError(t, r.Register("eth_sendTransaction", noop))
	require.NoError(t, r.Register("eth_signTypedData_v4", noop))

	tests := []struct {
		method string
		want   RequestKind
	}{
		{"eth_sendTransaction", SigningSupported},
		{"eth_signTypedData_v4", SigningSupported},
		{"wallet_sendTransaction", SigningUnsupported},
		{"personal_sign", SigningUnsupported},
		{"eth_signTypedData_v3", SigningUnsupported},
		{"eth_sendRawTransaction", NotSigning},
		{"eth_getBalance", NotSigning},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Classify(tt.method))
		})
	}

	assert.Equal(t, []string{"eth_sendTransaction", "eth_signTypedData_v4"}, r.Supported())
}

func TestMethodRegistry_RejectsNonSigningMethods(t *testing.T) {
	r := NewMethodRegistry()
	noop := ExtractorFunc(func(context.Context, InterceptedCall) (NormalizedTransaction, error) { return nil, nil })

	assert.ErrorIs(t, r.Register("eth_call", noop), ErrNotSigningMethod)
	assert.Error(t, r.Register("eth_sign", nil))
	assert.Empty(t, r.Supported())
}

func TestRequestKindString(t *testing.T) {
	assert.Equal(t, "not_signing", NotSigning.String())
	assert.Equal(t, "signing_unsupported", SigningUnsupported.String())
	assert.Equal(t, "signing_supported", SigningSupported.String())
	assert.Equal(t, "unknown", RequestKind(42).String())
}
