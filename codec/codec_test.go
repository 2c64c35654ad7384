package codec

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lucid "github.com/lucid-sec/lucid/go"
)

func sampleTransactions() []lucid.NormalizedTransaction {
	return []lucid.NormalizedTransaction{
		lucid.EoaTransaction{
			Nonce:                "5",
			ChainID:              "1",
			From:                 "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			To:                   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Value:                "0x1",
			Data:                 "0x",
			GasLimit:             "21000",
			MaxFeePerGas:         "100",
			MaxPriorityFeePerGas: "2",
		},
		lucid.SafeEip712Transaction{
			ChainID:        "11155111",
			SafeAddress:    "0x2c8E1bC7a3d9E3f6f7E0b4b12F1fC0a6e2a1B3c4",
			From:           "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			To:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Value:          "1000000000000000000",
			Data:           "0xa9059cbb",
			Operation:      "0",
			SafeTxGas:      "0",
			BaseGas:        "0",
			GasPrice:       "0",
			GasToken:       "0x0000000000000000000000000000000000000000",
			RefundReceiver: "0x0000000000000000000000000000000000000000",
			Nonce:          "7",
		},
		lucid.PermitTransaction{
			ChainID:           "1",
			CoinName:          "USD Coin",
			VerifyingContract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Version:           "2",
			From:              "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			Deadline:          "1893456000",
			Nonce:             "0",
			Owner:             "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			Spender:           "0x000000000022D473030F116dDEE9F6B43aC78BA3",
			Value:             "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	for _, tx := range sampleTransactions() {
		t.Run(string(tx.RequestType()), func(t *testing.T) {
			envelope, err := Encode(tx, key)
			require.NoError(t, err)

			got, err := Decode(envelope, key, tx.RequestType())
			require.NoError(t, err)
			assert.Equal(t, tx, got)
		})
	}
}

func TestEncode_FreshIVPerCall(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	tx := sampleTransactions()[0]

	first, err := Encode(tx, key)
	require.NoError(t, err)
	second, err := Encode(tx, key)
	require.NoError(t, err)

	iv1, ct1, err := SplitEnvelope(first)
	require.NoError(t, err)
	iv2, ct2, err := SplitEnvelope(second)
	require.NoError(t, err)

	assert.Len(t, iv1, IVSize)
	assert.NotEqual(t, iv1, iv2)
	assert.NotEqual(t, ct1, ct2)

	// CTR adds no padding
	plaintext, err := Marshal(tx)
	require.NoError(t, err)
	assert.Len(t, ct1, len(plaintext))
}

func TestEncode_MalformedKey(t *testing.T) {
	tx := sampleTransactions()[0]

	tests := []struct {
		name string
		key  *Key
	}{
		{"nil key", nil},
		{"missing material", &Key{Kty: "oct"}},
		{"not base64", &Key{Kty: "oct", K: "!!!not-base64!!!"}},
		{"wrong length", &Key{Kty: "oct", K: base64.RawURLEncoding.EncodeToString([]byte("short"))}},
		{"wrong key type", &Key{Kty: "RSA", K: base64.RawURLEncoding.EncodeToString(make([]byte, 32))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := Encode(tx, tt.key)
			require.Error(t, err)
			assert.Empty(t, envelope)
			assert.Equal(t, lucid.ErrCodeEncryption, lucid.ErrorCode(err))
		})
	}
}

func TestKeyMaterial_AcceptedEncodings(t *testing.T) {
	raw := make([]byte, 16)
	for i := range raw {
		raw[i] = byte(0xf0 + i)
	}

	for _, k := range []string{
		base64.RawURLEncoding.EncodeToString(raw),
		base64.URLEncoding.EncodeToString(raw),
		base64.StdEncoding.EncodeToString(raw),
	} {
		material, err := (&Key{Kty: "oct", K: k}).Material()
		require.NoError(t, err, k)
		assert.Equal(t, raw, material)
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	assert.Equal(t, "oct", key.Kty)
	assert.Equal(t, "A256CTR", key.Alg)
	assert.Equal(t, []string{"encrypt", "decrypt"}, key.KeyOps)

	material, err := key.Material()
	require.NoError(t, err)
	assert.Len(t, material, 32)
}

func TestDecode_WrongVariantAndShortEnvelope(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	_, err = Decode(base64.StdEncoding.EncodeToString([]byte("short")), key, lucid.RequestTypePermit)
	assert.Error(t, err)

	envelope, err := Encode(sampleTransactions()[2], key)
	require.NoError(t, err)
	_, err = Decode(envelope, key, lucid.RequestType("unknown"))
	assert.Error(t, err)
}
