package evm

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedDataDigest computes the EIP-712 digest the wallet will sign:
// keccak256("\x19\x01" + domainSeparator + structHash)
//
// The digest is logged next to the extracted record so a relay-side
// simulation can be matched to the exact signature request.
func TypedDataDigest(envelope *TypedDataEnvelope) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: envelope.PrimaryType,
	}
	typedData.Message, _ = plainValues(envelope.Message).(map[string]interface{})

	domain, err := toAPIDomain(envelope.Domain)
	if err != nil {
		return nil, err
	}
	typedData.Domain = domain

	// Convert field types
	for typeName, fields := range envelope.Types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, f := range fields {
			typedFields[i] = apitypes.Type{Name: f.Name, Type: f.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	// Derive EIP712Domain from the domain members present
	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = domainType(envelope.Domain)
	}

	// Hash the struct data
	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	// Hash the domain
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

func toAPIDomain(domain map[string]interface{}) (apitypes.TypedDataDomain, error) {
	var out apitypes.TypedDataDomain
	if s, err := field(domain, "name"); err == nil {
		out.Name = s
	}
	if s, err := field(domain, "version"); err == nil {
		out.Version = s
	}
	if s, err := field(domain, "verifyingContract"); err == nil {
		out.VerifyingContract = s
	}
	if s, err := field(domain, "salt"); err == nil {
		out.Salt = s
	}
	if s, err := field(domain, "chainId"); err == nil {
		chainID, err := ParseBigInt(s)
		if err != nil {
			return out, fmt.Errorf("invalid domain chainId: %w", err)
		}
		out.ChainId = (*math.HexOrDecimal256)(chainID)
	}
	return out, nil
}

// domainType lists the EIP712Domain members in canonical order
func domainType(domain map[string]interface{}) []apitypes.Type {
	canonical := []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
		{Name: "salt", Type: "bytes32"},
	}
	var out []apitypes.Type
	for _, t := range canonical {
		if _, ok := domain[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// plainValues replaces json.Number with its text, which apitypes parses as
// a decimal or hex integer
func plainValues(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = plainValues(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = plainValues(val)
		}
		return out
	default:
		return v
	}
}

// ParseBigInt parses a decimal or 0x-prefixed hex integer
func ParseBigInt(s string) (*big.Int, error) {
	base := 10
	if has0xPrefix(s) {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
