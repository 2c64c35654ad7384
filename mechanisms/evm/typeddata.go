package evm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// scalar is the JSON schema fragment for a field carried as text: EIP-712
// numbers and addresses arrive as either strings or JSON numbers.
const scalar = `{"type": ["string", "number", "integer"]}`

var envelopeSchema = `{
	"type": "object",
	"required": ["types", "primaryType", "domain", "message"],
	"properties": {
		"types": {"type": "object"},
		"primaryType": {"type": "string", "minLength": 1},
		"domain": {"type": "object"},
		"message": {"type": "object"}
	}
}`

var permitSchema = `{
	"type": "object",
	"required": ["domain", "message"],
	"properties": {
		"domain": {
			"type": "object",
			"required": ["chainId", "name", "verifyingContract", "version"],
			"properties": {
				"chainId": ` + scalar + `,
				"name": {"type": "string"},
				"verifyingContract": {"type": "string"},
				"version": ` + scalar + `
			}
		},
		"message": {
			"type": "object",
			"required": ["owner", "spender", "value", "nonce", "deadline"],
			"properties": {
				"owner": {"type": "string"},
				"spender": {"type": "string"},
				"value": ` + scalar + `,
				"nonce": ` + scalar + `,
				"deadline": ` + scalar + `
			}
		}
	}
}`

var safeTxSchema = `{
	"type": "object",
	"required": ["domain", "message"],
	"properties": {
		"domain": {
			"type": "object",
			"required": ["chainId", "verifyingContract"],
			"properties": {
				"chainId": ` + scalar + `,
				"verifyingContract": {"type": "string"}
			}
		},
		"message": {
			"type": "object",
			"required": ["to", "value", "data", "operation", "safeTxGas", "baseGas", "gasPrice", "gasToken", "refundReceiver", "nonce"],
			"properties": {
				"to": {"type": "string"},
				"value": ` + scalar + `,
				"data": {"type": "string"},
				"operation": ` + scalar + `,
				"safeTxGas": ` + scalar + `,
				"baseGas": ` + scalar + `,
				"gasPrice": ` + scalar + `,
				"gasToken": {"type": "string"},
				"refundReceiver": {"type": "string"},
				"nonce": ` + scalar + `
			}
		}
	}
}`

// ValidationResult is the outcome of validating an envelope against a schema
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ParseTypedData reads a typed-data envelope from an eth_signTypedData_v4
// parameter, which wallets accept as a JSON string or as an object.
func ParseTypedData(param interface{}) (*TypedDataEnvelope, error) {
	var raw []byte
	switch v := param.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	case nil:
		return nil, fmt.Errorf("typed data parameter is missing")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("typed data parameter is not JSON: %w", err)
		}
		raw = b
	}

	if result := validate(envelopeSchema, raw); !result.Valid {
		return nil, fmt.Errorf("invalid typed data: %s", strings.Join(result.Errors, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var envelope TypedDataEnvelope
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode typed data: %w", err)
	}
	envelope.Raw = append(json.RawMessage(nil), raw...)
	return &envelope, nil
}

// ValidatePermit checks an envelope carries every field a permit record needs
func ValidatePermit(envelope *TypedDataEnvelope) ValidationResult {
	return validate(permitSchema, envelope.Raw)
}

// ValidateSafeTx checks an envelope carries every field a Safe record needs
func ValidateSafeTx(envelope *TypedDataEnvelope) ValidationResult {
	return validate(safeTxSchema, envelope.Raw)
}

func validate(schema string, document []byte) ValidationResult {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return ValidationResult{Valid: false, Errors: errors}
}

// field renders a scalar member of an object as text without re-encoding
// numbers
func field(obj map[string]interface{}, name string) (string, error) {
	v, ok := obj[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing field %q", name)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case bool:
		return strconv.FormatBool(s), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("field %q is %T, not a scalar", name, v)
	}
}
