// Package codec serializes normalized transactions to CBOR and encrypts them
// with AES-CTR for transport to the relay server.
//
// An envelope is base64(iv || ciphertext) where iv is a fresh 16-byte
// counter block per encryption.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	cbor "github.com/ugorji/go/codec"

	lucid "github.com/lucid-sec/lucid/go"
)

// IVSize is the width of the counter block prefix
const IVSize = aes.BlockSize

var cborHandle = &cbor.CborHandle{}

// Marshal serializes a transaction to CBOR, preserving struct field order
func Marshal(tx lucid.NormalizedTransaction) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	var out []byte
	if err := cbor.NewEncoderBytes(&out, cborHandle).Encode(tx); err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return out, nil
}

// Unmarshal decodes CBOR bytes into the variant named by requestType
func Unmarshal(data []byte, requestType lucid.RequestType) (lucid.NormalizedTransaction, error) {
	switch requestType {
	case lucid.RequestTypeEoaTransaction:
		var tx lucid.EoaTransaction
		if err := decode(data, &tx); err != nil {
			return nil, err
		}
		return tx, nil
	case lucid.RequestTypeEIP712:
		var tx lucid.SafeEip712Transaction
		if err := decode(data, &tx); err != nil {
			return nil, err
		}
		return tx, nil
	case lucid.RequestTypePermit:
		var tx lucid.PermitTransaction
		if err := decode(data, &tx); err != nil {
			return nil, err
		}
		return tx, nil
	default:
		return nil, fmt.Errorf("unknown request type %q", requestType)
	}
}

func decode(data []byte, dst interface{}) error {
	if err := cbor.NewDecoderBytes(data, cborHandle).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode transaction: %w", err)
	}
	return nil
}

// Encode serializes and encrypts a transaction. A malformed key aborts
// before anything is produced.
func Encode(tx lucid.NormalizedTransaction, key *Key) (string, error) {
	material, err := key.Material()
	if err != nil {
		return "", err
	}

	plaintext, err := Marshal(tx)
	if err != nil {
		return "", lucid.NewEncryptionError("serialization failed", err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", lucid.NewEncryptionError("failed to generate IV", err)
	}

	ciphertext, err := xorCTR(material, iv, plaintext)
	if err != nil {
		return "", lucid.NewEncryptionError("encryption failed", err)
	}

	envelope := make([]byte, 0, len(iv)+len(ciphertext))
	envelope = append(envelope, iv...)
	envelope = append(envelope, ciphertext...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decode reverses Encode for the given request type
func Decode(envelope string, key *Key, requestType lucid.RequestType) (lucid.NormalizedTransaction, error) {
	material, err := key.Material()
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("envelope is not base64: %w", err)
	}
	if len(raw) < IVSize {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(raw))
	}

	plaintext, err := xorCTR(material, raw[:IVSize], raw[IVSize:])
	if err != nil {
		return nil, err
	}
	return Unmarshal(plaintext, requestType)
}

// SplitEnvelope returns the IV and ciphertext of an encoded envelope
func SplitEnvelope(envelope string) (iv, ciphertext []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope is not base64: %w", err)
	}
	if len(raw) < IVSize {
		return nil, nil, fmt.Errorf("envelope too short: %d bytes", len(raw))
	}
	return raw[:IVSize], raw[IVSize:], nil
}

// xorCTR applies AES-CTR. Encryption and decryption are the same operation.
func xorCTR(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}
