package codec

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	lucid "github.com/lucid-sec/lucid/go"
)

// Key is the subset of a JSON Web Key describing a symmetric AES-CTR key
type Key struct {
	Kty    string   `json:"kty"`
	K      string   `json:"k"`
	Alg    string   `json:"alg,omitempty"`
	Ext    bool     `json:"ext,omitempty"`
	KeyOps []string `json:"key_ops,omitempty"`
}

// GenerateKey creates a fresh AES-256 key record
func GenerateKey() (*Key, error) {
	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Key{
		Kty:    "oct",
		K:      base64.RawURLEncoding.EncodeToString(material),
		Alg:    "A256CTR",
		Ext:    true,
		KeyOps: []string{"encrypt", "decrypt"},
	}, nil
}

// Material decodes the raw key bytes. The k member is base64url per JWK;
// padded and standard alphabets are accepted too.
func (k *Key) Material() ([]byte, error) {
	if k == nil || k.K == "" {
		return nil, lucid.NewEncryptionError("key material missing", nil)
	}
	if k.Kty != "" && k.Kty != "oct" {
		return nil, lucid.NewEncryptionError(fmt.Sprintf("unsupported key type %q", k.Kty), nil)
	}

	raw := strings.TrimRight(k.K, "=")
	material, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		material, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, lucid.NewEncryptionError("key material is not base64", err)
	}

	switch len(material) {
	case 16, 24, 32:
		return material, nil
	default:
		return nil, lucid.NewEncryptionError(fmt.Sprintf("invalid key length %d", len(material)), nil)
	}
}
