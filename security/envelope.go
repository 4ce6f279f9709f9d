package security

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	envelopePrefix    = "signatures.code.v1:"
	envelopeAlgorithm = "aes-256-gcm"
)

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EnvelopeMetadata describes which key sealed a stored value.
type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

// IsSealed reports whether value carries the sealed code prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, envelopePrefix)
}

func ParseEnvelopeMetadata(sealed string) (EnvelopeMetadata, error) {
	env, err := decodeEnvelope(sealed)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{KeyID: env.KeyID, Version: env.Version, Algorithm: env.Algorithm}, nil
}

func encodeEnvelope(env envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("security: encode envelope: %w", err)
	}
	return envelopePrefix + string(data), nil
}

func decodeEnvelope(sealed string) (envelope, error) {
	if !IsSealed(sealed) {
		return envelope{}, ErrNotSealed
	}
	parsed := envelope{}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(sealed, envelopePrefix)), &parsed); err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	parsed.KeyID = strings.TrimSpace(parsed.KeyID)
	parsed.Algorithm = strings.ToLower(strings.TrimSpace(parsed.Algorithm))
	if parsed.Algorithm != envelopeAlgorithm {
		return envelope{}, fmt.Errorf("security: unsupported envelope algorithm %q", parsed.Algorithm)
	}
	if parsed.Ciphertext == "" || parsed.Nonce == "" {
		return envelope{}, fmt.Errorf("security: envelope is incomplete")
	}
	return parsed, nil
}

func decodePayload(field, value string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("security: decode %s: %w", field, err)
	}
	return decoded, nil
}

// additionalData binds the key reference into the ciphertext so an envelope
// cannot be relabelled to another key.
func additionalData(keyID string, version int) []byte {
	return []byte(keyID + ":" + strconv.Itoa(version))
}
