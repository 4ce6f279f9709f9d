package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goliatone/go-signatures/core"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrNotSealed  = errors.New("security: value is not a sealed code")
	ErrUnknownKey = errors.New("security: sealing key is not known")
	ErrKeyRetired = errors.New("security: sealing key is outside its rotation window")
)

const keyDerivationInfo = "signatures.code.v1"

type Option func(*sealerConfig)

type sealerConfig struct {
	keyID          string
	version        int
	previous       []previousKey
	clock          core.Clock
	allowPlaintext bool
}

type previousKey struct {
	id       string
	version  int
	material []byte
	window   KeyRotationWindow
}

type sealingKey struct {
	id      string
	version int
	aead    cipher.AEAD
	window  KeyRotationWindow
}

// CodeSealer seals challenge codes with AES-GCM under an application key. Codes
// sealed by earlier keys stay readable while their rotation window allows it.
type CodeSealer struct {
	active         sealingKey
	keys           map[string]sealingKey
	clock          core.Clock
	allowPlaintext bool
}

func WithKeyID(id string) Option {
	return func(cfg *sealerConfig) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			cfg.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(cfg *sealerConfig) {
		if version > 0 {
			cfg.version = version
		}
	}
}

// WithPreviousKey registers a retired key that may only open codes.
func WithPreviousKey(id string, version int, material []byte, window KeyRotationWindow) Option {
	return func(cfg *sealerConfig) {
		cfg.previous = append(cfg.previous, previousKey{
			id:       strings.TrimSpace(id),
			version:  version,
			material: bytes.TrimSpace(material),
			window:   window,
		})
	}
}

func WithClock(clock core.Clock) Option {
	return func(cfg *sealerConfig) {
		cfg.clock = clock
	}
}

// WithPlaintextFallback lets Open return values written before sealing was
// enabled.
func WithPlaintextFallback() Option {
	return func(cfg *sealerConfig) {
		cfg.allowPlaintext = true
	}
}

func NewCodeSealer(keyMaterial []byte, opts ...Option) (*CodeSealer, error) {
	cfg := sealerConfig{keyID: "app-key", version: 1}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	active, err := newSealingKey(cfg.keyID, cfg.version, keyMaterial, KeyRotationWindow{})
	if err != nil {
		return nil, err
	}
	sealer := &CodeSealer{
		active:         active,
		keys:           map[string]sealingKey{keyRef(active.id, active.version): active},
		clock:          cfg.clock,
		allowPlaintext: cfg.allowPlaintext,
	}
	for _, prev := range cfg.previous {
		key, err := newSealingKey(prev.id, prev.version, prev.material, prev.window)
		if err != nil {
			return nil, err
		}
		ref := keyRef(key.id, key.version)
		if _, exists := sealer.keys[ref]; exists {
			return nil, fmt.Errorf("security: duplicate sealing key %s", ref)
		}
		sealer.keys[ref] = key
	}
	return sealer, nil
}

func NewCodeSealerFromString(key string, opts ...Option) (*CodeSealer, error) {
	return NewCodeSealer([]byte(key), opts...)
}

func (s *CodeSealer) Seal(_ context.Context, code string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("security: code sealer is nil")
	}
	if code == "" {
		return "", nil
	}

	nonce := make([]byte, s.active.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := s.active.aead.Seal(nil, nonce, []byte(code), additionalData(s.active.id, s.active.version))
	return encodeEnvelope(envelope{
		KeyID:      s.active.id,
		Version:    s.active.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
}

func (s *CodeSealer) Open(_ context.Context, sealed string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("security: code sealer is nil")
	}
	if sealed == "" {
		return "", nil
	}
	if !IsSealed(sealed) {
		if s.allowPlaintext {
			return sealed, nil
		}
		return "", ErrNotSealed
	}

	env, err := decodeEnvelope(sealed)
	if err != nil {
		return "", err
	}
	key, ok := s.keys[keyRef(env.KeyID, env.Version)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, keyRef(env.KeyID, env.Version))
	}
	if !key.window.Allows(s.clock.Now()) {
		return "", fmt.Errorf("%w: %s", ErrKeyRetired, keyRef(key.id, key.version))
	}

	nonce, err := decodePayload("nonce", env.Nonce)
	if err != nil {
		return "", err
	}
	ciphertext, err := decodePayload("ciphertext", env.Ciphertext)
	if err != nil {
		return "", err
	}
	plaintext, err := key.aead.Open(nil, nonce, ciphertext, additionalData(key.id, key.version))
	if err != nil {
		return "", fmt.Errorf("security: open sealed code: %w", err)
	}
	return string(plaintext), nil
}

func (s *CodeSealer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.active.id
}

func (s *CodeSealer) Version() int {
	if s == nil {
		return 0
	}
	return s.active.version
}

func newSealingKey(id string, version int, material []byte, window KeyRotationWindow) (sealingKey, error) {
	if id == "" {
		return sealingKey{}, fmt.Errorf("security: key id is required")
	}
	if version <= 0 {
		return sealingKey{}, fmt.Errorf("security: key %s needs a positive version", id)
	}
	key, err := deriveKey(bytes.TrimSpace(material), id, version)
	if err != nil {
		return sealingKey{}, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return sealingKey{}, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return sealingKey{}, fmt.Errorf("security: create gcm: %w", err)
	}
	return sealingKey{id: id, version: version, aead: aead, window: window}, nil
}

// deriveKey stretches operator supplied material into a 32 byte AES key that
// is distinct per key id and version.
func deriveKey(material []byte, id string, version int) ([]byte, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	salt := []byte(keyRef(id, version))
	reader := hkdf.New(sha256.New, material, salt, []byte(keyDerivationInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}
	return key, nil
}

func keyRef(id string, version int) string {
	return id + "@" + strconv.Itoa(version)
}

var _ core.CodeSealer = (*CodeSealer)(nil)
