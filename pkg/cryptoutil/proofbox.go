package cryptoutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrInvalidKey indicates the encryption key id is unknown or the key
	// material is malformed.
	ErrInvalidKey = errors.New("invalid encryption key")
	// ErrMalformedPayload indicates the ciphertext cannot be decoded or
	// fails authentication.
	ErrMalformedPayload = errors.New("malformed encrypted payload")
)

// ProofBox encrypts and decrypts proof payloads with keys looked up by id.
// Proofs stay encrypted at rest; only the validator pipeline opens them.
type ProofBox struct {
	keys map[string][32]byte
}

// NewProofBox builds a ProofBox from a keyID -> 64-char-hex map.
func NewProofBox(hexKeys map[string]string) (*ProofBox, error) {
	keys := make(map[string][32]byte, len(hexKeys))
	for id, h := range hexKeys {
		raw, err := hex.DecodeString(h)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("%w: key %q must be 32 bytes hex", ErrInvalidKey, id)
		}
		var k [32]byte
		copy(k[:], raw)
		keys[id] = k
	}
	return &ProofBox{keys: keys}, nil
}

// Encrypt seals plaintext under the named key. The output is
// base64(nonce || box).
func (b *ProofBox) Encrypt(keyID string, plaintext []byte) (string, error) {
	key, ok := b.keys[keyID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, keyID)
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt.
func (b *ProofBox) Decrypt(keyID, payload string) ([]byte, error) {
	key, ok := b.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, keyID)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(raw) < 25 {
		return nil, ErrMalformedPayload
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &key)
	if !ok {
		return nil, ErrMalformedPayload
	}
	return plain, nil
}
