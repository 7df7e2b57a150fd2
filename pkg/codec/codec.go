// Package codec implements the encrypted envelope carried between the relay
// and its clients: AES-256-GCM with a 16-byte nonce, laid out as
// nonce || tag || ciphertext and transmitted as one base64 text line per
// message. The codec knows nothing about usernames, connections, or protocol
// state; it is a pure transform plus a fixed key.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the size of AES-256 keys
	KeySize = 32

	// NonceSize is the size of envelope nonces
	NonceSize = 16

	// TagSize is the size of authentication tags
	TagSize = 16

	// EnvelopeOverhead is the fixed header length every envelope carries
	EnvelopeOverhead = NonceSize + TagSize
)

var (
	ErrMalformed      = errors.New("envelope shorter than fixed header")
	ErrTamperDetected = errors.New("envelope authentication failed")
)

// Codec transforms chat payloads to and from their wire line form.
type Codec interface {
	// Encode turns a plaintext payload into one transport-safe line
	// (without the trailing newline).
	Encode(plaintext []byte) (string, error)
	// Decode reverses Encode. Returns ErrMalformed for lines that cannot
	// carry a complete envelope and ErrTamperDetected when authentication
	// fails.
	Decode(line string) ([]byte, error)
}

// AEADCodec seals payloads with AES-256-GCM under a key derived from a
// shared passphrase. The passphrase is hashed with SHA-256 so any length
// works and both ends derive the same 32-byte key.
type AEADCodec struct {
	aead cipher.AEAD
}

// NewAEADCodec derives the AES-256 key from passphrase and prepares the
// GCM instance with the envelope's 16-byte nonce size.
func NewAEADCodec(passphrase string) (*AEADCodec, error) {
	key := sha256.Sum256([]byte(passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AEADCodec{aead: aead}, nil
}

// Seal encrypts plaintext into an envelope: nonce (16) || tag (16) || ciphertext.
// A fresh random nonce is drawn per call, so sealing the same plaintext twice
// produces different envelopes.
func (c *AEADCodec) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM appends the tag after the ciphertext; the envelope wants it
	// between nonce and ciphertext, so split and reorder.
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	envelope := make([]byte, 0, EnvelopeOverhead+len(ciphertext))
	envelope = append(envelope, nonce...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ciphertext...)
	return envelope, nil
}

// Open decrypts an envelope produced by Seal. The nonce, tag, and ciphertext
// are recovered by fixed-offset slicing.
func (c *AEADCodec) Open(envelope []byte) ([]byte, error) {
	if len(envelope) < EnvelopeOverhead {
		return nil, ErrMalformed
	}

	nonce := envelope[:NonceSize]
	tag := envelope[NonceSize:EnvelopeOverhead]
	ciphertext := envelope[EnvelopeOverhead:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrTamperDetected
	}
	return plaintext, nil
}

// Encode seals plaintext and base64-encodes the envelope for text transport.
func (c *AEADCodec) Encode(plaintext []byte) (string, error) {
	envelope, err := c.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decode base64-decodes a wire line and opens the envelope.
func (c *AEADCodec) Decode(line string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return nil, ErrMalformed
	}
	return c.Open(envelope)
}

// PlainCodec passes payloads through unchanged. Used when confidentiality is
// provided by the transport itself (TLS listener) rather than per payload.
type PlainCodec struct{}

func (PlainCodec) Encode(plaintext []byte) (string, error) {
	return string(plaintext), nil
}

func (PlainCodec) Decode(line string) ([]byte, error) {
	return []byte(line), nil
}
