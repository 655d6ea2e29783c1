// Package cryptor implements the session-scoped encryption envelope: ECDH
// key agreement over NIST P-256, HKDF-SHA256 key derivation, AES-128-CBC
// encryption, and an HMAC-SHA256 integrity tag over the framed header and
// ciphertext.
package cryptor

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
)

func curve() ecdh.Curve { return ecdh.P256() }

// KeyPair is a local ECDH key and the nonce exchanged alongside it during
// ConnectRequest/ConnectResponse.
type KeyPair struct {
	Private *ecdh.PrivateKey
	Nonce   []byte // random per-session nonce
}

// NonceSize is the length of the random nonce exchanged during ConnectRequest/Response.
const NonceSize = 16

// GenerateKeyPair creates a fresh P-256 ECDH private key and a random nonce.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptor: generate ECDH key: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptor: generate nonce: %w", err)
	}
	return &KeyPair{Private: priv, Nonce: nonce}, nil
}

// PublicPoint returns the uncompressed X, Y coordinates (32 bytes each, for
// P-256) of the local public key, as carried in ConnectRequest/Response.
func (k *KeyPair) PublicPoint() (x, y []byte) {
	// ecdh.PublicKey.Bytes() returns the uncompressed SEC1 encoding:
	// 0x04 || X || Y, each 32 bytes wide for P-256.
	raw := k.Private.PublicKey().Bytes()
	coordLen := (len(raw) - 1) / 2
	x = append([]byte(nil), raw[1:1+coordLen]...)
	y = append([]byte(nil), raw[1+coordLen:]...)
	return x, y
}

// ErrInvalidPoint is returned when a peer's public point does not lie on
// the curve or is malformed.
var ErrInvalidPoint = errors.New("cryptor: invalid remote public point")

// SharedSecret performs ECDH between the local private key and a remote
// public point given as raw X, Y coordinates.
func (k *KeyPair) SharedSecret(remoteX, remoteY []byte) ([]byte, error) {
	c := curve()
	raw := make([]byte, 0, 1+len(remoteX)+len(remoteY))
	raw = append(raw, 0x04)
	raw = append(raw, remoteX...)
	raw = append(raw, remoteY...)

	pub, err := c.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	secret, err := k.Private.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return secret, nil
}
