package cryptor

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/junbin-yang/nearshare-go/pkg/wire"
)

const (
	aesKeyLen  = 16 // AES-128
	ivLen      = 16 // AES block size
	hmacKeyLen = 32 // HMAC-SHA256 key
	HMACSize   = sha256.Size
)

// ErrIntegrity is returned when the HMAC over an inbound frame does not
// verify.
var ErrIntegrity = errors.New("cryptor: integrity check failed")

// hkdfInfo is the domain-separation label for key derivation. A single HKDF
// read is sized to cover all three derived secrets (AES key, IV, HMAC key).
const hkdfInfo = "nearshare_cryptor_v1"

// Cryptor is the session-scoped encrypt/decrypt envelope: AES-128-CBC with a
// key and IV both derived from the ECDH shared secret, plus an HMAC-SHA256
// tag over the header and ciphertext.
type Cryptor struct {
	aesKey  []byte
	iv      []byte
	hmacKey []byte
}

// New derives a Cryptor from a 32-byte ECDH shared secret via HKDF-SHA256.
func New(sharedSecret []byte) (*Cryptor, error) {
	if len(sharedSecret) == 0 {
		return nil, errors.New("cryptor: empty shared secret")
	}
	reader := hkdf.New(sha256.New, sharedSecret, nil, []byte(hkdfInfo))
	material := make([]byte, aesKeyLen+ivLen+hmacKeyLen)
	if _, err := io.ReadFull(reader, material); err != nil {
		return nil, fmt.Errorf("cryptor: derive keys: %w", err)
	}
	return &Cryptor{
		aesKey:  material[:aesKeyLen],
		iv:      material[aesKeyLen : aesKeyLen+ivLen],
		hmacKey: material[aesKeyLen+ivLen:],
	}, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cryptor: invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, errors.New("cryptor: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("cryptor: invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}

func (c *Cryptor) encryptBody(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func (c *Cryptor) decryptBody(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cryptor: ciphertext length %d not a multiple of block size", len(ciphertext))
	}
	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func (c *Cryptor) mac(headerBytes, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(headerBytes)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// Read decrypts an inbound frame body. The caller is expected to have
// already determined the frame is encrypted, since that determination is a
// property of the session's current state rather than a per-header bit.
//
// body is the raw frame body: ciphertext || HMAC tag. header must be the
// same header the frame was parsed with, with PayloadSize matching len(body).
func (c *Cryptor) Read(header *wire.CommonHeader, body []byte) (io.Reader, error) {
	if len(body) < HMACSize {
		return nil, fmt.Errorf("%w: body too short for HMAC tag", ErrIntegrity)
	}
	ciphertext := body[:len(body)-HMACSize]
	tag := body[len(body)-HMACSize:]

	headerBytes := wire.SerializeCommonHeader(header)
	expected := c.mac(headerBytes, ciphertext)
	if !hmac.Equal(expected, tag) {
		return nil, ErrIntegrity
	}

	plaintext, err := c.decryptBody(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return bytes.NewReader(plaintext), nil
}

// BodyFunc serializes a message body into w.
type BodyFunc func(w io.Writer) error

// EncryptMessage serializes bodyFn into a scratch buffer, encrypts it, and
// returns the wire body (ciphertext || HMAC tag) along with the header
// updated to carry the correct PayloadSize for that wire body. The caller
// writes header and the returned bytes as the frame (pkg/wire.WriteFrame).
func (c *Cryptor) EncryptMessage(header *wire.CommonHeader, bodyFn BodyFunc) ([]byte, error) {
	var plaintext bytes.Buffer
	if err := bodyFn(&plaintext); err != nil {
		return nil, err
	}

	ciphertext, err := c.encryptBody(plaintext.Bytes())
	if err != nil {
		return nil, err
	}

	// The HMAC is computed over the header as it will be sent, i.e. with
	// PayloadSize already reflecting the full wire body (ciphertext+tag).
	header.PayloadSize = uint32(len(ciphertext) + HMACSize)
	headerBytes := wire.SerializeCommonHeader(header)
	tag := c.mac(headerBytes, ciphertext)

	out := make([]byte, 0, len(ciphertext)+len(tag))
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}
