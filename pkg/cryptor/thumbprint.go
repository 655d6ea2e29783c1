package cryptor

import (
	"crypto/hmac"
	"crypto/sha256"
)

// ThumbprintSize is the length of the thumbprint tag.
const ThumbprintSize = sha256.Size

// Thumbprint computes the proof-of-matching-nonces tag carried in device
// authentication exchanges: HMAC-SHA256 over certBytes, keyed on
// SHA-256(senderNonce || receiverNonce). Verifying a peer's thumbprint means
// calling this with the nonces in the same order the peer used to produce
// it: (peer's own nonce, our nonce). A reply going the other direction uses
// (our nonce, peer's nonce) — the "reversed" ordering relative to the
// request it answers.
func Thumbprint(senderNonce, receiverNonce, certBytes []byte) []byte {
	seed := sha256.New()
	seed.Write(senderNonce)
	seed.Write(receiverNonce)
	key := seed.Sum(nil)

	mac := hmac.New(sha256.New, key)
	mac.Write(certBytes)
	return mac.Sum(nil)
}

// VerifyThumbprint reports whether tag matches Thumbprint(senderNonce, receiverNonce, certBytes).
func VerifyThumbprint(senderNonce, receiverNonce, certBytes, tag []byte) bool {
	return hmac.Equal(Thumbprint(senderNonce, receiverNonce, certBytes), tag)
}
