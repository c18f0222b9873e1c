// Package pq implements the post-quantum primitive layer: ML-KEM-768 key
// encapsulation, ML-DSA (Dilithium) signatures, BLAKE3 hashing, and
// fingerprint derivation. It is the sole place in the module that
// imports the ML-KEM, ML-DSA and BLAKE3 implementations; transport and
// onion import the symmetric primitives (X25519, ChaCha20-Poly1305,
// HKDF, SHA-256) directly.
package pq

import (
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/zeebo/blake3"
)

// Sizes in bytes for the wire-visible KEM and signature material, as
// specified for ML-KEM-768 / ML-DSA-65-equivalent parameter sets.
const (
	KEMPublicKeySize  = kyber768.PublicKeySize
	KEMPrivateKeySize = kyber768.PrivateKeySize
	KEMCiphertextSize = kyber768.CiphertextSize
	KEMSharedKeySize  = kyber768.SharedKeySize

	DSAPublicKeySize  = mode3.PublicKeySize
	DSAPrivateKeySize = mode3.PrivateKeySize
	DSASignatureSize  = mode3.SignatureSize

	// HashSize is the BLAKE3 digest size used throughout the module.
	HashSize = 32
)

// Crypto failures never distinguish why
// decapsulation produced the output it did.
var (
	ErrInvalidKey        = errors.New("pq: invalid key")
	ErrInvalidCiphertext = errors.New("pq: invalid ciphertext")
	ErrInvalidSignature  = errors.New("pq: invalid signature")
	ErrRngFailure        = errors.New("pq: rng failure")
)

// KEMPublicKey, KEMPrivateKey, DSAPublicKey, DSAPrivateKey and Signature
// are all opaque, wire-encoded byte strings. Components persist and
// transmit these directly; only this package unmarshals them into the
// underlying circl types.
type (
	KEMPublicKey  []byte
	KEMPrivateKey []byte
	DSAPublicKey  []byte
	DSAPrivateKey []byte
	Signature     []byte
)

func kemScheme() kem.Scheme { return kyber768.Scheme() }

// KEMKeyGen generates a fresh ML-KEM-768 keypair.
func KEMKeyGen() (KEMPublicKey, KEMPrivateKey, error) {
	pk, sk, err := kemScheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRngFailure, err)
	}
	pkb, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	skb, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pkb, skb, nil
}

// KEMEncapsulate produces a ciphertext and shared secret bound to pk.
func KEMEncapsulate(pk KEMPublicKey) (ciphertext []byte, sharedSecret []byte, err error) {
	pub, err := kemScheme().UnmarshalBinaryPublicKey(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	ct, ss, err := kemScheme().Encapsulate(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRngFailure, err)
	}
	return ct, ss, nil
}

// KEMDecapsulate recovers the shared secret for ciphertext under sk.
//
// Kyber's decapsulation implements the Fujisaki-Okamoto implicit
// rejection transform: an invalid or malformed ciphertext never errors,
// it yields a shared secret that is a deterministic pseudo-random
// function of sk and ciphertext, indistinguishable from a genuine one
// to anyone without sk. When ciphertext has the wrong length we fall
// back to the same style of derivation ourselves rather than returning
// early, so callers can never observe a length check via timing or
// control flow.
func KEMDecapsulate(sk KEMPrivateKey, ciphertext []byte) ([]byte, error) {
	priv, err := kemScheme().UnmarshalBinaryPrivateKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(ciphertext) != kemScheme().CiphertextSize() {
		return pseudoRandomSharedSecret(sk, ciphertext), nil
	}
	ss, err := kemScheme().Decapsulate(priv, ciphertext)
	if err != nil {
		return pseudoRandomSharedSecret(sk, ciphertext), nil
	}
	return ss, nil
}

func pseudoRandomSharedSecret(sk []byte, ciphertext []byte) []byte {
	key := Hash(sk)
	out := KeyedHash(key, ciphertext)
	return out[:]
}

// DSAKeyGen generates a fresh ML-DSA (Dilithium mode3) keypair.
func DSAKeyGen() (DSAPublicKey, DSAPrivateKey, error) {
	pk, sk, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRngFailure, err)
	}
	return DSAPublicKey(pk.Bytes()), DSAPrivateKey(sk.Bytes()), nil
}

// DSASign signs msg with sk.
func DSASign(sk DSAPrivateKey, msg []byte) (Signature, error) {
	var priv mode3.PrivateKey
	if err := priv.UnmarshalBinary(sk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	sig, err := priv.Sign(rand.Reader, msg, crypto.Hash(0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRngFailure, err)
	}
	return sig, nil
}

// DSAVerify reports whether sig is a valid ML-DSA signature over msg
// under pk. It never returns an error: a malformed key or signature is
// simply not valid, matching the spec's no-branch-on-secret-material
// requirement.
func DSAVerify(pk DSAPublicKey, msg []byte, sig Signature) bool {
	var pub mode3.PublicKey
	if err := pub.UnmarshalBinary(pk); err != nil {
		return false
	}
	return mode3.Verify(&pub, msg, sig)
}

// Hash returns the BLAKE3-256 digest of data.
func Hash(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}

// KeyedHash returns the BLAKE3 digest of data keyed by key, for
// HMAC-like authentication over a shared secret.
func KeyedHash(key [HashSize]byte, data []byte) [HashSize]byte {
	h, _ := blake3.NewKeyed(key[:])
	h.Write(data)
	var out [HashSize]byte
	h.Sum(out[:0])
	return out
}

// Fingerprint derives a non-reversible identity from pubkey, a locator
// string (address or domain), and a set of capability tags. It is the
// sole identity primitive used by the anonymous router.
func Fingerprint(pubkey []byte, locator string, capabilities []string) [HashSize]byte {
	h := blake3.New()
	h.Write([]byte("qudag-fingerprint-v1"))
	h.Write(pubkey)
	h.Write([]byte(locator))
	for _, c := range capabilities {
		h.Write([]byte{0})
		h.Write([]byte(c))
	}
	var out [HashSize]byte
	h.Sum(out[:0])
	return out
}
