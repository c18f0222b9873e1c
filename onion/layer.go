// Package onion implements layered ML-KEM-encrypted envelopes, mix
// batching, dummy traffic, and optional protocol obfuscation. Each
// layer derives its AEAD key from a per-hop ML-KEM encapsulation
// (crypto/pq) through HKDF, and carries a length-prefixed inner header
// naming the next hop.
package onion

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"

	"github.com/qudag/qudag/crypto/pq"
)

const (
	nonceSize = chacha20poly1305.NonceSize
	tagSize   = 16
)

var (
	// ErrMACFailed means a hop could not authenticate a layer;
	// such a frame is dropped silently, no error propagates upstream.
	ErrMACFailed = errors.New("onion: layer authentication failed")

	ErrTooManyHops  = errors.New("onion: hop chain exceeds maximum depth")
	ErrEmptyHops    = errors.New("onion: hop chain must have at least one hop")
	ErrPayloadTooBig = errors.New("onion: payload exceeds largest size tier")
)

// MaxHops bounds the onion chain depth; the size ladder and per-layer
// overhead otherwise make arbitrarily long chains expand quadratically.
const MaxHops = 8

// header is the inner per-layer frame: a next-hop marker plus the
// wrapped body, length-prefixed so the recipient knows where the body
// ends inside the padded tier.
type header struct {
	terminal bool
	nextHop  string
	body     []byte
}

func (h *header) encode() []byte {
	terminalByte := byte(0)
	if h.terminal {
		terminalByte = 1
	}
	next := []byte(h.nextHop)
	out := make([]byte, 0, 1+4+len(next)+4+len(h.body))
	out = append(out, terminalByte)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(next)))
	out = append(out, lenBuf...)
	out = append(out, next...)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(h.body)))
	out = append(out, lenBuf...)
	out = append(out, h.body...)
	return out
}

func decodeHeader(b []byte) (*header, error) {
	if len(b) < 1+4 {
		return nil, fmt.Errorf("onion: %w: header truncated", ErrMACFailed)
	}
	h := &header{terminal: b[0] == 1}
	off := 1
	nextLen := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if off+nextLen+4 > len(b) {
		return nil, fmt.Errorf("onion: %w: header truncated", ErrMACFailed)
	}
	h.nextHop = string(b[off : off+nextLen])
	off += nextLen
	bodyLen := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if off+bodyLen > len(b) {
		return nil, fmt.Errorf("onion: %w: header truncated", ErrMACFailed)
	}
	h.body = b[off : off+bodyLen]
	return h, nil
}

// Envelope is one fully layered onion, ready to transmit. Layers holds
// only the outermost layer: a KEM ciphertext plus an AEAD-sealed body
// whose plaintext nests each later hop's layer in turn.
type Envelope struct {
	Layers [][]byte
}

// deriveLayerKey implements KDF(ss, "onion-v1", hopIndex).
func deriveLayerKey(sharedSecret []byte, hopIndex int) ([]byte, error) {
	salt := make([]byte, 4)
	binary.LittleEndian.PutUint32(salt, uint32(hopIndex))
	reader := hkdf.New(sha256.New, sharedSecret, salt, []byte("onion-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ct...), nil
}

func open(key, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+tagSize {
		return nil, ErrMACFailed
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w", ErrMACFailed)
	}
	return pt, nil
}

// Build constructs a layered envelope carrying payload through hopKeys
// in order, terminating at the last key. nextHops[i] is the address the
// hop at hopKeys[i] should forward to; it is ignored for the last hop.
// Every layer's plaintext is padded to a ladder tier before sealing, so
// same-tier frames are indistinguishable in length.
func Build(payload []byte, hopKeys []pq.KEMPublicKey, nextHops []string) (*Envelope, error) {
	return BuildWithLadder(payload, hopKeys, nextHops, DefaultSizeLadder)
}

// BuildWithLadder is Build parameterized on the size ladder, used by
// tests and callers that configure a non-default ladder.
func BuildWithLadder(payload []byte, hopKeys []pq.KEMPublicKey, nextHops []string, ladder []int) (*Envelope, error) {
	n := len(hopKeys)
	if n == 0 {
		return nil, ErrEmptyHops
	}
	if n > MaxHops {
		return nil, ErrTooManyHops
	}
	if len(nextHops) != n-1 {
		return nil, fmt.Errorf("onion: need %d next-hop addresses for %d hops, got %d", n-1, n, len(nextHops))
	}

	body := payload
	for i := n - 1; i >= 0; i-- {
		ct, ss, err := pq.KEMEncapsulate(hopKeys[i])
		if err != nil {
			return nil, err
		}
		key, err := deriveLayerKey(ss, i)
		if err != nil {
			return nil, err
		}

		h := &header{terminal: i == n-1, body: body}
		if i < n-1 {
			h.nextHop = nextHops[i]
		}
		padded, err := PadToTier(h.encode(), ladder)
		if err != nil {
			return nil, err
		}
		sealedBody, err := seal(key, padded)
		if err != nil {
			return nil, err
		}

		layer := make([]byte, 0, 4+len(ct)+len(sealedBody))
		var ctLen [4]byte
		binary.LittleEndian.PutUint32(ctLen[:], uint32(len(ct)))
		layer = append(layer, ctLen[:]...)
		layer = append(layer, ct...)
		layer = append(layer, sealedBody...)
		body = layer
	}

	return &Envelope{Layers: [][]byte{body}}, nil
}

// Peeled is the result of processing one hop.
type Peeled struct {
	Terminal bool
	NextHop  string
	Inner    []byte // forward verbatim to NextHop when !Terminal
	Payload  []byte // valid only when Terminal
}

// ProcessHop decapsulates and opens one layer of wire using sk, which
// must belong to the hop currently processing it. A MAC failure or
// undecapsulatable ciphertext returns ErrMACFailed; callers must drop
// the frame silently rather than propagate the error upstream.
func ProcessHop(wire []byte, sk pq.KEMPrivateKey, hopIndex int) (*Peeled, error) {
	if len(wire) < 4 {
		return nil, ErrMACFailed
	}
	ctLen := int(binary.LittleEndian.Uint32(wire[:4]))
	if 4+ctLen > len(wire) {
		return nil, ErrMACFailed
	}
	ct := wire[4 : 4+ctLen]
	sealedBody := wire[4+ctLen:]

	ss, err := pq.KEMDecapsulate(sk, ct)
	if err != nil {
		return nil, fmt.Errorf("%w", ErrMACFailed)
	}
	key, err := deriveLayerKey(ss, hopIndex)
	if err != nil {
		return nil, err
	}
	plaintext, err := open(key, sealedBody)
	if err != nil {
		return nil, err
	}
	h, err := decodeHeader(plaintext)
	if err != nil {
		return nil, err
	}
	if h.terminal {
		return &Peeled{Terminal: true, Payload: h.body}, nil
	}
	return &Peeled{Terminal: false, NextHop: h.nextHop, Inner: h.body}, nil
}
