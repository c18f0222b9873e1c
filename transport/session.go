// Package transport implements the pluggable, post-quantum secured byte
// stream abstraction: establish a connection, bootstrap a symmetric
// AEAD channel via a hybrid X25519 + ML-KEM-768 handshake, then
// exchange length-framed messages. A session stops encrypting
// (ErrKeyRotationNeeded) once its message count or key age crosses
// MaxMessagesPerKey or MaxKeyAge; the package has no rekey operation and
// no byte-count threshold.
package transport

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"crypto/cipher"
	"crypto/sha256"

	"github.com/qudag/qudag/crypto/pq"
)

const (
	// MaxMessagesPerKey and MaxKeyAge bound how long a session key may
	// be used; past either, Encrypt returns ErrKeyRotationNeeded. They
	// mirror qzmq's rotation thresholds.
	MaxMessagesPerKey = 1 << 32
	MaxKeyAge         = 10 * time.Minute

	nonceSize = chacha20poly1305.NonceSize
)

var (
	ErrHandshakeTimeout = errors.New("transport: handshake timed out")
	ErrAuthFailed       = errors.New("transport: AEAD authentication failed")
	ErrKeyRotationNeeded = errors.New("transport: key rotation required")
	ErrInvalidVersion    = errors.New("transport: unsupported protocol version")
)

const protocolVersion = 1

// KeyPair is a hybrid classical + post-quantum identity: an X25519 key
// for the ephemeral ECDH leg and an ML-KEM-768 key for the post-quantum
// encapsulation leg, following qzmq.KeyPair's shape.
type KeyPair struct {
	X25519Private *ecdh.PrivateKey
	X25519Public  *ecdh.PublicKey

	MLKEMPublic  pq.KEMPublicKey
	MLKEMPrivate pq.KEMPrivateKey
}

// GenerateKeyPair creates a fresh hybrid keypair.
func GenerateKeyPair() (*KeyPair, error) {
	curve := ecdh.X25519()
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("transport: x25519 keygen: %w", err)
	}
	kemPub, kemPriv, err := pq.KEMKeyGen()
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		X25519Private: priv,
		X25519Public:  priv.PublicKey(),
		MLKEMPublic:   kemPub,
		MLKEMPrivate:  kemPriv,
	}, nil
}

// Session is a post-quantum bootstrapped symmetric channel over an
// underlying byte stream. isServer selects the role-dependent key
// derivation ordering, mirroring qzmq.Session.
type Session struct {
	mu sync.Mutex

	isServer bool
	local    *KeyPair
	remote   struct {
		x25519 *ecdh.PublicKey
		kem    pq.KEMPublicKey
	}

	sendKey, recvKey [32]byte
	handshakeNonce   [32]byte
	sendNonce        uint64
	recvNonce        uint64
	msgCount         uint64
	keyTime          time.Time

	sendCipher cipher.AEAD
	recvCipher cipher.AEAD
}

// NewSession returns a Session bound to local key material.
func NewSession(local *KeyPair, isServer bool) *Session {
	return &Session{local: local, isServer: isServer}
}

// clientHello / serverHello / clientKey are the three handshake
// messages, encoded with the wire codec via Encode/parse helpers in
// handshake.go.

// Handshake performs the client or server side of the hybrid key
// exchange over rw, deriving sendCipher/recvCipher on success.
func (s *Session) Handshake(rw io.ReadWriter, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		if s.isServer {
			done <- s.serverHandshake(rw)
		} else {
			done <- s.clientHandshake(rw)
		}
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return ErrHandshakeTimeout
	}
}

func (s *Session) clientHandshake(rw io.ReadWriter) error {
	hello := clientHello{Version: protocolVersion, X25519Public: s.local.X25519Public.Bytes(), MLKEMPublic: s.local.MLKEMPublic}
	if err := writeHandshakeMsg(rw, msgClientHello, hello.encode()); err != nil {
		return err
	}

	payload, err := readHandshakeMsg(rw, msgServerHello)
	if err != nil {
		return err
	}
	sh, err := decodeServerHello(payload)
	if err != nil {
		return err
	}
	if sh.Version != protocolVersion {
		return ErrInvalidVersion
	}

	remoteX25519, err := ecdh.X25519().NewPublicKey(sh.X25519Public)
	if err != nil {
		return fmt.Errorf("transport: bad server x25519 key: %w", err)
	}
	s.remote.x25519 = remoteX25519
	s.remote.kem = sh.MLKEMPublic

	ecdhSecret, err := s.local.X25519Private.ECDH(remoteX25519)
	if err != nil {
		return fmt.Errorf("transport: ecdh: %w", err)
	}

	ct, kemSecret, err := pq.KEMEncapsulate(sh.MLKEMPublic)
	if err != nil {
		return err
	}

	if err := writeHandshakeMsg(rw, msgClientKey, (&clientKey{KEMCiphertext: ct}).encode()); err != nil {
		return err
	}

	return s.deriveKeys(ecdhSecret, kemSecret, hello.encode(), sh.raw)
}

func (s *Session) serverHandshake(rw io.ReadWriter) error {
	payload, err := readHandshakeMsg(rw, msgClientHello)
	if err != nil {
		return err
	}
	ch, err := decodeClientHello(payload)
	if err != nil {
		return err
	}
	if ch.Version != protocolVersion {
		return ErrInvalidVersion
	}

	remoteX25519, err := ecdh.X25519().NewPublicKey(ch.X25519Public)
	if err != nil {
		return fmt.Errorf("transport: bad client x25519 key: %w", err)
	}
	s.remote.x25519 = remoteX25519
	s.remote.kem = ch.MLKEMPublic

	sh := serverHello{Version: protocolVersion, X25519Public: s.local.X25519Public.Bytes(), MLKEMPublic: s.local.MLKEMPublic}
	shBytes := sh.encode()
	if err := writeHandshakeMsg(rw, msgServerHello, shBytes); err != nil {
		return err
	}

	ckPayload, err := readHandshakeMsg(rw, msgClientKey)
	if err != nil {
		return err
	}
	ck, err := decodeClientKey(ckPayload)
	if err != nil {
		return err
	}

	ecdhSecret, err := s.local.X25519Private.ECDH(remoteX25519)
	if err != nil {
		return fmt.Errorf("transport: ecdh: %w", err)
	}
	kemSecret, err := pq.KEMDecapsulate(s.local.MLKEMPrivate, ck.KEMCiphertext)
	if err != nil {
		return err
	}

	return s.deriveKeys(ecdhSecret, kemSecret, ch.raw, shBytes)
}

// deriveKeys combines the classical and post-quantum shared secrets
// through HKDF and splits the output into role-ordered send/recv keys,
// mirroring qzmq.deriveKeys but with real combined secret material
// instead of a random placeholder.
func (s *Session) deriveKeys(ecdhSecret, kemSecret []byte, transcriptA, transcriptB []byte) error {
	combined := append(append([]byte{}, ecdhSecret...), kemSecret...)
	salt := append(append([]byte{}, transcriptA...), transcriptB...)
	kdf := hkdf.New(sha256.New, combined, salt, []byte("qudag-transport-v1"))

	var keyA, keyB [32]byte
	if _, err := io.ReadFull(kdf, keyA[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(kdf, keyB[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(kdf, s.handshakeNonce[:]); err != nil {
		return err
	}

	if s.isServer {
		s.recvKey, s.sendKey = keyA, keyB
	} else {
		s.sendKey, s.recvKey = keyA, keyB
	}
	s.keyTime = time.Now()

	sc, err := chacha20poly1305.New(s.sendKey[:])
	if err != nil {
		return err
	}
	rc, err := chacha20poly1305.New(s.recvKey[:])
	if err != nil {
		return err
	}
	s.sendCipher = sc
	s.recvCipher = rc
	return nil
}

// needsRotation reports whether the current keys have exceeded their
// message count or age budget (qzmq's rotation thresholds).
func (s *Session) needsRotation() bool {
	return s.msgCount >= MaxMessagesPerKey || time.Since(s.keyTime) >= MaxKeyAge
}

// Encrypt seals plaintext under the current send key, prefixing a
// monotonic nonce.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.needsRotation() {
		return nil, ErrKeyRotationNeeded
	}
	var nonce [nonceSize]byte
	binary.LittleEndian.PutUint64(nonce[nonceSize-8:], s.sendNonce)
	s.sendNonce++
	s.msgCount++
	ct := s.sendCipher.Seal(nil, nonce[:], plaintext, nil)
	return append(nonce[:], ct...), nil
}

// Decrypt opens ciphertext produced by the peer's Encrypt.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ciphertext) < nonceSize {
		return nil, ErrAuthFailed
	}
	nonce := ciphertext[:nonceSize]
	pt, err := s.recvCipher.Open(nil, nonce, ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	s.recvNonce++
	return pt, nil
}

// IsPostQuantum always reports true: every session established through
// Handshake includes an ML-KEM-768 leg.
func (s *Session) IsPostQuantum() bool { return true }

// HandshakeNonce returns a value derived from this session's handshake
// transcript and shared secrets, identical on both ends without either
// side transmitting it. Used to bind the application-level Hello exchange
// (see p2p.BuildHello/CompleteHandshake) to this specific connection
// instance instead of each side generating its own nonce independently.
func (s *Session) HandshakeNonce() []byte {
	return append([]byte(nil), s.handshakeNonce[:]...)
}
