package p2p

import (
	"errors"
	"time"

	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/wire"
)

// ErrHandshakeFailed is returned for every verification failure in
// CompleteHandshake. A handshake that fails verification
// closes the connection without leaking which check failed — callers
// must not branch on anything but this single sentinel.
var ErrHandshakeFailed = errors.New("p2p: handshake verification failed")

const ProtocolVersion = 1

// Hello is the application-level identity exchange: {peer_id,
// dsa_public, kem_public, fingerprint, protocol_version}, signed with
// the sender's DSA key over a channel nonce so the receiver knows the
// claimed identity actually controls that key.
type Hello struct {
	PeerID          PeerID
	DSAPublic       pq.DSAPublicKey
	KEMPublic       pq.KEMPublicKey
	Fingerprint     [pq.HashSize]byte
	ProtocolVersion uint32
	Locator         string
	Signature       pq.Signature
}

// signedBytes is the canonical payload a Hello's Signature covers: the
// identity fields plus the channel nonce, binding the handshake to this
// specific connection instance.
func signedBytes(peerID PeerID, dsaPub pq.DSAPublicKey, kemPub pq.KEMPublicKey, fp [pq.HashSize]byte, version uint32, locator string, nonce []byte) []byte {
	e := wire.NewEncoder()
	idBytes := peerID[:]
	e.PutBytes(idBytes)
	e.PutBytes(dsaPub)
	e.PutBytes(kemPub)
	e.PutBytes(fp[:])
	e.PutUint32(version)
	e.PutString(locator)
	e.PutBytes(nonce)
	return e.Bytes()
}

// BuildHello signs a Hello for peerID over the given channel nonce.
func BuildHello(peerID PeerID, dsaPub pq.DSAPublicKey, dsaSec pq.DSAPrivateKey, kemPub pq.KEMPublicKey, locator string, nonce []byte) (Hello, error) {
	fp := pq.Fingerprint(dsaPub, locator, nil)
	msg := signedBytes(peerID, dsaPub, kemPub, fp, ProtocolVersion, locator, nonce)
	sig, err := pq.DSASign(dsaSec, msg)
	if err != nil {
		return Hello{}, err
	}
	return Hello{
		PeerID:          peerID,
		DSAPublic:       dsaPub,
		KEMPublic:       kemPub,
		Fingerprint:     fp,
		ProtocolVersion: ProtocolVersion,
		Locator:         locator,
		Signature:       sig,
	}, nil
}

// Verify checks that h's signature validates against its own claimed
// identity fields over nonce, and that its fingerprint is consistent
// with its DSA key and locator. This is the sole gate; no
// partial-success detail is exposed to the caller.
func (h Hello) Verify(nonce []byte) bool {
	wantFP := pq.Fingerprint(h.DSAPublic, h.Locator, nil)
	if wantFP != h.Fingerprint {
		return false
	}
	msg := signedBytes(h.PeerID, h.DSAPublic, h.KEMPublic, h.Fingerprint, h.ProtocolVersion, h.Locator, nonce)
	return pq.DSAVerify(h.DSAPublic, msg, h.Signature)
}

// HelloExchanger sends the local Hello and returns the remote peer's
// Hello, abstracting over whatever byte-stream the handshake runs on
// (a transport.Conn in production, an in-memory pipe in tests).
type HelloExchanger interface {
	Send(h Hello) error
	Receive() (Hello, error)
}

// CompleteHandshake runs the mutual identity exchange: send the
// local Hello, receive the remote one, and verify it against the shared
// channel nonce. On success it returns an Info ready for Table.Upsert.
func CompleteHandshake(ex HelloExchanger, local Hello, nonce []byte, timeout time.Duration, now time.Time) (*Info, error) {
	errc := make(chan error, 1)
	var remote Hello
	go func() {
		if err := ex.Send(local); err != nil {
			errc <- err
			return
		}
		r, err := ex.Receive()
		if err != nil {
			errc <- err
			return
		}
		remote = r
		errc <- nil
	}()

	select {
	case err := <-errc:
		if err != nil {
			return nil, ErrHandshakeFailed
		}
	case <-time.After(timeout):
		return nil, ErrHandshakeFailed
	}

	if remote.ProtocolVersion != ProtocolVersion {
		return nil, ErrHandshakeFailed
	}
	if !remote.Verify(nonce) {
		return nil, ErrHandshakeFailed
	}

	return &Info{
		PeerID:          remote.PeerID,
		KEMPublic:       remote.KEMPublic,
		DSAPublic:       remote.DSAPublic,
		Fingerprint:     remote.Fingerprint,
		ProtocolVersion: remote.ProtocolVersion,
		Locator:         remote.Locator,
		Reputation:      1.0,
		LastSeen:        now,
		ConnectedAt:     now,
	}, nil
}
