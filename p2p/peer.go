// Package p2p implements the anonymous overlay's peer-facing layer:
// peer identity and table, the application-level handshake, flooded
// discovery, reputation scoring, and partition detection. Peers live in
// the internal/slab arena and are referenced by id copy, never through
// back-pointers.
package p2p

import (
	"time"

	"github.com/luxfi/ids"

	"github.com/qudag/qudag/crypto/pq"
)

// PeerID identifies a peer; an alias of ids.NodeID keeps identity types
// consistent with consensus.PeerID.
type PeerID = ids.NodeID

// Info is one peer's identity record: a peer's cryptographic material,
// its anonymous-routing fingerprint, and its current reputation.
type Info struct {
	PeerID          PeerID
	KEMPublic       pq.KEMPublicKey
	DSAPublic       pq.DSAPublicKey
	Fingerprint     [pq.HashSize]byte
	ProtocolVersion uint32
	Locator         string

	Reputation float64

	LastSeen        time.Time
	ConnectedAt      time.Time
	BytesSent        uint64
	BytesRecv        uint64
}

// NewInfo returns a freshly-discovered peer with starting reputation 1.0.
func NewInfo(peerID PeerID, kemPub pq.KEMPublicKey, dsaPub pq.DSAPublicKey, locator string, protocolVersion uint32, now time.Time) *Info {
	return &Info{
		PeerID:          peerID,
		KEMPublic:       kemPub,
		DSAPublic:       dsaPub,
		Fingerprint:     pq.Fingerprint(dsaPub, locator, nil),
		ProtocolVersion: protocolVersion,
		Locator:         locator,
		Reputation:      1.0,
		LastSeen:        now,
		ConnectedAt:     now,
	}
}

// snapshot returns a value copy safe to hand to callers outside the
// table's lock.
func (i *Info) snapshot() Info {
	return *i
}
