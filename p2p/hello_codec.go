package p2p

import (
	"github.com/luxfi/ids"

	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/wire"
)

// Encode serializes a Hello for the application-level handshake
// channel, the one message type CompleteHandshake's HelloExchanger
// needs to move over whatever transport it wraps.
func (h Hello) Encode() []byte {
	e := wire.NewEncoder()
	idBytes := h.PeerID[:]
	e.PutBytes(idBytes)
	e.PutBytes(h.DSAPublic)
	e.PutBytes(h.KEMPublic)
	e.PutBytes(h.Fingerprint[:])
	e.PutUint32(h.ProtocolVersion)
	e.PutString(h.Locator)
	e.PutBytes(h.Signature)
	return e.Bytes()
}

// DecodeHello parses a Hello previously produced by Encode.
func DecodeHello(data []byte) (Hello, error) {
	d := wire.NewDecoder(data)
	idBytes, err := d.Bytes()
	if err != nil {
		return Hello{}, err
	}
	peerID, err := ids.ToNodeID(idBytes)
	if err != nil {
		return Hello{}, err
	}
	dsaPub, err := d.Bytes()
	if err != nil {
		return Hello{}, err
	}
	kemPub, err := d.Bytes()
	if err != nil {
		return Hello{}, err
	}
	fpBytes, err := d.Bytes()
	if err != nil {
		return Hello{}, err
	}
	version, err := d.Uint32()
	if err != nil {
		return Hello{}, err
	}
	locator, err := d.String()
	if err != nil {
		return Hello{}, err
	}
	sig, err := d.Bytes()
	if err != nil {
		return Hello{}, err
	}
	var fp [pq.HashSize]byte
	copy(fp[:], fpBytes)
	return Hello{
		PeerID:          peerID,
		DSAPublic:       pq.DSAPublicKey(dsaPub),
		KEMPublic:       pq.KEMPublicKey(kemPub),
		Fingerprint:     fp,
		ProtocolVersion: version,
		Locator:         locator,
		Signature:       pq.Signature(sig),
	}, nil
}
