// Package dagstate implements the vertex graph: canonical vertex
// encoding, the admission pipeline with a bounded parking queue, and
// frontier/tip tracking, sharded by id prefix to keep per-shard locks
// narrow.
package dagstate

import (
	"errors"
	"sort"

	"github.com/luxfi/ids"

	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/wire"
)

// VertexID is the 32-byte BLAKE3 hash of a vertex's canonical encoding.
// Reusing github.com/luxfi/ids keeps identity types consistent with the
// rest of the consensus lineage this module descends from.
type VertexID = ids.ID

// Status is one of the monotone consensus states.
type Status int

const (
	StatusPending Status = iota
	StatusPreferred
	StatusFinal
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusPreferred:
		return "Preferred"
	case StatusFinal:
		return "Final"
	case StatusRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

var (
	ErrIDMismatch        = errors.New("dagstate: recomputed id does not match vertex.ID")
	ErrInvalidSignature  = errors.New("dagstate: signature does not verify")
	ErrMissingAuthor     = errors.New("dagstate: author_pubkey is required")
	ErrTooManyParents    = errors.New("dagstate: parents exceed max_parents")
	ErrDuplicateParent   = errors.New("dagstate: duplicate parent")
	ErrEmptyNonGenesis   = errors.New("dagstate: only a genesis vertex may have zero parents")
)

// Vertex is the unit of consensus: a signed reference to parent vertices
// plus an opaque payload.
type Vertex struct {
	ID           VertexID
	Parents      []VertexID
	Payload      []byte
	Timestamp    uint64
	AuthorPubkey pq.DSAPublicKey
	Signature    pq.Signature
}

// CanonicalBytes is the exported form of canonicalBytes, for an
// authoring caller outside the package (the cross-layer engine) that
// needs to sign a vertex before its ID is computed.
func (v *Vertex) CanonicalBytes() []byte { return v.canonicalBytes() }

// canonicalBytes returns the declared-order encoding used for both
// hashing and signing; it excludes ID and Signature.
func (v *Vertex) canonicalBytes() []byte {
	e := wire.NewEncoder()
	parentBytes := make([][]byte, len(v.Parents))
	for i, p := range v.Parents {
		pp := p
		parentBytes[i] = pp[:]
	}
	e.PutBytesList(parentBytes)
	e.PutBytes(v.Payload)
	e.PutUint64(v.Timestamp)
	e.PutBytes(v.AuthorPubkey)
	return e.Bytes()
}

// ComputeID recomputes the vertex id from its canonical encoding.
func (v *Vertex) ComputeID() VertexID {
	h := pq.Hash(v.canonicalBytes())
	id, _ := ids.ToID(h[:])
	return id
}

// Encode serializes the full vertex, including ID and Signature, for the
// wire (VertexAnnouncement.SerializedVertex) and for persistence.
func (v *Vertex) Encode() []byte {
	e := wire.NewEncoder()
	idCopy := v.ID
	e.PutBytes(idCopy[:])
	parentBytes := make([][]byte, len(v.Parents))
	for i, p := range v.Parents {
		pp := p
		parentBytes[i] = pp[:]
	}
	e.PutBytesList(parentBytes)
	e.PutBytes(v.Payload)
	e.PutUint64(v.Timestamp)
	e.PutBytes(v.AuthorPubkey)
	e.PutBytes(v.Signature)
	return e.Bytes()
}

// DecodeVertex parses a vertex previously produced by Encode.
func DecodeVertex(data []byte) (*Vertex, error) {
	d := wire.NewDecoder(data)
	idBytes, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	id, err := ids.ToID(idBytes)
	if err != nil {
		return nil, err
	}
	parentBytes, err := d.BytesList()
	if err != nil {
		return nil, err
	}
	parents := make([]VertexID, len(parentBytes))
	for i, pb := range parentBytes {
		pid, err := ids.ToID(pb)
		if err != nil {
			return nil, err
		}
		parents[i] = pid
	}
	payload, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	ts, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	pub, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	sig, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return &Vertex{
		ID:           id,
		Parents:      parents,
		Payload:      payload,
		Timestamp:    ts,
		AuthorPubkey: pq.DSAPublicKey(pub),
		Signature:    pq.Signature(sig),
	}, nil
}

// verifyShape checks the structural invariants independent of any store
// lookup: id, signature, author presence, parent count and uniqueness.
func (v *Vertex) verifyShape(maxParents int) error {
	if len(v.AuthorPubkey) == 0 {
		return ErrMissingAuthor
	}
	if len(v.Parents) == 0 {
		// Only acceptable for a genesis vertex; Store.Submit rejects a
		// zero-parent vertex with ErrEmptyNonGenesis unless its caller
		// passes isGenesis.
	}
	if len(v.Parents) > maxParents {
		return ErrTooManyParents
	}
	seen := make(map[VertexID]struct{}, len(v.Parents))
	for _, p := range v.Parents {
		if _, dup := seen[p]; dup {
			return ErrDuplicateParent
		}
		seen[p] = struct{}{}
	}
	if got := v.ComputeID(); got != v.ID {
		return ErrIDMismatch
	}
	if !pq.DSAVerify(v.AuthorPubkey, v.canonicalBytes(), v.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// sortIDs returns a copy of in sorted by lexicographic Compare.
// Non-deterministic map iteration order must never reach a caller.
func sortIDs(in []VertexID) []VertexID {
	out := append([]VertexID(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
