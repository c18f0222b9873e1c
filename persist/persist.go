// Package persist is the node's on-disk state layer: an append-only
// vertex log plus id-keyed status index, a consensus-counter snapshot,
// and a peer-table snapshot, all recoverable on startup. Values are the
// same canonical wire encoding used on the network, so one codec serves
// both disk and wire.
package persist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/qudag/qudag/dagstate"
)

// ErrNotFound is returned for a status lookup on a vertex that never had
// a transition recorded.
var ErrNotFound = errors.New("persist: key not found")

// Key layout. Vertex-log keys order by sequence number under badger's
// lexicographic key order, so big-endian sequence encoding keeps the log
// iterable in append order.
var (
	keyVertexCount     = []byte("vn")
	keyConsensusState  = []byte("cs")
	keyPeerTable       = []byte("ps")
	prefixVertex       = []byte("v:")
	prefixVertexStatus = []byte("s:")
)

// DB wraps a badger store holding the three persisted structures. A DB
// is safe for concurrent use; the append path serializes on its own
// mutex so log sequence numbers never collide.
type DB struct {
	db *badger.DB

	appendMu sync.Mutex
	nextSeq  uint64
}

// Open opens (or creates) the on-disk store at path.
func Open(path string) (*DB, error) {
	bdb, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	return wrap(bdb)
}

// OpenInMemory opens a store backed by memory only, for tests and for
// nodes that opt out of durability without changing any other code path.
func OpenInMemory() (*DB, error) {
	bdb, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("persist: open in-memory: %w", err)
	}
	return wrap(bdb)
}

func wrap(bdb *badger.DB) (*DB, error) {
	d := &DB{db: bdb}
	count, err := d.readVertexCount()
	if err != nil {
		bdb.Close()
		return nil, err
	}
	d.nextSeq = count
	return d, nil
}

// Close flushes and closes the underlying store.
func (d *DB) Close() error { return d.db.Close() }

func vertexKey(seq uint64) []byte {
	key := make([]byte, len(prefixVertex)+8)
	copy(key, prefixVertex)
	binary.BigEndian.PutUint64(key[len(prefixVertex):], seq)
	return key
}

func statusKey(id dagstate.VertexID) []byte {
	key := make([]byte, len(prefixVertexStatus)+len(id))
	copy(key, prefixVertexStatus)
	copy(key[len(prefixVertexStatus):], id[:])
	return key
}

func (d *DB) readVertexCount() (uint64, error) {
	var count uint64
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyVertexCount)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("persist: malformed vertex count record")
			}
			count = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	return count, err
}

// AppendVertex appends one canonically-encoded vertex to the log,
// returning the sequence number it was logged at. Admission order is
// topological (a vertex is only admitted after its parents), so replay
// in sequence order re-admits cleanly; concurrent admissions can log a
// child a moment before its parent, which replay absorbs through the
// ordinary parking path.
func (d *DB) AppendVertex(encoded []byte) (uint64, error) {
	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	seq := d.nextSeq
	var countBuf [8]byte
	binary.BigEndian.PutUint64(countBuf[:], seq+1)

	err := d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(vertexKey(seq), encoded); err != nil {
			return err
		}
		return txn.Set(keyVertexCount, countBuf[:])
	})
	if err != nil {
		return 0, fmt.Errorf("persist: append vertex: %w", err)
	}
	d.nextSeq = seq + 1
	return seq, nil
}

// VertexCount reports how many vertices the log holds.
func (d *DB) VertexCount() uint64 {
	d.appendMu.Lock()
	defer d.appendMu.Unlock()
	return d.nextSeq
}

// ReplayVertices calls fn for every logged vertex in append (and thus
// topological) order. Replay stops at the first error fn returns.
func (d *DB) ReplayVertices(fn func(seq uint64, encoded []byte) error) error {
	count := d.VertexCount()
	for seq := uint64(0); seq < count; seq++ {
		var encoded []byte
		err := d.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(vertexKey(seq))
			if err != nil {
				return err
			}
			encoded, err = item.ValueCopy(nil)
			return err
		})
		if err != nil {
			return fmt.Errorf("persist: replay vertex %d: %w", seq, err)
		}
		if err := fn(seq, encoded); err != nil {
			return err
		}
	}
	return nil
}

// PutStatus records a vertex's consensus status transition.
func (d *DB) PutStatus(id dagstate.VertexID, status dagstate.Status) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(statusKey(id), []byte{byte(status)})
	})
}

// GetStatus returns the persisted status of id, or ErrNotFound if no
// transition was ever recorded for it (the vertex is still Pending).
func (d *DB) GetStatus(id dagstate.VertexID) (dagstate.Status, error) {
	var status dagstate.Status
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(statusKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 1 {
				return fmt.Errorf("persist: malformed status record")
			}
			status = dagstate.Status(val[0])
			return nil
		})
	})
	return status, err
}

// PutConsensusState stores the consensus-counter snapshot blob, replacing
// any previous snapshot.
func (d *DB) PutConsensusState(blob []byte) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyConsensusState, blob)
	})
}

// ConsensusState returns the last consensus-counter snapshot, or ok=false
// if none was ever written.
func (d *DB) ConsensusState() ([]byte, bool, error) {
	return d.getBlob(keyConsensusState)
}

// PutPeerTable stores the peer-table snapshot blob, replacing any
// previous snapshot.
func (d *DB) PutPeerTable(blob []byte) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyPeerTable, blob)
	})
}

// PeerTable returns the last peer-table snapshot, or ok=false if none
// was ever written.
func (d *DB) PeerTable() ([]byte, bool, error) {
	return d.getBlob(keyPeerTable)
}

func (d *DB) getBlob(key []byte) ([]byte, bool, error) {
	var blob []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return blob, blob != nil, nil
}
