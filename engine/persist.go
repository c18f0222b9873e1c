package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/ids"

	"github.com/qudag/qudag/consensus"
	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/dagstate"
	qlog "github.com/qudag/qudag/log"
	"github.com/qudag/qudag/p2p"
	"github.com/qudag/qudag/persist"
	"github.com/qudag/qudag/wire"
)

// journal adapts persist.DB to dagstate.Journal so every admission and
// status transition is logged as it happens. Write failures are logged
// and swallowed: a journaling hiccup must not reject a vertex the
// in-memory store already accepted.
type journal struct {
	db  *persist.DB
	log qlog.Logger
}

func (j *journal) OnAdmit(v *dagstate.Vertex, height uint64) {
	if _, err := j.db.AppendVertex(v.Encode()); err != nil && j.log != nil {
		j.log.Error("journal vertex append failed", "id", v.ID, "height", height, "err", err)
	}
}

func (j *journal) OnStatus(id dagstate.VertexID, status dagstate.Status) {
	if err := j.db.PutStatus(id, status); err != nil && j.log != nil {
		j.log.Error("journal status write failed", "id", id, "status", status, "err", err)
	}
}

// AttachPersistence recovers the engine's state from db and hooks the
// DAG store's transition journal into it, implementing the persisted-state
// contract: every logged vertex is revalidated through the
// ordinary admission pipeline, persisted status transitions are
// reapplied, and consensus counters from outside the current consensus
// window are reset to safe defaults. Call before Run, on a freshly
// constructed engine.
func (e *Engine) AttachPersistence(db *persist.DB, now time.Time) error {
	recovered, err := e.recoverVertices(db, now)
	if err != nil {
		return err
	}
	if err := e.recoverStatuses(db, recovered); err != nil {
		return err
	}
	if err := e.recoverConsensusState(db, now); err != nil {
		return err
	}
	if err := e.recoverPeerTable(db, now); err != nil {
		return err
	}

	// Only now that replay is complete may the journal attach; attaching
	// earlier would re-log every replayed vertex.
	e.store.SetJournal(&journal{db: db, log: e.log})
	e.persistDB = db
	return nil
}

// recoverVertices replays the append-only vertex log through the
// ordinary admission pipeline. Log order is admission order, which is
// topological, so a healthy log replays without parking; a vertex that
// fails revalidation is dropped, along with any descendant that then
// finds itself an orphan.
func (e *Engine) recoverVertices(db *persist.DB, now time.Time) ([]dagstate.VertexID, error) {
	var recovered []dagstate.VertexID
	err := db.ReplayVertices(func(seq uint64, encoded []byte) error {
		v, err := dagstate.DecodeVertex(encoded)
		if err != nil {
			if e.log != nil {
				e.log.Error("skipping undecodable logged vertex", "seq", seq, "err", err)
			}
			return nil
		}
		isGenesis := seq == 0 && len(v.Parents) == 0
		outcome, err := e.store.Submit(v, isGenesis, now)
		switch outcome {
		case dagstate.AdmitPending, dagstate.AdmitParked:
			// Parked is fine: concurrent admissions can journal a child a
			// moment before its parent, and the parent's own replay entry
			// resolves the parking immediately.
			if isGenesis {
				e.SetGenesisID(v.ID)
			}
			recovered = append(recovered, v.ID)
		case dagstate.AdmitDuplicate:
		default:
			if e.log != nil {
				e.log.Warn("logged vertex failed revalidation", "seq", seq, "id", v.ID, "err", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: recover vertices: %w", err)
	}
	return recovered, nil
}

func (e *Engine) recoverStatuses(db *persist.DB, recovered []dagstate.VertexID) error {
	for _, id := range recovered {
		status, err := db.GetStatus(id)
		if errors.Is(err, persist.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("engine: recover status for %s: %w", id, err)
		}
		if status != dagstate.StatusPending {
			e.store.SetStatus(id, status)
		}
	}
	return nil
}

func (e *Engine) recoverConsensusState(db *persist.DB, now time.Time) error {
	blob, ok, err := db.ConsensusState()
	if err != nil {
		return fmt.Errorf("engine: read consensus snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	states, savedAt, err := decodeConsensusState(blob)
	if err != nil {
		return fmt.Errorf("engine: decode consensus snapshot: %w", err)
	}
	// Counters older than the consensus window cannot be trusted to
	// still reflect live sampling; reset them to safe defaults.
	stale := now.Sub(savedAt) > e.params.MaxRoundTO
	e.consensus.Restore(states, stale)
	return nil
}

func (e *Engine) recoverPeerTable(db *persist.DB, now time.Time) error {
	blob, ok, err := db.PeerTable()
	if err != nil {
		return fmt.Errorf("engine: read peer snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	infos, err := decodePeerTable(blob)
	if err != nil {
		return fmt.Errorf("engine: decode peer snapshot: %w", err)
	}
	for i := range infos {
		infos[i].ConnectedAt = now
	}
	e.table.Restore(infos)
	return nil
}

// persistSnapshots writes the current consensus-counter and peer-table
// snapshots, called from the maintenance loop so both structures stay
// recoverable without blocking any hot path.
func (e *Engine) persistSnapshots(now time.Time) {
	if e.persistDB == nil {
		return
	}
	if err := e.persistDB.PutConsensusState(encodeConsensusState(e.consensus.Export(), now)); err != nil && e.log != nil {
		e.log.Error("consensus snapshot write failed", "err", err)
	}
	if err := e.persistDB.PutPeerTable(encodePeerTable(e.table.All())); err != nil && e.log != nil {
		e.log.Error("peer snapshot write failed", "err", err)
	}
}

func encodeConsensusState(states []consensus.RecordState, now time.Time) []byte {
	enc := wire.NewEncoder()
	enc.PutUint64(uint64(now.UnixMilli()))
	enc.PutUint32(uint32(len(states)))
	for _, st := range states {
		id := st.VertexID
		enc.PutBytes(id[:])
		enc.PutUint64(st.Positive)
		enc.PutUint64(st.Negative)
		enc.PutUint64(uint64(st.ConsecutiveSuccesses))
		enc.PutUint64(st.LastQueryRound)
		if st.Finalized {
			enc.PutUint8(1)
		} else {
			enc.PutUint8(0)
		}
		enc.PutUint64(st.FinalizedRound)
		enc.PutFloat64(st.EMAConfidence)
	}
	return enc.Bytes()
}

func decodeConsensusState(blob []byte) ([]consensus.RecordState, time.Time, error) {
	dec := wire.NewDecoder(blob)
	savedMillis, err := dec.Uint64()
	if err != nil {
		return nil, time.Time{}, err
	}
	count, err := dec.Uint32()
	if err != nil {
		return nil, time.Time{}, err
	}
	states := make([]consensus.RecordState, 0, count)
	for i := uint32(0); i < count; i++ {
		var st consensus.RecordState
		idBytes, err := dec.Bytes()
		if err != nil {
			return nil, time.Time{}, err
		}
		if st.VertexID, err = ids.ToID(idBytes); err != nil {
			return nil, time.Time{}, err
		}
		if st.Positive, err = dec.Uint64(); err != nil {
			return nil, time.Time{}, err
		}
		if st.Negative, err = dec.Uint64(); err != nil {
			return nil, time.Time{}, err
		}
		consecutive, err := dec.Uint64()
		if err != nil {
			return nil, time.Time{}, err
		}
		st.ConsecutiveSuccesses = int(consecutive)
		if st.LastQueryRound, err = dec.Uint64(); err != nil {
			return nil, time.Time{}, err
		}
		finalized, err := dec.Uint8()
		if err != nil {
			return nil, time.Time{}, err
		}
		st.Finalized = finalized == 1
		if st.FinalizedRound, err = dec.Uint64(); err != nil {
			return nil, time.Time{}, err
		}
		if st.EMAConfidence, err = dec.Float64(); err != nil {
			return nil, time.Time{}, err
		}
		states = append(states, st)
	}
	return states, time.UnixMilli(int64(savedMillis)), nil
}

func encodePeerTable(infos []p2p.Info) []byte {
	enc := wire.NewEncoder()
	enc.PutUint32(uint32(len(infos)))
	for _, info := range infos {
		id := info.PeerID
		enc.PutBytes(id[:])
		enc.PutBytes(info.KEMPublic)
		enc.PutBytes(info.DSAPublic)
		enc.PutString(info.Locator)
		enc.PutUint32(info.ProtocolVersion)
		enc.PutFloat64(info.Reputation)
		enc.PutUint64(uint64(info.LastSeen.UnixMilli()))
	}
	return enc.Bytes()
}

func decodePeerTable(blob []byte) ([]p2p.Info, error) {
	dec := wire.NewDecoder(blob)
	count, err := dec.Uint32()
	if err != nil {
		return nil, err
	}
	infos := make([]p2p.Info, 0, count)
	for i := uint32(0); i < count; i++ {
		idBytes, err := dec.Bytes()
		if err != nil {
			return nil, err
		}
		peerID, err := ids.ToNodeID(idBytes)
		if err != nil {
			return nil, err
		}
		kemPub, err := dec.Bytes()
		if err != nil {
			return nil, err
		}
		dsaPub, err := dec.Bytes()
		if err != nil {
			return nil, err
		}
		locator, err := dec.String()
		if err != nil {
			return nil, err
		}
		version, err := dec.Uint32()
		if err != nil {
			return nil, err
		}
		reputation, err := dec.Float64()
		if err != nil {
			return nil, err
		}
		lastSeenMillis, err := dec.Uint64()
		if err != nil {
			return nil, err
		}
		infos = append(infos, p2p.Info{
			PeerID:          peerID,
			KEMPublic:       pq.KEMPublicKey(kemPub),
			DSAPublic:       pq.DSAPublicKey(dsaPub),
			Fingerprint:     pq.Fingerprint(dsaPub, locator, nil),
			ProtocolVersion: version,
			Locator:         locator,
			Reputation:      reputation,
			LastSeen:        time.UnixMilli(int64(lastSeenMillis)),
		})
	}
	return infos, nil
}
