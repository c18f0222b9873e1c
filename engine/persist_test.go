package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qudag/qudag/config"
	"github.com/qudag/qudag/consensus"
	"github.com/qudag/qudag/dagstate"
	"github.com/qudag/qudag/p2p"
	"github.com/qudag/qudag/persist"
)

func TestAttachPersistenceRecoversVerticesAndStatuses(t *testing.T) {
	db, err := persist.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	registry := map[p2p.PeerID]*Engine{}
	a, _ := newTestEngine(t, registry)
	now := time.Now()

	require.NoError(t, a.AttachPersistence(db, now))

	genesis, err := a.SubmitVertex([]byte{0x00}, now)
	require.NoError(t, err)
	child, err := a.SubmitVertex([]byte{0x01}, now)
	require.NoError(t, err)

	a.store.SetStatus(genesis.ID, dagstate.StatusFinal)
	a.store.SetStatus(child.ID, dagstate.StatusPreferred)
	require.Equal(t, uint64(2), db.VertexCount())

	// A fresh engine attached to the same db sees the same graph and the
	// same status transitions, revalidated through the normal admission
	// pipeline.
	b, _, _, _ := newTestEngineWithParams(t, map[p2p.PeerID]*Engine{}, config.Local())
	require.NoError(t, b.AttachPersistence(db, now.Add(time.Second)))

	_, status, ok := b.store.Get(genesis.ID)
	require.True(t, ok)
	require.Equal(t, dagstate.StatusFinal, status)

	_, status, ok = b.store.Get(child.ID)
	require.True(t, ok)
	require.Equal(t, dagstate.StatusPreferred, status)

	h, ok := b.store.Height(child.ID)
	require.True(t, ok)
	require.Equal(t, uint64(1), h)
	require.True(t, b.isGenesis(genesis))
}

func TestAttachPersistenceDoesNotRelogReplayedVertices(t *testing.T) {
	db, err := persist.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	registry := map[p2p.PeerID]*Engine{}
	a, _ := newTestEngine(t, registry)
	now := time.Now()
	require.NoError(t, a.AttachPersistence(db, now))
	_, err = a.SubmitVertex([]byte{0x00}, now)
	require.NoError(t, err)

	b, _, _, _ := newTestEngineWithParams(t, map[p2p.PeerID]*Engine{}, config.Local())
	require.NoError(t, b.AttachPersistence(db, now))
	require.Equal(t, uint64(1), db.VertexCount())
}

func TestConsensusSnapshotRoundTripAndStaleReset(t *testing.T) {
	db, err := persist.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	params := config.Local()
	registry := map[p2p.PeerID]*Engine{}
	a, _, _, _ := newTestEngineWithParams(t, registry, params)
	now := time.Now()
	require.NoError(t, a.AttachPersistence(db, now))

	v, err := a.SubmitVertex([]byte{0x00}, now)
	require.NoError(t, err)
	rec := a.consensus.Record(v.ID)
	rec.Positive = 7
	rec.ConsecutiveSuccesses = 3
	rec.LastQueryRound = 9
	rec.EMAConfidence = 0.8

	a.persistSnapshots(now)

	// Recovery within the consensus window keeps the live counters.
	fresh, _, _, _ := newTestEngineWithParams(t, map[p2p.PeerID]*Engine{}, params)
	require.NoError(t, fresh.AttachPersistence(db, now.Add(params.MaxRoundTO/2)))
	confidence, consecutive, finalized := fresh.consensus.Record(v.ID).Snapshot()
	require.False(t, finalized)
	require.Equal(t, 3, consecutive)
	require.InDelta(t, 0.8, confidence, 1e-9)

	// Recovery outside the window resets round-to-round counters to safe
	// defaults for unfinalized vertices.
	stale, _, _, _ := newTestEngineWithParams(t, map[p2p.PeerID]*Engine{}, params)
	require.NoError(t, stale.AttachPersistence(db, now.Add(2*params.MaxRoundTO)))
	confidence, consecutive, finalized = stale.consensus.Record(v.ID).Snapshot()
	require.False(t, finalized)
	require.Zero(t, consecutive)
	require.Zero(t, confidence)
}

func TestConsensusStateCodecRoundTrip(t *testing.T) {
	registry := map[p2p.PeerID]*Engine{}
	a, _ := newTestEngine(t, registry)
	now := time.Now()
	v, err := a.SubmitVertex([]byte{0x00}, now)
	require.NoError(t, err)

	fr := uint64(12)
	states := []consensus.RecordState{{
		VertexID:             v.ID,
		Positive:             5,
		Negative:             2,
		ConsecutiveSuccesses: 4,
		LastQueryRound:       12,
		Finalized:            true,
		FinalizedRound:       fr,
		EMAConfidence:        0.75,
	}}
	decoded, savedAt, err := decodeConsensusState(encodeConsensusState(states, now))
	require.NoError(t, err)
	require.Equal(t, states, decoded)
	require.Equal(t, now.UnixMilli(), savedAt.UnixMilli())
}

func TestPeerTableSnapshotPreservesReputation(t *testing.T) {
	db, err := persist.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	registry := map[p2p.PeerID]*Engine{}
	a, _, kemPub, dsaPub := newTestEngineWithParams(t, registry, config.Local())
	now := time.Now()
	require.NoError(t, a.AttachPersistence(db, now))

	peer := randomPeerID(t)
	a.table.Upsert(p2p.NewInfo(peer, kemPub, dsaPub, "localhost:9001", p2p.ProtocolVersion, now))
	a.table.Record(peer, p2p.OutcomeTimeout)
	before, ok := a.table.Get(peer)
	require.True(t, ok)
	require.Less(t, before.Reputation, 1.0)

	a.persistSnapshots(now)

	fresh, _, _, _ := newTestEngineWithParams(t, map[p2p.PeerID]*Engine{}, config.Local())
	require.NoError(t, fresh.AttachPersistence(db, now.Add(time.Second)))
	after, ok := fresh.table.Get(peer)
	require.True(t, ok)
	require.InDelta(t, before.Reputation, after.Reputation, 1e-9)
	require.Equal(t, before.Fingerprint, after.Fingerprint)
}
