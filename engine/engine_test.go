package engine

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/qudag/qudag/config"
	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/dagstate"
	"github.com/qudag/qudag/p2p"
	"github.com/qudag/qudag/wire"
)

// routingSender delivers frames synchronously to the target engine's
// own Dispatch, modeling a fully-connected in-process network without
// any real transport.Conn.
type routingSender struct {
	from     p2p.PeerID
	registry map[p2p.PeerID]*Engine
}

func (s *routingSender) SendTo(peer p2p.PeerID, frame wire.Frame) error {
	target, ok := s.registry[peer]
	if !ok {
		return nil
	}
	target.Dispatch(s.from, frame, time.Now())
	return nil
}

func randomPeerID(t *testing.T) p2p.PeerID {
	t.Helper()
	var raw [20]byte
	_, err := rand.Read(raw[:])
	require.NoError(t, err)
	id, err := ids.ToNodeID(raw[:])
	require.NoError(t, err)
	return id
}

func newTestEngineWithParams(t *testing.T, registry map[p2p.PeerID]*Engine, params config.Parameters) (*Engine, p2p.PeerID, pq.KEMPublicKey, pq.DSAPublicKey) {
	t.Helper()
	dsaPub, dsaSec, err := pq.DSAKeyGen()
	require.NoError(t, err)
	kemPub, kemSec, err := pq.KEMKeyGen()
	require.NoError(t, err)

	self := randomPeerID(t)
	sender := &routingSender{from: self, registry: registry}
	id := Identity{Self: self, DSAPublic: dsaPub, DSASecret: dsaSec, KEMPublic: kemPub, KEMSecret: kemSec, Locator: self.String()}
	e := New(params, id, sender, nil)
	registry[self] = e
	return e, self, kemPub, dsaPub
}

func newTestEngine(t *testing.T, registry map[p2p.PeerID]*Engine) (*Engine, p2p.PeerID) {
	t.Helper()
	e, self, _, _ := newTestEngineWithParams(t, registry, config.Local())
	return e, self
}

func linkPeers(a, b *Engine, aID, bID p2p.PeerID, now time.Time) {
	a.Table().Upsert(p2p.NewInfo(bID, nil, nil, bID.String(), p2p.ProtocolVersion, now))
	b.Table().Upsert(p2p.NewInfo(aID, nil, nil, aID.String(), p2p.ProtocolVersion, now))
}

func TestSubmitVertexGossipsToPeerAndAdmitsIt(t *testing.T) {
	registry := map[p2p.PeerID]*Engine{}
	a, aID := newTestEngine(t, registry)
	b, bID := newTestEngine(t, registry)
	now := time.Now()
	linkPeers(a, b, aID, bID, now)

	genesis, err := a.SubmitVertex([]byte("genesis"), now)
	require.NoError(t, err)

	status, ok := b.Store().Status(genesis.ID)
	require.True(t, ok)
	require.Equal(t, dagstate.StatusPending, status)
	require.Equal(t, genesis.ID, genesis.ComputeID())
}

func TestSubmitVertexRejectsWithoutGenesisForNonEmptyFrontierOnly(t *testing.T) {
	registry := map[p2p.PeerID]*Engine{}
	a, _ := newTestEngine(t, registry)
	now := time.Now()

	genesis, err := a.SubmitVertex([]byte("genesis"), now)
	require.NoError(t, err)
	require.Empty(t, genesis.Parents)

	child, err := a.SubmitVertex([]byte("child"), now.Add(time.Millisecond))
	require.NoError(t, err)
	require.Contains(t, child.Parents, genesis.ID)
}

func TestQueryRoundTripThroughDispatch(t *testing.T) {
	registry := map[p2p.PeerID]*Engine{}
	a, aID := newTestEngine(t, registry)
	b, bID := newTestEngine(t, registry)
	now := time.Now()
	linkPeers(a, b, aID, bID, now)

	genesis, err := a.SubmitVertex([]byte("genesis"), now)
	require.NoError(t, err)

	// b now has the vertex via gossip; ask it directly over the query
	// path exercised by the consensus loop.
	vote, err := a.query.Query(context.Background(), bID, genesis.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, vote.Confidence, 0.0)
	require.LessOrEqual(t, vote.Confidence, 1.0)
}

// TestSubmitVertexRoutesThroughOnionRelayChain proves a vertex authored
// with onion gossip enabled actually traverses onion.Build/ProcessHop
// across a multi-hop relay chain rather than being flooded directly,
// and still ends up admitted at the far end.
func TestSubmitVertexRoutesThroughOnionRelayChain(t *testing.T) {
	registry := map[p2p.PeerID]*Engine{}

	onionParams := config.Local()
	onionParams.OnionGossipHops = 2

	a, aID, _, _ := newTestEngineWithParams(t, registry, onionParams)
	h1, h1ID, h1KEM, _ := newTestEngineWithParams(t, registry, onionParams)
	h2, h2ID, h2KEM, _ := newTestEngineWithParams(t, registry, onionParams)
	now := time.Now()

	// a must know both relays (with real KEM keys, for onion.Build) to
	// sample an onion chain; a is deliberately not linked to anyone via
	// a plain flood path, so admission at h2 can only have happened via
	// the onion relay chain.
	a.Table().Upsert(p2p.NewInfo(h1ID, h1KEM, nil, h1ID.String(), p2p.ProtocolVersion, now))
	a.Table().Upsert(p2p.NewInfo(h2ID, h2KEM, nil, h2ID.String(), p2p.ProtocolVersion, now))

	v, err := a.SubmitVertex([]byte("onion-routed"), now)
	require.NoError(t, err)

	_, aHasIt := a.Store().Status(v.ID)
	require.True(t, aHasIt, "author always admits its own vertex locally")

	// Exactly one of the two sampled relays is the terminal hop (random
	// hop order), and it alone unwraps the envelope and admits the
	// vertex; the other only ever forwards the still-wrapped layer.
	status1, h1HasIt := h1.Store().Status(v.ID)
	status2, h2HasIt := h2.Store().Status(v.ID)
	require.True(t, h1HasIt != h2HasIt, "exactly one relay should be the terminal hop that admits the vertex")
	if h1HasIt {
		require.Equal(t, dagstate.StatusPending, status1)
	} else {
		require.Equal(t, dagstate.StatusPending, status2)
	}
}

// TestFinalityNotificationFetchesButNeverBlindlyAdopts exercises the
// guarded propagation rule: a finality notification for an unknown
// vertex triggers a fetch (and transitive parent fetches), but the
// fetched vertex lands as Pending — finality is only ever reached
// through the recipient's own sampling rounds.
func TestFinalityNotificationFetchesButNeverBlindlyAdopts(t *testing.T) {
	registry := map[p2p.PeerID]*Engine{}
	a, aID := newTestEngine(t, registry)
	b, _ := newTestEngine(t, registry)
	now := time.Now()
	// No gossip link: b can only learn vertices through the fetch path
	// the notification triggers.

	genesis, err := a.SubmitVertex([]byte("genesis"), now)
	require.NoError(t, err)
	child, err := a.SubmitVertex([]byte("child"), now.Add(time.Millisecond))
	require.NoError(t, err)
	b.SetGenesisID(genesis.ID)

	note := wire.FinalityNotification{VertexID: child.ID[:], Height: 1, TotalOrderPosition: 1}
	frame := wire.Frame{Type: wire.MsgFinalityNotification, Payload: note.Encode()}
	b.Dispatch(aID, frame, now)

	status, ok := b.Store().Status(child.ID)
	require.True(t, ok, "notification should have fetched the vertex and its missing parent")
	require.Equal(t, dagstate.StatusPending, status, "a flooded finality claim must not flip local status")

	status, ok = b.Store().Status(genesis.ID)
	require.True(t, ok)
	require.Equal(t, dagstate.StatusPending, status)
}

func TestSyncRequestResponseCatchesUpANewPeer(t *testing.T) {
	registry := map[p2p.PeerID]*Engine{}
	a, _ := newTestEngine(t, registry)
	b, bID := newTestEngine(t, registry)
	now := time.Now()
	// b deliberately not linked via gossip: it only learns a's vertices
	// through the sync path under test.

	_, err := a.SubmitVertex([]byte("genesis"), now)
	require.NoError(t, err)
	_, err = a.SubmitVertex([]byte("second"), now.Add(time.Millisecond))
	require.NoError(t, err)
	require.Empty(t, b.Store().Active())

	req := wire.SyncRequest{FromHeight: 0, ToHeight: a.Store().CurrentHeight(), Requester: bID[:]}
	frame := wire.Frame{Type: wire.MsgSyncRequest, Payload: req.Encode()}
	a.Dispatch(bID, frame, now)

	require.Equal(t, a.Store().CurrentHeight(), b.Store().CurrentHeight())
}

// TestCatchUpRotationSyncsARejoiningPeer drives the gossip loop's
// catch-up probe directly: a node that knows a peer but missed its
// vertices asks for everything past its own count and ends up level,
// adopting the zero-parent base vertex as genesis along the way.
func TestCatchUpRotationSyncsARejoiningPeer(t *testing.T) {
	registry := map[p2p.PeerID]*Engine{}
	a, aID := newTestEngine(t, registry)
	b, _ := newTestEngine(t, registry)
	now := time.Now()

	// One-way link: b can reach a, but a never gossips to b.
	b.Table().Upsert(p2p.NewInfo(aID, nil, nil, aID.String(), p2p.ProtocolVersion, now))

	_, err := a.SubmitVertex([]byte("genesis"), now)
	require.NoError(t, err)
	_, err = a.SubmitVertex([]byte("second"), now.Add(time.Millisecond))
	require.NoError(t, err)
	require.Zero(t, b.Store().Count())

	b.requestCatchUp()

	require.Equal(t, a.Store().Count(), b.Store().Count())
	require.True(t, b.genesisKnown())
}
