package p2p

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qudag/qudag/wire"
)

// recordingSender captures every frame sent, keyed by destination, so
// tests can assert on flood fan-out without a real transport.
type recordingSender struct {
	mu   sync.Mutex
	sent map[PeerID][]wire.Frame
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[PeerID][]wire.Frame)}
}

func (r *recordingSender) SendTo(peer PeerID, frame wire.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[peer] = append(r.sent[peer], frame)
	return nil
}

func (r *recordingSender) countFor(peer PeerID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent[peer])
}

func TestAnnounceFloodsEveryPeerExceptSelf(t *testing.T) {
	table := New(0.2, 0.2, time.Second, time.Minute, 32, nil)
	self := randomPeerID(t)
	p1 := randomPeerID(t)
	p2 := randomPeerID(t)
	now := time.Now()
	table.Upsert(newTestInfo(self, now))
	table.Upsert(newTestInfo(p1, now))
	table.Upsert(newTestInfo(p2, now))

	sender := newRecordingSender()
	d := NewDiscovery(table, sender, PeerRecordOf{PeerID: self, ProtocolVersion: ProtocolVersion}, time.Minute, 1024)
	d.Announce()

	require.Equal(t, 1, sender.countFor(p1))
	require.Equal(t, 1, sender.countFor(p2))
	require.Equal(t, 0, sender.countFor(self))
}

func TestHandleQueryCapsResponseAtMaxAgentsInResponse(t *testing.T) {
	table := New(0.2, 0.2, time.Second, time.Minute, 2, nil)
	self := randomPeerID(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		table.Upsert(newTestInfo(randomPeerID(t), now))
	}
	sender := newRecordingSender()
	requester := randomPeerID(t)
	d := NewDiscovery(table, sender, PeerRecordOf{PeerID: self, ProtocolVersion: ProtocolVersion}, time.Minute, 1024)

	err := d.HandleQuery(requester, wire.DiscoveryQuery{QueryID: 1, Requester: requester[:], MaxResults: 10}, now)
	require.NoError(t, err)
	require.Equal(t, 1, sender.countFor(requester))

	frame := sender.sent[requester][0]
	require.Equal(t, wire.MsgDiscoveryResponse, frame.Type)
	resp, err := wire.DecodeDiscoveryResponse(frame.Payload)
	require.NoError(t, err)
	require.LessOrEqual(t, len(resp.Peers), 2)
}

func TestHandleResponseMergesPeersIntoTable(t *testing.T) {
	self := randomPeerID(t)
	other := randomPeerID(t)
	table := New(0.2, 0.2, time.Second, time.Minute, 32, nil)
	sender := newRecordingSender()
	d := NewDiscovery(table, sender, PeerRecordOf{PeerID: self}, time.Minute, 1024)

	resp := wire.DiscoveryResponse{QueryID: 1, Peers: []wire.PeerRecord{{PeerID: other[:], ProtocolVersion: ProtocolVersion}}}
	d.HandleResponse(randomPeerID(t), resp, time.Now())

	_, ok := table.Get(other)
	require.True(t, ok)
}

func TestHandleGoodbyeRemovesPeer(t *testing.T) {
	self := randomPeerID(t)
	leaving := randomPeerID(t)
	table := New(0.2, 0.2, time.Second, time.Minute, 32, nil)
	table.Upsert(newTestInfo(leaving, time.Now()))
	sender := newRecordingSender()
	d := NewDiscovery(table, sender, PeerRecordOf{PeerID: self}, time.Minute, 1024)

	d.HandleGoodbye(leaving)
	_, ok := table.Get(leaving)
	require.False(t, ok)
}
