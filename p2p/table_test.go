package p2p

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func randomPeerID(t *testing.T) PeerID {
	t.Helper()
	var raw [20]byte
	_, err := rand.Read(raw[:])
	require.NoError(t, err)
	id, err := ids.ToNodeID(raw[:])
	require.NoError(t, err)
	return id
}

func newTestInfo(id PeerID, now time.Time) *Info {
	return &Info{PeerID: id, Reputation: 1.0, LastSeen: now, ConnectedAt: now}
}

func TestReputationStaysWithinBounds(t *testing.T) {
	table := New(0.2, 0.2, time.Second, time.Minute, 32, nil)
	id := randomPeerID(t)
	table.Upsert(newTestInfo(id, time.Now()))

	for i := 0; i < 100; i++ {
		table.Record(id, OutcomeTimeout)
	}
	info, ok := table.Get(id)
	require.True(t, ok)
	require.GreaterOrEqual(t, info.Reputation, 0.0)
	require.LessOrEqual(t, info.Reputation, 1.0)

	for i := 0; i < 100; i++ {
		table.Record(id, OutcomeGood)
	}
	info, ok = table.Get(id)
	require.True(t, ok)
	require.GreaterOrEqual(t, info.Reputation, 0.0)
	require.LessOrEqual(t, info.Reputation, 1.0)
	require.InDelta(t, 1.0, info.Reputation, 1e-6)
}

func TestEligibleExcludesLowReputationAndSelf(t *testing.T) {
	table := New(0.5, 0.3, time.Second, time.Minute, 32, nil)
	self := randomPeerID(t)
	good := randomPeerID(t)
	bad := randomPeerID(t)

	table.SetSelf(self)
	table.Upsert(newTestInfo(self, time.Now()))
	table.Upsert(newTestInfo(good, time.Now()))
	table.Upsert(newTestInfo(bad, time.Now()))
	table.Record(bad, OutcomeTimeout)
	table.Record(bad, OutcomeTimeout)
	table.Record(bad, OutcomeTimeout)

	eligible := table.Eligible()
	require.Contains(t, eligible, good)
	require.NotContains(t, eligible, self)
	require.NotContains(t, eligible, bad)
}

func TestPartitionDetectionThenEviction(t *testing.T) {
	table := New(0.2, 0.2, 10*time.Second, 30*time.Second, 32, nil)
	id := randomPeerID(t)
	start := time.Now()
	table.Upsert(newTestInfo(id, start))

	event, ok := DetectPartitions(table, start.Add(5*time.Second))
	require.False(t, ok)
	_ = event

	event, ok = DetectPartitions(table, start.Add(11*time.Second))
	require.True(t, ok)
	require.Contains(t, event.Peers, id)

	_, stillPresent := table.Get(id)
	require.True(t, stillPresent, "partition detection must not evict by itself")

	stale := table.EvictStale(start.Add(31 * time.Second))
	require.Contains(t, stale, id)
	_, present := table.Get(id)
	require.False(t, present)
}

func TestFingerprintFilterExcludesSelfAndAboveThreshold(t *testing.T) {
	table := New(0.2, 0.2, time.Second, time.Minute, 32, nil)
	now := time.Now()
	self := randomPeerID(t)
	table.SetSelf(self)
	table.Upsert(newTestInfo(self, now))

	low := newTestInfo(randomPeerID(t), now)
	low.Fingerprint[0] = 10
	high := newTestInfo(randomPeerID(t), now)
	high.Fingerprint[0] = 200
	table.Upsert(low)
	table.Upsert(high)

	filtered := table.FingerprintFilter(128)
	var ids []PeerID
	for _, info := range filtered {
		ids = append(ids, info.PeerID)
	}
	require.Contains(t, ids, low.PeerID)
	require.NotContains(t, ids, high.PeerID)
	require.NotContains(t, ids, self)

	all := table.FingerprintFilter(256)
	require.Len(t, all, 2)
}

func TestForResponseBoundedByMaxAgentsInResponse(t *testing.T) {
	table := New(0.2, 0.2, time.Second, time.Minute, 2, nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		table.Upsert(newTestInfo(randomPeerID(t), now))
	}
	require.LessOrEqual(t, len(table.ForResponse()), 2)
}
