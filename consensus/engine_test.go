package consensus

import (
	"context"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/qudag/qudag/config"
	"github.com/qudag/qudag/dagstate"
)

func testPeers(n int) []PeerID {
	out := make([]PeerID, n)
	for i := range out {
		out[i] = ids.GenerateTestNodeID()
	}
	return out
}

func allHonestQuery(vertexID VertexID) QueryFunc {
	return func(ctx context.Context, peer PeerID, v VertexID) (Vote, error) {
		return Vote{Confidence: 1.0, IsFinal: true}, nil
	}
}

func TestRunRoundFinalizesWithAllHonestPeers(t *testing.T) {
	params := config.Local()
	params.K = 20
	params.Alpha = 14
	params.Beta = 20
	e := New(params)

	peers := testPeers(21)
	self := peers[0]
	vertexID := ids.GenerateTestID()

	query := allHonestQuery(vertexID)
	var outcome RoundOutcome
	rounds := 0
	for outcome != RoundFinalized && rounds < params.Beta+5 {
		var err error
		outcome, err = e.RunRound(context.Background(), vertexID, peers, self, query)
		require.NoError(t, err)
		rounds++
	}
	require.Equal(t, RoundFinalized, outcome)
	require.Equal(t, params.Beta, rounds)
}

func TestRunRoundNeverFinalizesUnderHeavyOpposition(t *testing.T) {
	params := config.Local()
	params.K = 20
	params.Alpha = 14
	params.Beta = 5
	e := New(params)

	peers := testPeers(21)
	self := peers[0]
	vertexID := ids.GenerateTestID()

	opposed := func(ctx context.Context, peer PeerID, v VertexID) (Vote, error) {
		return Vote{Confidence: 0.0, IsFinal: false}, nil
	}

	for i := 0; i < 50; i++ {
		outcome, err := e.RunRound(context.Background(), vertexID, peers, self, opposed)
		require.NoError(t, err)
		require.NotEqual(t, RoundFinalized, outcome)
	}
}

func TestRunRoundAbandonsOnInsufficientResponses(t *testing.T) {
	params := config.Local()
	e := New(params)

	peers := testPeers(21)
	self := peers[0]
	vertexID := ids.GenerateTestID()

	noResponse := func(ctx context.Context, peer PeerID, v VertexID) (Vote, error) {
		return Vote{}, context.DeadlineExceeded
	}

	outcome, err := e.RunRound(context.Background(), vertexID, peers, self, noResponse)
	require.ErrorIs(t, err, ErrQueryTimeout)
	require.Equal(t, RoundAbandoned, outcome)
}

func TestVoteFromStatusMapping(t *testing.T) {
	require.Equal(t, Vote{Confidence: 1.0, IsFinal: true}, VoteFromStatus(dagstate.StatusFinal, true, 0.1))
	require.Equal(t, Vote{Confidence: 0, IsFinal: false}, VoteFromStatus(dagstate.StatusRejected, true, 0.9))
	require.Equal(t, Vote{Confidence: 0, IsFinal: false}, VoteFromStatus(dagstate.StatusPending, false, 0))
	v := VoteFromStatus(dagstate.StatusPreferred, true, 0.2)
	require.True(t, v.Confidence >= 0.5)
}

func TestResolveConflictPrefersHigherConfidenceThenSmallerID(t *testing.T) {
	params := config.Default()
	e := New(params)

	a := ids.GenerateTestID()
	b := ids.GenerateTestID()

	winner := e.ResolveConflict(a, b)
	expected := a
	if b.Compare(a) < 0 {
		expected = b
	}
	require.Equal(t, expected, winner)

	e.Record(a).update(1, 20, 20, params.Alpha, params.Beta, params.EMALambda, params.ThetaFinal)
	require.Equal(t, a, e.ResolveConflict(a, b))
}
