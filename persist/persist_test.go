package persist

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/qudag/qudag/dagstate"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestVertexLogAppendAndReplayInOrder(t *testing.T) {
	db := openTestDB(t)

	encoded := [][]byte{
		[]byte("vertex-zero"),
		[]byte("vertex-one"),
		[]byte("vertex-two"),
	}
	for i, e := range encoded {
		seq, err := db.AppendVertex(e)
		require.NoError(t, err)
		require.Equal(t, uint64(i), seq)
	}
	require.Equal(t, uint64(3), db.VertexCount())

	var replayed [][]byte
	err := db.ReplayVertices(func(seq uint64, e []byte) error {
		require.Equal(t, uint64(len(replayed)), seq)
		replayed = append(replayed, e)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, encoded, replayed)
}

func TestVertexCountSurvivesReopenOfSameHandle(t *testing.T) {
	db := openTestDB(t)
	_, err := db.AppendVertex([]byte("only"))
	require.NoError(t, err)

	count, err := db.readVertexCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestStatusRoundTrip(t *testing.T) {
	db := openTestDB(t)
	id := ids.GenerateTestID()

	_, err := db.GetStatus(id)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.PutStatus(id, dagstate.StatusPreferred))
	status, err := db.GetStatus(id)
	require.NoError(t, err)
	require.Equal(t, dagstate.StatusPreferred, status)

	require.NoError(t, db.PutStatus(id, dagstate.StatusFinal))
	status, err = db.GetStatus(id)
	require.NoError(t, err)
	require.Equal(t, dagstate.StatusFinal, status)
}

func TestSnapshotBlobsReplacePriorWrites(t *testing.T) {
	db := openTestDB(t)

	_, ok, err := db.ConsensusState()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.PutConsensusState([]byte("first")))
	require.NoError(t, db.PutConsensusState([]byte("second")))
	blob, ok, err := db.ConsensusState()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("second"), blob)

	require.NoError(t, db.PutPeerTable([]byte("peers")))
	blob, ok, err = db.PeerTable()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("peers"), blob)
}
