package dagstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qudag/qudag/crypto/pq"
)

type author struct {
	pub pq.DSAPublicKey
	sk  pq.DSAPrivateKey
}

func newAuthor(t *testing.T) author {
	t.Helper()
	pub, sk, err := pq.DSAKeyGen()
	require.NoError(t, err)
	return author{pub: pub, sk: sk}
}

func (a author) build(parents []VertexID, payload []byte, ts uint64) *Vertex {
	v := &Vertex{Parents: parents, Payload: payload, Timestamp: ts, AuthorPubkey: a.pub}
	sig, err := pq.DSASign(a.sk, v.canonicalBytes())
	if err != nil {
		panic(err)
	}
	v.Signature = sig
	v.ID = v.ComputeID()
	return v
}

func TestSubmitGenesisThenChild(t *testing.T) {
	a := newAuthor(t)
	s := New(8, time.Second, 128, nil)

	genesis := a.build(nil, []byte{0x00}, 1)
	outcome, err := s.Submit(genesis, true, time.Now())
	require.NoError(t, err)
	require.Equal(t, AdmitPending, outcome)

	child := a.build([]VertexID{genesis.ID}, []byte{0x01}, 2)
	outcome, err = s.Submit(child, false, time.Now())
	require.NoError(t, err)
	require.Equal(t, AdmitPending, outcome)

	require.Equal(t, []VertexID{child.ID}, s.Frontier())
	require.Equal(t, []VertexID{child.ID}, s.Children(genesis.ID))
}

func TestSubmitRejectsNonGenesisWithNoParents(t *testing.T) {
	a := newAuthor(t)
	s := New(8, time.Second, 128, nil)
	v := a.build(nil, []byte{0x00}, 1)
	outcome, err := s.Submit(v, false, time.Now())
	require.Equal(t, AdmitRejected, outcome)
	require.ErrorIs(t, err, ErrEmptyNonGenesis)
}

func TestSubmitRejectsTamperedSignature(t *testing.T) {
	a := newAuthor(t)
	s := New(8, time.Second, 128, nil)
	v := a.build(nil, []byte{0x00}, 1)
	v.Signature[0] ^= 0xFF
	outcome, err := s.Submit(v, true, time.Now())
	require.Equal(t, AdmitRejected, outcome)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSubmitParksOnMissingParent(t *testing.T) {
	a := newAuthor(t)
	s := New(8, time.Second, 128, nil)

	genesis := a.build(nil, []byte{0x00}, 1)
	child := a.build([]VertexID{genesis.ID}, []byte{0x01}, 2)

	outcome, err := s.Submit(child, false, time.Now())
	require.NoError(t, err)
	require.Equal(t, AdmitParked, outcome)

	_, _, ok := s.Get(child.ID)
	require.False(t, ok)

	outcome, err = s.Submit(genesis, true, time.Now())
	require.NoError(t, err)
	require.Equal(t, AdmitPending, outcome)

	_, status, ok := s.Get(child.ID)
	require.True(t, ok)
	require.Equal(t, StatusPending, status)
}

func TestSubmitIsIdempotent(t *testing.T) {
	a := newAuthor(t)
	s := New(8, time.Second, 128, nil)
	v := a.build(nil, []byte{0x00}, 1)

	outcome, err := s.Submit(v, true, time.Now())
	require.NoError(t, err)
	require.Equal(t, AdmitPending, outcome)

	outcome, err = s.Submit(v, true, time.Now())
	require.NoError(t, err)
	require.Equal(t, AdmitDuplicate, outcome)
}

func TestSweepParkingDeadlines(t *testing.T) {
	a := newAuthor(t)
	s := New(8, time.Millisecond, 128, nil)

	genesis := a.build(nil, []byte{0x00}, 1)
	child := a.build([]VertexID{genesis.ID}, []byte{0x01}, 2)

	start := time.Now()
	outcome, err := s.Submit(child, false, start)
	require.NoError(t, err)
	require.Equal(t, AdmitParked, outcome)

	expired := s.SweepParkingDeadlines(start.Add(10 * time.Millisecond))
	require.Equal(t, []VertexID{child.ID}, expired)
}

func TestNoCyclesReachableFromAnyVertex(t *testing.T) {
	a := newAuthor(t)
	s := New(8, time.Second, 128, nil)

	genesis := a.build(nil, []byte{0x00}, 1)
	_, err := s.Submit(genesis, true, time.Now())
	require.NoError(t, err)

	cur := genesis
	for i := 0; i < 20; i++ {
		cur = a.build([]VertexID{cur.ID}, []byte{byte(i)}, uint64(i+2))
		_, err := s.Submit(cur, false, time.Now())
		require.NoError(t, err)
	}

	require.True(t, len(s.Ancestors(cur.ID, 100)) <= 21)
}
