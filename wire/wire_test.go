package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.PutUint32(7)
	e.PutUint64(1 << 40)
	e.PutFloat64(0.6667)
	e.PutBytes([]byte("hello"))
	e.PutString("qudag")
	e.PutBytesList([][]byte{{1, 2}, {3, 4, 5}})

	d := NewDecoder(e.Bytes())
	u32, err := d.Uint32()
	require.NoError(t, err)
	require.EqualValues(t, 7, u32)

	u64, err := d.Uint64()
	require.NoError(t, err)
	require.EqualValues(t, 1<<40, u64)

	f, err := d.Float64()
	require.NoError(t, err)
	require.InDelta(t, 0.6667, f, 1e-12)

	b, err := d.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)

	s, err := d.String()
	require.NoError(t, err)
	require.Equal(t, "qudag", s)

	list, err := d.BytesList()
	require.NoError(t, err)
	require.Equal(t, [][]byte{{1, 2}, {3, 4, 5}}, list)

	require.True(t, d.Done())
}

func TestDecoderRejectsTruncatedInput(t *testing.T) {
	d := NewDecoder([]byte{1, 2})
	_, err := d.Uint32()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecoderRejectsOversizedLengthPrefix(t *testing.T) {
	e := NewEncoder()
	e.PutUint32(1 << 20)
	_, err := NewDecoder(e.Bytes()).Bytes()
	require.ErrorIs(t, err, ErrFieldTooLarge)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := Query{VertexID: []byte{1, 2, 3}, QueryID: 42, Sender: []byte("node-a")}
	require.NoError(t, WriteFrame(&buf, Frame{Type: MsgQuery, Payload: msg.Encode()}))

	f, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, MsgQuery, f.Type)

	got, err := DecodeQuery(f.Payload)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestFrameRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Type: MsgKeepalive, Payload: make([]byte, 100)}))
	_, err := ReadFrame(&buf, 10)
	require.Error(t, err)
}

func TestMessageEncodeDecodeRoundTrips(t *testing.T) {
	qr := QueryResponse{VertexID: []byte("v1"), QueryID: 9, Confidence: 0.875, IsFinal: true, Voter: []byte("peer-7")}
	got, err := DecodeQueryResponse(qr.Encode())
	require.NoError(t, err)
	require.Equal(t, qr, got)

	va := VertexAnnouncement{SerializedVertex: []byte("vertex-bytes"), OuterSignature: nil}
	gotVA, err := DecodeVertexAnnouncement(va.Encode())
	require.NoError(t, err)
	require.Equal(t, va.SerializedVertex, gotVA.SerializedVertex)
	require.Empty(t, gotVA.OuterSignature)

	sr := SyncRequest{FromHeight: 10, ToHeight: 20, Requester: []byte("node-b")}
	gotSR, err := DecodeSyncRequest(sr.Encode())
	require.NoError(t, err)
	require.Equal(t, sr, gotSR)

	sresp := SyncResponse{Vertices: [][]byte{[]byte("a"), []byte("b")}, CurrentHeight: 20}
	gotSResp, err := DecodeSyncResponse(sresp.Encode())
	require.NoError(t, err)
	require.Equal(t, sresp, gotSResp)

	fn := FinalityNotification{VertexID: []byte("v1"), Height: 5, TotalOrderPosition: 5}
	gotFN, err := DecodeFinalityNotification(fn.Encode())
	require.NoError(t, err)
	require.Equal(t, fn, gotFN)

	of := OnionForward{HopIndex: 2, Wire: []byte("layer-bytes")}
	gotOF, err := DecodeOnionForward(of.Encode())
	require.NoError(t, err)
	require.Equal(t, of, gotOF)
}
