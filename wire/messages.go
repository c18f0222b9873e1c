package wire

// The seven consensus messages, each canonically encoded with
// the codec in codec.go and carried in a Frame of the matching
// MessageType.

// Query asks a sampled peer for its current confidence in a vertex.
type Query struct {
	VertexID []byte
	QueryID  uint64
	Sender   []byte
}

func (q Query) Encode() []byte {
	e := NewEncoder()
	e.PutBytes(q.VertexID)
	e.PutUint64(q.QueryID)
	e.PutBytes(q.Sender)
	return e.Bytes()
}

func DecodeQuery(data []byte) (Query, error) {
	d := NewDecoder(data)
	var q Query
	var err error
	if q.VertexID, err = d.Bytes(); err != nil {
		return Query{}, err
	}
	if q.QueryID, err = d.Uint64(); err != nil {
		return Query{}, err
	}
	if q.Sender, err = d.Bytes(); err != nil {
		return Query{}, err
	}
	return q, nil
}

// QueryResponse answers a Query with the responder's local view.
type QueryResponse struct {
	VertexID   []byte
	QueryID    uint64
	Confidence float64
	IsFinal    bool
	Voter      []byte
}

func (r QueryResponse) Encode() []byte {
	e := NewEncoder()
	e.PutBytes(r.VertexID)
	e.PutUint64(r.QueryID)
	e.PutFloat64(r.Confidence)
	if r.IsFinal {
		e.PutUint8(1)
	} else {
		e.PutUint8(0)
	}
	e.PutBytes(r.Voter)
	return e.Bytes()
}

func DecodeQueryResponse(data []byte) (QueryResponse, error) {
	d := NewDecoder(data)
	var r QueryResponse
	var err error
	if r.VertexID, err = d.Bytes(); err != nil {
		return QueryResponse{}, err
	}
	if r.QueryID, err = d.Uint64(); err != nil {
		return QueryResponse{}, err
	}
	if r.Confidence, err = d.Float64(); err != nil {
		return QueryResponse{}, err
	}
	final, err := d.Uint8()
	if err != nil {
		return QueryResponse{}, err
	}
	r.IsFinal = final != 0
	if r.Voter, err = d.Bytes(); err != nil {
		return QueryResponse{}, err
	}
	return r, nil
}

// VertexAnnouncement gossips a newly authored or forwarded vertex. An
// empty OuterSignature means the announcement carries no onion-routed
// outer signature layer.
type VertexAnnouncement struct {
	SerializedVertex []byte
	OuterSignature   []byte
}

func (a VertexAnnouncement) Encode() []byte {
	e := NewEncoder()
	e.PutBytes(a.SerializedVertex)
	e.PutBytes(a.OuterSignature)
	return e.Bytes()
}

func DecodeVertexAnnouncement(data []byte) (VertexAnnouncement, error) {
	d := NewDecoder(data)
	var a VertexAnnouncement
	var err error
	if a.SerializedVertex, err = d.Bytes(); err != nil {
		return VertexAnnouncement{}, err
	}
	if a.OuterSignature, err = d.Bytes(); err != nil {
		return VertexAnnouncement{}, err
	}
	return a, nil
}

// VertexRequest asks a peer to send a vertex the requester is missing,
// typically to resolve a parked parent or a sync gap.
type VertexRequest struct {
	VertexID  []byte
	Requester []byte
}

func (r VertexRequest) Encode() []byte {
	e := NewEncoder()
	e.PutBytes(r.VertexID)
	e.PutBytes(r.Requester)
	return e.Bytes()
}

func DecodeVertexRequest(data []byte) (VertexRequest, error) {
	d := NewDecoder(data)
	var r VertexRequest
	var err error
	if r.VertexID, err = d.Bytes(); err != nil {
		return VertexRequest{}, err
	}
	if r.Requester, err = d.Bytes(); err != nil {
		return VertexRequest{}, err
	}
	return r, nil
}

// SyncRequest asks for vertices admitted between two heights.
type SyncRequest struct {
	FromHeight uint64
	ToHeight   uint64
	Requester  []byte
}

func (r SyncRequest) Encode() []byte {
	e := NewEncoder()
	e.PutUint64(r.FromHeight)
	e.PutUint64(r.ToHeight)
	e.PutBytes(r.Requester)
	return e.Bytes()
}

func DecodeSyncRequest(data []byte) (SyncRequest, error) {
	d := NewDecoder(data)
	var r SyncRequest
	var err error
	if r.FromHeight, err = d.Uint64(); err != nil {
		return SyncRequest{}, err
	}
	if r.ToHeight, err = d.Uint64(); err != nil {
		return SyncRequest{}, err
	}
	if r.Requester, err = d.Bytes(); err != nil {
		return SyncRequest{}, err
	}
	return r, nil
}

// SyncResponse answers a SyncRequest with up to sync_batch_size
// canonically-encoded vertices in topological order.
type SyncResponse struct {
	Vertices      [][]byte
	CurrentHeight uint64
}

func (r SyncResponse) Encode() []byte {
	e := NewEncoder()
	e.PutBytesList(r.Vertices)
	e.PutUint64(r.CurrentHeight)
	return e.Bytes()
}

func DecodeSyncResponse(data []byte) (SyncResponse, error) {
	d := NewDecoder(data)
	var r SyncResponse
	var err error
	if r.Vertices, err = d.BytesList(); err != nil {
		return SyncResponse{}, err
	}
	if r.CurrentHeight, err = d.Uint64(); err != nil {
		return SyncResponse{}, err
	}
	return r, nil
}

// FinalityNotification floods notice that a vertex has become Final.
type FinalityNotification struct {
	VertexID           []byte
	Height             uint64
	TotalOrderPosition uint64
}

func (n FinalityNotification) Encode() []byte {
	e := NewEncoder()
	e.PutBytes(n.VertexID)
	e.PutUint64(n.Height)
	e.PutUint64(n.TotalOrderPosition)
	return e.Bytes()
}

func DecodeFinalityNotification(data []byte) (FinalityNotification, error) {
	d := NewDecoder(data)
	var n FinalityNotification
	var err error
	if n.VertexID, err = d.Bytes(); err != nil {
		return FinalityNotification{}, err
	}
	if n.Height, err = d.Uint64(); err != nil {
		return FinalityNotification{}, err
	}
	if n.TotalOrderPosition, err = d.Uint64(); err != nil {
		return FinalityNotification{}, err
	}
	return n, nil
}

// OnionForward carries one still-wrapped onion layer between relays.
// HopIndex is the position of the relay that must process
// Wire next: the originator sends HopIndex 0 to the first hop, and each
// relay that forwards a non-terminal layer increments it by one. This
// is necessary because an onion layer's wire bytes do not self-describe
// which hop's key unwraps them (onion.ProcessHop takes hopIndex as an
// explicit parameter).
type OnionForward struct {
	HopIndex uint32
	Wire     []byte
}

func (f OnionForward) Encode() []byte {
	e := NewEncoder()
	e.PutUint32(f.HopIndex)
	e.PutBytes(f.Wire)
	return e.Bytes()
}

func DecodeOnionForward(data []byte) (OnionForward, error) {
	d := NewDecoder(data)
	var f OnionForward
	var err error
	if f.HopIndex, err = d.Uint32(); err != nil {
		return OnionForward{}, err
	}
	if f.Wire, err = d.Bytes(); err != nil {
		return OnionForward{}, err
	}
	return f, nil
}
