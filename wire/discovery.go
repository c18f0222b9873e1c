package wire

// The five discovery messages, flooded through known peers
// rather than relying on multicast. Each carries enough identity
// material for the receiver to update its peer table without a
// separate lookup round-trip.

// PeerRecord is the wire shape of one peer advertisement, carried
// inside Announce and DiscoveryResponse.
type PeerRecord struct {
	PeerID          []byte
	KEMPublic       []byte
	DSAPublic       []byte
	Fingerprint     []byte
	ProtocolVersion uint32
	Locator         string
}

func (p PeerRecord) encode(e *Encoder) {
	e.PutBytes(p.PeerID)
	e.PutBytes(p.KEMPublic)
	e.PutBytes(p.DSAPublic)
	e.PutBytes(p.Fingerprint)
	e.PutUint32(p.ProtocolVersion)
	e.PutString(p.Locator)
}

func decodePeerRecord(d *Decoder) (PeerRecord, error) {
	var p PeerRecord
	var err error
	if p.PeerID, err = d.Bytes(); err != nil {
		return PeerRecord{}, err
	}
	if p.KEMPublic, err = d.Bytes(); err != nil {
		return PeerRecord{}, err
	}
	if p.DSAPublic, err = d.Bytes(); err != nil {
		return PeerRecord{}, err
	}
	if p.Fingerprint, err = d.Bytes(); err != nil {
		return PeerRecord{}, err
	}
	if p.ProtocolVersion, err = d.Uint32(); err != nil {
		return PeerRecord{}, err
	}
	if p.Locator, err = d.String(); err != nil {
		return PeerRecord{}, err
	}
	return p, nil
}

// Announce advertises the sender's own identity to a peer it is freshly
// connected to, or re-advertises periodically as a liveness signal.
type Announce struct {
	Self PeerRecord
}

func (a Announce) Encode() []byte {
	e := NewEncoder()
	a.Self.encode(e)
	return e.Bytes()
}

func DecodeAnnounce(data []byte) (Announce, error) {
	d := NewDecoder(data)
	self, err := decodePeerRecord(d)
	if err != nil {
		return Announce{}, err
	}
	return Announce{Self: self}, nil
}

// DiscoveryQuery asks a peer to share what it knows of the overlay,
// optionally scoped to a target fingerprint (e.g. high-anonymity nodes
// only, matching fingerprint-filtered hop selection).
type DiscoveryQuery struct {
	QueryID         uint64
	Requester       []byte
	TargetFilter    []byte // empty means no filter
	MaxResults      uint32
}

func (q DiscoveryQuery) Encode() []byte {
	e := NewEncoder()
	e.PutUint64(q.QueryID)
	e.PutBytes(q.Requester)
	e.PutBytes(q.TargetFilter)
	e.PutUint32(q.MaxResults)
	return e.Bytes()
}

func DecodeDiscoveryQuery(data []byte) (DiscoveryQuery, error) {
	d := NewDecoder(data)
	var q DiscoveryQuery
	var err error
	if q.QueryID, err = d.Uint64(); err != nil {
		return DiscoveryQuery{}, err
	}
	if q.Requester, err = d.Bytes(); err != nil {
		return DiscoveryQuery{}, err
	}
	if q.TargetFilter, err = d.Bytes(); err != nil {
		return DiscoveryQuery{}, err
	}
	if q.MaxResults, err = d.Uint32(); err != nil {
		return DiscoveryQuery{}, err
	}
	return q, nil
}

// DiscoveryResponse answers a DiscoveryQuery with at most
// max_agents_in_response peer records.
type DiscoveryResponse struct {
	QueryID uint64
	Peers   []PeerRecord
}

func (r DiscoveryResponse) Encode() []byte {
	e := NewEncoder()
	e.PutUint64(r.QueryID)
	e.PutUint32(uint32(len(r.Peers)))
	for _, p := range r.Peers {
		p.encode(e)
	}
	return e.Bytes()
}

func DecodeDiscoveryResponse(data []byte) (DiscoveryResponse, error) {
	d := NewDecoder(data)
	var r DiscoveryResponse
	var err error
	if r.QueryID, err = d.Uint64(); err != nil {
		return DiscoveryResponse{}, err
	}
	n, err := d.Uint32()
	if err != nil {
		return DiscoveryResponse{}, err
	}
	if int(n) > d.Remaining() {
		return DiscoveryResponse{}, ErrFieldTooLarge
	}
	r.Peers = make([]PeerRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := decodePeerRecord(d)
		if err != nil {
			return DiscoveryResponse{}, err
		}
		r.Peers = append(r.Peers, p)
	}
	return r, nil
}

// Heartbeat is a liveness ping; receipt alone resets partition
// detection for the sender.
type Heartbeat struct {
	Sender    []byte
	Timestamp uint64
}

func (h Heartbeat) Encode() []byte {
	e := NewEncoder()
	e.PutBytes(h.Sender)
	e.PutUint64(h.Timestamp)
	return e.Bytes()
}

func DecodeHeartbeat(data []byte) (Heartbeat, error) {
	d := NewDecoder(data)
	var h Heartbeat
	var err error
	if h.Sender, err = d.Bytes(); err != nil {
		return Heartbeat{}, err
	}
	if h.Timestamp, err = d.Uint64(); err != nil {
		return Heartbeat{}, err
	}
	return h, nil
}

// Goodbye announces a voluntary departure from the overlay. It is sent
// under the MsgGoodbye control tag and carries a free-form reason
// string.
type Goodbye struct {
	Sender []byte
	Reason string
}

func (g Goodbye) Encode() []byte {
	e := NewEncoder()
	e.PutBytes(g.Sender)
	e.PutString(g.Reason)
	return e.Bytes()
}

func DecodeGoodbye(data []byte) (Goodbye, error) {
	d := NewDecoder(data)
	var g Goodbye
	var err error
	if g.Sender, err = d.Bytes(); err != nil {
		return Goodbye{}, err
	}
	if g.Reason, err = d.String(); err != nil {
		return Goodbye{}, err
	}
	return g, nil
}
