package engine

import (
	"fmt"
	"time"

	"github.com/luxfi/ids"

	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/dagstate"
	"github.com/qudag/qudag/p2p"
	"github.com/qudag/qudag/wire"
)

func toVertexID(b []byte) (dagstate.VertexID, error) { return ids.ToID(b) }

// SubmitVertex authors, signs, admits, and gossips a new vertex
// carrying payload, selecting parents from the current frontier per
// the tip-selection contract.
func (e *Engine) SubmitVertex(payload []byte, now time.Time) (*dagstate.Vertex, error) {
	parents := SelectTips(e.store, e.consensus, e.params.K, e.params.MaxParents)
	isGenesis := len(parents) == 0

	v := &dagstate.Vertex{
		Parents:      parents,
		Payload:      payload,
		Timestamp:    uint64(now.UnixNano()),
		AuthorPubkey: e.dsaPub,
	}
	sig, err := pq.DSASign(e.dsaSec, v.CanonicalBytes())
	if err != nil {
		return nil, err
	}
	v.Signature = sig
	v.ID = v.ComputeID()

	outcome, err := e.store.Submit(v, isGenesis, now)
	if err != nil {
		return nil, fmt.Errorf("engine: submit authored vertex: %w", err)
	}
	if outcome == dagstate.AdmitRejected {
		return nil, fmt.Errorf("engine: authored vertex rejected")
	}
	if isGenesis {
		e.genesisMu.Lock()
		if e.genesisID == nil {
			id := v.ID
			e.genesisID = &id
		}
		e.genesisMu.Unlock()
	}

	e.bus.Publish(Event{Kind: VertexReceived, VertexID: v.ID})
	e.observe(func(c *collectors) { c.verticesReceived.Inc() })
	e.gossipVertex(v, p2p.PeerID{})
	return v, nil
}

// gossipVertex announces v to the network, optionally routing it
// through an onion-wrapped relay chain before falling
// back to flooding it in the clear to every known peer other than
// except (the peer it was just received from, if any).
func (e *Engine) gossipVertex(v *dagstate.Vertex, except p2p.PeerID) {
	msg := wire.VertexAnnouncement{SerializedVertex: v.Encode()}
	frame := wire.Frame{Type: wire.MsgVertexAnnouncement, Payload: msg.Encode()}
	if e.gossipViaOnion(frame) {
		return
	}
	for _, info := range e.table.All() {
		if info.PeerID == except {
			continue
		}
		_ = e.sender.SendTo(info.PeerID, frame)
	}
}

// gossipFinality announces a vertex's finalization, following the same
// onion-or-flood policy as gossipVertex: finality notifications
// may be flooded or onion-routed depending on policy.
func (e *Engine) gossipFinality(n wire.FinalityNotification) {
	frame := wire.Frame{Type: wire.MsgFinalityNotification, Payload: n.Encode()}
	if e.gossipViaOnion(frame) {
		return
	}
	for _, info := range e.table.All() {
		_ = e.sender.SendTo(info.PeerID, frame)
	}
}

func (e *Engine) handleVertexAnnouncement(from p2p.PeerID, msg wire.VertexAnnouncement, now time.Time) error {
	v, err := dagstate.DecodeVertex(msg.SerializedVertex)
	if err != nil {
		return err
	}
	// A node with no genesis id yet adopts the first zero-parent vertex
	// it receives as genesis, the same rule handleSyncResponse applies.
	isGen := e.isGenesis(v)
	adopting := !isGen && len(v.Parents) == 0 && !e.genesisKnown()
	if adopting {
		isGen = true
	}
	outcome, err := e.store.Submit(v, isGen, now)
	if err != nil && outcome != dagstate.AdmitParked {
		return err
	}

	switch outcome {
	case dagstate.AdmitPending:
		if adopting {
			e.SetGenesisID(v.ID)
		}
		e.bus.Publish(Event{Kind: VertexReceived, VertexID: v.ID})
		e.observe(func(c *collectors) { c.verticesReceived.Inc() })
		e.gossipVertex(v, from)
	case dagstate.AdmitParked:
		e.requestMissingParents(from, v)
	}
	return nil
}

// requestMissingParents asks from for every parent of v this node does
// not yet hold, resolving the parking entry v was just placed in.
func (e *Engine) requestMissingParents(from p2p.PeerID, v *dagstate.Vertex) {
	for _, p := range v.Parents {
		if _, _, ok := e.store.Get(p); ok {
			continue
		}
		pid := p
		req := wire.VertexRequest{VertexID: pid[:], Requester: e.self[:]}
		frame := wire.Frame{Type: wire.MsgVertexRequest, Payload: req.Encode()}
		_ = e.sender.SendTo(from, frame)
	}
}

// handleFinalityNotification implements guarded finality
// propagation: a notification never flips local status by itself. If
// the vertex is unknown it is fetched from the sender; once present, it
// stays in this node's own sampling rounds until its own record crosses
// the finality threshold, at which point the consensus loop finalizes
// it exactly as if the notification had never arrived. Blind adoption
// of a flooded claim would let one finalizing node cascade a bad
// decision through the whole overlay.
func (e *Engine) handleFinalityNotification(from p2p.PeerID, msg wire.FinalityNotification) error {
	vid, err := toVertexID(msg.VertexID)
	if err != nil {
		return err
	}
	if _, _, ok := e.store.Get(vid); !ok {
		req := wire.VertexRequest{VertexID: vid[:], Requester: e.self[:]}
		frame := wire.Frame{Type: wire.MsgVertexRequest, Payload: req.Encode()}
		return e.sender.SendTo(from, frame)
	}
	return nil
}

func (e *Engine) handleVertexRequest(from p2p.PeerID, msg wire.VertexRequest) error {
	vid, err := toVertexID(msg.VertexID)
	if err != nil {
		return err
	}
	v, _, ok := e.store.Get(vid)
	if !ok {
		return nil
	}
	resp := wire.VertexAnnouncement{SerializedVertex: v.Encode()}
	frame := wire.Frame{Type: wire.MsgVertexAnnouncement, Payload: resp.Encode()}
	return e.sender.SendTo(from, frame)
}

func (e *Engine) handleSyncRequest(from p2p.PeerID, msg wire.SyncRequest) error {
	to := msg.ToHeight
	vertices := e.store.Between(msg.FromHeight, to)
	if len(vertices) > e.params.SyncBatchSize {
		vertices = vertices[:e.params.SyncBatchSize]
	}
	out := make([][]byte, len(vertices))
	for i, v := range vertices {
		out[i] = v.Encode()
	}
	resp := wire.SyncResponse{Vertices: out, CurrentHeight: e.store.CurrentHeight()}
	frame := wire.Frame{Type: wire.MsgSyncResponse, Payload: resp.Encode()}
	return e.sender.SendTo(from, frame)
}

func (e *Engine) handleSyncResponse(from p2p.PeerID, msg wire.SyncResponse, now time.Time) error {
	admitted := 0
	for _, vb := range msg.Vertices {
		v, err := dagstate.DecodeVertex(vb)
		if err != nil {
			continue
		}
		// A node syncing from scratch has no genesis id yet; the
		// zero-parent vertex at the base of the batch it explicitly asked
		// for is that genesis. handleVertexAnnouncement applies the same
		// adoption to gossiped announcements.
		isGen := e.isGenesis(v)
		adopting := false
		if !isGen && len(v.Parents) == 0 && !e.genesisKnown() {
			isGen = true
			adopting = true
		}
		if outcome, _ := e.store.Submit(v, isGen, now); outcome == dagstate.AdmitPending {
			admitted++
			if adopting {
				e.SetGenesisID(v.ID)
			}
		}
	}
	e.bus.Publish(Event{Kind: SyncCompleted, Count: admitted})
	e.observe(func(c *collectors) { c.syncBatches.Inc() })
	return nil
}
