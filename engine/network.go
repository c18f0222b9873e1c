package engine

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
	"github.com/luxfi/ids"

	"github.com/qudag/qudag/consensus"
	"github.com/qudag/qudag/dagstate"
	"github.com/qudag/qudag/p2p"
	"github.com/qudag/qudag/wire"
)

// QueryClient implements consensus.QueryFunc over a p2p.Sender,
// correlating each outstanding Query by a uuid-derived id so late or
// duplicate responses can be told apart from the one a given RunRound
// call is actually waiting on.
type QueryClient struct {
	sender p2p.Sender
	self   p2p.PeerID
	slots  chan struct{}

	mu      sync.Mutex
	pending map[uint64]chan consensus.Vote
}

// NewQueryClient returns a QueryClient that sends outbound Query frames
// as self and delivers responses to the matching in-flight call.
// maxConcurrent bounds the number of in-flight queries across all
// rounds (max_concurrent_queries); 0 means unbounded.
func NewQueryClient(sender p2p.Sender, self p2p.PeerID, maxConcurrent int) *QueryClient {
	c := &QueryClient{sender: sender, self: self, pending: make(map[uint64]chan consensus.Vote)}
	if maxConcurrent > 0 {
		c.slots = make(chan struct{}, maxConcurrent)
	}
	return c
}

// newQueryID derives a query correlation id from a uuid rather than a
// process-local counter, so ids stay unique across restarts and nodes.
func newQueryID() uint64 {
	id := uuid.New()
	return binary.LittleEndian.Uint64(id[:8])
}

// Query implements consensus.QueryFunc: send a wire.Query to peer and
// block for its QueryResponse, up to ctx's deadline.
func (c *QueryClient) Query(ctx context.Context, peer consensus.PeerID, vertexID consensus.VertexID) (consensus.Vote, error) {
	if c.slots != nil {
		select {
		case c.slots <- struct{}{}:
			defer func() { <-c.slots }()
		case <-ctx.Done():
			return consensus.Vote{}, ctx.Err()
		}
	}

	queryID := newQueryID()
	ch := make(chan consensus.Vote, 1)

	c.mu.Lock()
	c.pending[queryID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, queryID)
		c.mu.Unlock()
	}()

	vid := vertexID
	selfID := c.self
	msg := wire.Query{VertexID: vid[:], QueryID: queryID, Sender: selfID[:]}
	frame := wire.Frame{Type: wire.MsgQuery, Payload: msg.Encode()}
	if err := c.sender.SendTo(peer, frame); err != nil {
		return consensus.Vote{}, err
	}

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return consensus.Vote{}, ctx.Err()
	}
}

// HandleResponse delivers an inbound QueryResponse to whichever Query
// call is waiting on its QueryID. A response with no matching entry --
// the round already abandoned, or a duplicate arrival -- is dropped
// silently, per the "late responses are silently dropped" rule.
func (c *QueryClient) HandleResponse(resp wire.QueryResponse) {
	c.mu.Lock()
	ch, ok := c.pending[resp.QueryID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- consensus.Vote{Confidence: resp.Confidence, IsFinal: resp.IsFinal}:
	default:
	}
}

// HandleQuery answers an inbound Query using the local DAG/consensus
// view and replies to the requester over sender.
func HandleQuery(sender p2p.Sender, store *dagstate.Store, consensusEngine *consensus.Engine, self p2p.PeerID, from p2p.PeerID, q wire.Query) error {
	vid, err := ids.ToID(q.VertexID)
	if err != nil {
		return err
	}
	vote := consensusEngine.LocalVote(store, vid)
	resp := wire.QueryResponse{
		VertexID:   q.VertexID,
		QueryID:    q.QueryID,
		Confidence: vote.Confidence,
		IsFinal:    vote.IsFinal,
		Voter:      self[:],
	}
	frame := wire.Frame{Type: wire.MsgQueryResponse, Payload: resp.Encode()}
	return sender.SendTo(from, frame)
}
